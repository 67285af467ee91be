// Package persist provides codec-based file persistence for arbitrary state types.
package persist

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	gobExtension  = ".gob"
	lz4Extension  = ".lz4"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// Permissions for created state directories.
const dirPerm = 0o750

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the file extension for this codec (e.g., ".json", ".gob").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	decoder := json.NewDecoder(r)

	err := decoder.Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// GobCodec implements Codec using gob encoding.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, state any) error {
	encoder := gob.NewEncoder(w)

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader, state any) error {
	decoder := gob.NewDecoder(r)

	err := decoder.Decode(state)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for gob files.
func (c *GobCodec) Extension() string {
	return gobExtension
}

// Payload methods recorded in the LZ4 framing header.
const (
	methodRaw byte = 0
	methodLZ4 byte = 1
)

// lz4HeaderSize is an 8-byte uncompressed length followed by 1 method byte.
const lz4HeaderSize = 9

// lz4MaxRatio caps the uncompressed size a frame header may claim relative
// to its payload. LZ4 blocks cannot expand beyond 255x, so a larger claim
// marks a corrupt or hostile frame, not a legitimate one.
const lz4MaxRatio = 255

// ErrBadFrame indicates an LZ4 framing header inconsistent with its payload.
var ErrBadFrame = errors.New("lz4 frame header implausible")

// LZ4Codec wraps another codec with LZ4 block compression. Payloads that do
// not shrink under compression are stored raw, flagged in the framing header.
type LZ4Codec struct {
	// Inner produces the uncompressed representation.
	Inner Codec
}

// NewLZ4Codec creates an LZ4 codec over gob encoding.
func NewLZ4Codec() *LZ4Codec {
	return &LZ4Codec{Inner: NewGobCodec()}
}

// Encode implements Codec.Encode: inner-encode, compress, frame.
func (c *LZ4Codec) Encode(w io.Writer, state any) error {
	var buf bytes.Buffer

	encodeErr := c.Inner.Encode(&buf, state)
	if encodeErr != nil {
		return encodeErr
	}

	raw := buf.Bytes()

	header := make([]byte, lz4HeaderSize)
	binary.LittleEndian.PutUint64(header, uint64(len(raw)))

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, compressErr := lz4.CompressBlock(raw, compressed, nil)
	if compressErr != nil {
		return fmt.Errorf("lz4 compress: %w", compressErr)
	}

	payload := compressed[:written]
	header[lz4HeaderSize-1] = methodLZ4

	// A zero return means the block was incompressible.
	if written == 0 || written >= len(raw) {
		payload = raw
		header[lz4HeaderSize-1] = methodRaw
	}

	if _, headerErr := w.Write(header); headerErr != nil {
		return fmt.Errorf("write lz4 header: %w", headerErr)
	}

	if _, payloadErr := w.Write(payload); payloadErr != nil {
		return fmt.Errorf("write lz4 payload: %w", payloadErr)
	}

	return nil
}

// Decode implements Codec.Decode: unframe, decompress, inner-decode.
func (c *LZ4Codec) Decode(r io.Reader, state any) error {
	header := make([]byte, lz4HeaderSize)
	if _, headerErr := io.ReadFull(r, header); headerErr != nil {
		return fmt.Errorf("read lz4 header: %w", headerErr)
	}

	rawSize := binary.LittleEndian.Uint64(header)
	method := header[lz4HeaderSize-1]

	payload, readErr := io.ReadAll(r)
	if readErr != nil {
		return fmt.Errorf("read lz4 payload: %w", readErr)
	}

	raw := payload

	if method == methodLZ4 {
		// The claimed size drives the allocation below, so verify it against
		// the payload before trusting it; the file may never have gone
		// through a checksummed path.
		if rawSize > uint64(len(payload))*lz4MaxRatio {
			return fmt.Errorf("%w: claims %d bytes from a %d-byte payload", ErrBadFrame, rawSize, len(payload))
		}

		raw = make([]byte, rawSize)

		if _, uncompressErr := lz4.UncompressBlock(payload, raw); uncompressErr != nil {
			return fmt.Errorf("lz4 uncompress: %w", uncompressErr)
		}
	}

	return c.Inner.Decode(bytes.NewReader(raw), state)
}

// Extension implements Codec.Extension, appending ".lz4" to the inner extension.
func (c *LZ4Codec) Extension() string {
	return c.Inner.Extension() + lz4Extension
}

// SaveState saves the given state to a file in the specified directory,
// creating the directory when missing. The write goes through a temporary
// file renamed into place, so readers never observe a partially written state.
func SaveState(dir, basename string, codec Codec, state any) error {
	mkdirErr := os.MkdirAll(dir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create state directory: %w", mkdirErr)
	}

	path := filepath.Join(dir, basename+codec.Extension())

	tmp, createErr := os.CreateTemp(dir, basename+".tmp-*")
	if createErr != nil {
		return fmt.Errorf("create state file: %w", createErr)
	}

	encodeErr := codec.Encode(tmp, state)
	closeErr := tmp.Close()

	if encodeErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("encode state: %w", encodeErr)
	}

	if closeErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close state file: %w", closeErr)
	}

	renameErr := os.Rename(tmp.Name(), path)
	if renameErr != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("publish state file: %w", renameErr)
	}

	return nil
}

// LoadState loads state from a file in the specified directory.
// The filename is constructed from the basename and the codec's extension.
// The state parameter must be a pointer to the target struct.
func LoadState(dir, basename string, codec Codec, state any) error {
	filename := basename + codec.Extension()
	path := filepath.Join(dir, filename)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}
