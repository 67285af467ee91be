package split

// Bounds represents one block's byte range as [Offset, Offset+Length).
type Bounds struct {
	Offset int64
	Length int64
}

// BlockCount returns ceil(fileLength/blockSize). Non-positive lengths and
// block sizes yield zero.
func BlockCount(fileLength, blockSize int64) int {
	if fileLength <= 0 || blockSize <= 0 {
		return 0
	}

	count := fileLength / blockSize
	if fileLength%blockSize != 0 {
		count++
	}

	return int(count)
}

// Plan returns every block range of a file up front. The final range may be
// shorter than blockSize; ranges are contiguous and non-overlapping.
func Plan(fileLength, blockSize int64) []Bounds {
	total := BlockCount(fileLength, blockSize)
	if total == 0 {
		return nil
	}

	bounds := make([]Bounds, 0, total)

	for offset := int64(0); offset < fileLength; offset += blockSize {
		length := min(blockSize, fileLength-offset)
		bounds = append(bounds, Bounds{Offset: offset, Length: length})
	}

	return bounds
}

// Cursor tracks split progress for one file across processing cycles. It is
// owned by the splitter and discarded once the file's blocks are exhausted.
type Cursor struct {
	meta       FileMetadata
	blockSize  int64
	nextOffset int64
	emitted    int
}

// NewCursor starts a cursor at the beginning of a file.
func NewCursor(meta FileMetadata, blockSize int64) *Cursor {
	return &Cursor{meta: meta, blockSize: blockSize}
}

// ResumeCursor rebuilds a cursor at a known position, used when recovery
// determines a file was interrupted mid-split.
func ResumeCursor(meta FileMetadata, blockSize, nextOffset int64, emitted int) *Cursor {
	return &Cursor{
		meta:       meta,
		blockSize:  blockSize,
		nextOffset: nextOffset,
		emitted:    emitted,
	}
}

// Next produces the next block range. It reports false once the file is
// exhausted, including for directories and empty files.
func (c *Cursor) Next() (BlockMetadata, bool) {
	if c.Done() {
		return BlockMetadata{}, false
	}

	length := min(c.blockSize, c.meta.FileLength-c.nextOffset)

	block := BlockMetadata{
		BlockID:     int64(c.emitted),
		FilePath:    c.meta.FilePath,
		Offset:      c.nextOffset,
		Length:      length,
		IsLastBlock: c.nextOffset+length >= c.meta.FileLength,
	}

	c.nextOffset += length
	c.emitted++

	return block, true
}

// Done reports whether every block of the file has been produced.
func (c *Cursor) Done() bool {
	return c.meta.IsDirectory || c.nextOffset >= c.meta.FileLength
}

// Remaining returns how many blocks are still to be produced.
func (c *Cursor) Remaining() int {
	if c.Done() {
		return 0
	}

	return BlockCount(c.meta.FileLength-c.nextOffset, c.blockSize)
}

// Emitted returns how many blocks have been produced so far.
func (c *Cursor) Emitted() int {
	return c.emitted
}

// NextOffset returns the first byte of the next block to produce.
func (c *Cursor) NextOffset() int64 {
	return c.nextOffset
}

// Meta returns the file descriptor the cursor was built from.
func (c *Cursor) Meta() FileMetadata {
	return c.meta
}
