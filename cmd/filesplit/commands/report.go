package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/filesplit/internal/config"
	"github.com/Sumatoshi-tech/filesplit/pkg/operator"
	"github.com/Sumatoshi-tech/filesplit/pkg/split"
)

// Report is the run summary rendered after the windows complete.
type Report struct {
	WindowsRun      int64        `yaml:"windows_run"      json:"windows_run"`
	ElapsedMS       int64        `yaml:"elapsed_ms"       json:"elapsed_ms"`
	SlowestWindowID int64        `yaml:"slowest_window"   json:"slowest_window"`
	SlowestWindowMS int64        `yaml:"slowest_ms"       json:"slowest_ms"`
	FilesEmitted    int64        `yaml:"files_emitted"    json:"files_emitted"`
	BlocksEmitted   int64        `yaml:"blocks_emitted"   json:"blocks_emitted"`
	Files           []FileReport `yaml:"files"            json:"files"`

	// fileMeta and blocks back the jsonl rendering with the full tuples;
	// the summary formats don't list individual ranges.
	fileMeta []split.FileMetadata
	blocks   []split.BlockMetadata
}

// FileReport is the per-file line of the summary.
type FileReport struct {
	Path      string `yaml:"path"      json:"path"`
	Size      int64  `yaml:"size"      json:"size"`
	Blocks    int    `yaml:"blocks"    json:"blocks"`
	Directory bool   `yaml:"directory" json:"directory"`
}

// jsonlRecord is one line of the jsonl stream: exactly one of File or Block
// is set.
type jsonlRecord struct {
	Type  string               `json:"type"`
	File  *split.FileMetadata  `json:"file,omitempty"`
	Block *split.BlockMetadata `json:"block,omitempty"`
}

// buildReport folds run stats and the collected tuples into a Report.
func buildReport(
	stats operator.RunStats,
	filesEmitted, blocksEmitted int64,
	files []split.FileMetadata,
	blocks []split.BlockMetadata,
) Report {
	report := Report{
		WindowsRun:      stats.WindowsRun,
		ElapsedMS:       stats.Elapsed.Milliseconds(),
		SlowestWindowID: stats.SlowestWindowID,
		SlowestWindowMS: stats.SlowestWindowMS,
		FilesEmitted:    filesEmitted,
		BlocksEmitted:   blocksEmitted,
		fileMeta:        files,
		blocks:          blocks,
	}

	for _, meta := range files {
		report.Files = append(report.Files, FileReport{
			Path:      meta.FilePath,
			Size:      meta.FileLength,
			Blocks:    meta.NumberOfBlocks,
			Directory: meta.IsDirectory,
		})
	}

	return report
}

// renderReport writes the report in the configured format.
func renderReport(out io.Writer, cfg config.OutputConfig, report Report) error {
	switch cfg.Format {
	case config.FormatYAML:
		return renderYAML(out, report)
	case config.FormatJSONL:
		return renderJSONL(out, report)
	default:
		return renderTable(out, cfg, report)
	}
}

func renderTable(out io.Writer, cfg config.OutputConfig, report Report) error {
	if !cfg.Quiet {
		fmt.Fprintf(out, "\n%d windows in %dms (slowest: window %d, %dms)\n",
			report.WindowsRun, report.ElapsedMS, report.SlowestWindowID, report.SlowestWindowMS)
		fmt.Fprintf(out, "%s files, %s blocks\n\n",
			humanize.Comma(report.FilesEmitted), humanize.Comma(report.BlocksEmitted))
	}

	if len(report.Files) == 0 {
		return nil
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Path", "Size", "Blocks"})

	for _, file := range report.Files {
		size := humanize.Bytes(uint64(file.Size)) //nolint:gosec // sizes are non-negative
		if file.Directory {
			size = "dir"
		}

		tbl.AppendRow(table.Row{file.Path, size, file.Blocks})
	}

	tbl.Render()

	return nil
}

func renderYAML(out io.Writer, report Report) error {
	data, marshalErr := yaml.Marshal(report)
	if marshalErr != nil {
		return fmt.Errorf("marshal report: %w", marshalErr)
	}

	_, writeErr := out.Write(data)

	return writeErr
}

// renderJSONL streams every collected tuple as one JSON object per line,
// files first, then blocks, each in emission order.
func renderJSONL(out io.Writer, report Report) error {
	enc := json.NewEncoder(out)

	for i := range report.fileMeta {
		if encodeErr := enc.Encode(jsonlRecord{Type: "file", File: &report.fileMeta[i]}); encodeErr != nil {
			return fmt.Errorf("encode file record: %w", encodeErr)
		}
	}

	for i := range report.blocks {
		if encodeErr := enc.Encode(jsonlRecord{Type: "block", Block: &report.blocks[i]}); encodeErr != nil {
			return fmt.Errorf("encode block record: %w", encodeErr)
		}
	}

	return nil
}
