// Package subtitle assembles per-chunk transcription segments into a single
// globally time-ordered SRT document. Everything here is deterministic and
// side-effect free.
package subtitle

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// blockIDStride spaces the block id ranges of consecutive chunks: block id =
// chunk ordinal × stride + local segment index + 1. The stride bounds the
// number of segments per chunk before ids would collide; 100000 is far
// beyond what a 10-minute chunk can produce.
const blockIDStride = 100000

// Segment is a chunk-relative transcription segment, offsets in seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// ChunkSegments is the assembler's input: one transcribed chunk with its
// global start offset and ordinal index.
type ChunkSegments struct {
	Ordinal  int
	StartMs  int64
	Segments []Segment
}

// Block is one subtitle block with globally adjusted timestamps.
type Block struct {
	ID      int64
	StartMs int64
	EndMs   int64
	Text    string
}

// Transcript is the ordered sequence of subtitle blocks for a recording.
// Block ids are strictly increasing and timestamps non-decreasing across
// the whole document.
type Transcript struct {
	Blocks []Block
}

// Assemble merges transcribed chunks into a Transcript. Chunks are
// processed in ordinal order regardless of input order; within a chunk,
// segments keep their source order. When chunks overlap, text transcribed
// twice in the overlap region is kept as-is; deduplication is a known
// limitation left to downstream editing.
func Assemble(chunks []ChunkSegments) Transcript {
	sorted := make([]ChunkSegments, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	var blocks []Block
	for _, chunk := range sorted {
		for i, seg := range chunk.Segments {
			blocks = append(blocks, Block{
				ID:      int64(chunk.Ordinal)*blockIDStride + int64(i) + 1,
				StartMs: chunk.StartMs + int64(math.Round(seg.Start*1000)),
				EndMs:   chunk.StartMs + int64(math.Round(seg.End*1000)),
				Text:    strings.TrimSpace(seg.Text),
			})
		}
	}
	return Transcript{Blocks: blocks}
}

// SRT renders the transcript in SubRip format: block id line, timestamp
// line, text, blocks separated by a blank line.
func (t Transcript) SRT() string {
	var b strings.Builder
	for i, block := range t.Blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			block.ID,
			FormatTimestamp(block.StartMs),
			FormatTimestamp(block.EndMs),
			block.Text,
		)
	}
	return b.String()
}

// FormatTimestamp renders a millisecond offset as an SRT timestamp,
// zero-padded with millisecond precision: 3725007 → "01:02:05,007".
func FormatTimestamp(ms int64) string {
	hours := ms / 3_600_000
	minutes := ms % 3_600_000 / 60_000
	seconds := ms % 60_000 / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
