// Package media probes uploaded recordings and turns their audio track into
// fixed-length chunks suitable for speech-to-text. It shells out to ffprobe
// and ffmpeg; there is no in-process transcoding.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meetmind/ingest-worker/pkg/config"
	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
	"github.com/meetmind/ingest-worker/pkg/logger"
)

// Chunk is one fixed-duration slice of the source audio, local to a single
// pipeline run. StartMs is the chunk's offset within the full recording.
type Chunk struct {
	Path    string
	StartMs int64
	Index   int
}

// ExtractResult is the outcome of probing and segmenting one recording.
type ExtractResult struct {
	DurationMs int64
	Chunks     []Chunk
}

// Extractor transcodes a recording to mono 16 kHz compressed audio and
// splits it into chunks. With zero overlap a single ffmpeg segment pass is
// used; with overlap configured, each chunk is trimmed individually so
// starts can step by chunkLength−overlap.
type Extractor struct {
	ffmpegBin   string
	ffprobeBin  string
	chunkLength time.Duration
	overlap     time.Duration
	logger      *slog.Logger
}

func NewExtractor(cfg config.PipelineConfig) *Extractor {
	return &Extractor{
		ffmpegBin:   cfg.FFmpegBin,
		ffprobeBin:  cfg.FFprobeBin,
		chunkLength: cfg.ChunkLength,
		overlap:     cfg.ChunkOverlap,
		logger:      logger.WithComponent("media"),
	}
}

// Extract probes the container duration, transcodes the audio track, and
// writes chunk files into outDir. Chunks are ordered by ascending start
// offset with ordinal indexes assigned in that order.
func (e *Extractor) Extract(ctx context.Context, inputPath, outDir string) (ExtractResult, error) {
	duration, err := e.probeDuration(ctx, inputPath)
	if err != nil {
		return ExtractResult{}, err
	}

	var chunks []Chunk
	if e.overlap > 0 {
		chunks, err = e.trimPass(ctx, inputPath, outDir, duration)
	} else {
		chunks, err = e.segmentPass(ctx, inputPath, outDir)
	}
	if err != nil {
		return ExtractResult{}, err
	}

	e.logger.Info("audio extracted",
		"input", inputPath,
		"duration_ms", duration.Milliseconds(),
		"chunks", len(chunks),
	)
	return ExtractResult{
		DurationMs: duration.Milliseconds(),
		Chunks:     chunks,
	}, nil
}

// probeDuration reads the container duration via ffprobe.
func (e *Extractor) probeDuration(ctx context.Context, inputPath string) (time.Duration, error) {
	out, err := runCommand(ctx, e.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	if err != nil {
		return 0, pkgerrors.Newf(pkgerrors.ErrMedia, "extract", "probing %s: %v: %s", inputPath, err, out)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, pkgerrors.Newf(pkgerrors.ErrMedia, "extract", "parsing probed duration %q: %v", out, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// segmentPass transcodes and splits in a single ffmpeg invocation using the
// segment muxer. Chunk start offsets are exact multiples of the chunk
// length because timestamps are reset per segment.
func (e *Extractor) segmentPass(ctx context.Context, inputPath, outDir string) ([]Chunk, error) {
	pattern := filepath.Join(outDir, "chunk_%04d.mp3")
	args := append(transcodeArgs(inputPath),
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(e.chunkLength.Seconds())),
		"-reset_timestamps", "1",
		pattern,
	)
	if out, err := runCommand(ctx, e.ffmpegBin, args...); err != nil {
		return nil, pkgerrors.Newf(pkgerrors.ErrMedia, "extract", "segmenting %s: %v: %s", inputPath, err, out)
	}

	files, err := filepath.Glob(filepath.Join(outDir, "chunk_*.mp3"))
	if err != nil {
		return nil, pkgerrors.Newf(pkgerrors.ErrMedia, "extract", "locating chunks: %v", err)
	}
	if len(files) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrMedia, "extract", "no audio chunks produced")
	}
	sort.Strings(files)

	chunks := make([]Chunk, 0, len(files))
	for i, path := range files {
		chunks = append(chunks, Chunk{
			Path:    path,
			StartMs: int64(i) * e.chunkLength.Milliseconds(),
			Index:   i,
		})
	}
	return chunks, nil
}

// trimPass transcodes the whole audio track once, then cuts one chunk per
// computed start offset so consecutive chunks share overlap seconds of
// audio.
func (e *Extractor) trimPass(ctx context.Context, inputPath, outDir string, duration time.Duration) ([]Chunk, error) {
	full := filepath.Join(outDir, "audio.mp3")
	args := append(transcodeArgs(inputPath), full)
	if out, err := runCommand(ctx, e.ffmpegBin, args...); err != nil {
		return nil, pkgerrors.Newf(pkgerrors.ErrMedia, "extract", "transcoding %s: %v: %s", inputPath, err, out)
	}

	starts := chunkStarts(duration, e.chunkLength, e.overlap)
	chunks := make([]Chunk, 0, len(starts))
	for i, start := range starts {
		path := filepath.Join(outDir, fmt.Sprintf("chunk_%04d.mp3", i))
		out, err := runCommand(ctx, e.ffmpegBin,
			"-y",
			"-ss", formatSeconds(start),
			"-t", formatSeconds(e.chunkLength),
			"-i", full,
			"-c", "copy",
			path,
		)
		if err != nil {
			return nil, pkgerrors.Newf(pkgerrors.ErrMedia, "extract", "trimming chunk %d: %v: %s", i, err, out)
		}
		chunks = append(chunks, Chunk{
			Path:    path,
			StartMs: start.Milliseconds(),
			Index:   i,
		})
	}
	return chunks, nil
}

// chunkStarts returns the ascending chunk start offsets for a recording:
// i × (length − overlap) for every start that falls inside the recording.
func chunkStarts(duration, length, overlap time.Duration) []time.Duration {
	stride := length - overlap
	var starts []time.Duration
	for start := time.Duration(0); start < duration; start += stride {
		starts = append(starts, start)
	}
	if len(starts) == 0 {
		starts = []time.Duration{0}
	}
	return starts
}

// transcodeArgs yields the shared ffmpeg options: drop video, downmix to
// mono, resample to 16 kHz, and encode with a compact lossy codec.
func transcodeArgs(inputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame",
		"-b:a", "64k",
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// runCommand executes an external binary and captures combined output.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	return output.String(), err
}
