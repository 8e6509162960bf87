package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/meetmind/ingest-worker/internal/media"
	"github.com/meetmind/ingest-worker/pkg/config"
	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/metrics"
	"github.com/meetmind/ingest-worker/pkg/resilience"
)

// ChunkTranscript pairs a chunk with its transcription result.
type ChunkTranscript struct {
	Chunk    media.Chunk
	Text     string
	Segments []Segment
}

// Pool fans chunk transcription out across a bounded number of in-flight
// calls. Submission follows source order, completion order is
// unconstrained, and results are keyed by chunk ordinal so the returned
// slice is always in chunk order.
type Pool struct {
	api     API
	workers int
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPool creates a Pool. m may be nil in tests.
func NewPool(api API, cfg config.PipelineConfig, m *metrics.Metrics) *Pool {
	return &Pool{
		api:     api,
		workers: cfg.Workers,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryBaseDelay,
		},
		metrics: m,
		logger:  logger.WithComponent("transcribe-pool"),
	}
}

// TranscribeAll transcribes every chunk, retrying each with exponential
// backoff. One chunk exhausting its retries fails the whole call: a partial
// transcript is worse than a redelivered job.
func (p *Pool) TranscribeAll(ctx context.Context, chunks []media.Chunk) ([]ChunkTranscript, error) {
	out := make([]ChunkTranscript, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			retryCfg := p.retry
			retryCfg.OnRetry = func(int, error) {
				if p.metrics != nil {
					p.metrics.TranscriptionRetries.Inc()
				}
			}
			var res Result
			err := resilience.Retry(gctx, fmt.Sprintf("transcribe-chunk-%d", chunk.Index), retryCfg, func() error {
				r, err := p.api.Transcribe(gctx, chunk.Path)
				if err != nil {
					return err
				}
				res = r
				return nil
			})
			if err != nil {
				return pkgerrors.Newf(pkgerrors.ErrTranscription, "transcribe", "chunk %d: %v", chunk.Index, err)
			}
			out[chunk.Index] = ChunkTranscript{
				Chunk:    chunk,
				Text:     res.Text,
				Segments: res.Segments,
			}
			if p.metrics != nil {
				p.metrics.ChunksTranscribed.Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info("all chunks transcribed", "chunks", len(chunks))
	return out, nil
}
