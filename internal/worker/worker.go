// Package worker wires the pipeline stages together: it parses upload
// notifications, enforces mutual exclusion and idempotency, runs the
// fetch→extract→transcribe→assemble→digest→persist sequence under a single
// deadline, and reports every terminal outcome to the operator channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meetmind/ingest-worker/internal/event"
	"github.com/meetmind/ingest-worker/internal/media"
	"github.com/meetmind/ingest-worker/internal/meeting"
	"github.com/meetmind/ingest-worker/internal/subtitle"
	"github.com/meetmind/ingest-worker/internal/transcribe"
	"github.com/meetmind/ingest-worker/pkg/config"
	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/metrics"
	"github.com/meetmind/ingest-worker/pkg/resilience"
	"github.com/meetmind/ingest-worker/pkg/tracing"
)

// Locker is the per-file mutual-exclusion lease.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Fetcher streams an object from storage to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key, destPath string) error
}

// Extractor probes and chunks a recording's audio track.
type Extractor interface {
	Extract(ctx context.Context, inputPath, outDir string) (media.ExtractResult, error)
}

// Transcriber transcribes all chunks with bounded parallelism.
type Transcriber interface {
	TranscribeAll(ctx context.Context, chunks []media.Chunk) ([]transcribe.ChunkTranscript, error)
}

// Digester derives the structured meeting analysis from a transcript.
type Digester interface {
	Generate(ctx context.Context, transcript string) (meeting.Analysis, error)
}

// Store persists meetings and answers the idempotency check.
type Store interface {
	ExistsByFilename(ctx context.Context, filename string) (bool, error)
	Save(ctx context.Context, analysis meeting.Analysis, durationMs int64, transcription, filename string) (int64, error)
}

// Notifier delivers operator messages, best-effort.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Deps bundles the pipeline's collaborators. Metrics may be nil in tests.
type Deps struct {
	Lock        Locker
	Fetcher     Fetcher
	Extractor   Extractor
	Transcriber Transcriber
	Digester    Digester
	Store       Store
	Notifier    Notifier
	Metrics     *metrics.Metrics
}

// Pipeline processes one upload notification at a time.
type Pipeline struct {
	cfg    config.PipelineConfig
	deps   Deps
	logger *slog.Logger
}

func New(cfg config.PipelineConfig, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger.WithComponent("pipeline"),
	}
}

// Handle is the queue message handler. Skip outcomes (lock held elsewhere,
// file already processed) report success so the message is committed and
// never redelivered; genuine failures propagate so the queue's bounded
// redelivery and dead-letter routing take over.
//
// The job runs on a context detached from the consumer's: a started job
// finishes or hits its own deadline, and worker shutdown never turns it
// into a spurious failure.
func (p *Pipeline) Handle(ctx context.Context, key, value []byte) error {
	job, err := event.Parse(value)
	if err != nil {
		p.logger.Error("unparseable notification", "key", string(key), "error", err)
		return err
	}
	if err := p.Run(context.WithoutCancel(ctx), job); err != nil && !pkgerrors.IsSkip(err) {
		return err
	}
	return nil
}

// result accumulates what the success notification reports.
type result struct {
	meetingID  int64
	title      string
	shortSum   string
	durationMs int64
}

// Run executes the full pipeline for one job. The per-file lease is
// released and the scratch directory removed on every exit path, including
// deadline expiry, and exactly one outcome notification is emitted.
func (p *Pipeline) Run(ctx context.Context, job event.IngestionJob) error {
	start := time.Now()
	ctx = logger.WithObjectKey(ctx, job.Key)
	log := logger.FromContext(ctx).With("component", "pipeline")
	ctx, span := tracing.StartSpan(ctx, "ingest", job.Key)
	span.SetAttr("bucket", job.Bucket)
	defer func() {
		span.End()
		span.Log()
	}()

	// The deadline clock starts here: lease acquisition and the idempotency
	// query spend from the same budget as the pipeline stages.
	runCtx, cancelRun := context.WithTimeout(ctx, p.cfg.Deadline)
	defer cancelRun()

	acquired, err := p.deps.Lock.Acquire(runCtx, job.MutexKey, p.cfg.LeaseTTL)
	if err != nil {
		return p.finishError(ctx, job, start, fmt.Errorf("acquiring lease: %w", err))
	}
	if !acquired {
		log.Info("lease held by another worker, skipping")
		p.countJob("skipped")
		p.incLockContention()
		p.notify(ctx, fmt.Sprintf("Skipped %s: another worker is processing it.", job.Key))
		return pkgerrors.New(pkgerrors.ErrLockUnavailable, "lock", job.MutexKey)
	}
	defer func() {
		// The job context may already be cancelled or past its deadline;
		// the lease must be released regardless.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.deps.Lock.Release(relCtx, job.MutexKey); err != nil {
			log.Error("lease release failed", "key", job.MutexKey, "error", err)
		}
	}()

	exists, err := p.deps.Store.ExistsByFilename(runCtx, job.Key)
	if err != nil {
		return p.finishError(ctx, job, start, err)
	}
	if exists {
		log.Info("meeting already exists, skipping")
		p.countJob("skipped")
		p.notify(ctx, fmt.Sprintf("Skipped %s: already processed.", job.Key))
		return pkgerrors.New(pkgerrors.ErrAlreadyProcessed, "idempotency", job.Key)
	}

	scratchDir, err := os.MkdirTemp(p.cfg.ScratchRoot, "meetmind-")
	if err != nil {
		return p.finishError(ctx, job, start, fmt.Errorf("creating scratch dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			log.Error("scratch cleanup failed", "dir", scratchDir, "error", err)
		}
	}()

	var res result
	err = resilience.WithTimeout(ctx, p.cfg.Deadline-time.Since(start), "ingest", func(ctx context.Context) error {
		return p.process(ctx, job, scratchDir, &res)
	})
	if err != nil {
		return p.finishError(ctx, job, start, err)
	}

	elapsed := time.Since(start)
	p.observeJob(elapsed)
	log.Info("job done",
		"meeting_id", res.meetingID,
		"duration_ms", res.durationMs,
		"elapsed", elapsed,
	)
	p.countJob("success")
	p.notify(ctx, fmt.Sprintf("Processed %s\nTitle: %s\n%s\nRecording length: %s, processed in %s.",
		job.Key, res.title, res.shortSum,
		(time.Duration(res.durationMs) * time.Millisecond).Round(time.Second),
		elapsed.Round(time.Second)))
	return nil
}

// process runs the sequential pipeline stages inside the deadline context.
func (p *Pipeline) process(ctx context.Context, job event.IngestionJob, scratchDir string, res *result) error {
	inputPath := filepath.Join(scratchDir, "input"+filepath.Ext(job.Key))
	err := p.stage(ctx, "fetch", func(ctx context.Context) error {
		return p.deps.Fetcher.Fetch(ctx, job.Bucket, job.Key, inputPath)
	})
	if err != nil {
		return err
	}

	var extracted media.ExtractResult
	err = p.stage(ctx, "extract", func(ctx context.Context) error {
		var err error
		extracted, err = p.deps.Extractor.Extract(ctx, inputPath, scratchDir)
		return err
	})
	if err != nil {
		return err
	}

	var transcripts []transcribe.ChunkTranscript
	err = p.stage(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		transcripts, err = p.deps.Transcriber.TranscribeAll(ctx, extracted.Chunks)
		return err
	})
	if err != nil {
		return err
	}

	var document string
	_ = p.stage(ctx, "assemble", func(context.Context) error {
		chunks := make([]subtitle.ChunkSegments, 0, len(transcripts))
		for _, t := range transcripts {
			segments := make([]subtitle.Segment, 0, len(t.Segments))
			for _, s := range t.Segments {
				segments = append(segments, subtitle.Segment{Start: s.Start, End: s.End, Text: s.Text})
			}
			chunks = append(chunks, subtitle.ChunkSegments{
				Ordinal:  t.Chunk.Index,
				StartMs:  t.Chunk.StartMs,
				Segments: segments,
			})
		}
		document = subtitle.Assemble(chunks).SRT()
		return nil
	})

	var analysis meeting.Analysis
	err = p.stage(ctx, "digest", func(ctx context.Context) error {
		var err error
		analysis, err = p.deps.Digester.Generate(ctx, document)
		return err
	})
	if err != nil {
		return err
	}

	var meetingID int64
	err = p.stage(ctx, "persist", func(ctx context.Context) error {
		var err error
		meetingID, err = p.deps.Store.Save(ctx, analysis, extracted.DurationMs, document, job.Key)
		return err
	})
	if err != nil {
		return err
	}

	res.meetingID = meetingID
	res.title = analysis.Title
	res.shortSum = analysis.ShortSummary
	res.durationMs = extracted.DurationMs
	p.observeMeetingDuration(extracted.DurationMs)
	return nil
}

// stage times one pipeline stage and records it as a tracing span and a
// duration metric.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, end := tracing.Stage(ctx, name)
	defer end()
	start := time.Now()
	err := fn(ctx)
	if p.deps.Metrics != nil {
		p.deps.Metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return err
}

// finishError classifies a terminal error as a timeout or a failure, then
// counts, notifies, and returns it.
func (p *Pipeline) finishError(ctx context.Context, job event.IngestionJob, start time.Time, err error) error {
	elapsed := time.Since(start)
	p.observeJob(elapsed)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.FromContext(ctx).Error("job timed out", "deadline", p.cfg.Deadline, "elapsed", elapsed)
		p.countJob("timeout")
		p.notify(ctx, fmt.Sprintf("Timed out processing %s after %s.", job.Key, p.cfg.Deadline))
		return err
	}
	logger.FromContext(ctx).Error("job failed",
		"stage", pkgerrors.StageOf(err),
		"elapsed", elapsed,
		"error", err,
	)
	p.countJob("failed")
	if stage := pkgerrors.StageOf(err); stage != "" {
		p.notify(ctx, fmt.Sprintf("Failed to process %s at stage %s: %v", job.Key, stage, err))
	} else {
		p.notify(ctx, fmt.Sprintf("Failed to process %s: %v", job.Key, err))
	}
	return err
}

// notify sends one operator message; failures are logged, never propagated.
func (p *Pipeline) notify(ctx context.Context, text string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.deps.Notifier.Send(sendCtx, text); err != nil {
		logger.FromContext(ctx).Error("operator notification failed", "error", err)
	}
}

func (p *Pipeline) countJob(outcome string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.JobsTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) observeJob(elapsed time.Duration) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.JobDuration.Observe(elapsed.Seconds())
	}
}

func (p *Pipeline) incLockContention() {
	if p.deps.Metrics != nil {
		p.deps.Metrics.LockContentionTotal.Inc()
	}
}

func (p *Pipeline) observeMeetingDuration(durationMs int64) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.MeetingDurationMillis.Observe(float64(durationMs))
	}
}
