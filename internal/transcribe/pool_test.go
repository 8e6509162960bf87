package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meetmind/ingest-worker/internal/media"
	"github.com/meetmind/ingest-worker/pkg/config"
	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
)

// fakeAPI transcribes from a canned script and records concurrency.
type fakeAPI struct {
	mu             sync.Mutex
	inFlight       int32
	peak           int32
	delay          time.Duration
	failuresByPath map[string]int
	fn             func(path string) (Result, error)
}

func (f *fakeAPI) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	if n := f.failuresByPath[audioPath]; n > 0 {
		f.failuresByPath[audioPath] = n - 1
		f.mu.Unlock()
		return Result{}, errors.New("transient transcription error")
	}
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(audioPath)
	}
	return Result{Text: "text for " + audioPath}, nil
}

func poolConfig(workers int) config.PipelineConfig {
	return config.PipelineConfig{
		Workers:        workers,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	}
}

func makeChunks(n int) []media.Chunk {
	chunks := make([]media.Chunk, n)
	for i := range chunks {
		chunks[i] = media.Chunk{
			Path:    fmt.Sprintf("/tmp/chunk_%04d.mp3", i),
			StartMs: int64(i) * 600_000,
			Index:   i,
		}
	}
	return chunks
}

// TestTranscribeAllRestoresChunkOrder submits many chunks through a small
// pool and checks results come back indexed by chunk ordinal even though
// completion order is arbitrary.
func TestTranscribeAllRestoresChunkOrder(t *testing.T) {
	api := &fakeAPI{delay: time.Millisecond}
	pool := NewPool(api, poolConfig(3), nil)

	chunks := makeChunks(10)
	got, err := pool.TranscribeAll(context.Background(), chunks)
	if err != nil {
		t.Fatalf("TranscribeAll() error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d transcripts, want 10", len(got))
	}
	for i, ct := range got {
		if ct.Chunk.Index != i {
			t.Errorf("result %d holds chunk %d", i, ct.Chunk.Index)
		}
		if want := "text for " + chunks[i].Path; ct.Text != want {
			t.Errorf("result %d text = %q, want %q", i, ct.Text, want)
		}
	}
}

// TestTranscribeAllBoundsConcurrency checks the pool never has more
// in-flight calls than its worker limit.
func TestTranscribeAllBoundsConcurrency(t *testing.T) {
	api := &fakeAPI{delay: 5 * time.Millisecond}
	pool := NewPool(api, poolConfig(5), nil)

	if _, err := pool.TranscribeAll(context.Background(), makeChunks(20)); err != nil {
		t.Fatalf("TranscribeAll() error: %v", err)
	}
	if peak := atomic.LoadInt32(&api.peak); peak > 5 {
		t.Errorf("peak in-flight calls = %d, want at most 5", peak)
	}
}

// TestTranscribeAllRetriesTransientFailures fails one chunk twice and
// expects the retry loop to recover it within the attempt budget.
func TestTranscribeAllRetriesTransientFailures(t *testing.T) {
	chunks := makeChunks(3)
	api := &fakeAPI{failuresByPath: map[string]int{chunks[1].Path: 2}}
	pool := NewPool(api, poolConfig(2), nil)

	got, err := pool.TranscribeAll(context.Background(), chunks)
	if err != nil {
		t.Fatalf("TranscribeAll() error: %v", err)
	}
	if want := "text for " + chunks[1].Path; got[1].Text != want {
		t.Errorf("retried chunk text = %q, want %q", got[1].Text, want)
	}
}

// TestTranscribeAllFailsAfterExhaustedRetries fails one chunk more times
// than the attempt budget allows and expects the whole call to fail with a
// transcription error naming the chunk.
func TestTranscribeAllFailsAfterExhaustedRetries(t *testing.T) {
	chunks := makeChunks(3)
	api := &fakeAPI{failuresByPath: map[string]int{chunks[2].Path: 3}}
	pool := NewPool(api, poolConfig(2), nil)

	_, err := pool.TranscribeAll(context.Background(), chunks)
	if err == nil {
		t.Fatal("TranscribeAll() succeeded, want error")
	}
	if !errors.Is(err, pkgerrors.ErrTranscription) {
		t.Errorf("error = %v, want ErrTranscription", err)
	}
}

func TestTranscribeAllEmptyInput(t *testing.T) {
	pool := NewPool(&fakeAPI{}, poolConfig(5), nil)
	got, err := pool.TranscribeAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("TranscribeAll() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d transcripts, want 0", len(got))
	}
}
