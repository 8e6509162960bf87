// Package transcribe sends audio chunks to an OpenAI-compatible
// speech-to-text service and fans the calls out across a bounded worker
// pool with per-chunk retry.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/meetmind/ingest-worker/pkg/config"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/resilience"
)

// Segment is a timestamped slice of a chunk's transcript. Offsets are
// seconds relative to the chunk start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is one chunk's transcription.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// API is the speech-to-text call the pool fans out.
type API interface {
	Transcribe(ctx context.Context, audioPath string) (Result, error)
}

// Client calls the /audio/transcriptions endpoint with verbose segment
// output and temperature 0. A circuit breaker guards against a browned-out
// upstream burning every chunk's retry budget.
type Client struct {
	cfg     config.TranscriberConfig
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg config.TranscriberConfig, breaker *resilience.CircuitBreaker) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
		logger:  logger.WithComponent("transcribe"),
	}
}

func (c *Client) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	var res Result
	err := c.breaker.Execute(func() error {
		r, err := c.post(ctx, audioPath)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (c *Client) post(ctx context.Context, audioPath string) (Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("opening chunk %s: %w", audioPath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Result{}, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return Result{}, fmt.Errorf("reading chunk %s: %w", audioPath, err)
	}
	w.WriteField("model", c.cfg.Model)
	w.WriteField("response_format", "verbose_json")
	w.WriteField("temperature", "0")
	if c.cfg.Language != "" {
		w.WriteField("language", c.cfg.Language)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, data)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("decoding transcription response: %w", err)
	}
	c.logger.Debug("chunk transcribed", "file", filepath.Base(audioPath), "segments", len(result.Segments))
	return result, nil
}
