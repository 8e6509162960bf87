// Package digest derives a structured meeting summary from a transcript via
// a single structured-generation call against a language model.
package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/meetmind/ingest-worker/internal/meeting"
	"github.com/meetmind/ingest-worker/pkg/config"
	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/resilience"
)

// shortSummaryMaxLen is the soft cap on short_summary; model output beyond
// it is truncated rather than rejected.
const shortSummaryMaxLen = 255

const prompt = `You are given the subtitle-formatted transcript of a meeting recording.
Derive from it:
- title: a concise meeting title
- summary: a full summary of what was discussed and decided
- short_summary: at most 255 characters
- participants: the people who actually speak in the transcript, with their
  apparent role. Do not include people who are merely mentioned.

Transcript:

`

// analysisSchema is the JSON schema the model output must conform to.
var analysisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"summary": {"type": "string"},
		"short_summary": {"type": "string"},
		"participants": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"role": {"type": "string"}
				},
				"required": ["name", "role"],
				"additionalProperties": false
			}
		}
	},
	"required": ["title", "summary", "short_summary", "participants"],
	"additionalProperties": false
}`)

// Client calls an OpenAI-compatible chat-completions endpoint with a JSON
// schema response format. The content of the output is not reproducible
// across runs; callers may only rely on its shape.
type Client struct {
	cfg     config.DigestConfig
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg config.DigestConfig, breaker *resilience.CircuitBreaker) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
		logger:  logger.WithComponent("digest"),
	}
}

// Generate performs the structured-generation call. Transport hiccups are
// retried inside the call; any persistent failure is fatal for the job.
func (c *Client) Generate(ctx context.Context, transcript string) (meeting.Analysis, error) {
	var analysis meeting.Analysis
	err := c.breaker.Execute(func() error {
		op := func() error {
			a, err := c.post(ctx, transcript)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			analysis = a
			return nil
		}
		bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		return backoff.Retry(op, bo)
	})
	if err != nil {
		return meeting.Analysis{}, pkgerrors.Newf(pkgerrors.ErrDigest, "digest", "%v", err)
	}
	if len([]rune(analysis.ShortSummary)) > shortSummaryMaxLen {
		analysis.ShortSummary = string([]rune(analysis.ShortSummary)[:shortSummaryMaxLen])
	}
	c.logger.Info("digest generated",
		"title", analysis.Title,
		"participants", len(analysis.Participants),
	)
	return analysis, nil
}

func (c *Client) post(ctx context.Context, transcript string) (meeting.Analysis, error) {
	reqBody := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt + transcript},
		},
		"temperature": 0.0,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "meeting_analysis",
				"strict": true,
				"schema": analysisSchema,
			},
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return meeting.Analysis{}, fmt.Errorf("encoding digest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return meeting.Analysis{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return meeting.Analysis{}, fmt.Errorf("digest request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return meeting.Analysis{}, fmt.Errorf("reading digest response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return meeting.Analysis{}, fmt.Errorf("digest service returned %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return meeting.Analysis{}, fmt.Errorf("decoding digest response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return meeting.Analysis{}, fmt.Errorf("digest response has no choices")
	}

	var analysis meeting.Analysis
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &analysis); err != nil {
		return meeting.Analysis{}, fmt.Errorf("decoding analysis payload: %w", err)
	}
	return analysis, nil
}
