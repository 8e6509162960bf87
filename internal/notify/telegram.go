// Package notify delivers job outcome messages to the operator channel via
// the Telegram Bot API. Delivery is best-effort: a notification failure is
// logged and must never mask the job outcome it reports.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meetmind/ingest-worker/pkg/config"
	"github.com/meetmind/ingest-worker/pkg/logger"
)

// Telegram posts messages to a fixed operator chat.
type Telegram struct {
	cfg    config.NotifierConfig
	http   *http.Client
	logger *slog.Logger
}

func NewTelegram(cfg config.NotifierConfig) *Telegram {
	return &Telegram{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.WithComponent("notify"),
	}
}

// Send posts one message, retrying briefly on transport failure.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.cfg.Enabled {
		t.logger.Debug("notifications disabled, dropping message")
		return nil
	}

	op := func() error {
		if err := t.post(ctx, text); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("sending operator notification: %w", err)
	}
	return nil
}

func (t *Telegram) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
