package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/meetmind/ingest-worker/pkg/config"
)

func TestSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	tg := NewTelegram(config.NotifierConfig{
		BotToken: "123:abc",
		ChatID:   "42",
		BaseURL:  server.URL,
		Enabled:  true,
	})
	if err := tg.Send(context.Background(), "Processed meeting.mp4"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPayload["chat_id"] != "42" {
		t.Errorf("chat_id = %q, want 42", gotPayload["chat_id"])
	}
	if gotPayload["text"] != "Processed meeting.mp4" {
		t.Errorf("text = %q", gotPayload["text"])
	}
}

// TestSendDisabled checks a disabled notifier drops messages without any
// network calls.
func TestSendDisabled(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	tg := NewTelegram(config.NotifierConfig{BaseURL: server.URL, Enabled: false})
	if err := tg.Send(context.Background(), "dropped"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("disabled notifier made %d requests", calls)
	}
}

// TestSendRetriesTransientFailure fails the first delivery attempt and
// expects the retry to get the message through.
func TestSendRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	tg := NewTelegram(config.NotifierConfig{
		BotToken: "t",
		ChatID:   "c",
		BaseURL:  server.URL,
		Enabled:  true,
	})
	if err := tg.Send(context.Background(), "retry me"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
