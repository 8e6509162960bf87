package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meetmind/ingest-worker/pkg/config"
	"github.com/meetmind/ingest-worker/pkg/resilience"
)

func writeChunk(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk_0000.mp3")
	if err := os.WriteFile(path, []byte("fake mp3 bytes"), 0o600); err != nil {
		t.Fatalf("writing chunk: %v", err)
	}
	return path
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.TranscriberConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "whisper-large-v3",
		RequestTimeout: 5 * time.Second,
	}, resilience.NewCircuitBreaker("test-transcriber", resilience.CircuitBreakerConfig{}))
}

// TestTranscribeRequestShape checks the multipart form carries the file,
// the model, verbose segment output, and zero temperature, with the API
// key in the Authorization header.
func TestTranscribeRequestShape(t *testing.T) {
	var gotAuth, gotModel, gotFormat, gotTemp, gotFile string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotTemp = r.FormValue("temperature")
		if _, header, err := r.FormFile("file"); err == nil {
			gotFile = header.Filename
		}
		w.Write([]byte(`{"text": "hello world", "segments": [{"start": 0.0, "end": 2.5, "text": "hello world"}]}`))
	}))
	defer server.Close()

	chunk := writeChunk(t)
	res, err := newTestClient(server.URL).Transcribe(context.Background(), chunk)
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotModel != "whisper-large-v3" {
		t.Errorf("model = %q", gotModel)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", gotFormat)
	}
	if gotTemp != "0" {
		t.Errorf("temperature = %q, want 0", gotTemp)
	}
	if gotFile != filepath.Base(chunk) {
		t.Errorf("uploaded file = %q, want %q", gotFile, filepath.Base(chunk))
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Segments) != 1 || res.Segments[0].End != 2.5 {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestTranscribeSendsLanguageHint(t *testing.T) {
	var gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotLang = r.FormValue("language")
		w.Write([]byte(`{"text": "", "segments": []}`))
	}))
	defer server.Close()

	client := NewClient(config.TranscriberConfig{
		BaseURL:        server.URL,
		Model:          "whisper-large-v3",
		Language:       "de",
		RequestTimeout: 5 * time.Second,
	}, resilience.NewCircuitBreaker("test-transcriber-lang", resilience.CircuitBreakerConfig{}))

	if _, err := client.Transcribe(context.Background(), writeChunk(t)); err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if gotLang != "de" {
		t.Errorf("language = %q, want de", gotLang)
	}
}

func TestTranscribeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Transcribe(context.Background(), writeChunk(t)); err == nil {
		t.Error("Transcribe() succeeded on 429, want error")
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	client := newTestClient("http://localhost:1")
	if _, err := client.Transcribe(context.Background(), "/nonexistent/chunk.mp3"); err == nil {
		t.Error("Transcribe() succeeded for missing file, want error")
	}
}
