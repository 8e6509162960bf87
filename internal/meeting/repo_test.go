package meeting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meetmind/ingest-worker/pkg/config"
	"github.com/meetmind/ingest-worker/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *Repo {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewRepo(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}
	return repo
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "meetmind_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "meetmind"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func testAnalysis() Analysis {
	return Analysis{
		Title:        "Planning Session",
		Summary:      "The team discussed the release plan.",
		ShortSummary: "Release plan discussion.",
		Participants: []AnalysisParticipant{
			{Name: "Ana", Role: "facilitator"},
			{Name: "Ben", Role: "engineer"},
		},
	}
}

func TestSaveAndExists(t *testing.T) {
	repo := skipIfNoPostgres(t)
	ctx := context.Background()
	filename := fmt.Sprintf("recording-%s.mp4", uuid.NewString())

	exists, err := repo.ExistsByFilename(ctx, filename)
	if err != nil {
		t.Fatalf("ExistsByFilename() error: %v", err)
	}
	if exists {
		t.Fatal("fresh filename reported as existing")
	}

	id, err := repo.Save(ctx, testAnalysis(), 1_800_000, "1\n00:00:00,000 --> 00:00:02,000\nhi\n", filename)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if id == 0 {
		t.Error("Save() returned zero id")
	}

	exists, err = repo.ExistsByFilename(ctx, filename)
	if err != nil {
		t.Fatalf("ExistsByFilename() error: %v", err)
	}
	if !exists {
		t.Error("saved filename not reported as existing")
	}

	var participants int
	err = repo.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE meeting_id = $1`, id).Scan(&participants)
	if err != nil {
		t.Fatalf("counting participants: %v", err)
	}
	if participants != 2 {
		t.Errorf("participants = %d, want 2", participants)
	}
}

// TestSaveDuplicateFilename exercises the unique constraint backing the
// idempotency check: a second insert for the same object key must fail.
func TestSaveDuplicateFilename(t *testing.T) {
	repo := skipIfNoPostgres(t)
	ctx := context.Background()
	filename := fmt.Sprintf("recording-%s.mp4", uuid.NewString())

	if _, err := repo.Save(ctx, testAnalysis(), 1000, "srt", filename); err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	if _, err := repo.Save(ctx, testAnalysis(), 1000, "srt", filename); err == nil {
		t.Error("second Save() with same filename succeeded, want error")
	}
}

// TestSaveIsAtomic forces a failure after the meeting insert and verifies
// the transaction left no meeting row behind.
func TestSaveIsAtomic(t *testing.T) {
	repo := skipIfNoPostgres(t)
	ctx := context.Background()
	filename := fmt.Sprintf("recording-%s.mp4", uuid.NewString())
	boom := errors.New("forced failure")

	err := repo.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := insertMeeting(ctx, tx, testAnalysis(), 1000, "srt", filename); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want forced failure", err)
	}

	exists, err := repo.ExistsByFilename(ctx, filename)
	if err != nil {
		t.Fatalf("ExistsByFilename() error: %v", err)
	}
	if exists {
		t.Error("rolled-back meeting row is visible")
	}
}
