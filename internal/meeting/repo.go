package meeting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/postgres"
)

// Repo persists meetings and their participants.
type Repo struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewRepo(db *postgres.Client) *Repo {
	return &Repo{
		db:     db,
		logger: logger.WithComponent("meeting-repo"),
	}
}

// ExistsByFilename reports whether a meeting row already exists for the
// object key. The orchestrator checks this before starting the expensive
// pipeline stages so redelivered messages short-circuit cleanly.
func (r *Repo) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM meetings WHERE filename = $1)`, filename,
	).Scan(&exists)
	if err != nil {
		return false, pkgerrors.Newf(pkgerrors.ErrPersistence, "persist", "checking filename %s: %v", filename, err)
	}
	return exists, nil
}

// Save inserts the meeting and all its participants in a single
// transaction. A partial write (meeting without participants, or vice
// versa) is never observable.
func (r *Repo) Save(ctx context.Context, analysis Analysis, durationMs int64, transcription, filename string) (int64, error) {
	var id int64
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertMeeting(ctx, tx, analysis, durationMs, transcription, filename)
		if err != nil {
			return err
		}
		return insertParticipants(ctx, tx, id, analysis.Participants)
	})
	if err != nil {
		return 0, pkgerrors.Newf(pkgerrors.ErrPersistence, "persist", "saving meeting %s: %v", filename, err)
	}
	r.logger.Info("meeting saved",
		"meeting_id", id,
		"filename", filename,
		"participants", len(analysis.Participants),
	)
	return id, nil
}

func insertMeeting(ctx context.Context, tx *sql.Tx, analysis Analysis, durationMs int64, transcription, filename string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO meetings (filename, title, summary, short_summary, transcription, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		filename, analysis.Title, analysis.Summary, analysis.ShortSummary, transcription, durationMs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting meeting: %w", err)
	}
	return id, nil
}

func insertParticipants(ctx context.Context, tx *sql.Tx, meetingID int64, participants []AnalysisParticipant) error {
	for _, p := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (name, role, meeting_id) VALUES ($1, $2, $3)`,
			p.Name, p.Role, meetingID,
		); err != nil {
			return fmt.Errorf("inserting participant %s: %w", p.Name, err)
		}
	}
	return nil
}

// EnsureSchema creates the worker-owned tables when they are missing. Used
// by local development and the integration tests; production schemas are
// managed externally via schema.sql.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meetings (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			short_summary TEXT NOT NULL,
			transcription TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			meeting_id BIGINT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range ddl {
		if _, err := r.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
