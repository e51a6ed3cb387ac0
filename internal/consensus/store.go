package consensus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one persisted synthesis.
type Record struct {
	ID            int64     `json:"id"`
	SpecID        string    `json:"spec_id"`
	Stage         string    `json:"stage"`
	Markdown      string    `json:"output_markdown"`
	OutputPath    string    `json:"output_path"`
	Status        string    `json:"status"`
	ResponseCount int       `json:"artifacts_count"`
	Degraded      bool      `json:"degraded"`
	RunID         string    `json:"run_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordStore persists synthesis records.
type RecordStore interface {
	RecordSynthesis(ctx context.Context, r Record) (int64, error)
	LatestSynthesis(ctx context.Context, specID, stage string) (*Record, error)
}

// SQLiteStore is a RecordStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS consensus_synthesis (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	spec_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	output_markdown TEXT NOT NULL,
	output_path TEXT,
	status TEXT NOT NULL,
	artifacts_count INTEGER,
	degraded BOOLEAN DEFAULT 0,
	run_id TEXT,
	created_at TIMESTAMP NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_synthesis_spec_stage ON consensus_synthesis(spec_id, stage);`,
}

// OpenSQLite opens or creates the synthesis database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, q := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init synthesis schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordSynthesis(ctx context.Context, r Record) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consensus_synthesis
			(spec_id, stage, output_markdown, output_path, status, artifacts_count, degraded, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.SpecID, r.Stage, r.Markdown, r.OutputPath, r.Status, r.ResponseCount, r.Degraded, nullable(r.RunID), r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert synthesis: %w", err)
	}
	return res.LastInsertId()
}

// LatestSynthesis returns the newest record for spec and stage, or nil if
// none exists.
func (s *SQLiteStore) LatestSynthesis(ctx context.Context, specID, stage string) (*Record, error) {
	var (
		r       Record
		path    sql.NullString
		runID   sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, spec_id, stage, output_markdown, output_path, status, artifacts_count, degraded, run_id, created_at
		FROM consensus_synthesis
		WHERE spec_id = ? AND stage = ?
		ORDER BY id DESC LIMIT 1;`, specID, stage).
		Scan(&r.ID, &r.SpecID, &r.Stage, &r.Markdown, &path, &r.Status, &r.ResponseCount, &r.Degraded, &runID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query synthesis: %w", err)
	}
	r.OutputPath = path.String
	r.RunID = runID.String
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
