package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/specflow/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; the pool serializes access.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, desc string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.desc, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newULID returns IDs that sort by creation even within one millisecond.
func newULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		if err := s.apply(ctx, name); err != nil {
			return err
		}
	}

	return nil
}

// apply runs one migration and records it in the same transaction.
func (s *SQLiteStore) apply(ctx context.Context, name string) error {
	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Approval decisions ---

// SaveDecision upserts the decision for a callback ID. The latest answer wins.
func (s *SQLiteStore) SaveDecision(ctx context.Context, d *models.ApprovalDecision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_decisions (callback_id, decision, actor, decided_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(callback_id) DO UPDATE SET decision = excluded.decision, actor = excluded.actor, decided_at = excluded.decided_at`,
		d.CallbackID, string(d.Decision), d.Actor, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// GetDecision returns the stored decision or ErrNotFound.
func (s *SQLiteStore) GetDecision(ctx context.Context, callbackID string) (*models.ApprovalDecision, error) {
	d := &models.ApprovalDecision{}
	var decision string
	err := s.db.QueryRowContext(ctx,
		`SELECT callback_id, decision, actor, decided_at FROM approval_decisions WHERE callback_id = ?`, callbackID,
	).Scan(&d.CallbackID, &decision, &d.Actor, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", callbackID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	d.Decision = models.Decision(decision)
	return d, nil
}

// --- Stage runs ---

// RecordStageRun appends an audit row, assigning ID and timestamp when unset.
func (s *SQLiteStore) RecordStageRun(ctx context.Context, run *models.StageRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, issue_number, stage, approved, score, comments, artifact_path, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.IssueNumber, string(run.Stage), boolToInt(run.Approved), run.Score,
		run.Comments, run.ArtifactPath, run.Error, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record stage run: %w", err)
	}
	return nil
}

// ListStageRuns returns an issue's runs oldest first. limit <= 0 means no limit.
func (s *SQLiteStore) ListStageRuns(ctx context.Context, issueNumber int, limit int) ([]*models.StageRun, error) {
	query := `SELECT id, issue_number, stage, approved, score, comments, artifact_path, error, created_at
		FROM stage_runs WHERE issue_number = ? ORDER BY created_at, id`
	args := []any{issueNumber}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.StageRun
	for rows.Next() {
		r := &models.StageRun{}
		var stage string
		if err := rows.Scan(&r.ID, &r.IssueNumber, &stage, &r.Approved, &r.Score, &r.Comments, &r.ArtifactPath, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		r.Stage = models.Stage(stage)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
