// Package history records finished runs and their passes in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// RunRecord is a stored run
type RunRecord struct {
	ID              string
	RunID           string
	ProjectRoot     string
	ArtifactDir     string
	Status          models.OutcomeStatus
	PassCount       int
	MaxPasses       int
	FailedComponent string
	Reason          string
	Thresholds      *models.GateThresholds
	StartedAt       time.Time
	FinishedAt      time.Time
	Duration        time.Duration
}

// PassRow is a stored pass
type PassRow struct {
	Index             int
	Passed            bool
	Alignment         float64
	Spacing           float64
	Contrast          float64
	Violations        int
	Submitted         bool
	Failing           []models.FailingCriterion
	GenerationApplied bool
	GenerationError   string
	VerificationError string
	Duration          time.Duration
}

// Store manages the SQLite run history database
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates a Store and applies pending migrations. ":memory:" opens a
// private in-memory database.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// execWithRetry retries statements that fail with "database is locked"
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database path
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores a finished run and its passes in one transaction and
// returns the generated row id.
func (s *Store) RecordRun(ctx context.Context, rc *models.RunContext, outcome *models.RunOutcome) (string, error) {
	if rc == nil || outcome == nil {
		return "", errors.New("record run: nil run context or outcome")
	}

	thresholds, err := json.Marshal(outcome.Thresholds)
	if err != nil {
		return "", fmt.Errorf("marshal thresholds: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, run_id, project_root, artifact_dir, status, pass_count, max_passes, failed_component, reason, thresholds, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		rc.RunID,
		rc.ProjectRoot,
		rc.ArtifactDir,
		string(outcome.Status),
		len(outcome.Passes),
		rc.MaxPasses,
		outcome.FailedComponent,
		outcome.Reason,
		string(thresholds),
		outcome.StartedAt.UTC(),
		outcome.FinishedAt.UTC(),
		outcome.Duration().Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, p := range outcome.Passes {
		failing, err := json.Marshal(p.Failing)
		if err != nil {
			return "", fmt.Errorf("marshal failing criteria: %w", err)
		}
		var alignment, spacing, contrast sql.NullFloat64
		var violations sql.NullInt64
		var submitted sql.NullBool
		if r := p.Report; r != nil {
			alignment = sql.NullFloat64{Float64: r.Alignment, Valid: true}
			spacing = sql.NullFloat64{Float64: r.Spacing, Valid: true}
			contrast = sql.NullFloat64{Float64: r.Contrast, Valid: true}
			violations = sql.NullInt64{Int64: int64(r.Accessibility.ViolationCount), Valid: true}
			submitted = sql.NullBool{Bool: r.Interaction.Submitted, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO passes
			(run_ref, pass_index, passed, alignment, spacing, contrast, violations, submitted, failing, generation_applied, generation_error, verification_error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			p.Index,
			p.Passed,
			alignment,
			spacing,
			contrast,
			violations,
			submitted,
			string(failing),
			p.GenerationApplied,
			p.GenerationError,
			p.VerificationError,
			p.Duration.Milliseconds(),
		)
		if err != nil {
			return "", fmt.Errorf("insert pass %d: %w", p.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns runs, most recent first. An empty projectRoot lists runs
// of every project. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, projectRoot string, limit int) ([]RunRecord, error) {
	query := `SELECT id, run_id, project_root, artifact_dir, status, pass_count, max_passes,
		COALESCE(failed_component, ''), COALESCE(reason, ''), thresholds, started_at, finished_at, duration_ms
		FROM runs`
	var args []interface{}
	if projectRoot != "" {
		query += ` WHERE project_root = ?`
		args = append(args, projectRoot)
	}
	query += ` ORDER BY started_at DESC, run_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r          RunRecord
			status     string
			thresholds sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.ProjectRoot, &r.ArtifactDir, &status, &r.PassCount, &r.MaxPasses,
			&r.FailedComponent, &r.Reason, &thresholds, &r.StartedAt, &r.FinishedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = models.OutcomeStatus(status)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if thresholds.Valid && thresholds.String != "" {
			var th models.GateThresholds
			if err := json.Unmarshal([]byte(thresholds.String), &th); err == nil {
				r.Thresholds = &th
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetPasses returns the passes of a run, identified by its run id, in order
func (s *Store) GetPasses(ctx context.Context, runID string) ([]PassRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT p.pass_index, p.passed, p.alignment, p.spacing, p.contrast,
		p.violations, p.submitted, p.failing, p.generation_applied,
		COALESCE(p.generation_error, ''), COALESCE(p.verification_error, ''), p.duration_ms
		FROM passes p JOIN runs r ON r.id = p.run_ref
		WHERE r.run_id = ?
		ORDER BY p.pass_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	var passes []PassRow
	for rows.Next() {
		var (
			p                            PassRow
			alignment, spacing, contrast sql.NullFloat64
			violations                   sql.NullInt64
			submitted                    sql.NullBool
			failing                      sql.NullString
			durationMS                   int64
		)
		if err := rows.Scan(&p.Index, &p.Passed, &alignment, &spacing, &contrast, &violations, &submitted,
			&failing, &p.GenerationApplied, &p.GenerationError, &p.VerificationError, &durationMS); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		p.Alignment = alignment.Float64
		p.Spacing = spacing.Float64
		p.Contrast = contrast.Float64
		p.Violations = int(violations.Int64)
		p.Submitted = submitted.Bool
		p.Duration = time.Duration(durationMS) * time.Millisecond
		if failing.Valid && failing.String != "" {
			if err := json.Unmarshal([]byte(failing.String), &p.Failing); err != nil {
				return nil, fmt.Errorf("unmarshal failing criteria: %w", err)
			}
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passes: %w", err)
	}
	return passes, nil
}

// CleanupOldRuns deletes runs started more than keepDays ago. Their passes
// are removed by cascade. keepDays <= 0 keeps everything.
func (s *Store) CleanupOldRuns(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)

	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}
