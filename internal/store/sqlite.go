package store

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

	_ "github.com/mattn/go-sqlite3"

	"github.com/promptlane/promptlane/internal/engine"
)

const defaultHistoryLimit = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	insertRunStmt    *sql.Stmt
	getRunStmt       *sql.Stmt
	suiteHistoryStmt *sql.Stmt
}

var (
	sqliteOpen              = sql.Open
	sqlitePrepareStatements = (*SQLiteStore).prepareStatements
)

// NewSQLiteStore opens or creates a SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sqliteOpen("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &SQLiteStore{db: db}
	if err := sqlitePrepareStatements(st); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			suite_name TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			triggered_by TEXT,
			status TEXT NOT NULL,
			note TEXT,
			iterations INTEGER NOT NULL,
			model_override TEXT,
			total_cases INTEGER NOT NULL,
			passed_cases INTEGER NOT NULL,
			failed_cases INTEGER NOT NULL,
			avg_score REAL,
			avg_response_ms INTEGER NOT NULL,
			results BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_suite_name ON runs(suite_name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

const runColumns = `id, suite_name, started_at, completed_at, triggered_by, status, note,
	iterations, model_override, total_cases, passed_cases, failed_cases, avg_score, avg_response_ms`

func (s *SQLiteStore) prepareStatements() error {
	if s == nil || s.db == nil {
		return errors.New("store: nil sqlite store")
	}

	ctx := context.Background()
	type stmtSpec struct {
		dst    **sql.Stmt
		query  string
		errFmt string
	}

	specs := []stmtSpec{
		{
			dst: &s.insertRunStmt,
			query: `
				INSERT INTO runs (
					id, suite_name, started_at, completed_at, triggered_by, status, note,
					iterations, model_override, total_cases, passed_cases, failed_cases,
					avg_score, avg_response_ms, results
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert run: %w",
		},
		{
			dst: &s.getRunStmt,
			query: `
				SELECT ` + runColumns + `, results
				FROM runs WHERE id = ?
			`,
			errFmt: "store: prepare get run: %w",
		},
		{
			dst: &s.suiteHistoryStmt,
			query: `
				SELECT ` + runColumns + `
				FROM runs
				WHERE suite_name = ?
				ORDER BY started_at DESC
				LIMIT ?
			`,
			errFmt: "store: prepare suite history: %w",
		},
	}

	for _, spec := range specs {
		stmt, err := s.db.PrepareContext(ctx, spec.query)
		if err != nil {
			return fmt.Errorf(spec.errFmt, err)
		}
		*spec.dst = stmt
	}

	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil {
		return nil
	}
	stmts := []*sql.Stmt{
		s.insertRunStmt,
		s.getRunStmt,
		s.suiteHistoryStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun persists a finalized run with its per-case results.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.TestRun) error {
	if s == nil {
		return errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return errors.New("store: nil context")
	}
	if run == nil {
		return errors.New("store: nil run")
	}

	id := strings.TrimSpace(run.ID)
	if id == "" {
		return errors.New("store: empty run id")
	}
	if strings.TrimSpace(run.SuiteName) == "" {
		return errors.New("store: empty suite name")
	}
	if run.StartedAt.IsZero() {
		return errors.New("store: missing run start time")
	}

	completedAt := run.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("store: marshal run results: %w", err)
	}

	var avgScore sql.NullFloat64
	if run.Summary.AvgScore != nil {
		avgScore = sql.NullFloat64{Float64: *run.Summary.AvgScore, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin run tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := tx.StmtContext(ctx, s.insertRunStmt)
	defer stmt.Close()

	_, err = stmt.ExecContext(
		ctx,
		id,
		run.SuiteName,
		run.StartedAt.UTC().UnixMilli(),
		completedAt.UTC().UnixMilli(),
		run.TriggeredBy,
		string(run.Status),
		run.Note,
		run.Iterations,
		run.ModelOverride,
		run.Summary.Total,
		run.Summary.Passed,
		run.Summary.Failed,
		avgScore,
		run.Summary.AvgResponseTimeMs,
		resultsJSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit run: %w", err)
	}
	return nil
}

// GetRun loads a run by id, including its per-case results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.TestRun, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("store: empty run id")
	}

	row := s.getRunStmt.QueryRowContext(ctx, id)
	run, resultsJSON, err := scanRun(row.Scan, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("store: decode run results: %w", err)
		}
	}
	return run, nil
}

// ListRuns returns run summaries matching the filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.TestRun, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}

	suiteName := strings.TrimSpace(filter.SuiteName)
	status := strings.TrimSpace(filter.Status)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + runColumns + ` FROM runs WHERE 1=1`)

	var args []any
	if suiteName != "" {
		sb.WriteString(` AND suite_name = ?`)
		args = append(args, suiteName)
	}
	if status != "" {
		sb.WriteString(` AND status = ?`)
		args = append(args, status)
	}
	if !filter.Since.IsZero() {
		sb.WriteString(` AND started_at >= ?`)
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	if !filter.Until.IsZero() {
		sb.WriteString(` AND started_at <= ?`)
		args = append(args, filter.Until.UTC().UnixMilli())
	}
	sb.WriteString(` ORDER BY started_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()
	return scanRunRows(rows)
}

// SuiteHistory returns recent runs for a suite, newest first.
func (s *SQLiteStore) SuiteHistory(ctx context.Context, suiteName string, limit int) ([]*engine.TestRun, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	suiteName = strings.TrimSpace(suiteName)
	if suiteName == "" {
		return nil, errors.New("store: empty suite name")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.suiteHistoryStmt.QueryContext(ctx, suiteName, limit)
	if err != nil {
		return nil, fmt.Errorf("store: suite history: %w", err)
	}
	defer rows.Close()
	return scanRunRows(rows)
}

func scanRunRows(rows *sql.Rows) ([]*engine.TestRun, error) {
	var out []*engine.TestRun
	for rows.Next() {
		run, _, err := scanRun(rows.Scan, false)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return out, nil
}

func scanRun(scan func(dest ...any) error, withResults bool) (*engine.TestRun, []byte, error) {
	var (
		id            string
		suiteName     string
		startedAtMS   int64
		completedAtMS int64
		triggeredBy   sql.NullString
		status        string
		note          sql.NullString
		iterations    int
		modelOverride sql.NullString
		totalCases    int
		passedCases   int
		failedCases   int
		avgScore      sql.NullFloat64
		avgResponseMS int64
		resultsJSON   []byte
	)

	dest := []any{
		&id,
		&suiteName,
		&startedAtMS,
		&completedAtMS,
		&triggeredBy,
		&status,
		&note,
		&iterations,
		&modelOverride,
		&totalCases,
		&passedCases,
		&failedCases,
		&avgScore,
		&avgResponseMS,
	}
	if withResults {
		dest = append(dest, &resultsJSON)
	}
	if err := scan(dest...); err != nil {
		return nil, nil, err
	}

	run := &engine.TestRun{
		ID:            id,
		SuiteName:     suiteName,
		StartedAt:     time.UnixMilli(startedAtMS).UTC(),
		CompletedAt:   time.UnixMilli(completedAtMS).UTC(),
		TriggeredBy:   triggeredBy.String,
		Status:        engine.RunStatus(status),
		Note:          note.String,
		Iterations:    iterations,
		ModelOverride: modelOverride.String,
		Summary: engine.Summary{
			Total:             totalCases,
			Passed:            passedCases,
			Failed:            failedCases,
			AvgResponseTimeMs: avgResponseMS,
		},
	}
	if avgScore.Valid {
		v := avgScore.Float64
		run.Summary.AvgScore = &v
	}
	return run, resultsJSON, nil
}
