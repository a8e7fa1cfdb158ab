package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// SQLITE REPOSITORY
// =============================================================================

// SQLiteStore implements Repository on a single SQLite file. Rubric and
// result documents are stored as JSON columns; the relational surface is just
// what queries need.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Initializing SQLiteStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized successfully")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grading_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_assignment_id TEXT NOT NULL,
		template_name TEXT NOT NULL,
		languages TEXT NOT NULL DEFAULT '[]',
		criteria_config TEXT NOT NULL,
		setup_config TEXT,
		version INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_configs_active
		ON grading_configs(external_assignment_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		external_assignment_id TEXT NOT NULL,
		external_user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		files_blob TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_assignment
		ON submissions(external_assignment_id);

	CREATE TABLE IF NOT EXISTS submission_results (
		submission_id TEXT PRIMARY KEY REFERENCES submissions(id),
		result_tree TEXT,
		focus TEXT,
		feedback TEXT,
		pipeline_execution TEXT NOT NULL,
		final_score REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// GRADING CONFIGS
// =============================================================================

func (s *SQLiteStore) CreateConfig(ctx context.Context, cfg *types.GradingConfig) error {
	criteria, err := json.Marshal(cfg.Criteria)
	if err != nil {
		return fmt.Errorf("criteria config is not serializable: %w", err)
	}
	languages, err := json.Marshal(cfg.Languages)
	if err != nil {
		return fmt.Errorf("languages are not serializable: %w", err)
	}
	var setup any
	if cfg.Setup != nil {
		data, err := json.Marshal(cfg.Setup)
		if err != nil {
			return fmt.Errorf("setup config is not serializable: %w", err)
		}
		setup = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grading_configs WHERE external_assignment_id = ? AND is_active = 1`,
		cfg.AssignmentID).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to check active configs: %w", err)
	}
	if active > 0 {
		return ErrConflict
	}

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM grading_configs WHERE external_assignment_id = ?`,
		cfg.AssignmentID).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to compute version: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO grading_configs
			(external_assignment_id, template_name, languages, criteria_config, setup_config, version, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		cfg.AssignmentID, cfg.Template, string(languages), string(criteria), setup, version, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read config id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config: %w", err)
	}

	cfg.ID = id
	cfg.Version = version
	cfg.Active = true
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	logging.Store("Config created: assignment=%s version=%d id=%d", cfg.AssignmentID, version, id)
	return nil
}

func (s *SQLiteStore) ConfigByID(ctx context.Context, id int64) (*types.GradingConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_assignment_id, template_name, languages, criteria_config, setup_config, version, is_active, created_at, updated_at
		FROM grading_configs WHERE id = ?`, id)
	return scanConfig(row)
}

func (s *SQLiteStore) ActiveConfig(ctx context.Context, assignmentID string) (*types.GradingConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_assignment_id, template_name, languages, criteria_config, setup_config, version, is_active, created_at, updated_at
		FROM grading_configs WHERE external_assignment_id = ? AND is_active = 1`, assignmentID)
	cfg, err := scanConfig(row)
	if err == ErrNotFound {
		return nil, types.E(types.KindConfigMissing, "no active grading config for assignment %q", assignmentID)
	}
	return cfg, err
}

func (s *SQLiteStore) DeactivateConfig(ctx context.Context, assignmentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE grading_configs SET is_active = 0, updated_at = ?
		WHERE external_assignment_id = ? AND is_active = 1`,
		time.Now().UTC(), assignmentID)
	if err != nil {
		return fmt.Errorf("failed to deactivate config: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*types.GradingConfig, error) {
	var cfg types.GradingConfig
	var languages, criteria string
	var setup sql.NullString
	var active int
	err := row.Scan(&cfg.ID, &cfg.AssignmentID, &cfg.Template, &languages, &criteria,
		&setup, &cfg.Version, &active, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}
	cfg.Active = active == 1

	if err := json.Unmarshal([]byte(languages), &cfg.Languages); err != nil {
		return nil, fmt.Errorf("stored languages are corrupt: %w", err)
	}
	if err := json.Unmarshal([]byte(criteria), &cfg.Criteria); err != nil {
		return nil, fmt.Errorf("stored criteria config is corrupt: %w", err)
	}
	if setup.Valid && setup.String != "" {
		cfg.Setup = &types.SetupConfig{}
		if err := json.Unmarshal([]byte(setup.String), cfg.Setup); err != nil {
			return nil, fmt.Errorf("stored setup config is corrupt: %w", err)
		}
	}
	return &cfg, nil
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *types.Submission) error {
	files, err := json.Marshal(sub.Files)
	if err != nil {
		return fmt.Errorf("submission files are not serializable: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, external_assignment_id, external_user_id, username, language, files_blob, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.AssignmentID, sub.UserID, sub.Username, sub.Language, string(files), string(sub.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	logging.StoreDebug("Submission created: %s (assignment=%s)", sub.ID, sub.AssignmentID)
	return nil
}

func (s *SQLiteStore) Submission(ctx context.Context, id string) (*types.Submission, error) {
	var sub types.Submission
	var files, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_assignment_id, external_user_id, username, language, files_blob, status, created_at, updated_at
		FROM submissions WHERE id = ?`, id).
		Scan(&sub.ID, &sub.AssignmentID, &sub.UserID, &sub.Username, &sub.Language,
			&files, &status, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}
	sub.Status = types.SubmissionStatus(status)
	if err := json.Unmarshal([]byte(files), &sub.Files); err != nil {
		return nil, fmt.Errorf("stored submission files are corrupt: %w", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) UpdateSubmissionStatus(ctx context.Context, id string, status types.SubmissionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	logging.StoreDebug("Submission %s -> %s", id, status)
	return nil
}

// =============================================================================
// RESULTS
// =============================================================================

// SaveResult writes the terminal status and the result atomically.
func (s *SQLiteStore) SaveResult(ctx context.Context, id string, status types.SubmissionStatus, result *types.SubmissionResult) error {
	tree, err := marshalNullable(result.ResultTree)
	if err != nil {
		return fmt.Errorf("result tree is not serializable: %w", err)
	}
	focusDoc, err := marshalNullable(result.Focus)
	if err != nil {
		return fmt.Errorf("focus is not serializable: %w", err)
	}
	exec, err := json.Marshal(result.Execution)
	if err != nil {
		return fmt.Errorf("pipeline execution is not serializable: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id); err != nil {
		return fmt.Errorf("failed to update submission status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submission_results (submission_id, result_tree, focus, feedback, pipeline_execution, final_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_id) DO UPDATE SET
			result_tree = excluded.result_tree,
			focus = excluded.focus,
			feedback = excluded.feedback,
			pipeline_execution = excluded.pipeline_execution,
			final_score = excluded.final_score,
			updated_at = excluded.updated_at`,
		id, tree, focusDoc, result.Feedback, string(exec), result.FinalScore, now); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}

	logging.Store("Result saved: %s status=%s score=%.2f", id, status, result.FinalScore)
	return nil
}

func (s *SQLiteStore) Result(ctx context.Context, submissionID string) (*types.SubmissionResult, error) {
	var result types.SubmissionResult
	var tree, focusDoc sql.NullString
	var exec string
	err := s.db.QueryRowContext(ctx, `
		SELECT submission_id, result_tree, focus, feedback, pipeline_execution, final_score, updated_at
		FROM submission_results WHERE submission_id = ?`, submissionID).
		Scan(&result.SubmissionID, &tree, &focusDoc, &result.Feedback, &exec, &result.FinalScore, &result.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan result: %w", err)
	}

	if tree.Valid && tree.String != "" {
		result.ResultTree = &types.ResultTree{}
		if err := json.Unmarshal([]byte(tree.String), result.ResultTree); err != nil {
			return nil, fmt.Errorf("stored result tree is corrupt: %w", err)
		}
	}
	if focusDoc.Valid && focusDoc.String != "" {
		result.Focus = &types.Focus{}
		if err := json.Unmarshal([]byte(focusDoc.String), result.Focus); err != nil {
			return nil, fmt.Errorf("stored focus is corrupt: %w", err)
		}
	}
	result.Execution = &types.PipelineExecution{}
	if err := json.Unmarshal([]byte(exec), result.Execution); err != nil {
		return nil, fmt.Errorf("stored pipeline execution is corrupt: %w", err)
	}
	return &result, nil
}

// marshalNullable returns nil for a nil document so the column stays NULL.
func marshalNullable(v any) (any, error) {
	switch doc := v.(type) {
	case *types.ResultTree:
		if doc == nil {
			return nil, nil
		}
	case *types.Focus:
		if doc == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
