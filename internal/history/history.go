package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/security"

	_ "modernc.org/sqlite"
)

const recordColumns = `id, deployment_id, container, action, branch, commit_hash, pr_number,
	delivery_id, image, status, stage, started_at, completed_at, duration_ms, error_message`

// History manages deployment history in SQLite
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistory opens (and creates if needed) the history database at dbPath.
func NewHistory(dbPath string, logger *slog.Logger) (*History, error) {
	if dbPath != ":memory:" {
		if err := security.CreateSecureDir(filepath.Dir(dbPath), security.PermDirectory); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db, logger: logger}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if dbPath != ":memory:" {
		if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
			logger.Warn("Failed to restrict history database permissions", "path", dbPath, "error", err)
		}
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

// initSchema creates the database tables and indexes
func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL UNIQUE,
			container TEXT NOT NULL,
			action TEXT NOT NULL,
			branch TEXT NOT NULL,
			commit_hash TEXT,
			pr_number INTEGER,
			delivery_id TEXT,
			image TEXT,
			status TEXT NOT NULL,
			stage TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_ms INTEGER,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_container_id
		ON deployments(container, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordStart inserts an in-progress record and returns its row id.
func (h *History) RecordStart(ctx context.Context, record *DeploymentRecord) (int64, error) {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(deployment_id, container, action, branch, commit_hash, pr_number,
		 delivery_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.DeploymentID,
		record.Container,
		record.Action,
		record.Branch,
		record.CommitHash,
		record.PRNumber,
		record.DeliveryID,
		StatusInProgress,
		startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// Completion is the outcome written when a job finishes.
type Completion struct {
	Status       string
	Stage        string
	Image        string
	Duration     time.Duration
	ErrorMessage string
	CompletedAt  time.Time
}

// RecordCompletion finalizes the record for deploymentID.
func (h *History) RecordCompletion(ctx context.Context, deploymentID string, c Completion) error {
	completedAt := c.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	result, err := h.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, stage = ?, image = ?, completed_at = ?, duration_ms = ?, error_message = ?
		WHERE deployment_id = ?
	`,
		c.Status,
		nullString(c.Stage),
		nullString(c.Image),
		completedAt.UTC().Format(time.RFC3339),
		c.Duration.Milliseconds(),
		nullString(c.ErrorMessage),
		deploymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no deployment record with id %s", deploymentID)
	}
	return nil
}

// GetLatestDeployment returns the most recent deployment for a container
func (h *History) GetLatestDeployment(ctx context.Context, container string) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE container = ?
		ORDER BY id DESC
		LIMIT 1
	`, container)

	record, err := scanDeploymentRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns deployment history for a container, newest first
func (h *History) GetDeploymentHistory(ctx context.Context, container string, limit int) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE container = ?
		ORDER BY id DESC
		LIMIT ?
	`, container, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// GetAllContainersStatus returns the latest deployment for each container
func (h *History) GetAllContainersStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE id IN (SELECT MAX(id) FROM deployments GROUP BY container)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all containers status: %w", err)
	}
	defer rows.Close()

	records, err := collect(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*DeploymentRecord, len(records))
	for i := range records {
		result[records[i].Container] = &records[i]
	}
	return result, nil
}

// Notify records deployment events: a started event inserts a row and the
// final event completes it. Errors are logged, never returned.
func (h *History) Notify(ctx context.Context, ev deployment.Event) {
	var err error
	switch ev.Status {
	case deployment.StatusStarted:
		_, err = h.RecordStart(ctx, recordFromEvent(ev))
	case deployment.StatusSucceeded, deployment.StatusFailed:
		err = h.RecordCompletion(ctx, ev.ID, completionFromEvent(ev))
	}
	if err != nil {
		h.logger.Error("Failed to record deployment history",
			"deployment", ev.ID,
			"container", ev.Info.ContainerName,
			"error", err,
		)
	}
}

func recordFromEvent(ev deployment.Event) *DeploymentRecord {
	r := &DeploymentRecord{
		DeploymentID: ev.ID,
		Container:    ev.Info.ContainerName,
		Action:       string(ev.Action),
		Branch:       ev.Info.Branch,
		CommitHash:   stringPtrOrNil(ev.Info.SHA),
		DeliveryID:   stringPtrOrNil(ev.Info.DeliveryID),
		StartedAt:    ev.Time,
	}
	if ev.Info.IsPullRequest() {
		n := ev.Info.PRNumber
		r.PRNumber = &n
	}
	return r
}

func completionFromEvent(ev deployment.Event) Completion {
	c := Completion{
		Stage:       string(ev.Stage),
		Image:       ev.Image,
		Duration:    ev.Duration,
		CompletedAt: ev.Time,
	}
	switch {
	case ev.Status == deployment.StatusFailed:
		c.Status = StatusFailed
		if ev.Err != nil {
			c.ErrorMessage = ev.Err.Error()
		}
	case ev.Action == deployment.ActionTeardown:
		c.Status = StatusRemoved
	default:
		c.Status = StatusSuccess
	}
	return c
}

func collect(rows *sql.Rows) ([]DeploymentRecord, error) {
	var records []DeploymentRecord
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDeploymentRecord scans a database row into a DeploymentRecord
// Works with both *sql.Row and *sql.Rows
func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr sql.NullString
	var prNumber sql.NullInt64
	var durationMS sql.NullInt64

	err := s.Scan(
		&record.ID,
		&record.DeploymentID,
		&record.Container,
		&record.Action,
		&record.Branch,
		&record.CommitHash,
		&prNumber,
		&record.DeliveryID,
		&record.Image,
		&record.Status,
		&record.Stage,
		&startedAtStr,
		&completedAtStr,
		&durationMS,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}
	if prNumber.Valid {
		n := int(prNumber.Int64)
		record.PRNumber = &n
	}
	if durationMS.Valid {
		d := durationMS.Int64
		record.DurationMS = &d
	}

	return &record, nil
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
