// Package ledger records every unsubscribe attempt in sqlite. Terminal rows
// are immutable: a retry is a new row, never an update to an old one.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Attempt is one row of the unsubscribe ledger
type Attempt struct {
	ID          int64
	JobID       string
	MessageID   string
	Sender      string
	TargetURL   string
	Status      Status
	Method      string // which strategy produced the outcome
	Detail      string // failure reason or success note
	AttemptedAt time.Time
	CompletedAt time.Time
	CreatedAt   time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS unsubscribe_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		sender TEXT,
		target_url TEXT,
		status TEXT NOT NULL,
		method TEXT,
		detail TEXT,
		attempted_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ua_message_id ON unsubscribe_attempts(message_id);
	CREATE INDEX IF NOT EXISTS idx_ua_job_id ON unsubscribe_attempts(job_id);
	CREATE INDEX IF NOT EXISTS idx_ua_status ON unsubscribe_attempts(status);
	`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Create inserts a new pending attempt and fills in its row ID.
func (s *Store) Create(a *Attempt) error {
	query := `
	INSERT INTO unsubscribe_attempts (job_id, message_id, sender, target_url, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, a.JobID, a.MessageID, a.Sender, a.TargetURL, StatusPending, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	a.Status = StatusPending
	return nil
}

// MarkProcessing transitions a pending attempt to processing.
func (s *Store) MarkProcessing(id int64) error {
	query := `UPDATE unsubscribe_attempts SET status = ?, attempted_at = ?
		WHERE id = ? AND status = ?`

	result, err := s.db.Exec(query, StatusProcessing, time.Now(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark attempt processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attempt %d is not pending", id)
	}
	return nil
}

// Complete records the terminal outcome of an attempt. Rows already in a
// terminal state are never touched.
func (s *Store) Complete(id int64, status Status, method, detail string) error {
	if status != StatusSuccess && status != StatusFailed {
		return fmt.Errorf("complete requires a terminal status, got %q", status)
	}

	query := `UPDATE unsubscribe_attempts SET status = ?, method = ?, detail = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`

	result, err := s.db.Exec(query, status, method, detail, time.Now(), id, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attempt %d is already terminal", id)
	}
	return nil
}

// scanAttempt handles nullable columns when scanning a row
func scanAttempt(scanner interface{ Scan(...any) error }) (*Attempt, error) {
	var a Attempt
	var sender, targetURL, method, detail sql.NullString
	var attemptedAt, completedAt, createdAt sql.NullTime

	err := scanner.Scan(&a.ID, &a.JobID, &a.MessageID, &sender, &targetURL,
		&a.Status, &method, &detail, &attemptedAt, &completedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	a.Sender = sender.String
	a.TargetURL = targetURL.String
	a.Method = method.String
	a.Detail = detail.String
	a.AttemptedAt = attemptedAt.Time
	a.CompletedAt = completedAt.Time
	a.CreatedAt = createdAt.Time
	return &a, nil
}

const attemptColumns = `id, job_id, message_id, sender, target_url, status, method, detail, attempted_at, completed_at, created_at`

// LatestFor returns the most recent attempt for a message, or nil.
func (s *Store) LatestFor(messageID string) (*Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM unsubscribe_attempts
		WHERE message_id = ? ORDER BY id DESC LIMIT 1`

	a, err := scanAttempt(s.db.QueryRow(query, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt: %w", err)
	}
	return a, nil
}

// History returns every attempt for a message, newest first.
func (s *Store) History(messageID string) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM unsubscribe_attempts
		WHERE message_id = ? ORDER BY id DESC`

	return s.queryAttempts(query, messageID)
}

// Recent returns the latest attempts across all messages.
func (s *Store) Recent(limit int) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM unsubscribe_attempts
		ORDER BY id DESC LIMIT ?`

	return s.queryAttempts(query, limit)
}

func (s *Store) queryAttempts(query string, args ...any) ([]Attempt, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// Stats returns total, succeeded and failed counts.
func (s *Store) Stats() (total, succeeded, failed int, err error) {
	query := `SELECT COUNT(*),
		SUM(CASE WHEN status='success' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END)
		FROM unsubscribe_attempts`

	var succeededNull, failedNull sql.NullInt64
	err = s.db.QueryRow(query).Scan(&total, &succeededNull, &failedNull)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get stats: %w", err)
	}
	return total, int(succeededNull.Int64), int(failedNull.Int64), nil
}

func (s *Store) Close() error { return s.db.Close() }

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mailsweep_ledger.db"
	}
	return filepath.Join(home, ".mailsweep", "ledger.db")
}
