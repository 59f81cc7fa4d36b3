package inbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// StoredMessage is a persisted inbox message with its classification.
type StoredMessage struct {
	ID             int64
	MessageID      string
	Sender         string
	SenderName     string
	Subject        string
	UnsubscribeURL string
	Category       string
	Summary        string
	ReceivedAt     time.Time
	CreatedAt      time.Time
}

// Store persists ingested messages in sqlite.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
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
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		sender TEXT,
		sender_name TEXT,
		subject TEXT,
		unsubscribe_url TEXT,
		category TEXT,
		summary TEXT,
		received_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_msg_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_msg_category ON messages(category);
	CREATE INDEX IF NOT EXISTS idx_msg_received_at ON messages(received_at);
	`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Upsert stores a message, replacing the extracted link on re-ingestion but
// keeping any classification already present.
func (s *Store) Upsert(m Message) error {
	query := `
	INSERT INTO messages (message_id, sender, sender_name, subject, unsubscribe_url, received_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO UPDATE SET
		sender = excluded.sender,
		sender_name = excluded.sender_name,
		subject = excluded.subject,
		unsubscribe_url = excluded.unsubscribe_url
	`

	_, err := s.db.Exec(query, m.MessageID, m.From, m.FromName, m.Subject, m.UnsubscribeURL, m.ReceivedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// SetClassification records the advisory AI category and summary.
func (s *Store) SetClassification(messageID, category, summary string) error {
	_, err := s.db.Exec(`UPDATE messages SET category = ?, summary = ? WHERE message_id = ?`,
		category, summary, messageID)
	if err != nil {
		return fmt.Errorf("failed to set classification: %w", err)
	}
	return nil
}

// GetUnsubscribeLink returns the stored unsubscribe target for a message.
// An empty string with nil error means the message is known but carried no
// usable link.
func (s *Store) GetUnsubscribeLink(messageID string) (string, error) {
	var link sql.NullString
	err := s.db.QueryRow(`SELECT unsubscribe_url FROM messages WHERE message_id = ?`, messageID).Scan(&link)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("unknown message %s", messageID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query message: %w", err)
	}
	return link.String, nil
}

// Get returns one stored message, or nil when unknown.
func (s *Store) Get(messageID string) (*StoredMessage, error) {
	m, err := scanStoredMessage(s.db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// Recent lists stored messages newest first.
func (s *Store) Recent(limit int) ([]StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		m, err := scanStoredMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

const messageColumns = `id, message_id, sender, sender_name, subject, unsubscribe_url, category, summary, received_at, created_at`

func scanStoredMessage(scanner interface{ Scan(...any) error }) (*StoredMessage, error) {
	var m StoredMessage
	var sender, senderName, subject, link, category, summary sql.NullString
	var receivedAt, createdAt sql.NullTime

	err := scanner.Scan(&m.ID, &m.MessageID, &sender, &senderName, &subject,
		&link, &category, &summary, &receivedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Sender = sender.String
	m.SenderName = senderName.String
	m.Subject = subject.String
	m.UnsubscribeURL = link.String
	m.Category = category.String
	m.Summary = summary.String
	m.ReceivedAt = receivedAt.Time
	m.CreatedAt = createdAt.Time
	return &m, nil
}

func (s *Store) Close() error { return s.db.Close() }

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mailsweep_messages.db"
	}
	return filepath.Join(home, ".mailsweep", "messages.db")
}
