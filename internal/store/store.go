// Package store provides SQLite-backed persistence for users, document
// records, and chat transcripts. Vector data lives in Qdrant; this store
// holds only relational metadata.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrEmailTaken = errors.New("email already registered")
)

// User is a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Document is the relational record of one uploaded file. The vector
// chunks referencing it live in the user's Qdrant collection.
type Document struct {
	ID         int64
	UserID     int64
	Title      string
	Path       string
	UploadedAt time.Time
	Processed  bool
	ChunkCount int
}

// ChatMessage is one question/answer transcript entry. It is served
// directly on the history endpoint, hence the JSON tags.
type ChatMessage struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	path        TEXT NOT NULL,
	uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	processed   INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);

CREATE TABLE IF NOT EXISTS chat_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	query      TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_history_user ON chat_history(user_id);
CREATE INDEX IF NOT EXISTS idx_chat_history_created ON chat_history(created_at);
`

// Store is the SQLite metadata store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the metadata database under dataDir with
// WAL mode for better concurrency.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "askdocs.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CreateUser inserts a new account. Returns ErrEmailTaken when the email
// already exists.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrEmailTaken
		}
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByEmail looks up an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// CreateDocument records an uploaded file before processing.
func (s *Store) CreateDocument(ctx context.Context, userID int64, title, path string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (user_id, title, path) VALUES (?, ?, ?)`, userID, title, path)
	if err != nil {
		return 0, fmt.Errorf("inserting document: %w", err)
	}
	return res.LastInsertId()
}

// MarkProcessed sets the processed flag and chunk count after ingestion.
func (s *Store) MarkProcessed(ctx context.Context, docID int64, chunkCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processed = 1, chunk_count = ? WHERE id = ?`, chunkCount, docID)
	if err != nil {
		return fmt.Errorf("marking document processed: %w", err)
	}
	return nil
}

// GetDocument fetches one document scoped to its owner.
func (s *Store) GetDocument(ctx context.Context, userID, docID int64) (*Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, path, uploaded_at, processed, chunk_count
		 FROM documents WHERE id = ? AND user_id = ?`, docID, userID).
		Scan(&d.ID, &d.UserID, &d.Title, &d.Path, &d.UploadedAt, &d.Processed, &d.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, path, uploaded_at, processed, chunk_count
		 FROM documents WHERE user_id = ? ORDER BY uploaded_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Path, &d.UploadedAt, &d.Processed, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes one document record scoped to its owner.
// Returns ErrNotFound if no row matched.
func (s *Store) DeleteDocument(ctx context.Context, userID, docID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND user_id = ?`, docID, userID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllDocuments removes every document record for a user.
func (s *Store) DeleteAllDocuments(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// AppendChat persists one question/answer pair.
func (s *Store) AppendChat(ctx context.Context, userID int64, query, response string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (user_id, query, response) VALUES (?, ?, ?)`,
		userID, query, response)
	if err != nil {
		return fmt.Errorf("inserting chat entry: %w", err)
	}
	return nil
}

// ListChatHistory returns the user's transcript, newest first, capped at
// limit (0 means no cap).
func (s *Store) ListChatHistory(ctx context.Context, userID int64, limit int) ([]ChatMessage, error) {
	q := `SELECT id, user_id, query, response, created_at
	      FROM chat_history WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing chat history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Query, &m.Response, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteAllChat removes a user's entire transcript.
func (s *Store) DeleteAllChat(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting chat history: %w", err)
	}
	return nil
}

// PurgeChatBefore deletes transcript entries older than cutoff across all
// users. Returns the number of rows removed.
func (s *Store) PurgeChatBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_history WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging chat history: %w", err)
	}
	return res.RowsAffected()
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. modernc.org/sqlite surfaces these as plain errors carrying the
// constraint message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
