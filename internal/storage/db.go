package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/speaker-separator/internal/types"
)

// DB handles SQLite access for conversations and turns.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) the database and ensures the schema exists. The
// parent directory is created if necessary; sqlite cannot create the file
// inside a missing directory.
func NewDB(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		format TEXT NOT NULL,
		duration REAL NOT NULL,
		speakers INTEGER NOT NULL,
		turns INTEGER NOT NULL,
		processed_at DATETIME NOT NULL,
		last_viewed DATETIME NOT NULL,
		storage_path TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		number INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		audio_path TEXT NOT NULL,
		UNIQUE(conversation_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_fingerprint ON conversations(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const conversationColumns = `id, fingerprint, filename, format, duration, speakers, turns, processed_at, last_viewed, storage_path`

func scanConversation(row interface{ Scan(...any) error }) (*types.Conversation, error) {
	var c types.Conversation
	err := row.Scan(&c.ID, &c.Fingerprint, &c.Filename, &c.Format, &c.Duration,
		&c.Speakers, &c.Turns, &c.ProcessedAt, &c.LastViewed, &c.StoragePath)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByFingerprint returns the conversation with the given content
// fingerprint, or types.ErrNotFound.
func (d *DB) FindByFingerprint(fp string) (*types.Conversation, error) {
	row := d.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE fingerprint = ?`, fp)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation by fingerprint: %w", err)
	}
	return c, nil
}

// GetConversation returns the conversation with the given id, or
// types.ErrNotFound.
func (d *DB) GetConversation(id string) (*types.Conversation, error) {
	row := d.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations, newest processed_at first.
func (d *DB) ListConversations() ([]types.Conversation, error) {
	rows, err := d.db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY processed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, *c)
	}
	return conversations, rows.Err()
}

// SaveConversation inserts the conversation row and all of its turn rows in a
// single transaction. A fingerprint collision surfaces as
// types.ErrDuplicateFingerprint and nothing is written.
func (d *DB) SaveConversation(conv *types.Conversation, turns []types.Turn) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Fingerprint, conv.Filename, conv.Format, conv.Duration,
		conv.Speakers, conv.Turns, conv.ProcessedAt, conv.LastViewed, conv.StoragePath)
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrDuplicateFingerprint
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	for _, t := range turns {
		_, err = tx.Exec(`
			INSERT INTO turns (id, conversation_id, number, speaker, text, start_ms, end_ms, audio_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ConversationID, t.Number, t.Speaker, t.Text, t.StartMs, t.EndMs, t.AudioPath)
		if err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", t.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

// TouchLastViewed updates only the last_viewed timestamp. Returns
// types.ErrNotFound when no conversation has the given id.
func (d *DB) TouchLastViewed(id string, t time.Time) error {
	res, err := d.db.Exec(`UPDATE conversations SET last_viewed = ? WHERE id = ?`, t, id)
	if err != nil {
		return fmt.Errorf("failed to update last_viewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// ListTurns returns all turns for a conversation, ordered by number ascending.
func (d *DB) ListTurns(conversationID string) ([]types.Turn, error) {
	rows, err := d.db.Query(`
		SELECT id, conversation_id, number, speaker, text, start_ms, end_ms, audio_path
		FROM turns
		WHERE conversation_id = ?
		ORDER BY number ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		var t types.Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Number, &t.Speaker,
			&t.Text, &t.StartMs, &t.EndMs, &t.AudioPath); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// DeleteConversation removes the conversation row and its turn rows in one
// transaction. Returns types.ErrNotFound when no such conversation exists.
func (d *DB) DeleteConversation(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}
	return nil
}

// CountConversations returns the total number of stored conversations.
func (d *DB) CountConversations() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

// ConversationIDs returns the ids of all stored conversations. Used by the
// orphan sweeper to reconcile the blob tree against the database.
func (d *DB) ConversationIDs() (map[string]bool, error) {
	rows, err := d.db.Query(`SELECT id FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
