// ABOUTME: SQLite-backed conversation store using modernc.org/sqlite.
// ABOUTME: Self-healing schema: any version or collection mismatch drops and rebuilds the database.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is bumped whenever the collection/index set changes. A
// mismatch triggers a destructive rebuild: the store is a disposable local
// cache, not a source of truth, so no migration logic exists.
const schemaVersion = 2

// reopenDelay is the pause between deleting a stale database and reopening.
const reopenDelay = 100 * time.Millisecond

var errSchemaMismatch = errors.New("schema mismatch")

// Store is the conversation persistence layer. All operations run inside
// their own transaction; concurrent calls are serialized by the engine.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	errMu   sync.Mutex
	lastErr error
}

// Open opens or creates the conversation database at path. A database left
// behind by an older schema is deleted and recreated after a short delay.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	s, err := open(path, logger)
	if errors.Is(err, errSchemaMismatch) {
		logger.Warn("stale schema detected, rebuilding database", "path", path)
		if rmErr := removeDatabase(path); rmErr != nil {
			return nil, fmt.Errorf("removing stale database: %w", rmErr)
		}
		time.Sleep(reopenDelay)
		s, err = open(path, logger)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("conversation store ready", "path", path)
	return s, nil
}

func open(path string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}

	switch {
	case version == 0:
		if err := createSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	case version != schemaVersion:
		db.Close()
		return nil, errSchemaMismatch
	default:
		ok, err := collectionsPresent(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("verifying collections: %w", err)
		}
		if !ok {
			db.Close()
			return nil, errSchemaMismatch
		}
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_created_at
			ON conversations(created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			timestamp       INTEGER NOT NULL,

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
			ON messages(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_messages_timestamp
			ON messages(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion))
	return err
}

// collectionsPresent verifies both record collections survived from the
// version that wrote user_version.
func collectionsPresent(db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master
		 WHERE type='table' AND name IN ('conversations', 'messages')`,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 2, nil
}

func removeDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Err returns the shared fault state: the most recent operation failure, or
// nil. Callers that do not handle per-call errors can observe this instead
// (e.g. to disable the send button on persistent store failure).
func (s *Store) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// ClearErr resets the shared fault state.
func (s *Store) ClearErr() {
	s.errMu.Lock()
	s.lastErr = nil
	s.errMu.Unlock()
}

// fail records err into the shared fault state and returns it.
func (s *Store) fail(err error) error {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
	return err
}

// withTx wraps fn in a transaction released on completion regardless of
// outcome. Callers never manage transaction lifetime directly.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(fmt.Errorf("beginning transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return s.fail(err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// SaveConversation inserts or replaces a conversation record.
func (s *Store) SaveConversation(ctx context.Context, conv Conversation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO conversations (id, title, created_at, updated_at)
			 VALUES (?, ?, ?, ?)`,
			conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var createdAt, updatedAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`,
			id,
		).Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		conv.CreatedAt = time.UnixMilli(createdAt).UTC()
		conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetAllConversations returns every conversation, newest first.
func (s *Store) GetAllConversations(ctx context.Context) ([]Conversation, error) {
	var conversations []Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, title, created_at, updated_at FROM conversations
			 ORDER BY created_at DESC`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var conv Conversation
			var createdAt, updatedAt int64
			if err := rows.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt); err != nil {
				return err
			}
			conv.CreatedAt = time.UnixMilli(createdAt).UTC()
			conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
			conversations = append(conversations, conv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

// DeleteConversation removes a conversation and cascades over the
// conversation_id index to remove all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversations WHERE id = ?`, id,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id = ?`, id,
		)
		return err
	})
}

// SaveMessage inserts or replaces a message record.
func (s *Store) SaveMessage(ctx context.Context, msg Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO messages (id, conversation_id, role, content, timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Timestamp.UnixMilli(),
		)
		return err
	})
}

// GetMessagesForConversation returns a conversation's messages, oldest
// first. A conversation with no messages yields an empty slice.
func (s *Store) GetMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error) {
	messages := []Message{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, conversation_id, role, content, timestamp FROM messages
			 WHERE conversation_id = ?
			 ORDER BY timestamp ASC, id ASC`,
			conversationID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var msg Message
			var timestamp int64
			if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &timestamp); err != nil {
				return err
			}
			msg.Timestamp = time.UnixMilli(timestamp).UTC()
			messages = append(messages, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteMessage removes a single message by id.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
		return err
	})
}

// ClearAllData truncates both record collections.
func (s *Store) ClearAllData(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM conversations`)
		return err
	})
}
