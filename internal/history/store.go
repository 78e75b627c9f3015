package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"askdb/internal/logging"
	"askdb/internal/types"
)

// Store persists conversation turns in SQLite. The engine core never
// writes here; the caller appends the turn after the engine returns.
type Store struct {
	db *sql.DB
}

const historySchema = `
CREATE TABLE IF NOT EXISTS history (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	sql_text        TEXT NOT NULL DEFAULT '',
	database_id     TEXT NOT NULL DEFAULT '',
	query_type      TEXT NOT NULL DEFAULT 'OTHER',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_conversation
	ON history(conversation_id, created_at);
`

// OpenStore opens (creating if needed) the history database under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.HistoryDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.HistoryDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the history database.
func (s *Store) Close() error { return s.db.Close() }

// Append records one completed turn.
func (s *Store) Append(ctx context.Context, conversationID, ownerID string, turn types.ConversationTurn, queryType types.QueryType) error {
	created := turn.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (conversation_id, owner_id, prompt, sql_text, database_id, query_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, ownerID, turn.Prompt, turn.SQL, turn.DatabaseID, string(queryType), created)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// Recent returns up to n turns for the conversation, most-recent-last.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) ([]types.ConversationTurn, error) {
	if n <= 0 {
		n = defaultWindow
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt, sql_text, database_id, created_at FROM (
			SELECT prompt, sql_text, database_id, created_at, id
			FROM history WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		if err := rows.Scan(&t.Prompt, &t.SQL, &t.DatabaseID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Clear removes all turns for a conversation.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
