package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/sealed"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS chat_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    timestamp  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_history_session_ts ON chat_history(session_id, timestamp);
CREATE TABLE IF NOT EXISTS compaction_events (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL,
    removed           INTEGER NOT NULL,
    summary_timestamp REAL NOT NULL,
    created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_compaction_events_session ON compaction_events(session_id);
`

// StoreOptions configures a SQLiteStore.
type StoreOptions struct {
	// Sealer encrypts message content at rest. Nil stores plaintext.
	Sealer sealed.Sealer

	// BusyTimeout is how long a connection waits on a locked database file
	// held by another process. Zero means 5s.
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// SQLiteStore implements Store backed by a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	sealer sealed.Sealer
	logger *slog.Logger

	schemaMu    sync.Mutex
	schemaReady bool

	// txMu admits one write transaction at a time.
	txMu sync.Mutex
}

// DefaultDBPath returns the transcript database location under dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "chat", "history.db")
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the schema exists.
func NewSQLiteStore(dbPath string, opts StoreOptions) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, storageErr("open", "", fmt.Errorf("create db directory: %w", err))
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", dbPath, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", "", fmt.Errorf("open sqlite: %w", err))
	}

	// WAL lets readers proceed while a write transaction is open.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storageErr("open", "", fmt.Errorf("set WAL mode: %w", err))
	}

	s := &SQLiteStore{
		db:     db,
		sealer: opts.Sealer,
		logger: opts.Logger,
	}
	if s.sealer == nil {
		s.sealer = sealed.Plain{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	err := s.withTx(ctx, "ensure schema", "", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, createTableSQL)
		return err
	})
	if err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.withTx(ctx, "append", sessionID, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chat_history (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range msgs {
			if err := s.insert(ctx, stmt, sessionID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) insert(ctx context.Context, stmt *sql.Stmt, sessionID string, m Message) error {
	content, err := s.sealer.Seal(m.Content)
	if err != nil {
		return fmt.Errorf("seal content: %w", err)
	}
	if _, err := stmt.ExecContext(ctx, sessionID, string(m.Role), content, m.Timestamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM chat_history WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, storageErr("load", sessionID, err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var role, content string
		if err := rows.Scan(&role, &content, &m.Timestamp); err != nil {
			return nil, storageErr("load", sessionID, fmt.Errorf("scan message: %w", err))
		}
		m.Role = Role(role)
		if m.Content, err = s.sealer.Open(content); err != nil {
			return nil, storageErr("load", sessionID, fmt.Errorf("open content: %w", err))
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load", sessionID, err)
	}
	return msgs, nil
}

const deleteOneSQL = `
DELETE FROM chat_history WHERE id = (
    SELECT id FROM chat_history WHERE session_id = ? AND timestamp = ? LIMIT 1
)`

func (s *SQLiteStore) DeleteByTimestamp(ctx context.Context, sessionID string, ts float64) error {
	return s.withTx(ctx, "delete", sessionID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteOneSQL, sessionID, ts)
		return err
	})
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, "clear", sessionID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM chat_history WHERE session_id = ?`, sessionID)
		return err
	})
}

func (s *SQLiteStore) Compact(ctx context.Context, sessionID string, removed []float64, summary Message) error {
	return s.withTx(ctx, "compact", sessionID, func(tx *sql.Tx) error {
		del, err := tx.PrepareContext(ctx, deleteOneSQL)
		if err != nil {
			return err
		}
		defer del.Close()
		for _, ts := range removed {
			if _, err := del.ExecContext(ctx, sessionID, ts); err != nil {
				return fmt.Errorf("delete message: %w", err)
			}
		}

		ins, err := tx.PrepareContext(ctx,
			`INSERT INTO chat_history (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer ins.Close()
		if err := s.insert(ctx, ins, sessionID, summary); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO compaction_events (id, session_id, removed, summary_timestamp, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), sessionID, len(removed), summary.Timestamp,
			time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("record compaction: %w", err)
		}
		return nil
	})
}

// CompactionCount returns how many compactions were recorded for the session.
func (s *SQLiteStore) CompactionCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM compaction_events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, storageErr("count compactions", sessionID, err)
	}
	return n, nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM chat_history GROUP BY session_id ORDER BY MAX(timestamp) DESC`)
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var first, last float64
		if err := rows.Scan(&info.ID, &info.Messages, &first, &last); err != nil {
			return nil, storageErr("list", "", fmt.Errorf("scan session: %w", err))
		}
		info.First = Message{Timestamp: first}.Time()
		info.Last = Message{Timestamp: last}.Time()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", "", err)
	}
	return infos, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a write transaction, committing on success and
// rolling back on any error.
func (s *SQLiteStore) withTx(ctx context.Context, op, sessionID string, fn func(tx *sql.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, sessionID, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("rollback failed", "op", op, "session", sessionID, "err", err)
		}
	}()

	if err := fn(tx); err != nil {
		return storageErr(op, sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, sessionID, fmt.Errorf("commit: %w", err))
	}
	s.logger.Debug("store tx", "op", op, "session", sessionID, "duration", time.Since(start))
	return nil
}
