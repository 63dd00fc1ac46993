package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SQLiteConfig configures the local SQLite sink. An empty path disables it.
type SQLiteConfig struct {
	Path    string `yaml:"path" json:"path"`
	TTLDays int    `yaml:"ttl_days" json:"ttl_days"`
}

// SQLiteSink is a local alternative to the MongoDB sink with the same
// contract. SQLite has no TTL indexes, so retention is enforced by deleting
// expired rows whenever EnsureIndexes runs.
type SQLiteSink struct {
	enabled bool
	ttlDays int
	db      *sql.DB
}

var _ Sink = &SQLiteSink{}

// SQLiteDSNForFile builds a DSN with WAL journaling and a busy timeout.
func SQLiteDSNForFile(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
}

// NewSQLiteSink opens (or creates) the database file at cfg.Path. An empty
// path yields a disabled no-op sink.
func NewSQLiteSink(cfg SQLiteConfig) (*SQLiteSink, error) {
	if cfg.Path == "" {
		return &SQLiteSink{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "sqlite sink: create directory")
	}

	db, err := sql.Open("sqlite3", SQLiteDSNForFile(cfg.Path))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite sink: open")
	}

	return &SQLiteSink{enabled: true, ttlDays: cfg.TTLDays, db: db}, nil
}

func (s *SQLiteSink) Enabled() bool {
	return s != nil && s.enabled
}

// EnsureIndexes creates the schema if needed and prunes expired rows.
// Idempotent.
func (s *SQLiteSink) EnsureIndexes(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id              TEXT NOT NULL PRIMARY KEY,
			session_id      TEXT NOT NULL,
			role            TEXT NOT NULL,
			text            TEXT NOT NULL,
			metadata_json   TEXT NOT NULL DEFAULT '{}',
			vector_ids_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms   INTEGER NOT NULL,
			expires_at_ms   INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS chat_messages_by_session ON chat_messages(session_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "sqlite sink: migrate")
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_messages WHERE expires_at_ms > 0 AND expires_at_ms <= ?
	`, time.Now().UnixMilli()); err != nil {
		return errors.Wrap(err, "sqlite sink: prune expired")
	}
	return nil
}

func (s *SQLiteSink) InsertMessages(ctx context.Context, msgs []Message) int {
	if !s.Enabled() || len(msgs) == 0 {
		return 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("sqlite sink begin tx failed")
		return 0
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	inserted := 0
	for _, msg := range msgs {
		msg = normalizeMessage(msg, s.ttlDays)
		metadataJSON, err := json.Marshal(msg.Metadata)
		if err != nil {
			log.Error().Err(err).Str("session_id", msg.SessionID).Msg("sqlite sink marshal metadata failed")
			continue
		}
		vectorIDsJSON, err := json.Marshal(msg.VectorIDs)
		if err != nil {
			log.Error().Err(err).Str("session_id", msg.SessionID).Msg("sqlite sink marshal vector ids failed")
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO chat_messages(
				id, session_id, role, text, metadata_json, vector_ids_json, created_at_ms, expires_at_ms
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.SessionID, string(msg.Role), msg.Text,
			string(metadataJSON), string(vectorIDsJSON),
			msg.CreatedAt.UnixMilli(), msg.ExpiresAt.UnixMilli()); err != nil {
			log.Error().Err(err).Str("session_id", msg.SessionID).Msg("sqlite sink insert failed")
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Int("batch_size", len(msgs)).Msg("sqlite sink commit failed")
		return 0
	}
	committed = true
	return inserted
}

func (s *SQLiteSink) InsertMessage(ctx context.Context, msg Message) bool {
	return s.InsertMessages(ctx, []Message{msg}) == 1
}

func (s *SQLiteSink) FetchRecent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, text, metadata_json, vector_ids_json, created_at_ms, expires_at_ms
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at_ms DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite sink: query")
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			msg           Message
			role          string
			metadataJSON  string
			vectorIDsJSON string
			createdAtMs   int64
			expiresAtMs   int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Text,
			&metadataJSON, &vectorIDsJSON, &createdAtMs, &expiresAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite sink: scan")
		}
		msg.Role = Role(role)
		if err := json.Unmarshal([]byte(metadataJSON), &msg.Metadata); err != nil {
			return nil, errors.Wrap(err, "sqlite sink: decode metadata")
		}
		if err := json.Unmarshal([]byte(vectorIDsJSON), &msg.VectorIDs); err != nil {
			return nil, errors.Wrap(err, "sqlite sink: decode vector ids")
		}
		msg.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		if expiresAtMs > 0 {
			msg.ExpiresAt = time.UnixMilli(expiresAtMs).UTC()
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite sink: iterate")
	}

	reverseMessages(msgs)
	return msgs, nil
}

func (s *SQLiteSink) Health(ctx context.Context) HealthStatus {
	if !s.Enabled() {
		return HealthStatus{Status: HealthDisabled}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return HealthStatus{Status: HealthError, Error: err.Error()}
	}
	return HealthStatus{Status: HealthOK}
}

func (s *SQLiteSink) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}
