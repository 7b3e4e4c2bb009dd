package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const SQLiteSchemaVersion = 1

// SQLiteStorage is a single-file store used by the CLI.
// Array columns are JSON text; timestamps are unix nanoseconds.
// Statements go through q: the database, or the open transaction for a store
// handed out by WithTx.
type SQLiteStorage struct {
	db     *sql.DB
	tx     *sql.Tx
	q      querier
	logger *zap.Logger
}

// NewSQLiteStorage opens (or creates) the database at path and runs migrations.
func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db, q: db, logger: logger}, nil
}

func migrateSQLite(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	// Migration 0 -> 1: initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS dumps (
		  id          TEXT PRIMARY KEY,
		  session_id  TEXT NOT NULL,
		  author_id   TEXT NOT NULL,
		  content     TEXT NOT NULL,
		  type        TEXT NOT NULL DEFAULT 'note',
		  created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dumps_session_created ON dumps(session_id, created_at);

		CREATE TABLE IF NOT EXISTS themes (
		  id          TEXT PRIMARY KEY,
		  session_id  TEXT NOT NULL,
		  title       TEXT NOT NULL,
		  tags_json   TEXT NOT NULL DEFAULT '[]',
		  confidence  INTEGER NOT NULL DEFAULT 50,
		  created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_themes_session ON themes(session_id, created_at);

		CREATE TABLE IF NOT EXISTS dump_themes (
		  dump_id    TEXT NOT NULL REFERENCES dumps(id),
		  theme_id   TEXT NOT NULL REFERENCES themes(id),
		  linked_at  INTEGER NOT NULL,
		  PRIMARY KEY (dump_id, theme_id)
		);

		CREATE TABLE IF NOT EXISTS actions (
		  id                    TEXT PRIMARY KEY,
		  session_id            TEXT NOT NULL,
		  text                  TEXT NOT NULL,
		  owner                 TEXT NOT NULL DEFAULT 'Unassigned',
		  priority              TEXT NOT NULL DEFAULT 'medium',
		  done                  INTEGER NOT NULL DEFAULT 0,
		  source_dump_ids_json  TEXT NOT NULL DEFAULT '[]',
		  created_at            INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, created_at);

		CREATE TABLE IF NOT EXISTS questions (
		  id                    TEXT PRIMARY KEY,
		  session_id            TEXT NOT NULL,
		  text                  TEXT NOT NULL,
		  votes                 INTEGER NOT NULL DEFAULT 0,
		  answered              INTEGER NOT NULL DEFAULT 0,
		  source_dump_ids_json  TEXT NOT NULL DEFAULT '[]',
		  created_at            INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_questions_session ON questions(session_id, created_at);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", 1)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStorage) CreateEntry(ctx context.Context, entry *models.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Type == "" {
		entry.Type = models.NoteEntry
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.q.ExecContext(ctx,
		"INSERT INTO dumps (id, session_id, author_id, content, type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ID, entry.SessionID, entry.AuthorID, entry.Content, string(entry.Type), entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return errors.NewStorage("create dump", err)
	}
	return nil
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, entryID string) (*models.Entry, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT id, session_id, author_id, content, type, created_at FROM dumps WHERE id = ?", entryID)
	entry, err := scanSQLiteEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("dump", entryID)
	}
	if err != nil {
		return nil, errors.NewStorage("get dump", err)
	}
	return entry, nil
}

func (s *SQLiteStorage) ListEntries(ctx context.Context, sessionID string) ([]*models.Entry, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, session_id, author_id, content, type, created_at FROM dumps WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		sessionID)
	if err != nil {
		return nil, errors.NewStorage("list dumps", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, errors.NewStorage("scan dump", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list dumps", err)
	}
	return entries, nil
}

func (s *SQLiteStorage) UpdateEntryType(ctx context.Context, entryID string, t models.EntryType) error {
	result, err := s.q.ExecContext(ctx, "UPDATE dumps SET type = ? WHERE id = ?", string(t), entryID)
	if err != nil {
		return errors.NewStorage("update dump type", err)
	}
	return requireRow(result, "dump", entryID)
}

func (s *SQLiteStorage) ListThemes(ctx context.Context, sessionID string) ([]*models.Theme, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, session_id, title, tags_json, confidence, created_at FROM themes WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		sessionID)
	if err != nil {
		return nil, errors.NewStorage("list themes", err)
	}

	var themes []*models.Theme
	byID := make(map[string]*models.Theme)
	for rows.Next() {
		theme := &models.Theme{LinkedEntryIDs: []string{}}
		var tagsJSON string
		var createdAt int64
		if err := rows.Scan(&theme.ID, &theme.SessionID, &theme.Title, &tagsJSON, &theme.Confidence, &createdAt); err != nil {
			rows.Close()
			return nil, errors.NewStorage("scan theme", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &theme.Tags); err != nil {
			rows.Close()
			return nil, errors.NewStorage("decode theme tags", err)
		}
		theme.CreatedAt = time.Unix(0, createdAt)
		themes = append(themes, theme)
		byID[theme.ID] = theme
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewStorage("list themes", err)
	}
	rows.Close()

	links, err := s.q.QueryContext(ctx, `
		SELECT dt.theme_id, dt.dump_id
		FROM dump_themes dt
		JOIN themes t ON t.id = dt.theme_id
		WHERE t.session_id = ?
		ORDER BY dt.linked_at ASC, dt.rowid ASC`, sessionID)
	if err != nil {
		return nil, errors.NewStorage("list theme links", err)
	}
	defer links.Close()

	for links.Next() {
		var themeID, dumpID string
		if err := links.Scan(&themeID, &dumpID); err != nil {
			return nil, errors.NewStorage("scan theme link", err)
		}
		if theme, ok := byID[themeID]; ok {
			theme.LinkedEntryIDs = append(theme.LinkedEntryIDs, dumpID)
		}
	}
	if err := links.Err(); err != nil {
		return nil, errors.NewStorage("list theme links", err)
	}
	return themes, nil
}

func (s *SQLiteStorage) InsertTheme(ctx context.Context, theme *models.Theme) (string, error) {
	id := theme.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := theme.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tags := theme.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", errors.NewStorage("encode theme tags", err)
	}

	_, err = s.q.ExecContext(ctx,
		"INSERT INTO themes (id, session_id, title, tags_json, confidence, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, theme.SessionID, theme.Title, string(tagsJSON), theme.Confidence, createdAt.UnixNano(),
	)
	if err != nil {
		return "", errors.NewStorage("insert theme", err)
	}
	return id, nil
}

func (s *SQLiteStorage) LinkEntryToTheme(ctx context.Context, entryID, themeID string) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO dump_themes (dump_id, theme_id, linked_at) VALUES (?, ?, ?)",
		entryID, themeID, time.Now().UnixNano())
	if err != nil {
		return errors.NewStorage("link dump to theme", err)
	}
	return nil
}

func (s *SQLiteStorage) RaiseThemeConfidence(ctx context.Context, themeID string, confidence int) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE themes SET confidence = MAX(confidence, ?) WHERE id = ?", confidence, themeID)
	if err != nil {
		return errors.NewStorage("raise theme confidence", err)
	}
	return requireRow(result, "theme", themeID)
}

func (s *SQLiteStorage) AddThemeTags(ctx context.Context, themeID string, tags []string) error {
	return runTx(ctx, s.db, s.tx, s.logger, "add theme tags", func(tx *sql.Tx) error {
		var tagsJSON string
		err := tx.QueryRowContext(ctx, "SELECT tags_json FROM themes WHERE id = ?", themeID).Scan(&tagsJSON)
		if err == sql.ErrNoRows {
			return errors.NewNotFound("theme", themeID)
		}
		if err != nil {
			return errors.NewStorage("add theme tags", err)
		}

		var existing []string
		if err := json.Unmarshal([]byte(tagsJSON), &existing); err != nil {
			return errors.NewStorage("decode theme tags", err)
		}
		merged, err := json.Marshal(unionTags(existing, tags))
		if err != nil {
			return errors.NewStorage("encode theme tags", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE themes SET tags_json = ? WHERE id = ?", string(merged), themeID); err != nil {
			return errors.NewStorage("add theme tags", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) InsertActions(ctx context.Context, actions []*models.ActionItem) error {
	if len(actions) == 0 {
		return nil
	}
	return runTx(ctx, s.db, s.tx, s.logger, "insert actions", func(tx *sql.Tx) error {
		for _, a := range actions {
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = time.Now()
			}
			sources, err := json.Marshal(nonNil(a.SourceEntryIDs))
			if err != nil {
				return errors.NewStorage("encode action sources", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO actions (id, session_id, text, owner, priority, done, source_dump_ids_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
				a.ID, a.SessionID, a.Text, a.Owner, string(a.Priority), boolToInt(a.Done), string(sources), a.CreatedAt.UnixNano(),
			); err != nil {
				return errors.NewStorage("insert actions", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) ListActions(ctx context.Context, sessionID string) ([]*models.ActionItem, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, session_id, text, owner, priority, done, source_dump_ids_json, created_at FROM actions WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		sessionID)
	if err != nil {
		return nil, errors.NewStorage("list actions", err)
	}
	defer rows.Close()

	var actions []*models.ActionItem
	for rows.Next() {
		a := &models.ActionItem{}
		var priority, sources string
		var done int
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Text, &a.Owner, &priority, &done, &sources, &createdAt); err != nil {
			return nil, errors.NewStorage("scan action", err)
		}
		if err := json.Unmarshal([]byte(sources), &a.SourceEntryIDs); err != nil {
			return nil, errors.NewStorage("decode action sources", err)
		}
		a.Priority = models.Priority(priority)
		a.Done = done != 0
		a.CreatedAt = time.Unix(0, createdAt)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list actions", err)
	}
	return actions, nil
}

func (s *SQLiteStorage) InsertQuestions(ctx context.Context, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return runTx(ctx, s.db, s.tx, s.logger, "insert questions", func(tx *sql.Tx) error {
		for _, q := range questions {
			if q.ID == "" {
				q.ID = uuid.New().String()
			}
			if q.CreatedAt.IsZero() {
				q.CreatedAt = time.Now()
			}
			sources, err := json.Marshal(nonNil(q.SourceEntryIDs))
			if err != nil {
				return errors.NewStorage("encode question sources", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO questions (id, session_id, text, votes, answered, source_dump_ids_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
				q.ID, q.SessionID, q.Text, q.Votes, boolToInt(q.Answered), string(sources), q.CreatedAt.UnixNano(),
			); err != nil {
				return errors.NewStorage("insert questions", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) ListQuestions(ctx context.Context, sessionID string) ([]*models.Question, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, session_id, text, votes, answered, source_dump_ids_json, created_at FROM questions WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		sessionID)
	if err != nil {
		return nil, errors.NewStorage("list questions", err)
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{}
		var sources string
		var answered int
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Text, &q.Votes, &answered, &sources, &createdAt); err != nil {
			return nil, errors.NewStorage("scan question", err)
		}
		if err := json.Unmarshal([]byte(sources), &q.SourceEntryIDs); err != nil {
			return nil, errors.NewStorage("decode question sources", err)
		}
		q.Answered = answered != 0
		q.CreatedAt = time.Unix(0, createdAt)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list questions", err)
	}
	return questions, nil
}

func (s *SQLiteStorage) IncrementVotes(ctx context.Context, questionID string) error {
	result, err := s.q.ExecContext(ctx, "UPDATE questions SET votes = votes + 1 WHERE id = ?", questionID)
	if err != nil {
		return errors.NewStorage("increment votes", err)
	}
	return requireRow(result, "question", questionID)
}

func (s *SQLiteStorage) ToggleDone(ctx context.Context, actionID string) error {
	result, err := s.q.ExecContext(ctx, "UPDATE actions SET done = 1 - done WHERE id = ?", actionID)
	if err != nil {
		return errors.NewStorage("toggle action", err)
	}
	return requireRow(result, "action", actionID)
}

// Close closes the database. On a transaction-bound store it is a no-op.
func (s *SQLiteStorage) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	return runTx(ctx, s.db, s.tx, s.logger, "transaction", func(tx *sql.Tx) error {
		return fn(&SQLiteStorage{db: s.db, tx: tx, q: tx, logger: s.logger})
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*models.Entry, error) {
	entry := &models.Entry{}
	var typ string
	var createdAt int64
	if err := row.Scan(&entry.ID, &entry.SessionID, &entry.AuthorID, &entry.Content, &typ, &createdAt); err != nil {
		return nil, err
	}
	entry.Type = models.EntryType(typ)
	entry.CreatedAt = time.Unix(0, createdAt)
	return entry, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
