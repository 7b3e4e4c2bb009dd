package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/dump-bot/internal/errors"
	"github.com/xaenox/dump-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStorage runs every statement through q, which is the pool or, for a
// store handed out by WithTx, the open transaction.
type PostgresStorage struct {
	db     *sql.DB
	tx     *sql.Tx
	q      querier
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	return OpenPostgres(config.DSN(), logger)
}

// OpenPostgres connects with a raw DSN or URL and applies the schema.
func OpenPostgres(dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, q: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) CreateEntry(ctx context.Context, entry *models.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Type == "" {
		entry.Type = models.NoteEntry
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO dumps (id, session_id, author_id, content, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.SessionID, entry.AuthorID, entry.Content, entry.Type, entry.CreatedAt,
	)
	if err != nil {
		return errors.NewStorage("create dump", err)
	}
	return nil
}

func (s *PostgresStorage) GetEntry(ctx context.Context, entryID string) (*models.Entry, error) {
	entry := &models.Entry{}
	err := s.q.QueryRowContext(ctx, `
		SELECT id, session_id, author_id, content, type, created_at
		FROM dumps
		WHERE id = $1`, entryID,
	).Scan(&entry.ID, &entry.SessionID, &entry.AuthorID, &entry.Content, &entry.Type, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("dump", entryID)
	}
	if err != nil {
		return nil, errors.NewStorage("get dump", err)
	}
	return entry, nil
}

func (s *PostgresStorage) ListEntries(ctx context.Context, sessionID string) ([]*models.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, session_id, author_id, content, type, created_at
		FROM dumps
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, errors.NewStorage("list dumps", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		entry := &models.Entry{}
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.AuthorID, &entry.Content, &entry.Type, &entry.CreatedAt); err != nil {
			return nil, errors.NewStorage("scan dump", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list dumps", err)
	}
	return entries, nil
}

func (s *PostgresStorage) UpdateEntryType(ctx context.Context, entryID string, t models.EntryType) error {
	result, err := s.q.ExecContext(ctx, `UPDATE dumps SET type = $1 WHERE id = $2`, t, entryID)
	if err != nil {
		return errors.NewStorage("update dump type", err)
	}
	return requireRow(result, "dump", entryID)
}

func (s *PostgresStorage) ListThemes(ctx context.Context, sessionID string) ([]*models.Theme, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.session_id, t.title, t.tags, t.confidence, t.created_at,
		       COALESCE(array_agg(dt.dump_id ORDER BY dt.linked_at, dt.dump_id)
		                FILTER (WHERE dt.dump_id IS NOT NULL), '{}')
		FROM themes t
		LEFT JOIN dump_themes dt ON dt.theme_id = t.id
		WHERE t.session_id = $1
		GROUP BY t.id
		ORDER BY t.created_at ASC, t.id ASC`, sessionID)
	if err != nil {
		return nil, errors.NewStorage("list themes", err)
	}
	defer rows.Close()

	var themes []*models.Theme
	for rows.Next() {
		theme := &models.Theme{}
		var tags, linked pq.StringArray
		if err := rows.Scan(&theme.ID, &theme.SessionID, &theme.Title, &tags, &theme.Confidence, &theme.CreatedAt, &linked); err != nil {
			return nil, errors.NewStorage("scan theme", err)
		}
		theme.Tags = append([]string{}, tags...)
		theme.LinkedEntryIDs = append([]string{}, linked...)
		themes = append(themes, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list themes", err)
	}
	return themes, nil
}

func (s *PostgresStorage) InsertTheme(ctx context.Context, theme *models.Theme) (string, error) {
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

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO themes (id, session_id, title, tags, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, theme.SessionID, theme.Title, pq.Array(tags), theme.Confidence, createdAt,
	)
	if err != nil {
		return "", errors.NewStorage("insert theme", err)
	}
	return id, nil
}

func (s *PostgresStorage) LinkEntryToTheme(ctx context.Context, entryID, themeID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO dump_themes (dump_id, theme_id)
		VALUES ($1, $2)
		ON CONFLICT (dump_id, theme_id) DO NOTHING`, entryID, themeID)
	if err != nil {
		return errors.NewStorage("link dump to theme", err)
	}
	return nil
}

func (s *PostgresStorage) RaiseThemeConfidence(ctx context.Context, themeID string, confidence int) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE themes SET confidence = GREATEST(confidence, $1)
		WHERE id = $2`, confidence, themeID)
	if err != nil {
		return errors.NewStorage("raise theme confidence", err)
	}
	return requireRow(result, "theme", themeID)
}

func (s *PostgresStorage) AddThemeTags(ctx context.Context, themeID string, tags []string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE themes
		SET tags = tags || ARRAY(SELECT DISTINCT x FROM unnest($1::text[]) AS x WHERE x <> ALL(tags))
		WHERE id = $2`, pq.Array(tags), themeID)
	if err != nil {
		return errors.NewStorage("add theme tags", err)
	}
	return requireRow(result, "theme", themeID)
}

func (s *PostgresStorage) InsertActions(ctx context.Context, actions []*models.ActionItem) error {
	if len(actions) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert actions", func(tx *sql.Tx) error {
		for _, a := range actions {
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO actions (id, session_id, text, owner, priority, done, source_dump_ids, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				a.ID, a.SessionID, a.Text, a.Owner, a.Priority, a.Done, pq.Array(a.SourceEntryIDs), a.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStorage) ListActions(ctx context.Context, sessionID string) ([]*models.ActionItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, session_id, text, owner, priority, done, source_dump_ids, created_at
		FROM actions
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, errors.NewStorage("list actions", err)
	}
	defer rows.Close()

	var actions []*models.ActionItem
	for rows.Next() {
		a := &models.ActionItem{}
		var sources pq.StringArray
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Text, &a.Owner, &a.Priority, &a.Done, &sources, &a.CreatedAt); err != nil {
			return nil, errors.NewStorage("scan action", err)
		}
		a.SourceEntryIDs = append([]string{}, sources...)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list actions", err)
	}
	return actions, nil
}

func (s *PostgresStorage) InsertQuestions(ctx context.Context, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert questions", func(tx *sql.Tx) error {
		for _, q := range questions {
			if q.ID == "" {
				q.ID = uuid.New().String()
			}
			if q.CreatedAt.IsZero() {
				q.CreatedAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO questions (id, session_id, text, votes, answered, source_dump_ids, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				q.ID, q.SessionID, q.Text, q.Votes, q.Answered, pq.Array(q.SourceEntryIDs), q.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStorage) ListQuestions(ctx context.Context, sessionID string) ([]*models.Question, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, session_id, text, votes, answered, source_dump_ids, created_at
		FROM questions
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, errors.NewStorage("list questions", err)
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{}
		var sources pq.StringArray
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Text, &q.Votes, &q.Answered, &sources, &q.CreatedAt); err != nil {
			return nil, errors.NewStorage("scan question", err)
		}
		q.SourceEntryIDs = append([]string{}, sources...)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list questions", err)
	}
	return questions, nil
}

func (s *PostgresStorage) IncrementVotes(ctx context.Context, questionID string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE questions SET votes = votes + 1 WHERE id = $1`, questionID)
	if err != nil {
		return errors.NewStorage("increment votes", err)
	}
	return requireRow(result, "question", questionID)
}

func (s *PostgresStorage) ToggleDone(ctx context.Context, actionID string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE actions SET done = NOT done WHERE id = $1`, actionID)
	if err != nil {
		return errors.NewStorage("toggle action", err)
	}
	return requireRow(result, "action", actionID)
}

// Close releases the pool. On a transaction-bound store it is a no-op.
func (s *PostgresStorage) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStorage) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	return runTx(ctx, s.db, s.tx, s.logger, "transaction", func(tx *sql.Tx) error {
		return fn(&PostgresStorage{db: s.db, tx: tx, q: tx, logger: s.logger})
	})
}

func (s *PostgresStorage) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return runTx(ctx, s.db, s.tx, s.logger, op, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return errors.NewStorage(op, err)
		}
		return nil
	})
}

func requireRow(result sql.Result, what, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorage("rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(what, id)
	}
	return nil
}
