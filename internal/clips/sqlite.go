package clips

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists clips in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. A path that is
// already a "file:" DSN is used as is.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audio_clips (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '',
			pii_redacted INTEGER NOT NULL DEFAULT 0,
			sample_rate INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			wav BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audio_clips_session_created ON audio_clips (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, clip Clip) (Clip, error) {
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	if clip.WAV == nil {
		clip.WAV = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_clips (id, session_id, role, transcript, pii_redacted, sample_rate, samples, wav, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, clip.ID, clip.SessionID, string(clip.Role), clip.Transcript, clip.PIIRedacted,
		clip.SampleRate, clip.Samples, clip.WAV, clip.CreatedAt.UnixNano())
	if err != nil {
		return Clip{}, fmt.Errorf("save clip: %w", err)
	}
	return clip, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Clip, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, transcript, pii_redacted, sample_rate, samples, wav, created_at
		FROM audio_clips WHERE id = ?
	`, id)

	var c Clip
	var role string
	var createdAt int64
	err := row.Scan(&c.ID, &c.SessionID, &role, &c.Transcript, &c.PIIRedacted,
		&c.SampleRate, &c.Samples, &c.WAV, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Clip{}, ErrNotFound
	}
	if err != nil {
		return Clip{}, fmt.Errorf("scan clip: %w", err)
	}
	c.Role = Role(role)
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]Clip, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, transcript, pii_redacted, sample_rate, samples, created_at
		FROM audio_clips
		WHERE (? = '' OR session_id = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	items := make([]Clip, 0, limit)
	for rows.Next() {
		var c Clip
		var role string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.SessionID, &role, &c.Transcript, &c.PIIRedacted,
			&c.SampleRate, &c.Samples, &createdAt); err != nil {
			return nil, fmt.Errorf("scan clip row: %w", err)
		}
		c.Role = Role(role)
		c.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) SetTranscript(ctx context.Context, id, transcript string, redacted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audio_clips SET transcript = ?, pii_redacted = ? WHERE id = ?`,
		transcript, redacted, id)
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
