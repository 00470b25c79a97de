package clips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists clips in PostgreSQL with the audio as bytea.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audio_clips (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			sample_rate INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			wav BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audio_clips_session_created ON audio_clips (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, clip Clip) (Clip, error) {
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	if clip.WAV == nil {
		clip.WAV = []byte{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audio_clips (id, session_id, role, transcript, pii_redacted, sample_rate, samples, wav, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		clip.ID,
		clip.SessionID,
		string(clip.Role),
		clip.Transcript,
		clip.PIIRedacted,
		clip.SampleRate,
		clip.Samples,
		clip.WAV,
		clip.CreatedAt,
	)
	if err != nil {
		return Clip{}, fmt.Errorf("save clip: %w", err)
	}
	return clip, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Clip, error) {
	var c Clip
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, role, transcript, pii_redacted, sample_rate, samples, wav, created_at
		 FROM audio_clips WHERE id=$1`,
		id,
	).Scan(&c.ID, &c.SessionID, &role, &c.Transcript, &c.PIIRedacted, &c.SampleRate, &c.Samples, &c.WAV, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Clip{}, ErrNotFound
	}
	if err != nil {
		return Clip{}, fmt.Errorf("get clip: %w", err)
	}
	c.Role = Role(role)
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, sessionID string, limit int) ([]Clip, error) {
	limit = normalizeLimit(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, transcript, pii_redacted, sample_rate, samples, created_at
		 FROM audio_clips WHERE ($1::text = '' OR session_id = $1) ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	items := make([]Clip, 0, limit)
	for rows.Next() {
		var c Clip
		var role string
		if err := rows.Scan(&c.ID, &c.SessionID, &role, &c.Transcript, &c.PIIRedacted, &c.SampleRate, &c.Samples, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clip row: %w", err)
		}
		c.Role = Role(role)
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clip rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetTranscript(ctx context.Context, id, transcript string, redacted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audio_clips SET transcript=$2, pii_redacted=$3 WHERE id=$1`,
		id, transcript, redacted,
	)
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
