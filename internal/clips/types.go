package clips

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrNotFound = errors.New("clip not found")

// Clip is one exported utterance: the WAV rendering plus its transcript.
type Clip struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Transcript  string    `json:"transcript,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	SampleRate  int       `json:"sample_rate"`
	Samples     int       `json:"samples"`
	WAV         []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Duration is the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples) * time.Second / time.Duration(c.SampleRate)
}

// Store persists exported clips. List returns metadata only, newest first.
type Store interface {
	Save(ctx context.Context, clip Clip) (Clip, error)
	Get(ctx context.Context, id string) (Clip, error)
	List(ctx context.Context, sessionID string, limit int) ([]Clip, error)
	SetTranscript(ctx context.Context, id, transcript string, redacted bool) error
	Close() error
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
