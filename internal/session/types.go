package session

import "time"

// State is the recording lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	// StateStopping is held while devices are torn down or acquired.
	StateStopping State = "stopping"
)

// Snapshot describes the controller for status endpoints.
type Snapshot struct {
	SessionID      string    `json:"session_id,omitempty"`
	State          State     `json:"state"`
	PendingBytes   int       `json:"pending_bytes"`
	RecordedChunks int       `json:"recorded_chunks"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}
