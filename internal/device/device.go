// Package device provides the capture and playback endpoints of the audio
// pipeline. Capture devices push raw PCM16LE buffers to a callback; playback
// devices accept decoded samples and queue them internally.
package device

import (
	"errors"
	"io"
)

var ErrAlreadyStarted = errors.New("capture already started")

// CaptureFunc receives captured bytes. Calls are serialized and in order.
type CaptureFunc func(buf []byte)

// CaptureDevice wraps a capture stream.
type CaptureDevice interface {
	Start(stream io.Reader) error
	Stop() error
}

// PlaybackDevice is an audio output sink with its own queuing.
type PlaybackDevice interface {
	Play(samples []int16)
	Clear()
	Close() error
}

// Factory creates fresh devices for each recording session.
type Factory interface {
	NewCapture(onData CaptureFunc) (CaptureDevice, error)
	NewPlayback(sampleRate int) (PlaybackDevice, error)
}
