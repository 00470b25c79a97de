package device

import (
	"io"
	"log"
)

// StreamConfig configures the stream-backed device factory.
type StreamConfig struct {
	ReadSize  int
	QueueSize int
	// Output receives played PCM16LE. nil discards playback.
	Output io.Writer
	Logger *log.Logger
	OnDrop func()
}

// StreamFactory builds ReaderCapture and WriterPlayback devices.
type StreamFactory struct {
	cfg StreamConfig
}

func NewStreamFactory(cfg StreamConfig) *StreamFactory {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &StreamFactory{cfg: cfg}
}

func (f *StreamFactory) NewCapture(onData CaptureFunc) (CaptureDevice, error) {
	return NewReaderCapture(onData, f.cfg.ReadSize, f.cfg.Logger), nil
}

func (f *StreamFactory) NewPlayback(sampleRate int) (PlaybackDevice, error) {
	p := NewWriterPlayback(f.cfg.Output, sampleRate, f.cfg.QueueSize, f.cfg.Logger)
	p.OnDrop = f.cfg.OnDrop
	return p, nil
}
