package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/rtvoice/internal/audio"
	"github.com/ent0n29/rtvoice/internal/device"
	"github.com/ent0n29/rtvoice/internal/observability"
)

var (
	ErrDeviceAcquisition    = errors.New("device acquisition failed")
	ErrTransportSend        = errors.New("transport send failed")
	ErrTransitionInProgress = errors.New("session transition in progress")
)

type Option func(*Controller)

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithErrorHandler receives send failures raised on the capture path. It is
// called without the controller lock held, so it may call Stop.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithSampleRate(rate int) Option {
	return func(c *Controller) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// Controller owns the recording session: the chunker, the recorded chunk log
// and the current capture and playback devices.
type Controller struct {
	devices    device.Factory
	sampleRate int
	logger     *log.Logger
	onError    func(error)
	metrics    *observability.Metrics

	mu        sync.Mutex
	state     State
	gen       uint64
	id        string
	startedAt time.Time
	chunker   *audio.Chunker
	recorded  *audio.ChunkLog
	capture   device.CaptureDevice
	playback  device.PlaybackDevice
}

func NewController(devices device.Factory, sink audio.FrameSink, opts ...Option) *Controller {
	c := &Controller{
		devices:    devices,
		sampleRate: audio.SampleRate,
		logger:     log.Default(),
		state:      StateIdle,
		recorded:   audio.NewChunkLog(),
	}
	for _, o := range opts {
		o(c)
	}
	c.chunker = audio.NewChunker(c.wrapSink(sink), c.recorded)
	c.chunker.OnDiscard = func() {
		if c.metrics != nil {
			c.metrics.FramesDiscarded.Inc()
		}
	}
	return c
}

func (c *Controller) wrapSink(sink audio.FrameSink) audio.FrameSink {
	return func(encoded string) error {
		if sink == nil {
			return nil
		}
		if err := sink(encoded); err != nil {
			if c.metrics != nil {
				c.metrics.TransportErrors.WithLabelValues("append").Inc()
			}
			return fmt.Errorf("%w: %w", ErrTransportSend, err)
		}
		if c.metrics != nil {
			c.metrics.FramesSent.Inc()
		}
		return nil
	}
}

// Start replaces any existing devices with fresh ones and begins recording
// from stream.
func (c *Controller) Start(ctx context.Context, stream io.Reader) error {
	return c.Reset(ctx, true, stream)
}

// Stop stops capture, clears playback and returns to idle. Pending bytes are
// discarded; the recorded chunk log is kept.
func (c *Controller) Stop() error {
	return c.Reset(context.Background(), false, nil)
}

// Reset stops the session and, when start is set, starts it again on stream.
// A failed start leaves the controller idle with no devices attached.
func (c *Controller) Reset(ctx context.Context, start bool, stream io.Reader) error {
	c.mu.Lock()
	if c.state == StateStopping {
		c.mu.Unlock()
		return ErrTransitionInProgress
	}
	wasRecording := c.state == StateRecording
	c.state = StateStopping
	c.gen++
	gen := c.gen
	c.chunker.SetActive(false)
	c.chunker.Reset()
	oldCapture, oldPlayback := c.capture, c.playback
	c.capture, c.playback = nil, nil
	c.mu.Unlock()

	c.teardown(oldCapture, oldPlayback)
	if wasRecording {
		c.event("stopped")
	}

	if !start {
		c.settle(StateIdle)
		return nil
	}
	if err := ctx.Err(); err != nil {
		c.settle(StateIdle)
		return err
	}

	capture, playback, err := c.acquire(gen, stream)
	if err != nil {
		c.settle(StateIdle)
		c.event("start_failed")
		return err
	}

	c.mu.Lock()
	c.capture, c.playback = capture, playback
	c.id = uuid.NewString()
	c.startedAt = time.Now().UTC()
	c.state = StateRecording
	c.chunker.SetActive(true)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetRecording(true)
	}
	c.event("started")
	return nil
}

func (c *Controller) acquire(gen uint64, stream io.Reader) (device.CaptureDevice, device.PlaybackDevice, error) {
	playback, err := c.devices.NewPlayback(c.sampleRate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: playback: %w", ErrDeviceAcquisition, err)
	}
	capture, err := c.devices.NewCapture(func(buf []byte) { c.ingest(gen, buf) })
	if err != nil {
		_ = playback.Close()
		return nil, nil, fmt.Errorf("%w: capture: %w", ErrDeviceAcquisition, err)
	}
	if err := capture.Start(stream); err != nil {
		_ = capture.Stop()
		_ = playback.Close()
		return nil, nil, fmt.Errorf("%w: capture start: %w", ErrDeviceAcquisition, err)
	}
	return capture, playback, nil
}

func (c *Controller) teardown(capture device.CaptureDevice, playback device.PlaybackDevice) {
	if capture != nil {
		if err := capture.Stop(); err != nil {
			c.logger.Printf("session: capture stop failed: %v", err)
		}
	}
	if playback != nil {
		playback.Clear()
		if err := playback.Close(); err != nil {
			c.logger.Printf("session: playback close failed: %v", err)
		}
	}
}

func (c *Controller) settle(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetRecording(state == StateRecording)
	}
}

// ingest is the capture callback. Buffers from a device of an earlier
// generation are ignored.
func (c *Controller) ingest(gen uint64, buf []byte) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	_, err := c.chunker.Ingest(buf)
	c.mu.Unlock()

	if err != nil {
		c.logger.Printf("session: %v", err)
		if c.onError != nil {
			c.onError(err)
		}
	}
}

// Commit force-sends the pending remainder as a short final frame. The caller
// follows up with the protocol-level commit.
func (c *Controller) Commit() (int, error) {
	c.mu.Lock()
	n, err := c.chunker.Drain()
	c.mu.Unlock()
	return n, err
}

// Play forwards samples to the current playback device, if any.
func (c *Controller) Play(samples []int16) {
	c.mu.Lock()
	p := c.playback
	c.mu.Unlock()
	if p != nil {
		p.Play(samples)
	}
}

// ClearPlayback drops queued playback audio.
func (c *Controller) ClearPlayback() {
	c.mu.Lock()
	p := c.playback
	c.mu.Unlock()
	if p != nil {
		p.Clear()
	}
}

// RecordedClip renders everything recorded since the last clear.
func (c *Controller) RecordedClip() (audio.Clip, bool) {
	return audio.NewClip(c.recorded.Snapshot(), c.sampleRate)
}

// TakeRecordedClip renders and clears the recorded log in one step.
func (c *Controller) TakeRecordedClip() (audio.Clip, bool) {
	return audio.NewClip(c.recorded.Take(), c.sampleRate)
}

func (c *Controller) ClearRecorded() {
	c.recorded.Clear()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of bytes waiting for the next outbound frame.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunker.Pending()
}

// ID identifies the current (or last) recording session.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:      c.id,
		State:          c.state,
		PendingBytes:   c.chunker.Pending(),
		RecordedChunks: c.recorded.Len(),
		StartedAt:      c.startedAt,
	}
}

func (c *Controller) event(name string) {
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(name).Inc()
	}
}
