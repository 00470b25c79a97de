// Package mock provides scriptable devices for tests.
package mock

import (
	"errors"
	"io"
	"sync"

	"github.com/ent0n29/rtvoice/internal/device"
)

var ErrPermissionDenied = errors.New("permission denied")

// Capture records lifecycle calls and lets tests push buffers through Feed.
type Capture struct {
	mu       sync.Mutex
	onData   device.CaptureFunc
	started  bool
	stopped  bool
	Stream   io.Reader
	StartErr error
}

func (c *Capture) Start(stream io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return c.StartErr
	}
	c.started = true
	c.Stream = stream
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

// Feed delivers buf to the registered callback, as a real device would.
func (c *Capture) Feed(buf []byte) {
	c.mu.Lock()
	fn := c.onData
	c.mu.Unlock()
	if fn != nil {
		fn(buf)
	}
}

func (c *Capture) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Capture) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Playback records played chunks and clear/close calls.
type Playback struct {
	mu         sync.Mutex
	SampleRate int
	played     [][]int16
	clears     int
	closed     bool
}

func (p *Playback) Play(samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, samples)
}

func (p *Playback) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	p.played = nil
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Playback) Played() [][]int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]int16, len(p.played))
	copy(out, p.played)
	return out
}

func (p *Playback) Clears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears
}

func (p *Playback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory hands out mock devices and remembers every one it created.
type Factory struct {
	mu          sync.Mutex
	Captures    []*Capture
	Playbacks   []*Playback
	CaptureErr  error
	PlaybackErr error
	StartErr    error
}

func (f *Factory) NewCapture(onData device.CaptureFunc) (device.CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	c := &Capture{onData: onData, StartErr: f.StartErr}
	f.Captures = append(f.Captures, c)
	return c, nil
}

func (f *Factory) NewPlayback(sampleRate int) (device.PlaybackDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &Playback{SampleRate: sampleRate}
	f.Playbacks = append(f.Playbacks, p)
	return p, nil
}

// LastCapture returns the most recently created capture device.
func (f *Factory) LastCapture() *Capture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Captures) == 0 {
		return nil
	}
	return f.Captures[len(f.Captures)-1]
}

// LastPlayback returns the most recently created playback device.
func (f *Factory) LastPlayback() *Playback {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Playbacks) == 0 {
		return nil
	}
	return f.Playbacks[len(f.Playbacks)-1]
}
