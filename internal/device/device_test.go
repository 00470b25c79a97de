package device

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestReaderCaptureDeliversInOrder(t *testing.T) {
	src := make([]byte, 10000)
	for i := range src {
		src[i] = byte(i)
	}

	var got []byte
	c := NewReaderCapture(func(buf []byte) { got = append(got, buf...) }, 777, nil)
	if err := c.Start(bytes.NewReader(src)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("capture did not finish")
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("captured %d bytes, mismatch with source", len(got))
	}
	if err := c.Start(bytes.NewReader(src)); err != ErrAlreadyStarted {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestReaderCaptureStopClosesStream(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	calls := 0
	c := NewReaderCapture(func([]byte) { calls++ }, 0, nil)
	if err := c.Start(pr); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop still running after Stop")
	}
	if calls != 0 {
		t.Fatalf("callback calls = %d, want 0", calls)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestWriterPlaybackWritesPCM(t *testing.T) {
	out := &lockedBuffer{}
	p := NewWriterPlayback(out, 0, 4, nil)
	p.Play([]int16{1, 2, 3})
	p.Play([]int16{4})

	deadline := time.Now().Add(2 * time.Second)
	for out.Len() < 8 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if out.Len() != 8 {
		t.Fatalf("written = %d bytes, want 8", out.Len())
	}
	// Play after Close is a no-op.
	p.Play([]int16{5})
}

type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func TestWriterPlaybackDropsOnFullQueueAndClears(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	p := NewWriterPlayback(w, 0, 2, nil)
	dropped := 0
	p.OnDrop = func() { dropped++ }

	// First chunk is picked up by the writer and blocks there.
	p.Play([]int16{1})
	deadline := time.Now().Add(2 * time.Second)
	for p.Queued() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Play([]int16{2})
	p.Play([]int16{3})
	p.Play([]int16{4})
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	p.Clear()
	if p.Queued() != 0 {
		t.Fatalf("Queued() = %d after Clear, want 0", p.Queued())
	}
	close(w.release)
	_ = p.Close()
}

func TestStreamFactory(t *testing.T) {
	f := NewStreamFactory(StreamConfig{QueueSize: 8})
	c, err := f.NewCapture(nil)
	if err != nil || c == nil {
		t.Fatalf("NewCapture() = %v, %v", c, err)
	}
	p, err := f.NewPlayback(16000)
	if err != nil {
		t.Fatalf("NewPlayback() error = %v", err)
	}
	defer p.Close()
	if wp, ok := p.(*WriterPlayback); !ok || wp.SampleRate() != 16000 {
		t.Fatalf("unexpected playback %T", p)
	}
}
