package device

import (
	"errors"
	"io"
	"log"
	"sync"
)

// DefaultReadSize is the capture quantum. It is unrelated to the wire frame
// size; the chunker regroups whatever arrives.
const DefaultReadSize = 2048

// ReaderCapture reads raw PCM16LE bytes from a stream on one goroutine.
type ReaderCapture struct {
	onData   CaptureFunc
	readSize int
	logger   *log.Logger

	mu      sync.Mutex
	stream  io.Reader
	stopped chan struct{}
	done    chan struct{}
}

func NewReaderCapture(onData CaptureFunc, readSize int, logger *log.Logger) *ReaderCapture {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReaderCapture{onData: onData, readSize: readSize, logger: logger}
}

func (c *ReaderCapture) Start(stream io.Reader) error {
	if stream == nil {
		return errors.New("capture stream is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrAlreadyStarted
	}
	c.stream = stream
	c.stopped = make(chan struct{})
	c.done = make(chan struct{})
	go c.readLoop(stream, c.stopped, c.done)
	return nil
}

// Stop detaches the callback and closes the stream when it is closable. It
// does not wait for a blocked read to return.
func (c *ReaderCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped == nil {
		return nil
	}
	select {
	case <-c.stopped:
		return nil
	default:
	}
	close(c.stopped)
	if closer, ok := c.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Done is closed once the read loop exits.
func (c *ReaderCapture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *ReaderCapture) readLoop(stream io.Reader, stopped <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, c.readSize)
	for {
		n, err := stream.Read(buf)
		select {
		case <-stopped:
			return
		default:
		}
		if n > 0 && c.onData != nil {
			out := make([]byte, n)
			copy(out, buf[:n])
			c.onData(out)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Printf("capture: read failed: %v", err)
			}
			return
		}
	}
}
