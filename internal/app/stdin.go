package app

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/ent0n29/rtvoice/internal/device"
)

var processStdin = newSharedReader(os.Stdin, device.DefaultReadSize)

// sharedReader reads one stream on a single goroutine and routes every chunk
// to the subscriber attached at the time the read returns. Chunks read while
// nobody is attached are dropped. The underlying stream is never closed.
type sharedReader struct {
	src      io.Reader
	readSize int
	start    sync.Once

	mu      sync.Mutex
	cond    *sync.Cond
	current *subscription
	err     error
}

func newSharedReader(src io.Reader, readSize int) *sharedReader {
	if readSize <= 0 {
		readSize = device.DefaultReadSize
	}
	r := &sharedReader{src: src, readSize: readSize}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Subscribe attaches a new reader and detaches the previous one.
func (r *sharedReader) Subscribe() io.ReadCloser {
	r.start.Do(func() { go r.pump() })

	s := &subscription{parent: r}
	r.mu.Lock()
	if r.current != nil {
		r.current.closed = true
	}
	r.current = s
	r.cond.Broadcast()
	r.mu.Unlock()
	return s
}

func (r *sharedReader) pump() {
	buf := make([]byte, r.readSize)
	for {
		n, err := r.src.Read(buf)
		r.mu.Lock()
		if n > 0 && r.current != nil {
			r.current.buf.Write(buf[:n])
		}
		if err != nil {
			r.err = err
		}
		r.cond.Broadcast()
		r.mu.Unlock()
		if err != nil {
			return
		}
	}
}

type subscription struct {
	parent *sharedReader
	buf    bytes.Buffer
	closed bool
}

func (s *subscription) Read(p []byte) (int, error) {
	r := s.parent
	r.mu.Lock()
	defer r.mu.Unlock()
	for s.buf.Len() == 0 {
		if s.closed {
			return 0, io.EOF
		}
		if r.err != nil {
			return 0, r.err
		}
		r.cond.Wait()
	}
	return s.buf.Read(p)
}

// Close detaches the subscription. Bytes read afterwards go to the next
// subscriber.
func (s *subscription) Close() error {
	r := s.parent
	r.mu.Lock()
	s.closed = true
	if r.current == s {
		r.current = nil
	}
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}
