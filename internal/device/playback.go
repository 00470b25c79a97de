package device

import (
	"io"
	"log"
	"sync"

	"github.com/ent0n29/rtvoice/internal/audio"
)

const DefaultPlaybackQueue = 256

// WriterPlayback queues samples and writes them as PCM16LE to an io.Writer
// on its own goroutine. Play never blocks; a full queue drops the chunk.
type WriterPlayback struct {
	out        io.Writer
	sampleRate int
	queue      chan []int16
	logger     *log.Logger

	// OnDrop, when set, is called for every chunk dropped on a full queue.
	OnDrop func()

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func NewWriterPlayback(out io.Writer, sampleRate, queueSize int, logger *log.Logger) *WriterPlayback {
	if out == nil {
		out = io.Discard
	}
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	if queueSize <= 0 {
		queueSize = DefaultPlaybackQueue
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &WriterPlayback{
		out:        out,
		sampleRate: sampleRate,
		queue:      make(chan []int16, queueSize),
		logger:     logger,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *WriterPlayback) SampleRate() int { return p.sampleRate }

func (p *WriterPlayback) Play(samples []int16) {
	select {
	case <-p.closed:
		return
	default:
	}
	select {
	case p.queue <- samples:
	default:
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
}

// Clear drops everything still queued.
func (p *WriterPlayback) Clear() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}

// Queued is the number of chunks waiting to be written.
func (p *WriterPlayback) Queued() int { return len(p.queue) }

// Close stops the writer after the chunk in flight. Queued chunks are dropped.
func (p *WriterPlayback) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	<-p.done
	return nil
}

func (p *WriterPlayback) writeLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.closed:
			return
		case samples := <-p.queue:
			if _, err := p.out.Write(audio.SamplesToBytes(samples)); err != nil {
				p.logger.Printf("playback: write failed: %v", err)
			}
		}
	}
}
