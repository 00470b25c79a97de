package audio

import (
	"bytes"
	"fmt"
)

// FrameSink receives one base64-encoded outbound frame.
type FrameSink func(encoded string) error

// Chunker folds arbitrarily sized capture buffers into FrameSize frames.
//
// Frames are emitted to the sink in byte-arrival order and only while the
// chunker is active. Frames cut while inactive are dropped, not deferred.
// Chunker is not safe for concurrent use; the session controller serializes
// access to it.
type Chunker struct {
	sink    FrameSink
	log     *ChunkLog
	pending bytes.Buffer
	active  bool

	// OnDiscard, when set, is called for every frame cut while inactive.
	OnDiscard func()
}

// NewChunker returns a chunker that sends frames to sink and mirrors sent
// frames into log. log may be nil.
func NewChunker(sink FrameSink, log *ChunkLog) *Chunker {
	return &Chunker{sink: sink, log: log}
}

func (c *Chunker) SetActive(active bool) { c.active = active }

func (c *Chunker) Active() bool { return c.active }

// Pending is the number of bytes waiting for the next frame.
func (c *Chunker) Pending() int { return c.pending.Len() }

// Reset discards pending bytes.
func (c *Chunker) Reset() { c.pending.Reset() }

// Ingest appends buf and emits every complete frame. It returns the number of
// frames handed to the sink. A sink error stops the fold; frames still pending
// go out on the next call.
func (c *Chunker) Ingest(buf []byte) (int, error) {
	c.pending.Write(buf)

	sent := 0
	for c.pending.Len() >= FrameSize {
		frame := make([]byte, FrameSize)
		copy(frame, c.pending.Next(FrameSize))
		if err := c.emit(frame); err != nil {
			return sent, err
		}
		if c.active {
			sent++
		}
	}
	return sent, nil
}

// Drain force-encodes the remainder as one short final frame, used right
// before the input buffer is committed. The buffer is empty afterwards.
func (c *Chunker) Drain() (int, error) {
	if c.pending.Len() == 0 {
		return 0, nil
	}
	frame := make([]byte, c.pending.Len())
	copy(frame, c.pending.Bytes())
	c.pending.Reset()
	if err := c.emit(frame); err != nil {
		return 0, err
	}
	if !c.active {
		return 0, nil
	}
	return 1, nil
}

func (c *Chunker) emit(frame []byte) error {
	if !c.active {
		if c.OnDiscard != nil {
			c.OnDiscard()
		}
		return nil
	}
	if c.sink != nil {
		if err := c.sink(EncodeBytesToWire(frame)); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
	}
	if c.log != nil {
		c.log.Append(BytesToSamples(frame))
	}
	return nil
}
