package audio

import "sync"

// ChunkLog keeps sample chunks in arrival order for one logical turn.
type ChunkLog struct {
	mu      sync.Mutex
	chunks  [][]int16
	samples int
}

func NewChunkLog() *ChunkLog {
	return &ChunkLog{}
}

func (l *ChunkLog) Append(chunk []int16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chunks = append(l.chunks, chunk)
	l.samples += len(chunk)
}

func (l *ChunkLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chunks = nil
	l.samples = 0
}

// Snapshot returns the current chunk list. Chunks are never mutated after
// Append, so the copy stays valid across a later Clear.
func (l *ChunkLog) Snapshot() [][]int16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]int16, len(l.chunks))
	copy(out, l.chunks)
	return out
}

// Take returns the chunk list and clears the log in one step.
func (l *ChunkLog) Take() [][]int16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.chunks
	l.chunks = nil
	l.samples = 0
	return out
}

func (l *ChunkLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chunks)
}

// Samples is the total sample count across all chunks.
func (l *ChunkLog) Samples() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.samples
}
