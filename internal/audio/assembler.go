package audio

import "time"

// Player accepts decoded samples for playback. Play must not block.
type Player interface {
	Play(samples []int16)
}

// Clip is an exportable WAV rendering of one turn.
type Clip struct {
	WAV         []byte
	SampleCount int
	SampleRate  int
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.SampleCount) * time.Second / time.Duration(c.SampleRate)
}

func (c Clip) ContentType() string { return "audio/wav" }

// NewClip renders chunks as a clip. It returns false when there is no audio.
func NewClip(chunks [][]int16, sampleRate int) (Clip, bool) {
	if len(chunks) == 0 {
		return Clip{}, false
	}
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return Clip{
		WAV:         ToContainer(chunks, sampleRate),
		SampleCount: n,
		SampleRate:  sampleRate,
	}, true
}

// Assembler feeds inbound response audio to a player and retains it for the
// clip exported when the response completes.
type Assembler struct {
	player     Player
	current    *ChunkLog
	sampleRate int
}

func NewAssembler(player Player, sampleRate int) *Assembler {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &Assembler{player: player, current: NewChunkLog(), sampleRate: sampleRate}
}

// OnFrameReceived decodes one audio delta. A malformed frame is dropped and
// ErrMalformedWireData returned; the caller keeps feeding later frames.
func (a *Assembler) OnFrameReceived(encoded string) error {
	samples, err := DecodeFromWire(encoded)
	if err != nil {
		return err
	}
	a.current.Append(samples)
	if a.player != nil {
		a.player.Play(samples)
	}
	return nil
}

// OnResponseStarted starts a new response turn.
func (a *Assembler) OnResponseStarted() {
	a.current.Clear()
}

// OnResponseCompleted exports the current turn, if it carried audio.
func (a *Assembler) OnResponseCompleted() (Clip, bool) {
	return NewClip(a.current.Take(), a.sampleRate)
}

// Pending is the number of chunks held for the current response.
func (a *Assembler) Pending() int { return a.current.Len() }
