// Command rtprobe replays a WAV utterance against the realtime API and
// reports commit-to-first-audio and response latency per turn.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/rtvoice/internal/audio"
	"github.com/ent0n29/rtvoice/internal/config"
	"github.com/ent0n29/rtvoice/internal/observability"
	"github.com/ent0n29/rtvoice/internal/protocol"
	"github.com/ent0n29/rtvoice/internal/realtime"
)

type options struct {
	wavPath        string
	text           string
	turns          int
	realtime       float64
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type turnResult struct {
	firstAudio time.Duration
	total      time.Duration
	frames     int
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "rtprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&opts.wavPath, "wav", "", "PCM16 WAV utterance at 24kHz (mono or stereo)")
	flag.StringVar(&opts.text, "text", "", "send a text turn instead of audio")
	flag.IntVar(&opts.turns, "turns", 5, "number of turns to replay")
	flag.Float64Var(&opts.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 500, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for response.done per turn in milliseconds")
	flag.BoolVar(&opts.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	opts.wavPath = strings.TrimSpace(opts.wavPath)
	opts.text = strings.TrimSpace(opts.text)
	if opts.wavPath == "" && opts.text == "" {
		return options{}, fmt.Errorf("one of -wav or -text is required")
	}
	if opts.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if opts.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	opts.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	opts.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return opts, nil
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rt := cfg.Realtime()
	if err := rt.Validate(); err != nil {
		return err
	}

	var pcm []byte
	if opts.text == "" {
		raw, err := os.ReadFile(opts.wavPath)
		if err != nil {
			return err
		}
		var sampleRate int
		pcm, sampleRate, err = decodeWAVPCM16(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", opts.wavPath, err)
		}
		if sampleRate != audio.SampleRate {
			return fmt.Errorf("%s is %dHz, realtime input must be %dHz", opts.wavPath, sampleRate, audio.SampleRate)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client, err := realtime.Dial(ctx, rt)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := awaitType(client, protocol.TypeSessionCreated, opts.turnTimeout); err != nil {
		return fmt.Errorf("await session.created: %w", err)
	}
	update := protocol.NewSessionUpdate(probeSession(cfg))
	if err := client.Send(ctx, update); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}

	window := observability.NewLatencyWindow(opts.turns)
	for i := 0; i < opts.turns; i++ {
		if opts.verbose {
			fmt.Printf("rtprobe: turn %d/%d bytes=%d\n", i+1, opts.turns, len(pcm))
		}
		res, err := runTurn(ctx, client, pcm, opts)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if res.frames > 0 {
			window.Observe(observability.StageCommitToFirstAudio, res.firstAudio)
		} else {
			window.Count("response_without_audio")
		}
		window.Observe(observability.StageResponseTotal, res.total)
		if opts.verbose {
			fmt.Printf("rtprobe: turn %d first_audio=%s total=%s frames=%d\n", i+1, res.firstAudio, res.total, res.frames)
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(window.Snapshot())
}

func runTurn(ctx context.Context, client *realtime.Client, pcm []byte, opts options) (turnResult, error) {
	if opts.text != "" {
		if err := client.Send(ctx, protocol.NewUserText(opts.text)); err != nil {
			return turnResult{}, err
		}
	} else {
		if err := sendAudio(ctx, client, pcm, opts.realtime); err != nil {
			return turnResult{}, err
		}
		if err := client.Send(ctx, protocol.NewInputAudioCommit()); err != nil {
			return turnResult{}, err
		}
	}
	start := time.Now()
	if err := client.Send(ctx, protocol.NewResponseCreate()); err != nil {
		return turnResult{}, err
	}

	var res turnResult
	timer := time.NewTimer(opts.turnTimeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-client.Messages():
			if !ok {
				if err := client.Err(); err != nil {
					return res, err
				}
				return res, realtime.ErrClosed
			}
			switch m := msg.(type) {
			case protocol.ResponseAudioDelta:
				if res.frames == 0 {
					res.firstAudio = time.Since(start)
				}
				res.frames++
			case protocol.ResponseDone:
				res.total = time.Since(start)
				return res, nil
			case protocol.ErrorEvent:
				if opts.verbose {
					fmt.Fprintf(os.Stderr, "rtprobe: error code=%s message=%s\n", m.Error.Code, m.Error.Message)
				}
			}
		case <-timer.C:
			return res, fmt.Errorf("timeout after %s", opts.turnTimeout)
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

// probeSession commits every turn by hand, so server VAD stays off.
func probeSession(cfg config.Config) protocol.SessionSettings {
	temp := cfg.RealtimeTemperature
	return protocol.SessionSettings{
		Instructions:         cfg.RealtimeInstructions,
		Temperature:          &temp,
		Voice:                cfg.RealtimeVoice,
		TranscriptionModel:   cfg.RealtimeTranscriptionModel,
		DisableTurnDetection: true,
	}
}

func sendAudio(ctx context.Context, client *realtime.Client, pcm []byte, pace float64) error {
	frameDuration := time.Duration(float64(audio.FrameSamples) / float64(audio.SampleRate) * float64(time.Second) / pace)
	return replayFrames(pcm, func(encoded string) error {
		if err := client.Send(ctx, protocol.NewInputAudioAppend(encoded)); err != nil {
			return err
		}
		time.Sleep(frameDuration)
		return nil
	})
}

// replayFrames cuts pcm the way live capture is cut: full frames as they
// fill, then the short remainder right before the commit.
func replayFrames(pcm []byte, sink audio.FrameSink) error {
	chunker := audio.NewChunker(sink, nil)
	chunker.SetActive(true)
	if _, err := chunker.Ingest(pcm); err != nil {
		return err
	}
	_, err := chunker.Drain()
	return err
}

func awaitType(client *realtime.Client, want protocol.MessageType, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-client.Messages():
			if !ok {
				if err := client.Err(); err != nil {
					return err
				}
				return realtime.ErrClosed
			}
			if t, _ := protocol.TypeOf(msg); t == want {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if len(pcmData) == 0 {
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	}
	if bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	// Downmix interleaved channels to mono.
	frameBytes := int(channels) * 2
	if len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(int16(sum/int(channels))))
	}
	return mono, sampleRate, nil
}
