package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/rtvoice/internal/audio"
	"github.com/ent0n29/rtvoice/internal/clips"
	"github.com/ent0n29/rtvoice/internal/device"
	"github.com/ent0n29/rtvoice/internal/observability"
	"github.com/ent0n29/rtvoice/internal/policy"
	"github.com/ent0n29/rtvoice/internal/protocol"
	"github.com/ent0n29/rtvoice/internal/reliability"
	"github.com/ent0n29/rtvoice/internal/session"
)

var (
	ErrAlreadyRunning = errors.New("conversation already running")
	ErrNotRunning     = errors.New("conversation not running")
	ErrConnection     = errors.New("connection error")
)

// InputState mirrors the start/stop controls: only one of them is usable at
// a time, and neither while a transition is in flight.
type InputState string

const (
	StateReadyToStart InputState = "ready_to_start"
	StateWorking      InputState = "working"
	StateReadyToStop  InputState = "ready_to_stop"
)

const (
	blockSessionStarted = "<< Session Started >>"
	blockSpeechStarted  = "<< Speech Started >>"
	connectionErrorText = "[Connection error]: Unable to send initial config message. Please check your endpoint and authentication details."
	sendTimeout         = 5 * time.Second
)

// Client is the realtime connection as seen by the runner.
type Client interface {
	Send(ctx context.Context, msg any) error
	Messages() <-chan any
	Err() error
	Close() error
}

// Dialer opens a fresh realtime connection for one conversation.
type Dialer func(ctx context.Context) (Client, error)

type Config struct {
	Dial    Dialer
	Devices device.Factory
	// Session supplies the session.update knobs at every start.
	Session    func() protocol.SessionSettings
	Store      clips.Store
	Metrics    *observability.Metrics
	Logger     *log.Logger
	SampleRate int
	// TranscriptLimit bounds the number of retained view blocks.
	TranscriptLimit int
	// RedactTranscripts masks PII in transcripts stored with clips.
	RedactTranscripts bool
}

// Status is the externally visible runner state.
type Status struct {
	State      InputState       `json:"state"`
	Session    session.Snapshot `json:"session"`
	Transcript []Block          `json:"transcript"`
	LastError  string           `json:"last_error,omitempty"`
}

// Runner drives one realtime conversation at a time: microphone frames out,
// response audio and transcripts in.
type Runner struct {
	cfg        Config
	logger     *log.Logger
	controller *session.Controller
	assembler  *audio.Assembler
	transcript *Transcript

	mu      sync.Mutex
	state   InputState
	client  Client
	done    chan struct{}
	lastErr error
	// failed is the client whose outbound audio already failed; it is torn
	// down once.
	failed Client

	// Loop-owned turn state; only touched by the consume goroutine.
	latestInputBlock int
	latestUserClip   string
	responseText     strings.Builder
	speechStoppedAt  time.Time
	committedAt      time.Time
	responseAt       time.Time
	firstAudio       bool
}

func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.Store == nil {
		cfg.Store = clips.NewInMemoryStore()
	}
	if cfg.Session == nil {
		cfg.Session = func() protocol.SessionSettings { return protocol.SessionSettings{} }
	}
	r := &Runner{
		cfg:              cfg,
		logger:           cfg.Logger,
		transcript:       NewTranscript(cfg.TranscriptLimit),
		state:            StateReadyToStart,
		latestInputBlock: -1,
	}
	r.controller = session.NewController(cfg.Devices, r.sendFrame,
		session.WithLogger(cfg.Logger),
		session.WithMetrics(cfg.Metrics),
		session.WithSampleRate(cfg.SampleRate),
		session.WithErrorHandler(r.onSendError),
	)
	r.assembler = audio.NewAssembler(r.controller, cfg.SampleRate)
	return r
}

// Start connects, sends the session configuration and begins recording from
// stream. Messages are consumed in the background until Stop or until the
// server closes the connection.
func (r *Runner) Start(ctx context.Context, stream io.Reader) error {
	r.mu.Lock()
	if r.state != StateReadyToStart {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.state = StateWorking
	r.lastErr = nil
	r.mu.Unlock()

	client, err := r.cfg.Dial(ctx)
	if err != nil {
		return r.failStart(nil, fmt.Errorf("%w: %w", ErrConnection, err))
	}
	r.logger.Printf("conversation: sending session config")
	if err := client.Send(ctx, protocol.NewSessionUpdate(r.cfg.Session())); err != nil {
		return r.failStart(client, fmt.Errorf("%w: %w", ErrConnection, err))
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.client = client
	r.done = done
	r.mu.Unlock()

	if err := r.controller.Start(ctx, stream); err != nil {
		r.mu.Lock()
		r.client = nil
		r.mu.Unlock()
		close(done)
		_ = client.Close()
		r.setState(StateReadyToStart)
		r.recordErr(err)
		return err
	}

	r.resetTurn()
	go r.consume(client, done)
	return nil
}

func (r *Runner) failStart(client Client, err error) error {
	if client != nil {
		_ = client.Close()
	}
	r.logger.Printf("conversation: %v", err)
	r.transcript.NewBlock(connectionErrorText)
	r.recordErr(err)
	r.setState(StateReadyToStart)
	return err
}

// Run starts a conversation and blocks until it ends or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, stream io.Reader) error {
	if err := r.Start(ctx, stream); err != nil {
		return err
	}
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := r.Stop(stopCtx); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stop ends recording, closes the connection and waits for the message loop
// to finish.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	client, done := r.client, r.done
	if client == nil {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.state = StateWorking
	r.mu.Unlock()

	err := r.controller.Stop()
	if errors.Is(err, session.ErrTransitionInProgress) {
		err = nil
	}
	_ = client.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// SendText submits a typed user message and asks for a response.
func (r *Runner) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text is required")
	}
	client := r.currentClient()
	if client == nil {
		return ErrNotRunning
	}
	if err := client.Send(ctx, protocol.NewUserText(text)); err != nil {
		return fmt.Errorf("%w: %w", session.ErrTransportSend, err)
	}
	if err := client.Send(ctx, protocol.NewResponseCreate()); err != nil {
		return fmt.Errorf("%w: %w", session.ErrTransportSend, err)
	}
	r.transcript.NewBlock("User: " + text)
	return nil
}

// CommitAudio flushes the pending remainder and commits the input buffer.
func (r *Runner) CommitAudio(ctx context.Context) error {
	client := r.currentClient()
	if client == nil {
		return ErrNotRunning
	}
	if _, err := r.controller.Commit(); err != nil {
		return err
	}
	if err := client.Send(ctx, protocol.NewInputAudioCommit()); err != nil {
		return fmt.Errorf("%w: %w", session.ErrTransportSend, err)
	}
	return nil
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{State: r.state}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()
	st.Session = r.controller.Snapshot()
	st.Transcript = r.transcript.Blocks()
	return st
}

func (r *Runner) Transcript() *Transcript { return r.transcript }

func (r *Runner) Store() clips.Store { return r.cfg.Store }

// Running reports whether a connection is open.
func (r *Runner) Running() bool {
	return r.currentClient() != nil
}

func (r *Runner) consume(client Client, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for msg := range client.Messages() {
		r.handle(ctx, msg)
	}

	if err := client.Err(); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && reliability.IsRetryableCloseCode(closeErr.Code) {
			r.logger.Printf("conversation: connection closed with transient code %d, start a new session to resume", closeErr.Code)
		} else {
			r.logger.Printf("conversation: connection ended: %v", err)
		}
		r.transcript.NewBlock("[Connection error]: " + err.Error())
		r.recordErr(err)
	}
	if err := r.controller.Stop(); err != nil && !errors.Is(err, session.ErrTransitionInProgress) {
		r.logger.Printf("conversation: reset after stream end: %v", err)
	}
	_ = client.Close()

	r.mu.Lock()
	if r.client == client {
		r.client = nil
	}
	r.state = StateReadyToStart
	r.mu.Unlock()
}

func (r *Runner) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case protocol.SessionCreated:
		if m.Type == protocol.TypeSessionUpdated {
			r.logger.Printf("conversation: session updated")
			return
		}
		r.setState(StateReadyToStop)
		r.transcript.NewBlock(blockSessionStarted)
		r.transcript.NewBlock("")

	case protocol.ResponseTranscriptDelta:
		r.transcript.Append(m.Delta)
		r.responseText.WriteString(m.Delta)

	case protocol.ResponseAudioDelta:
		if err := r.assembler.OnFrameReceived(m.Delta); err != nil {
			r.logger.Printf("conversation: dropping audio delta: %v", err)
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.MalformedFrames.Inc()
			}
			return
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.FramesReceived.Inc()
		}
		if !r.firstAudio {
			r.firstAudio = true
			r.observeSince(observability.StageCommitToFirstAudio, r.committedAt)
		}

	case protocol.ResponseCreated:
		r.assembler.OnResponseStarted()
		r.responseText.Reset()
		r.firstAudio = false
		r.responseAt = time.Now()
		r.observeSince(observability.StageCommitToResponse, r.committedAt)

	case protocol.SpeechStarted:
		r.latestInputBlock = r.transcript.NewBlock(blockSpeechStarted)
		r.transcript.NewBlock("")
		r.controller.ClearPlayback()

	case protocol.SpeechStopped:
		r.speechStoppedAt = time.Now()

	case protocol.InputAudioCommitted:
		r.observeSince(observability.StageSpeechStoppedToCommitted, r.speechStoppedAt)
		r.speechStoppedAt = time.Time{}
		r.committedAt = time.Now()
		r.exportUserClip(ctx)

	case protocol.TranscriptionCompleted:
		if r.latestInputBlock >= 0 {
			r.transcript.AppendTo(r.latestInputBlock, " User: "+m.Transcript)
		}
		r.storeTranscript(ctx, m.Transcript)

	case protocol.TranscriptionFailed:
		r.logger.Printf("conversation: transcription failed: %s", m.Error.Message)
		r.transcript.NewBlock("[Transcription failed]: " + m.Error.Message)

	case protocol.ErrorEvent:
		retryable := reliability.IsRetryableServerError(m.Error.Type, m.Error.Code)
		r.logger.Printf("conversation: server error %s: %s (retryable=%v)", m.Error.Code, m.Error.Message, retryable)
		r.transcript.NewBlock("[Error]: " + m.Error.Message)
		if r.cfg.Metrics != nil {
			op := "server"
			if retryable {
				op = "server_retryable"
			}
			r.cfg.Metrics.TransportErrors.WithLabelValues(op).Inc()
		}

	case protocol.ResponseDone:
		r.exportAssistantClip(ctx)
		r.transcript.Separator()
		if !r.responseAt.IsZero() {
			r.observeSince(observability.StageResponseTotal, r.responseAt)
			r.responseAt = time.Time{}
		}
		if !r.firstAudio && r.cfg.Metrics != nil {
			r.cfg.Metrics.Latency.Count("response_without_audio")
		}

	case protocol.Unknown:
		r.logger.Printf("conversation: unhandled message %s", m.Raw)

	default:
		if t, ok := protocol.TypeOf(msg); ok {
			r.logger.Printf("conversation: %s", t)
		}
	}
}

func (r *Runner) exportUserClip(ctx context.Context) {
	clip, ok := r.controller.TakeRecordedClip()
	if !ok {
		r.latestUserClip = ""
		return
	}
	saved, err := r.saveClip(ctx, clips.RoleUser, clip, "")
	if err != nil {
		r.latestUserClip = ""
		return
	}
	r.latestUserClip = saved.ID
	r.transcript.AttachClip(r.latestInputBlock, saved.ID)
}

func (r *Runner) exportAssistantClip(ctx context.Context) {
	clip, ok := r.assembler.OnResponseCompleted()
	text := r.responseText.String()
	r.responseText.Reset()
	if !ok {
		return
	}
	saved, err := r.saveClip(ctx, clips.RoleAssistant, clip, text)
	if err != nil {
		return
	}
	r.transcript.AttachClip(-1, saved.ID)
}

func (r *Runner) saveClip(ctx context.Context, role clips.Role, clip audio.Clip, transcript string) (clips.Clip, error) {
	redacted := false
	if r.cfg.RedactTranscripts && transcript != "" {
		transcript, redacted = policy.RedactPII(transcript)
	}
	saved, err := r.cfg.Store.Save(ctx, clips.Clip{
		SessionID:   r.controller.ID(),
		Role:        role,
		Transcript:  transcript,
		PIIRedacted: redacted,
		SampleRate:  clip.SampleRate,
		Samples:     clip.SampleCount,
		WAV:         clip.WAV,
	})
	if err != nil {
		r.logger.Printf("conversation: save %s clip: %v", role, err)
		return clips.Clip{}, err
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveClip(string(role), clip.Duration())
	}
	return saved, nil
}

func (r *Runner) storeTranscript(ctx context.Context, transcript string) {
	if r.latestUserClip == "" {
		return
	}
	redacted := false
	if r.cfg.RedactTranscripts {
		transcript, redacted = policy.RedactPII(transcript)
	}
	if err := r.cfg.Store.SetTranscript(ctx, r.latestUserClip, transcript, redacted); err != nil {
		r.logger.Printf("conversation: store transcript: %v", err)
	}
}

func (r *Runner) sendFrame(encoded string) error {
	client := r.currentClient()
	if client == nil {
		return ErrNotRunning
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return client.Send(ctx, protocol.NewInputAudioAppend(encoded))
}

// onSendError runs on the capture goroutine. A failed append ends the
// conversation the same way a closed connection does: the client is closed
// and the message loop tears the session down.
func (r *Runner) onSendError(err error) {
	r.mu.Lock()
	r.lastErr = err
	client := r.client
	if client == nil || r.failed == client || !errors.Is(err, session.ErrTransportSend) {
		r.mu.Unlock()
		return
	}
	r.failed = client
	r.state = StateWorking
	r.mu.Unlock()

	go func() {
		r.logger.Printf("conversation: outbound audio failed, ending session: %v", err)
		r.transcript.NewBlock("[Connection error]: " + err.Error())
		if err := r.controller.Stop(); err != nil && !errors.Is(err, session.ErrTransitionInProgress) {
			r.logger.Printf("conversation: stop after send failure: %v", err)
		}
		_ = client.Close()
	}()
}

func (r *Runner) currentClient() Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

func (r *Runner) setState(s InputState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) recordErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Runner) resetTurn() {
	r.latestInputBlock = -1
	r.latestUserClip = ""
	r.responseText.Reset()
	r.speechStoppedAt = time.Time{}
	r.committedAt = time.Time{}
	r.responseAt = time.Time{}
	r.firstAudio = false
}

func (r *Runner) observeSince(stage string, from time.Time) {
	if r.cfg.Metrics == nil || from.IsZero() {
		return
	}
	r.cfg.Metrics.ObserveStage(stage, time.Since(from))
}
