package conversation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/rtvoice/internal/audio"
	"github.com/ent0n29/rtvoice/internal/clips"
	"github.com/ent0n29/rtvoice/internal/device/mock"
	"github.com/ent0n29/rtvoice/internal/observability"
	"github.com/ent0n29/rtvoice/internal/protocol"
)

type fakeClient struct {
	mu       sync.Mutex
	sent     []any
	sendErr  error
	messages chan any
	err      error
	once     sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: make(chan any, 64)}
}

func (c *fakeClient) Send(_ context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) Messages() <-chan any { return c.messages }
func (c *fakeClient) Err() error           { return c.err }

func (c *fakeClient) Close() error {
	c.once.Do(func() { close(c.messages) })
	return nil
}

func (c *fakeClient) sentTypes() []protocol.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.MessageType, 0, len(c.sent))
	for _, m := range c.sent {
		if t, ok := protocol.TypeOf(m); ok {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	runner  *Runner
	client  *fakeClient
	devices *mock.Factory
	store   *clips.InMemoryStore
}

func newHarness(t *testing.T, redact bool) *harness {
	t.Helper()
	h := &harness{
		client:  newFakeClient(),
		devices: &mock.Factory{},
		store:   clips.NewInMemoryStore(),
	}
	h.runner = NewRunner(Config{
		Dial:              func(context.Context) (Client, error) { return h.client, nil },
		Devices:           h.devices,
		Store:             h.store,
		Metrics:           observability.NewMetrics("test_conversation_" + strings.ReplaceAll(t.Name(), "/", "_")),
		RedactTranscripts: redact,
	})
	return h
}

// flush pushes a marker through the loop and waits until it has been handled.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	before := len(h.runner.Transcript().Blocks())
	h.client.messages <- protocol.SessionCreated{Type: protocol.TypeSessionCreated}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.runner.Transcript().Blocks()) >= before+2 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("message loop did not drain")
}

func pcmDelta(samples ...int16) string {
	return audio.EncodeToWire(samples)
}

func TestRunnerStartSendsSessionUpdateAndFrames(t *testing.T) {
	h := newHarness(t, false)
	if err := h.runner.Start(context.Background(), bytes.NewReader(nil)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.runner.Stop(context.Background())

	if err := h.runner.Start(context.Background(), bytes.NewReader(nil)); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	h.devices.LastCapture().Feed(make([]byte, audio.FrameSize))
	types := h.client.sentTypes()
	if len(types) != 2 || types[0] != protocol.TypeSessionUpdate || types[1] != protocol.TypeInputAudioAppend {
		t.Fatalf("sent types = %v", types)
	}

	h.flush(t)
	if got := h.runner.Status().State; got != StateReadyToStop {
		t.Fatalf("State = %q, want %q", got, StateReadyToStop)
	}
	blocks := h.runner.Transcript().Blocks()
	if blocks[0].Text != "<< Session Started >>" {
		t.Fatalf("first block = %q", blocks[0].Text)
	}
}

func TestRunnerConnectionErrorOnConfigSend(t *testing.T) {
	h := newHarness(t, false)
	h.client.sendErr = errors.New("unauthorized")

	err := h.runner.Start(context.Background(), bytes.NewReader(nil))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Start() error = %v, want ErrConnection", err)
	}
	if h.runner.Status().State != StateReadyToStart {
		t.Fatalf("State = %q, want ready_to_start", h.runner.Status().State)
	}
	if len(h.devices.Captures) != 0 {
		t.Fatalf("recording started after a failed config send")
	}
	blocks := h.runner.Transcript().Blocks()
	if len(blocks) != 1 || !strings.HasPrefix(blocks[0].Text, "[Connection error]") {
		t.Fatalf("transcript = %+v", blocks)
	}
}

func TestRunnerUserTurnExportsClipWithTranscript(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	if err := h.runner.Start(ctx, bytes.NewReader(nil)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.runner.Stop(ctx)

	h.client.messages <- protocol.SpeechStarted{Type: protocol.TypeSpeechStarted}
	h.flush(t)
	h.devices.LastCapture().Feed(make([]byte, audio.FrameSize*2))
	h.client.messages <- protocol.InputAudioCommitted{Type: protocol.TypeInputAudioCommitted}
	h.client.messages <- protocol.TranscriptionCompleted{Type: protocol.TypeTranscriptionCompleted, Transcript: "mail me at a@b.io"}
	h.flush(t)

	list, err := h.store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Role != clips.RoleUser {
		t.Fatalf("clips = %+v", list)
	}
	if list[0].Samples != 2*audio.FrameSamples {
		t.Fatalf("Samples = %d, want %d", list[0].Samples, 2*audio.FrameSamples)
	}
	if !list[0].PIIRedacted || strings.Contains(list[0].Transcript, "a@b.io") {
		t.Fatalf("transcript not redacted: %+v", list[0])
	}

	var speech *Block
	for _, b := range h.runner.Transcript().Blocks() {
		if strings.HasPrefix(b.Text, "<< Speech Started >>") {
			b := b
			speech = &b
		}
	}
	if speech == nil || speech.Text != "<< Speech Started >> User: mail me at a@b.io" {
		t.Fatalf("speech block = %+v", speech)
	}
	if len(speech.ClipIDs) != 1 || speech.ClipIDs[0] != list[0].ID {
		t.Fatalf("clip not attached to speech block: %+v", speech)
	}
	if _, ok := h.runner.controller.RecordedClip(); ok {
		t.Fatalf("recorded log not cleared after commit")
	}
	if pb := h.devices.LastPlayback(); pb.Clears() == 0 {
		t.Fatalf("speech start did not clear playback")
	}
}

func TestRunnerResponseAudioPlaysAndExports(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	if err := h.runner.Start(ctx, bytes.NewReader(nil)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.runner.Stop(ctx)

	h.client.messages <- protocol.ResponseCreated{Type: protocol.TypeResponseCreated}
	h.client.messages <- protocol.ResponseAudioDelta{Type: protocol.TypeResponseAudioDelta, Delta: pcmDelta(1, 2, 3)}
	h.client.messages <- protocol.ResponseAudioDelta{Type: protocol.TypeResponseAudioDelta, Delta: "AQ=="}
	h.client.messages <- protocol.ResponseTranscriptDelta{Type: protocol.TypeResponseTranscriptDelta, Delta: "Hi "}
	h.client.messages <- protocol.ResponseTranscriptDelta{Type: protocol.TypeResponseTranscriptDelta, Delta: "there"}
	h.client.messages <- protocol.ResponseAudioDelta{Type: protocol.TypeResponseAudioDelta, Delta: pcmDelta(4, 5)}
	h.client.messages <- protocol.ResponseDone{Type: protocol.TypeResponseDone}
	h.flush(t)

	if played := h.devices.LastPlayback().Played(); len(played) != 2 {
		t.Fatalf("played chunks = %d, want 2 (malformed delta skipped)", len(played))
	}
	list, _ := h.store.List(ctx, "", 10)
	if len(list) != 1 || list[0].Role != clips.RoleAssistant || list[0].Samples != 5 {
		t.Fatalf("assistant clips = %+v", list)
	}
	if list[0].Transcript != "Hi there" {
		t.Fatalf("assistant transcript = %q", list[0].Transcript)
	}
	full, err := h.store.Get(ctx, list[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	hdr, err := audio.ParseWAVHeader(full.WAV)
	if err != nil || hdr.DataSize != 10 {
		t.Fatalf("ParseWAVHeader() = %+v, %v", hdr, err)
	}

	var sawSeparator bool
	for _, b := range h.runner.Transcript().Blocks() {
		sawSeparator = sawSeparator || b.Separator
	}
	if !sawSeparator {
		t.Fatalf("response.done did not add a separator")
	}
}

func TestRunnerResponseWithoutAudioExportsNothing(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.runner.Start(ctx, bytes.NewReader(nil))
	defer h.runner.Stop(ctx)

	h.client.messages <- protocol.ResponseCreated{Type: protocol.TypeResponseCreated}
	h.client.messages <- protocol.ResponseDone{Type: protocol.TypeResponseDone}
	h.client.messages <- protocol.Unknown{Type: "rate_limits.updated", Raw: []byte(`{"type":"rate_limits.updated"}`)}
	h.flush(t)

	if list, _ := h.store.List(ctx, "", 10); len(list) != 0 {
		t.Fatalf("clips = %+v, want none", list)
	}
}

func TestRunnerStopEndsLoopAndResets(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.runner.Start(ctx, bytes.NewReader(nil))
	capture := h.devices.LastCapture()
	capture.Feed(make([]byte, 1000))

	if err := h.runner.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	st := h.runner.Status()
	if st.State != StateReadyToStart || st.Session.PendingBytes != 0 {
		t.Fatalf("after Stop: %+v", st)
	}
	if !capture.Stopped() {
		t.Fatalf("capture not stopped")
	}
	if err := h.runner.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop() error = %v, want ErrNotRunning", err)
	}
	if err := h.runner.SendText(ctx, "hi"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("SendText() error = %v, want ErrNotRunning", err)
	}
}

func TestRunnerServerCloseResetsAudio(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.runner.Start(ctx, bytes.NewReader(nil))
	h.client.err = errors.New("connection reset")
	_ = h.client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.runner.Running() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	st := h.runner.Status()
	if st.State != StateReadyToStart || st.Session.State != "idle" {
		t.Fatalf("after server close: %+v", st)
	}
	if st.LastError != "connection reset" {
		t.Fatalf("LastError = %q", st.LastError)
	}
}

func TestRunnerFailedAppendEndsSession(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	if err := h.runner.Start(ctx, bytes.NewReader(nil)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.client.mu.Lock()
	h.client.sendErr = errors.New("connection not open")
	h.client.mu.Unlock()

	capture := h.devices.LastCapture()
	for i := 0; i < 3; i++ {
		capture.Feed(make([]byte, audio.FrameSize))
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.runner.Running() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	st := h.runner.Status()
	if st.State != StateReadyToStart || st.Session.State != "idle" {
		t.Fatalf("after failed append: state = %q session = %q", st.State, st.Session.State)
	}
	if !strings.Contains(st.LastError, "transport send failed") {
		t.Fatalf("LastError = %q", st.LastError)
	}
	if !capture.Stopped() {
		t.Fatal("capture still running after failed append")
	}
	errBlocks := 0
	for _, b := range st.Transcript {
		if strings.HasPrefix(b.Text, "[Connection error]") {
			errBlocks++
		}
	}
	if errBlocks != 1 {
		t.Fatalf("connection error blocks = %d, want 1: %+v", errBlocks, st.Transcript)
	}
	if err := h.runner.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestRunnerSendTextAndCommit(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.runner.Start(ctx, bytes.NewReader(nil))
	defer h.runner.Stop(ctx)

	h.devices.LastCapture().Feed(make([]byte, 600))
	if err := h.runner.CommitAudio(ctx); err != nil {
		t.Fatalf("CommitAudio() error = %v", err)
	}
	if err := h.runner.SendText(ctx, "  hello "); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	want := []protocol.MessageType{
		protocol.TypeSessionUpdate,
		protocol.TypeInputAudioAppend,
		protocol.TypeInputAudioCommit,
		protocol.TypeConversationItemCreate,
		protocol.TypeResponseCreate,
	}
	got := h.client.sentTypes()
	if len(got) != len(want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if err := h.runner.SendText(ctx, "   "); err == nil {
		t.Fatalf("SendText(blank) should fail")
	}
}

func TestRunnerRunReturnsOnContextCancel(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.runner.Run(ctx, bytes.NewReader(nil)) }()

	deadline := time.Now().Add(2 * time.Second)
	for !h.runner.Running() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return")
	}
	if h.runner.Running() {
		t.Fatalf("connection still open after Run returned")
	}
}
