package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/rtvoice/internal/protocol"
)

func TestConfigURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "openai default endpoint",
			cfg:  Config{DeploymentOrModel: "gpt-4o-realtime-preview"},
			want: "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview",
		},
		{
			name: "azure host only",
			cfg:  Config{Endpoint: "my-res.openai.azure.com", DeploymentOrModel: "rt", Azure: true},
			want: "wss://my-res.openai.azure.com/openai/realtime?api-version=2024-10-01-preview&deployment=rt",
		},
		{
			name: "azure https endpoint with version",
			cfg:  Config{Endpoint: "https://my-res.openai.azure.com/", DeploymentOrModel: "rt", Azure: true, APIVersion: "2025-01-01"},
			want: "wss://my-res.openai.azure.com/openai/realtime?api-version=2025-01-01&deployment=rt",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cfg.URL()
			if err != nil {
				t.Fatalf("URL() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("URL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConfigURLValidation(t *testing.T) {
	if _, err := (Config{}).URL(); !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("URL() error = %v, want ErrMissingTarget", err)
	}
	if _, err := (Config{DeploymentOrModel: "rt", Azure: true}).URL(); !errors.Is(err, ErrMissingHost) {
		t.Fatalf("URL() error = %v, want ErrMissingHost", err)
	}
}

func TestConfigHeader(t *testing.T) {
	h := Config{APIKey: "k"}.Header()
	if h.Get("Authorization") != "Bearer k" || h.Get("OpenAI-Beta") != "realtime=v1" {
		t.Fatalf("openai headers = %v", h)
	}
	h = Config{APIKey: "k", Azure: true}.Header()
	if h.Get("api-key") != "k" || h.Get("Authorization") != "" {
		t.Fatalf("azure headers = %v", h)
	}
}

func TestGuessAzure(t *testing.T) {
	if !GuessAzure("https://x.openai.Azure.com") {
		t.Fatalf("GuessAzure() = false for azure endpoint")
	}
	if GuessAzure("wss://api.openai.com/v1/realtime") {
		t.Fatalf("GuessAzure() = true for openai endpoint")
	}
}

// echoServer replies to every client message with a response.audio.delta and
// records the handshake headers.
func echoServer(t *testing.T, fail int32) (*httptest.Server, *atomic.Value, *atomic.Int32) {
	t.Helper()
	var header atomic.Value
	var hits atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		header.Store(r.Header.Clone())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"s1"}}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			_ = json.Unmarshal(data, &env)
			reply := `{"type":"response.audio.delta","delta":"AQI=","item_id":"` + string(env.Type) + `"}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &header, &hits
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/realtime"
}

func receive(t *testing.T, c *Client) any {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("Messages() closed early, err = %v", c.Err())
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return nil
}

func TestDialSendReceive(t *testing.T) {
	srv, header, _ := echoServer(t, 0)
	var seen atomic.Int32
	c, err := Dial(context.Background(), Config{
		Endpoint:          wsURL(srv),
		APIKey:            "secret",
		DeploymentOrModel: "model-x",
		OnMessage:         func(string, protocol.MessageType) { seen.Add(1) },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if _, ok := receive(t, c).(protocol.SessionCreated); !ok {
		t.Fatalf("first message is not session.created")
	}
	h := header.Load().(http.Header)
	if h.Get("Authorization") != "Bearer secret" {
		t.Fatalf("Authorization = %q", h.Get("Authorization"))
	}

	if err := c.Send(context.Background(), protocol.NewInputAudioCommit()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	delta, ok := receive(t, c).(protocol.ResponseAudioDelta)
	if !ok || delta.ItemID != string(protocol.TypeInputAudioCommit) {
		t.Fatalf("unexpected echo: %#v", delta)
	}
	if seen.Load() != 3 {
		t.Fatalf("OnMessage calls = %d, want 3", seen.Load())
	}
}

func TestDialRetriesRetryableStatus(t *testing.T) {
	srv, _, hits := echoServer(t, 1)
	c, err := Dial(context.Background(), Config{
		Endpoint:          wsURL(srv),
		DeploymentOrModel: "m",
		RetryBase:         time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	if hits.Load() != 2 {
		t.Fatalf("handshake attempts = %d, want 2", hits.Load())
	}
}

func TestDialGivesUpOnNonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err := Dial(context.Background(), Config{Endpoint: wsURL(srv), DeploymentOrModel: "m"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Dial() error = %v, want 401 failure", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	srv, _, _ := echoServer(t, 0)
	c, err := Dial(context.Background(), Config{Endpoint: wsURL(srv), DeploymentOrModel: "m"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = c.Close()
	if err := c.Send(context.Background(), protocol.NewResponseCreate()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() error = %v, want ErrClosed", err)
	}
	for range c.Messages() {
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{DeploymentOrModel: "m"}).Validate(); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Validate() error = %v, want ErrMissingKey", err)
	}
	if err := (Config{DeploymentOrModel: "m", APIKey: "k"}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
