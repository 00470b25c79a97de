package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/rtvoice/internal/protocol"
	"github.com/ent0n29/rtvoice/internal/reliability"
)

const (
	DefaultOpenAIEndpoint   = "wss://api.openai.com/v1/realtime"
	DefaultAPIVersion       = "2024-10-01-preview"
	DefaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultMessageBuffer    = 512
)

var (
	ErrClosed        = errors.New("realtime connection closed")
	ErrMissingTarget = errors.New("realtime deployment or model is required")
	ErrMissingHost   = errors.New("azure realtime requires an endpoint")
	ErrMissingKey    = errors.New("realtime api key is required")
)

type Config struct {
	Endpoint          string
	APIKey            string
	DeploymentOrModel string
	Azure             bool
	APIVersion        string
	HandshakeTimeout  time.Duration
	// DialAttempts bounds retries on retryable HTTP handshake statuses.
	DialAttempts int
	RetryBase    time.Duration
	Logger       *log.Logger
	// OnMessage observes every sent and received message type.
	OnMessage func(direction string, t protocol.MessageType)
}

// GuessAzure reports whether an endpoint looks like an Azure OpenAI resource.
func GuessAzure(endpoint string) bool {
	return strings.Contains(strings.ToLower(endpoint), "azure")
}

// Validate reports the first missing connection field.
func (c Config) Validate() error {
	if _, err := c.URL(); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingKey
	}
	return nil
}

// URL returns the websocket URL for the configured provider.
func (c Config) URL() (string, error) {
	target := strings.TrimSpace(c.DeploymentOrModel)
	if target == "" {
		return "", ErrMissingTarget
	}
	if !c.Azure {
		base := strings.TrimSpace(c.Endpoint)
		if base == "" {
			base = DefaultOpenAIEndpoint
		}
		u, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse endpoint: %w", err)
		}
		q := u.Query()
		q.Set("model", target)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return "", ErrMissingHost
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/openai/realtime"
	}
	version := c.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	q := u.Query()
	q.Set("api-version", version)
	q.Set("deployment", target)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Header returns the handshake authentication headers.
func (c Config) Header() http.Header {
	h := http.Header{}
	if c.Azure {
		h.Set("api-key", c.APIKey)
		return h
	}
	h.Set("Authorization", "Bearer "+c.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")
	return h
}

// Client is one realtime websocket connection. Inbound messages are parsed
// and delivered in order on Messages().
type Client struct {
	conn      *websocket.Conn
	logger    *log.Logger
	onMessage func(direction string, t protocol.MessageType)

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	messages  chan any

	errMu sync.Mutex
	err   error
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	target, err := cfg.URL()
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	var conn *websocket.Conn
	for attempt := 0; ; attempt++ {
		var resp *http.Response
		conn, resp, err = dialer.DialContext(ctx, target, cfg.Header())
		if err == nil {
			break
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		if status == 0 || !reliability.IsRetryableHTTPStatus(status) || attempt+1 >= cfg.DialAttempts {
			if status != 0 {
				return nil, fmt.Errorf("dial realtime websocket: status %d: %w", status, err)
			}
			return nil, fmt.Errorf("dial realtime websocket: %w", err)
		}
		wait := reliability.ExponentialBackoff(attempt, cfg.RetryBase, 4*time.Second)
		cfg.Logger.Printf("realtime: handshake status %d, retrying in %s", status, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	c := &Client{
		conn:      conn,
		logger:    cfg.Logger,
		onMessage: cfg.OnMessage,
		closed:    make(chan struct{}),
		messages:  make(chan any, defaultMessageBuffer),
	}
	go c.readLoop()
	return c, nil
}

// Send writes one outbound message. Writes are serialized.
func (c *Client) Send(ctx context.Context, msg any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		return fmt.Errorf("write message: %w", err)
	}
	if t, ok := protocol.TypeOf(msg); ok && c.onMessage != nil {
		c.onMessage("out", t)
	}
	return nil
}

// Messages yields parsed server messages. It is closed when the connection
// ends; Err then reports why.
func (c *Client) Messages() <-chan any { return c.messages }

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(err)
				}
			}
			_ = c.Close()
			return
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			c.logger.Printf("realtime: dropping message: %v", err)
			continue
		}
		if t, ok := protocol.TypeOf(msg); ok && c.onMessage != nil {
			c.onMessage("in", t)
		}
		select {
		case c.messages <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
