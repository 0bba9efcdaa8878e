// Package transport implements the WebSocket channel to the voice backend.
//
// The channel speaks a small JSON protocol: outbound "audio" messages carry
// base64-encoded capture blobs, inbound "audio_response" messages carry
// base64-encoded PCM16 speech fragments. A keepalive ping is sent on a fixed
// interval. Inbound messages are dispatched to caller-supplied handlers from a
// single receive goroutine, so handler invocations never overlap.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kundliapp/voicelink/internal/observe"
	"github.com/kundliapp/voicelink/pkg/audio"
)

// ErrNotConnected is returned by [Channel.Connect] preconditions when the
// channel is in a state that does not admit the operation. Note that
// [Channel.SendAudio] deliberately does NOT return this error — sends while
// disconnected are dropped silently so that a capture finishing during a
// network blip cannot crash the session.
var ErrNotConnected = errors.New("transport: not connected")

// defaultKeepaliveInterval is the ping period used when the config leaves
// KeepaliveInterval zero.
const defaultKeepaliveInterval = 30 * time.Second

// State is the connection lifecycle state of a [Channel].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handlers holds the callbacks a [Channel] dispatches inbound events to.
// All callbacks are invoked from the channel's receive goroutine; they must
// not block for long or inbound audio will back up. Nil callbacks are skipped.
type Handlers struct {
	// OnFragment receives each inbound speech fragment.
	OnFragment func(frag audio.Fragment)

	// OnServiceError receives human-readable error messages from the service.
	// These are non-fatal: the connection stays up.
	OnServiceError func(msg string)

	// OnDisconnect fires once when the connection terminates for any reason
	// other than a local Close call. The error describes the cause.
	OnDisconnect func(err error)
}

// Config holds the connection parameters for a [Channel].
type Config struct {
	// Endpoint is the base WebSocket URL of the voice service,
	// e.g. "wss://voice.example.com".
	Endpoint string

	// UserID identifies the connecting user; it becomes the final path
	// element of the WebSocket URL.
	UserID string

	// AstrologerID selects the astrologer persona. Required when Mobile is
	// set; ignored otherwise.
	AstrologerID string

	// Mobile selects the mobile endpoint variant
	// ("/ws-mobile/<user>?astrologer_id=<id>" instead of "/ws/<user>").
	Mobile bool

	// KeepaliveInterval is the ping period. Zero means 30 s.
	KeepaliveInterval time.Duration
}

// Channel is a WebSocket connection to the voice backend.
//
// A Channel is single-use: after Close or a remote disconnect it cannot be
// reconnected — create a new Channel instead. All methods are safe for
// concurrent use.
type Channel struct {
	cfg      Config
	handlers Handlers
	log      *slog.Logger
	metrics  *observe.Metrics

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Option is a functional option for configuring a Channel.
type Option func(*Channel)

// WithLogger sets the logger used by the channel. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// New creates a Channel in the disconnected state. Call [Channel.Connect] to
// establish the connection.
func New(cfg Config, h Handlers, opts ...Option) *Channel {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	c := &Channel{
		cfg:      cfg,
		handlers: h,
		state:    StateDisconnected,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// url builds the WebSocket URL from the config.
func (c *Channel) url() (string, error) {
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if c.cfg.UserID == "" {
		return "", fmt.Errorf("transport: user ID is required")
	}
	if !c.cfg.Mobile {
		return base + "/ws/" + url.PathEscape(c.cfg.UserID), nil
	}
	if c.cfg.AstrologerID == "" {
		return "", fmt.Errorf("transport: astrologer ID is required for the mobile endpoint")
	}
	return base + "/ws-mobile/" + url.PathEscape(c.cfg.UserID) +
		"?astrologer_id=" + url.QueryEscape(c.cfg.AstrologerID), nil
}

// Connect dials the voice service and starts the receive and keepalive
// goroutines. The supplied ctx governs the dial only; the established
// connection lives until [Channel.Close] or a remote disconnect.
//
// Connect may only be called on a disconnected channel.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("transport: connect in state %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	wsURL, err := c.url()
	if err != nil {
		c.setState(StateFailed)
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		c.setState(StateFailed)
		c.metrics.RecordTransportError(context.Background(), "dial")
		return fmt.Errorf("transport: dial: %w", err)
	}
	// Inbound audio fragments can exceed the 32 KiB default read limit.
	conn.SetReadLimit(1 << 22)

	connCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.ctx = connCtx
	c.cancel = cancel
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info("transport: connected", "endpoint", c.cfg.Endpoint, "mobile", c.cfg.Mobile)

	go c.receiveLoop(connCtx, conn)
	go c.keepaliveLoop(connCtx)

	return nil
}

// SendAudio encodes a capture blob and sends it as an "audio" message.
//
// When the channel is not connected the blob is dropped: the drop is logged
// and recorded in metrics, and SendAudio returns nil. Losing one utterance to
// a network blip is acceptable; failing the whole session over it is not.
func (c *Channel) SendAudio(blob []byte, format string) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateConnected {
		c.log.Debug("transport: dropping audio, not connected",
			"state", state.String(),
			"bytes", len(blob),
		)
		c.metrics.RecordAudioSent(context.Background(), format, "dropped")
		return nil
	}

	msg := envelope{
		Type:   typeAudio,
		Data:   base64.StdEncoding.EncodeToString(blob),
		Format: format,
	}
	if err := c.writeJSON(msg); err != nil {
		c.metrics.RecordAudioSent(context.Background(), format, "error")
		return fmt.Errorf("transport: send audio: %w", err)
	}
	c.metrics.RecordAudioSent(context.Background(), format, "sent")
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *Channel) writeJSON(v any) error {
	c.mu.Lock()
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages until the connection terminates, dispatching
// each to the appropriate handler.
func (c *Channel) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Local Close; not a disconnect event.
				return
			}
			c.setState(StateDisconnected)
			c.metrics.RecordTransportError(context.Background(), "read")
			c.log.Warn("transport: connection lost", "error", err)
			if c.handlers.OnDisconnect != nil {
				c.handlers.OnDisconnect(err)
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			c.metrics.RecordTransportError(context.Background(), "malformed")
			c.log.Warn("transport: malformed message, dropping", "error", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Channel) handleMessage(msg *envelope) {
	switch msg.Type {
	case typeAudioResponse:
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil || len(pcm) == 0 {
			c.metrics.RecordTransportError(context.Background(), "malformed")
			c.log.Warn("transport: undecodable audio_response, dropping", "error", err)
			return
		}
		c.metrics.FragmentsReceived.Add(context.Background(), 1)
		if c.handlers.OnFragment != nil {
			c.handlers.OnFragment(audio.Fragment{Data: pcm, MimeType: msg.MimeType})
		}

	case typeError:
		c.log.Warn("transport: service error", "message", msg.Message)
		if c.handlers.OnServiceError != nil {
			c.handlers.OnServiceError(msg.Message)
		}

	case typePong:
		// Keepalive acknowledged; nothing to do.

	default:
		c.log.Debug("transport: ignoring unknown message type", "type", msg.Type)
	}
}

// keepaliveLoop sends a ping on the configured interval until the connection
// context is cancelled.
func (c *Channel) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(envelope{Type: typePing}); err != nil {
				c.log.Debug("transport: keepalive failed", "error", err)
				return
			}
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close terminates the connection and stops the background goroutines.
// Idempotent: closing an already-closed or never-connected channel is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}
	return nil
}
