// Package session owns the lifecycle of one voice consultation: it wires the
// transport channel, reassembly buffer, playback sequencer, and capture
// controller together, starts them as a unit, and tears them down in an order
// that never strands hardware or leaks goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kundliapp/voicelink/internal/capture"
	"github.com/kundliapp/voicelink/internal/observe"
	"github.com/kundliapp/voicelink/internal/playback"
	"github.com/kundliapp/voicelink/internal/reassembly"
	"github.com/kundliapp/voicelink/internal/transport"
	"github.com/kundliapp/voicelink/pkg/audio"
	"github.com/kundliapp/voicelink/pkg/device"
)

// ErrNotStarted is returned by operations that require a live session.
var ErrNotStarted = errors.New("session: not started")

// Config holds everything a session needs beyond the per-call identities.
type Config struct {
	// Endpoint is the voice service base URL, e.g. "wss://voice.example.com".
	Endpoint string

	// Mobile selects the mobile endpoint variant, which requires an
	// astrologer ID per session.
	Mobile bool

	// Transport carries the keepalive settings; Endpoint, UserID,
	// AstrologerID and Mobile on it are overwritten per session.
	Transport transport.Config

	// Capture holds the microphone constraints.
	Capture capture.Config

	// Coalesce holds the fragment coalescing thresholds.
	Coalesce reassembly.Config
}

// Events holds optional lifecycle callbacks. Nil callbacks are skipped.
// Callbacks may fire from the transport's receive goroutine.
type Events struct {
	// OnDisconnect fires when the connection drops mid-session. The session
	// is already quiesced (capture stopped, playback cleared) when it fires.
	OnDisconnect func(err error)

	// OnServiceError relays non-fatal error messages from the service,
	// suitable for showing to the user.
	OnServiceError func(msg string)
}

// Controller manages one voice session at a time. It is restartable: after
// [Controller.End] a new [Controller.Start] opens a fresh session.
//
// All methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	mic     device.Microphone
	out     device.Output
	events  Events
	log     *slog.Logger
	metrics *observe.Metrics

	mu        sync.Mutex
	started   bool
	sessionID string
	channel   *transport.Channel
	buffer    *reassembly.Buffer
	seq       *playback.Sequencer
	rec       *capture.Controller
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller and all pipeline stages
// it creates. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEvents registers lifecycle callbacks.
func WithEvents(e Events) Option {
	return func(c *Controller) { c.events = e }
}

// New creates a Controller over the given devices. The controller owns the
// output device for its lifetime but does not close it; the host application
// created it and closes it on shutdown.
func New(mic device.Microphone, out device.Output, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg: cfg,
		mic: mic,
		out: out,
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

// Start opens a session for the given user. astrologerID is required when the
// config selects the mobile endpoint. Starting while a session is live is an
// error — End the current one first.
func (c *Controller) Start(ctx context.Context, userID, astrologerID string) error {
	sessionID := uuid.NewString()
	log := c.log.With("session_id", sessionID)

	seq := playback.New(c.out,
		playback.WithLogger(log),
		playback.WithMetrics(c.metrics),
	)
	buffer := reassembly.New(c.cfg.Coalesce, audio.DefaultFormat, func(seg audio.Segment) {
		seq.Enqueue(seg)
	},
		reassembly.WithLogger(log),
		reassembly.WithMetrics(c.metrics),
	)

	tcfg := c.cfg.Transport
	tcfg.Endpoint = c.cfg.Endpoint
	tcfg.UserID = userID
	tcfg.AstrologerID = astrologerID
	tcfg.Mobile = c.cfg.Mobile
	channel := transport.New(tcfg, transport.Handlers{
		OnFragment:     buffer.Add,
		OnServiceError: c.handleServiceError,
		OnDisconnect:   c.handleDisconnect,
	},
		transport.WithLogger(log),
		transport.WithMetrics(c.metrics),
	)

	// Barge-in: the instant the user starts talking, pending speech is stale.
	rec := capture.New(c.mic, channel, c.cfg.Capture,
		capture.WithLogger(log),
		capture.WithMetrics(c.metrics),
		capture.WithStartHook(func() {
			seq.ClearAndStop()
			buffer.Reset()
		}),
	)

	// Claim the session before dialling so a concurrent Start cannot pass the
	// started-check during the connect and overwrite a live pipeline.
	c.mu.Lock()
	if c.started {
		liveID := c.sessionID
		c.mu.Unlock()
		seq.Close()
		return fmt.Errorf("session: already started (id %s)", liveID)
	}
	c.started = true
	c.sessionID = sessionID
	c.channel = channel
	c.buffer = buffer
	c.seq = seq
	c.rec = rec
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(context.Background(), 1)

	if err := channel.Connect(ctx); err != nil {
		// Roll back the claim unless End already tore the session down while
		// the dial was in flight.
		c.mu.Lock()
		if c.started && c.sessionID == sessionID {
			c.started = false
			c.sessionID = ""
			c.channel, c.buffer, c.seq, c.rec = nil, nil, nil, nil
			c.mu.Unlock()
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		} else {
			c.mu.Unlock()
		}
		seq.Close()
		return fmt.Errorf("session: connect: %w", err)
	}

	log.Info("session: started", "user_id", userID, "mobile", c.cfg.Mobile)
	return nil
}

// End closes the session: stops any capture in progress, cancels playback,
// and closes the connection. Idempotent — ending an already-ended or
// never-started session returns nil.
func (c *Controller) End() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	sessionID := c.sessionID
	channel, seq, rec := c.channel, c.seq, c.rec
	c.channel, c.buffer, c.seq, c.rec = nil, nil, nil, nil
	c.mu.Unlock()

	// Capture first so the microphone is released even if later steps fail,
	// then playback, then the connection.
	var errs []error
	if err := rec.Stop(); err != nil {
		errs = append(errs, err)
	}
	seq.ClearAndStop()
	if err := seq.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := channel.Close(); err != nil {
		errs = append(errs, err)
	}

	c.metrics.ActiveSessions.Add(context.Background(), -1)
	c.log.Info("session: ended", "session_id", sessionID)
	return errors.Join(errs...)
}

// handleDisconnect quiesces the pipeline when the connection drops. The
// session stays "started" in the sense that End still runs the full teardown;
// only the already-dead channel close becomes a no-op.
func (c *Controller) handleDisconnect(err error) {
	c.mu.Lock()
	seq, rec := c.seq, c.rec
	sessionID := c.sessionID
	c.mu.Unlock()

	if seq == nil {
		return
	}

	c.log.Warn("session: connection lost", "session_id", sessionID, "error", err)
	if stopErr := rec.Stop(); stopErr != nil {
		c.log.Warn("session: stop capture after disconnect", "error", stopErr)
	}
	seq.ClearAndStop()

	if c.events.OnDisconnect != nil {
		c.events.OnDisconnect(err)
	}
}

func (c *Controller) handleServiceError(msg string) {
	c.log.Warn("session: service error", "message", msg)
	if c.events.OnServiceError != nil {
		c.events.OnServiceError(msg)
	}
}

// StartCapture begins a microphone burst on the live session.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return ErrNotStarted
	}
	return rec.Start(ctx)
}

// StopCapture ends the microphone burst and sends the captured audio.
func (c *Controller) StopCapture() error {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return ErrNotStarted
	}
	return rec.Stop()
}

// SessionID returns the ID of the live session, or "" when none is live.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ""
	}
	return c.sessionID
}

// ConnectionState reports the transport state of the live session, or
// [transport.StateDisconnected] when no session is live.
func (c *Controller) ConnectionState() transport.State {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return transport.StateDisconnected
	}
	return channel.State()
}

// IsRecording reports whether a capture burst is in progress.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	return rec != nil && rec.IsRecording()
}

// IsSpeaking reports whether synthesised speech is playing or queued.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()
	return seq != nil && seq.IsSpeaking()
}
