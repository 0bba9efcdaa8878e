// Package capture drives the microphone: it starts a capture burst on demand,
// collects the chunks the device emits, and on stop concatenates them into a
// single blob and hands it to the transport.
//
// Capture is push-to-talk shaped: one Start/Stop cycle produces exactly one
// uplink blob. The controller owns no connection — it only needs something
// that can send audio, which keeps it testable without a live transport.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kundliapp/voicelink/internal/observe"
	"github.com/kundliapp/voicelink/pkg/device"
)

// ErrPermissionDenied is returned by [Controller.Start] when microphone access
// is refused. It wraps [device.ErrPermissionDenied].
var ErrPermissionDenied = fmt.Errorf("capture: %w", device.ErrPermissionDenied)

// AudioSender is the uplink the controller delivers finished blobs to.
// *transport.Channel satisfies it.
type AudioSender interface {
	SendAudio(blob []byte, format string) error
}

// Config holds the capture constraints.
type Config struct {
	// SampleRate in Hz requested from the microphone. Zero means 24000.
	SampleRate int

	// Channels requested from the microphone. Zero means 1.
	Channels int

	// EchoCancellation enables the device's echo canceller.
	EchoCancellation bool

	// NoiseSuppression enables the device's noise filter.
	NoiseSuppression bool

	// ChunkInterval is the device's data-available period. Zero means the
	// device default.
	ChunkInterval time.Duration

	// EncodeOpus compresses raw-PCM capture bursts to Opus before sending.
	// Ignored for devices that already produce a container format.
	EncodeOpus bool
}

// Controller runs one microphone capture burst at a time.
//
// All methods are safe for concurrent use.
type Controller struct {
	mic     device.Microphone
	sender  AudioSender
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	// startHook runs at the beginning of each successful Start. The session
	// controller uses it for barge-in: cancel pending playback the moment
	// the user starts talking.
	startHook func()

	mu        sync.Mutex
	recording bool
	starting  bool
	aborted   bool
	stream    device.Stream
	chunks    [][]byte
	startedAt time.Time
	collected chan struct{}
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithStartHook registers a callback invoked synchronously at the start of
// each capture burst, before the microphone is opened.
func WithStartHook(fn func()) Option {
	return func(c *Controller) { c.startHook = fn }
}

// New creates a Controller capturing from mic and delivering to sender.
func New(mic device.Microphone, sender AudioSender, cfg Config, opts ...Option) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	c := &Controller{
		mic:    mic,
		sender: sender,
		cfg:    cfg,
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

// Start begins a capture burst. Starting while already recording is a no-op.
// Permission refusal is reported as [ErrPermissionDenied]; callers must not
// retry automatically.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.recording || c.starting {
		c.mu.Unlock()
		return nil
	}
	// recording stays false until the stream is stored: the device may block
	// for the whole permission prompt, and Stop must never see a half-open
	// burst. starting keeps a second Start a no-op in the meantime.
	c.starting = true
	c.mu.Unlock()

	if c.startHook != nil {
		c.startHook()
	}

	stream, err := c.mic.Start(ctx, device.CaptureConfig{
		SampleRate:       c.cfg.SampleRate,
		Channels:         c.cfg.Channels,
		EchoCancellation: c.cfg.EchoCancellation,
		NoiseSuppression: c.cfg.NoiseSuppression,
		ChunkInterval:    c.cfg.ChunkInterval,
	})

	c.mu.Lock()
	aborted := c.aborted
	c.starting = false
	c.aborted = false

	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, device.ErrPermissionDenied) {
			c.log.Warn("capture: microphone permission denied")
			return ErrPermissionDenied
		}
		return fmt.Errorf("capture: start microphone: %w", err)
	}

	if aborted {
		c.mu.Unlock()
		// Stop ran while the device was still opening; release the stream
		// instead of starting an orphaned burst.
		if err := stream.Stop(); err != nil {
			c.log.Warn("capture: stop microphone after aborted start", "error", err)
		}
		c.log.Debug("capture: start aborted by stop")
		return nil
	}

	collected := make(chan struct{})
	c.recording = true
	c.stream = stream
	c.chunks = nil
	c.startedAt = time.Now()
	c.collected = collected
	c.mu.Unlock()

	go c.collect(stream, collected)

	c.log.Debug("capture: started", "format", stream.Format())
	return nil
}

// collect drains the stream's chunk channel into the burst buffer. It exits
// when the stream stops (channel closed) and signals done.
func (c *Controller) collect(stream device.Stream, done chan<- struct{}) {
	for chunk := range stream.Chunks() {
		c.mu.Lock()
		c.chunks = append(c.chunks, chunk)
		c.mu.Unlock()
	}
	close(done)
}

// Stop ends the capture burst, releases the microphone, and sends the
// concatenated audio. Stopping while not recording is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.starting {
		// The device is still opening; flag the pending Start so it releases
		// the stream the moment it lands. Nothing was captured yet.
		c.aborted = true
		c.mu.Unlock()
		return nil
	}
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = false
	stream := c.stream
	collected := c.collected
	startedAt := c.startedAt
	c.stream = nil
	c.collected = nil
	c.mu.Unlock()

	// Stop closes the chunk channel; wait for the collector to drain the
	// final chunk before assembling the blob.
	if err := stream.Stop(); err != nil {
		c.log.Warn("capture: stop microphone", "error", err)
	}
	<-collected

	c.mu.Lock()
	chunks := c.chunks
	c.chunks = nil
	c.mu.Unlock()

	var size int
	for _, ch := range chunks {
		size += len(ch)
	}
	blob := make([]byte, 0, size)
	for _, ch := range chunks {
		blob = append(blob, ch...)
	}

	c.metrics.CaptureDuration.Record(context.Background(), time.Since(startedAt).Seconds())

	if len(blob) == 0 {
		c.log.Debug("capture: empty burst, nothing to send")
		return nil
	}

	format := stream.Format()
	if format == "pcm" && c.cfg.EncodeOpus {
		blob, format = c.maybeEncodeOpus(blob)
	}

	c.log.Debug("capture: sending burst", "bytes", len(blob), "format", format)
	if err := c.sender.SendAudio(blob, format); err != nil {
		return fmt.Errorf("capture: send: %w", err)
	}
	return nil
}

// maybeEncodeOpus compresses a raw PCM burst to Opus. On any encoder failure
// the raw PCM is sent instead — a bigger payload beats a lost utterance.
func (c *Controller) maybeEncodeOpus(pcm []byte) (blob []byte, format string) {
	enc, err := newOpusEncoder(c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		c.log.Warn("capture: opus encoder unavailable, sending raw pcm", "error", err)
		return pcm, "pcm"
	}
	encoded, err := enc.encodeAll(pcm)
	if err != nil {
		c.log.Warn("capture: opus encode failed, sending raw pcm", "error", err)
		return pcm, "pcm"
	}
	c.log.Debug("capture: opus encoded",
		"pcm_bytes", len(pcm),
		"opus_bytes", len(encoded),
	)
	return encoded, "opus"
}

// IsRecording reports whether a capture burst is in progress.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}
