// Package reassembly coalesces inbound speech fragments into playback
// segments.
//
// The backend streams synthesised speech as many small fragments. Handing each
// one to the output device individually produces audible gaps, so the buffer
// collects fragments and flushes a merged segment when either enough fragments
// have accumulated or the stream goes quiet for a debounce interval. Merging is
// byte-level concatenation in arrival order: fragments are slices of one
// continuous PCM16 stream, so concatenating before decoding preserves sample
// continuity exactly.
package reassembly

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/kundliapp/voicelink/internal/observe"
	"github.com/kundliapp/voicelink/pkg/audio"
)

const (
	// defaultMaxFragments is the count threshold that triggers an immediate
	// flush. Three 100–200 ms fragments give enough runway for gapless
	// playback without adding noticeable latency.
	defaultMaxFragments = 3

	// defaultFlushAfter is the quiet-period debounce: when no new fragment
	// arrives for this long, whatever is buffered is flushed so the tail of
	// an utterance is never stranded.
	defaultFlushAfter = 100 * time.Millisecond
)

// Config holds the coalescing thresholds.
type Config struct {
	// MaxFragments triggers an immediate flush once this many fragments are
	// buffered. Zero means 3.
	MaxFragments int

	// FlushAfter flushes the buffer after this long without a new fragment.
	// Zero means 100 ms.
	FlushAfter time.Duration
}

// Sink consumes flushed segments. It is called outside the buffer's lock, so
// a sink may call back into the buffer (e.g. [Buffer.Reset]) without
// deadlocking.
type Sink func(seg audio.Segment)

// Buffer accumulates fragments and emits coalesced segments.
//
// All methods are safe for concurrent use, though in practice Add is called
// from the transport's receive goroutine only.
type Buffer struct {
	cfg     Config
	target  audio.Format
	sink    Sink
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	norm     audio.Normalizer
	pending  [][]byte
	pendingB int

	debounced func(func())
}

// Option is a functional option for configuring a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger used by the buffer. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(b *Buffer) { b.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// New creates a Buffer that normalises fragments to the target format and
// delivers coalesced segments to sink.
func New(cfg Config, target audio.Format, sink Sink, opts ...Option) *Buffer {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = defaultMaxFragments
	}
	if cfg.FlushAfter <= 0 {
		cfg.FlushAfter = defaultFlushAfter
	}
	b := &Buffer{
		cfg:       cfg,
		target:    target,
		sink:      sink,
		norm:      audio.Normalizer{Target: target},
		debounced: debounce.New(cfg.FlushAfter),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Add appends one inbound fragment. When the buffered count reaches
// MaxFragments the segment is flushed immediately; otherwise the quiet-period
// timer is (re)armed. Fragments the normaliser rejects are dropped.
func (b *Buffer) Add(frag audio.Fragment) {
	b.mu.Lock()
	pcm := b.norm.Normalize(frag)
	if pcm == nil {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, pcm)
	b.pendingB += len(pcm)
	full := len(b.pending) >= b.cfg.MaxFragments
	b.mu.Unlock()

	if full {
		b.Flush()
		return
	}
	// The debouncer has no cancel; a fire that lands after a Flush or Reset
	// finds an empty pending list and becomes a no-op.
	b.debounced(b.Flush)
}

// Flush emits everything buffered as one segment. A flush with nothing
// buffered is a no-op.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	merged := make([]byte, 0, b.pendingB)
	for _, p := range b.pending {
		merged = append(merged, p...)
	}
	count := len(b.pending)
	b.pending = nil
	b.pendingB = 0
	b.mu.Unlock()

	seg := audio.Segment{
		PCM:        merged,
		SampleRate: b.target.SampleRate,
		Channels:   b.target.Channels,
	}

	ctx := context.Background()
	b.metrics.SegmentsFlushed.Add(ctx, 1)
	b.metrics.SegmentDuration.Record(ctx, audio.Duration(len(merged), b.target))
	b.log.Debug("reassembly: segment flushed",
		"fragments", count,
		"bytes", len(merged),
	)

	b.sink(seg)
}

// Reset discards all buffered fragments without emitting them. Used on
// barge-in and teardown.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.pendingB = 0
	b.mu.Unlock()
}

// Pending returns the number of fragments currently buffered.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
