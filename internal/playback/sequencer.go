// Package playback plays coalesced speech segments through an output device,
// strictly one at a time and in arrival order.
//
// The sequencer is a small state machine: idle until a segment arrives, then
// playing until the queue drains. Each segment is decoded to float32 samples,
// handed to the device, and the next one starts only when the device signals
// completion, so segments never overlap and never reorder. A failing segment
// is logged and skipped; playback continues with the next one.
package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kundliapp/voicelink/internal/observe"
	"github.com/kundliapp/voicelink/pkg/audio"
	"github.com/kundliapp/voicelink/pkg/device"
)

// Sequencer serialises segment playback on an output device.
//
// All methods are safe for concurrent use.
type Sequencer struct {
	out     device.Output
	log     *slog.Logger
	metrics *observe.Metrics
	onError func(error)

	mu      sync.Mutex
	queue   []audio.Segment
	playing bool
	closed  bool
	current device.Source

	// gen invalidates in-flight completion watchers: ClearAndStop bumps it,
	// and a watcher whose generation no longer matches must not advance the
	// queue (its source belongs to a cancelled run).
	gen uint64
}

// Option is a functional option for configuring a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger used by the sequencer. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Sequencer) { s.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithErrorHandler registers a callback invoked for each segment that fails
// to decode or play. The failing segment is skipped either way.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Sequencer) { s.onError = fn }
}

// New creates a Sequencer that plays through out. The sequencer does not own
// the output device: [Sequencer.Close] stops playback but leaves out open.
func New(out device.Output, opts ...Option) *Sequencer {
	s := &Sequencer{out: out}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Enqueue appends a segment to the playback queue. If the sequencer is idle,
// playback starts immediately. Enqueue after Close is a silent drop.
func (s *Sequencer) Enqueue(seg audio.Segment) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, seg)
	s.metrics.QueueDepth.Add(context.Background(), 1)
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	s.advanceLocked()
	s.mu.Unlock()
}

// advanceLocked starts the next playable segment from the queue, skipping
// segments that fail to decode or start. Called with s.mu held; leaves the
// sequencer idle when the queue drains.
func (s *Sequencer) advanceLocked() {
	ctx := context.Background()
	for len(s.queue) > 0 {
		seg := s.queue[0]
		s.queue = s.queue[1:]
		s.metrics.QueueDepth.Add(ctx, -1)

		samples, err := audio.DecodePCM16(seg.PCM)
		if err != nil {
			s.segmentFailedLocked("decode", err)
			continue
		}
		src, err := s.out.Prepare(samples, seg.SampleRate, seg.Channels)
		if err != nil {
			s.segmentFailedLocked("prepare", err)
			continue
		}
		if err := src.Start(); err != nil {
			s.segmentFailedLocked("start", err)
			continue
		}

		s.current = src
		gen := s.gen
		go s.watch(src, gen)
		return
	}

	s.playing = false
	s.current = nil
}

// segmentFailedLocked records a per-segment failure. The error handler runs
// on its own goroutine so it can safely call back into the sequencer.
func (s *Sequencer) segmentFailedLocked(stage string, err error) {
	s.log.Warn("playback: segment failed, skipping", "stage", stage, "error", err)
	s.metrics.RecordSegmentPlayed(context.Background(), "error")
	if s.onError != nil {
		go s.onError(err)
	}
}

// watch waits for src to finish and advances the queue, unless a ClearAndStop
// invalidated this generation in the meantime.
func (s *Sequencer) watch(src device.Source, gen uint64) {
	<-src.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		return
	}
	s.metrics.RecordSegmentPlayed(context.Background(), "ok")
	s.current = nil
	s.advanceLocked()
}

// ClearAndStop empties the queue and cancels the currently playing segment.
// The sequencer returns to idle and is immediately ready for new segments.
// This is the barge-in path: the user started speaking, so queued speech is
// stale and must not play.
func (s *Sequencer) ClearAndStop() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	if dropped > 0 {
		s.metrics.QueueDepth.Add(context.Background(), -int64(dropped))
	}
	s.gen++
	current := s.current
	s.current = nil
	s.playing = false
	s.mu.Unlock()

	if current != nil {
		if err := current.Stop(); err != nil {
			s.log.Debug("playback: stop current source", "error", err)
		}
	}
	if dropped > 0 || current != nil {
		s.log.Debug("playback: cleared", "dropped", dropped, "interrupted", current != nil)
	}
}

// IsSpeaking reports whether a segment is currently playing or queued.
func (s *Sequencer) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// QueueLen returns the number of segments waiting behind the current one.
func (s *Sequencer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops playback and rejects further segments. It does not close the
// output device, which the session controller owns. Idempotent.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.ClearAndStop()
	return nil
}
