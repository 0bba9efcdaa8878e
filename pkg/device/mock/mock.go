// Package mock provides in-memory mock implementations of the
// [device.Microphone], [device.Stream], [device.Output], and [device.Source]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream("pcm")
//	mic := &mock.Microphone{StreamResult: stream}
//	out := mock.NewOutput()
//	// ... run the pipeline, then:
//	stream.Emit([]byte{1, 2})
//	out.FinishAll()
package mock

import (
	"context"
	"sync"

	"github.com/kundliapp/voicelink/pkg/device"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [device.Microphone].
// Set the exported Result fields before use; inspect the Call* fields after.
type Microphone struct {
	mu sync.Mutex

	// StartErr is returned by [Microphone.Start] when non-nil.
	StartErr error

	// StreamResult is returned by [Microphone.Start]. If nil, a fresh
	// [Stream] with format "pcm" is created per call.
	StreamResult *Stream

	// StartBarrier, when non-nil, makes [Microphone.Start] block until the
	// channel is closed. Models a device waiting on the OS permission prompt.
	StartBarrier chan struct{}

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// LastConfig holds the config from the most recent Start call.
	LastConfig device.CaptureConfig

	// Streams holds every stream handed out, in order.
	Streams []*Stream
}

// Start implements [device.Microphone]. Blocking on StartBarrier happens
// outside the lock so the accessors stay usable while Start is pending.
func (m *Microphone) Start(_ context.Context, cfg device.CaptureConfig) (device.Stream, error) {
	m.mu.Lock()
	m.CallCountStart++
	m.LastConfig = cfg
	barrier := m.StartBarrier
	m.mu.Unlock()

	if barrier != nil {
		<-barrier
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	s := m.StreamResult
	if s == nil {
		s = NewStream("pcm")
	}
	m.Streams = append(m.Streams, s)
	return s, nil
}

// StartCalls returns the number of Start calls so far. Safe to poll from a
// test goroutine while a Start is blocked on StartBarrier.
func (m *Microphone) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountStart
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [device.Stream]. Use [Stream.Emit] to
// simulate data-available events.
type Stream struct {
	mu sync.Mutex

	// FormatResult is returned by [Stream.Format].
	FormatResult string

	// StopErr is returned by the first [Stream.Stop] call.
	StopErr error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	chunks  chan []byte
	stopped bool
}

// NewStream creates a mock stream that reports the given format tag.
func NewStream(format string) *Stream {
	return &Stream{
		FormatResult: format,
		chunks:       make(chan []byte, 64),
	}
}

// Emit delivers one capture chunk to the stream's consumer. Emit after Stop
// is a no-op.
func (s *Stream) Emit(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.chunks <- chunk
}

// Chunks implements [device.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

// Format implements [device.Stream].
func (s *Stream) Format() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// StopCount returns the number of Stop calls so far. Safe to poll from a test
// goroutine while the pipeline is running.
func (s *Stream) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// Stop implements [device.Stream]. The first call closes the chunk channel.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.chunks)
	return s.StopErr
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock implementation of [device.Output]. Every Prepare call
// records the samples it received and returns a new [Source]; tests drive
// playback completion via [Source.Finish] or [Output.FinishAll].
type Output struct {
	mu sync.Mutex

	// PrepareFunc, when non-nil, overrides the default Prepare behaviour.
	// Use it to inject per-call errors.
	PrepareFunc func(samples []float32, sampleRate, channels int) (device.Source, error)

	// CloseErr is returned by [Output.Close].
	CloseErr error

	// CallCountPrepare records how many times Prepare was called.
	CallCountPrepare int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Prepared holds a copy of the samples from each Prepare call, in order.
	Prepared [][]float32

	// Sources holds every source handed out, in order.
	Sources []*Source
}

// NewOutput creates a mock output device.
func NewOutput() *Output { return &Output{} }

// Prepare implements [device.Output].
func (o *Output) Prepare(samples []float32, sampleRate, channels int) (device.Source, error) {
	o.mu.Lock()
	o.CallCountPrepare++
	cp := make([]float32, len(samples))
	copy(cp, samples)
	o.Prepared = append(o.Prepared, cp)
	fn := o.PrepareFunc
	o.mu.Unlock()

	if fn != nil {
		src, err := fn(samples, sampleRate, channels)
		if err != nil {
			return nil, err
		}
		if s, ok := src.(*Source); ok {
			o.mu.Lock()
			o.Sources = append(o.Sources, s)
			o.mu.Unlock()
		}
		return src, nil
	}

	src := NewSource()
	o.mu.Lock()
	o.Sources = append(o.Sources, src)
	o.mu.Unlock()
	return src, nil
}

// Close implements [device.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseErr
}

// PrepareCount returns the number of Prepare calls so far. Safe to poll from
// a test goroutine while the pipeline is running.
func (o *Output) PrepareCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountPrepare
}

// Source returns the i-th source handed out, or nil if fewer exist.
func (o *Output) Source(i int) *Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.Sources) {
		return nil
	}
	return o.Sources[i]
}

// PreparedAt returns the samples from the i-th Prepare call, or nil if fewer
// calls happened.
func (o *Output) PreparedAt(i int) []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.Prepared) {
		return nil
	}
	return o.Prepared[i]
}

// CloseCount returns the number of Close calls so far.
func (o *Output) CloseCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose
}

// FinishAll completes every source that was started but has not finished.
func (o *Output) FinishAll() {
	o.mu.Lock()
	sources := make([]*Source, len(o.Sources))
	copy(sources, o.Sources)
	o.mu.Unlock()
	for _, s := range sources {
		s.Finish()
	}
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [device.Source]. Playback never completes
// on its own; tests call [Source.Finish] to simulate the natural
// end-of-playback event, or assert that [Source.Stop] cancelled it.
type Source struct {
	mu sync.Mutex

	// StartErr is returned by [Source.Start] when non-nil.
	StartErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	done     chan struct{}
	finished bool
}

// NewSource creates a mock source.
func NewSource() *Source {
	return &Source{done: make(chan struct{})}
}

// Start implements [device.Source].
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartErr
}

// Stop implements [device.Source]. It closes the done channel like a real
// device cancelling playback.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.finishLocked()
	return nil
}

// Done implements [device.Source].
func (s *Source) Done() <-chan struct{} { return s.done }

// StartCount returns the number of Start calls so far.
func (s *Source) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStart
}

// StopCount returns the number of Stop calls so far.
func (s *Source) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// Finish simulates the natural end-of-playback event. Safe to call more than
// once.
func (s *Source) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

// Finished reports whether the source has completed (naturally or via Stop).
func (s *Source) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Source) finishLocked() {
	if s.finished {
		return
	}
	s.finished = true
	close(s.done)
}
