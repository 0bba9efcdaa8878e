// Package device defines the interfaces for the audio hardware collaborators
// of the voicelink pipeline: the microphone that produces capture chunks and
// the output device that plays decoded speech.
//
// The interfaces are intentionally narrow so that the pipeline stays decoupled
// from any particular OS audio stack. This package lives under pkg/ because
// host applications are expected to supply their own implementations (a web
// runtime bridge, a mobile audio session, a test double).
package device

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Microphone.Start] when the user or OS
// refuses microphone access. Callers surface this to the user and must not
// retry automatically — access can only be granted by explicit user action.
var ErrPermissionDenied = errors.New("device: microphone permission denied")

// CaptureConfig holds the constraints passed to [Microphone.Start].
type CaptureConfig struct {
	// SampleRate in Hz requested from the device (24000 for voicelink).
	SampleRate int

	// Channels is the requested channel count (1 for voicelink).
	Channels int

	// EchoCancellation enables the device's acoustic echo canceller.
	EchoCancellation bool

	// NoiseSuppression enables the device's noise suppression filter.
	NoiseSuppression bool

	// ChunkInterval is the period between data-available events on the
	// returned stream. Zero means the implementation's default (100 ms).
	ChunkInterval time.Duration
}

// Microphone grants access to the capture hardware.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Start requests microphone access with the given constraints and begins
	// capturing. It blocks until the user/OS grants or denies access; denial
	// is reported as [ErrPermissionDenied]. The supplied ctx governs the
	// permission request only — once started, the stream remains live until
	// [Stream.Stop] is called.
	Start(ctx context.Context, cfg CaptureConfig) (Stream, error)
}

// Stream is one live microphone capture.
type Stream interface {
	// Chunks returns the channel delivering binary capture chunks, one per
	// data-available tick. The channel is closed when the stream stops.
	Chunks() <-chan []byte

	// Format returns the encoding tag of the chunk data as produced by the
	// device, e.g. "webm" for container-producing recorders or "pcm" for
	// devices that yield raw little-endian PCM16. The tag must stay the same
	// for the stream's whole life; consumers may read it at any point.
	Format() string

	// Stop ends the capture and releases the hardware. Safe to call more
	// than once; subsequent calls are no-ops and return nil.
	Stop() error
}

// Output grants access to the playback hardware.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Prepare decodes float32 samples (range [-1, 1)) into a device-native
	// buffer and returns a one-shot [Source] ready to play it.
	Prepare(samples []float32, sampleRate, channels int) (Source, error)

	// Close releases the output device. Sources created earlier must not be
	// started afterwards.
	Close() error
}

// Source is a single playable buffer. Sources are one-shot: once started they
// play to completion (or until stopped) and cannot be restarted.
type Source interface {
	// Start begins playback asynchronously.
	Start() error

	// Stop cancels playback immediately. Safe to call on a source that
	// already finished; the call is then a no-op.
	Stop() error

	// Done returns a channel that is closed when playback ends, whether it
	// ran to completion or was stopped.
	Done() <-chan struct{}
}
