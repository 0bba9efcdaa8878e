package reassembly_test

import (
	"sync"
	"testing"
	"time"

	"github.com/kundliapp/voicelink/internal/reassembly"
	"github.com/kundliapp/voicelink/pkg/audio"
)

// segmentRecorder is a Sink that records every flushed segment.
type segmentRecorder struct {
	mu       sync.Mutex
	segments []audio.Segment
	notify   chan struct{}
}

func newSegmentRecorder() *segmentRecorder {
	return &segmentRecorder{notify: make(chan struct{}, 16)}
}

func (r *segmentRecorder) sink(seg audio.Segment) {
	r.mu.Lock()
	r.segments = append(r.segments, seg)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *segmentRecorder) all() []audio.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audio.Segment, len(r.segments))
	copy(out, r.segments)
	return out
}

func (r *segmentRecorder) waitForSegment(t *testing.T, timeout time.Duration) audio.Segment {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for flushed segment")
	}
	segs := r.all()
	return segs[len(segs)-1]
}

func pcmFrag(data ...byte) audio.Fragment {
	return audio.Fragment{Data: data}
}

func TestAdd_FlushesAtMaxFragments(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{
		MaxFragments: 3,
		FlushAfter:   time.Hour, // debounce must not be the trigger here
	}, audio.DefaultFormat, rec.sink)

	buf.Add(pcmFrag(0x01, 0x02))
	buf.Add(pcmFrag(0x03, 0x04))
	if got := buf.Pending(); got != 2 {
		t.Fatalf("Pending after 2 adds = %d; want 2", got)
	}
	if len(rec.all()) != 0 {
		t.Fatal("segment flushed before reaching max fragments")
	}

	buf.Add(pcmFrag(0x05, 0x06))
	seg := rec.waitForSegment(t, time.Second)

	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if string(seg.PCM) != string(want) {
		t.Errorf("segment PCM = %v; want %v (byte-level concatenation in order)", seg.PCM, want)
	}
	if seg.SampleRate != 24000 || seg.Channels != 1 {
		t.Errorf("segment format = %d/%d; want 24000/1", seg.SampleRate, seg.Channels)
	}
	if got := buf.Pending(); got != 0 {
		t.Errorf("Pending after flush = %d; want 0", got)
	}
}

func TestAdd_FlushesAfterQuietPeriod(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{
		MaxFragments: 100, // count must not be the trigger here
		FlushAfter:   30 * time.Millisecond,
	}, audio.DefaultFormat, rec.sink)

	buf.Add(pcmFrag(0x01, 0x02))
	buf.Add(pcmFrag(0x03, 0x04))

	seg := rec.waitForSegment(t, time.Second)
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if string(seg.PCM) != string(want) {
		t.Errorf("segment PCM = %v; want %v", seg.PCM, want)
	}
}

func TestAdd_DebounceResetByNewFragment(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{
		MaxFragments: 100,
		FlushAfter:   80 * time.Millisecond,
	}, audio.DefaultFormat, rec.sink)

	// Keep adding faster than the quiet period: no flush may happen while
	// fragments keep arriving.
	for range 4 {
		buf.Add(pcmFrag(0x01, 0x02))
		time.Sleep(20 * time.Millisecond)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("flushed %d segments while stream was active; want 0", n)
	}

	// Then go quiet: exactly one flush with everything.
	seg := rec.waitForSegment(t, time.Second)
	if len(seg.PCM) != 8 {
		t.Errorf("segment bytes = %d; want 8", len(seg.PCM))
	}
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{}, audio.DefaultFormat, rec.sink)

	buf.Flush()
	if n := len(rec.all()); n != 0 {
		t.Errorf("empty Flush emitted %d segments; want 0", n)
	}
}

func TestReset_DiscardsPending(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{
		MaxFragments: 100,
		FlushAfter:   30 * time.Millisecond,
	}, audio.DefaultFormat, rec.sink)

	buf.Add(pcmFrag(0x01, 0x02))
	buf.Reset()
	if got := buf.Pending(); got != 0 {
		t.Fatalf("Pending after Reset = %d; want 0", got)
	}

	// The already-armed debounce timer may still fire; it must find nothing.
	time.Sleep(100 * time.Millisecond)
	if n := len(rec.all()); n != 0 {
		t.Errorf("segment flushed after Reset; want none")
	}
}

func TestAdd_NormalisesMismatchedFormat(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{
		MaxFragments: 1, // flush immediately
	}, audio.DefaultFormat, rec.sink)

	// A 48 kHz fragment must be downsampled to 24 kHz: 4 samples in, 2 out.
	in := audio.Int16sToBytes([]int16{100, 200, 300, 400})
	buf.Add(audio.Fragment{Data: in, MimeType: "audio/pcm;rate=48000"})

	seg := rec.waitForSegment(t, time.Second)
	if got := len(seg.PCM); got != 4 {
		t.Errorf("resampled segment bytes = %d; want 4", got)
	}
	if seg.SampleRate != 24000 {
		t.Errorf("segment rate = %d; want 24000", seg.SampleRate)
	}
}

func TestAdd_DropsOddByteFragment(t *testing.T) {
	t.Parallel()

	rec := newSegmentRecorder()
	buf := reassembly.New(reassembly.Config{MaxFragments: 1}, audio.DefaultFormat, rec.sink)

	buf.Add(pcmFrag(0x01)) // truncated sample
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.all()); n != 0 {
		t.Errorf("odd-byte fragment was flushed; want dropped")
	}
	if got := buf.Pending(); got != 0 {
		t.Errorf("Pending = %d; want 0", got)
	}
}

func TestSink_MayCallBackIntoBuffer(t *testing.T) {
	t.Parallel()

	var buf *reassembly.Buffer
	done := make(chan struct{})
	sink := func(seg audio.Segment) {
		// A sink resetting the buffer (barge-in path) must not deadlock.
		buf.Reset()
		close(done)
	}
	buf = reassembly.New(reassembly.Config{MaxFragments: 1}, audio.DefaultFormat, sink)

	buf.Add(pcmFrag(0x01, 0x02))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink deadlocked calling back into buffer")
	}
}
