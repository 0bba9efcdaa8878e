package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kundliapp/voicelink/internal/capture"
	"github.com/kundliapp/voicelink/pkg/device"
	"github.com/kundliapp/voicelink/pkg/device/mock"
)

// senderRecorder records every SendAudio call.
type senderRecorder struct {
	mu    sync.Mutex
	blobs [][]byte
	fmts  []string
	err   error
}

func (s *senderRecorder) SendAudio(blob []byte, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append(s.blobs, blob)
	s.fmts = append(s.fmts, format)
	return s.err
}

func (s *senderRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func (s *senderRecorder) last() ([]byte, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blobs) == 0 {
		return nil, ""
	}
	return s.blobs[len(s.blobs)-1], s.fmts[len(s.fmts)-1]
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout: " + msg)
}

func TestStartStop_SendsConcatenatedBurst(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream("webm")
	mic := &mock.Microphone{StreamResult: stream}
	sender := &senderRecorder{}
	c := capture.New(mic, sender, capture.Config{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRecording() {
		t.Fatal("IsRecording = false after Start; want true")
	}

	stream.Emit([]byte{0x01, 0x02})
	stream.Emit([]byte{0x03})
	stream.Emit([]byte{0x04, 0x05})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after Stop; want false")
	}

	blob, format := sender.last()
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if string(blob) != string(want) {
		t.Errorf("sent blob = %v; want %v (chunks concatenated in order)", blob, want)
	}
	if format != "webm" {
		t.Errorf("sent format = %q; want webm", format)
	}
	if got := stream.CallCountStop; got != 1 {
		t.Errorf("stream Stop calls = %d; want 1 (hardware must be released)", got)
	}
}

func TestStart_WhileRecordingIsNoop(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{StreamResult: mock.NewStream("webm")}
	c := capture.New(mic, &senderRecorder{}, capture.Config{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := mic.CallCountStart; got != 1 {
		t.Errorf("microphone Start calls = %d; want 1", got)
	}
}

func TestStop_WhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	sender := &senderRecorder{}
	c := capture.New(&mock.Microphone{}, sender, capture.Config{})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop while idle: %v", err)
	}
	if sender.count() != 0 {
		t.Error("Stop while idle sent audio; want nothing")
	}
}

func TestStop_DuringPendingStart(t *testing.T) {
	t.Parallel()

	// The device blocks in Start for as long as the OS permission prompt is
	// open; a Stop in that window must not blow up and must not leak the
	// stream the device eventually hands out.
	stream := mock.NewStream("pcm")
	mic := &mock.Microphone{StreamResult: stream, StartBarrier: make(chan struct{})}
	c := capture.New(mic, &senderRecorder{}, capture.Config{})

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()
	waitFor(t, 2*time.Second, func() bool { return mic.StartCalls() == 1 },
		"microphone Start not entered")

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop during pending Start: %v", err)
	}

	close(mic.StartBarrier)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return stream.StopCount() == 1 },
		"aborted start did not release the stream")
	if c.IsRecording() {
		t.Error("IsRecording = true after aborted start; want false")
	}

	// The controller must be usable for a fresh burst afterwards.
	mic.StartBarrier = nil
	mic.StreamResult = mock.NewStream("pcm")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after aborted burst: %v", err)
	}
	if !c.IsRecording() {
		t.Error("IsRecording = false after fresh Start; want true")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStop_EmptyBurstSendsNothing(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream("webm")
	mic := &mock.Microphone{StreamResult: stream}
	sender := &senderRecorder{}
	c := capture.New(mic, sender, capture.Config{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sender.count() != 0 {
		t.Error("empty burst was sent; want nothing")
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{StartErr: device.ErrPermissionDenied}
	c := capture.New(mic, &senderRecorder{}, capture.Config{})

	err := c.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start error = %v; want ErrPermissionDenied", err)
	}
	if !errors.Is(err, device.ErrPermissionDenied) {
		t.Error("error does not wrap device.ErrPermissionDenied")
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after failed Start; want false")
	}

	// The controller must be usable for a later attempt once access is
	// granted by user action.
	mic.StartErr = nil
	mic.StreamResult = mock.NewStream("webm")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after grant: %v", err)
	}
}

func TestStart_GenericDeviceError(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{StartErr: errors.New("device wedged")}
	c := capture.New(mic, &senderRecorder{}, capture.Config{})

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded; want error")
	}
	if errors.Is(err, capture.ErrPermissionDenied) {
		t.Error("generic device error reported as permission denial")
	}
}

func TestStart_InvokesStartHook(t *testing.T) {
	t.Parallel()

	hooked := 0
	mic := &mock.Microphone{StreamResult: mock.NewStream("webm")}
	c := capture.New(mic, &senderRecorder{}, capture.Config{},
		capture.WithStartHook(func() { hooked++ }))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if hooked != 1 {
		t.Errorf("start hook calls = %d; want 1", hooked)
	}

	// A redundant Start must not re-fire the hook.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if hooked != 1 {
		t.Errorf("start hook calls after redundant Start = %d; want 1", hooked)
	}
}

func TestConfig_PassedToDevice(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{StreamResult: mock.NewStream("webm")}
	c := capture.New(mic, &senderRecorder{}, capture.Config{
		EchoCancellation: true,
		NoiseSuppression: true,
		ChunkInterval:    100 * time.Millisecond,
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg := mic.LastConfig
	if cfg.SampleRate != 24000 || cfg.Channels != 1 {
		t.Errorf("device format = %d/%d; want 24000/1 defaults", cfg.SampleRate, cfg.Channels)
	}
	if !cfg.EchoCancellation || !cfg.NoiseSuppression {
		t.Error("echo cancellation / noise suppression not forwarded")
	}
	if cfg.ChunkInterval != 100*time.Millisecond {
		t.Errorf("chunk interval = %v; want 100ms", cfg.ChunkInterval)
	}
}

func TestStop_SendErrorPropagates(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream("webm")
	mic := &mock.Microphone{StreamResult: stream}
	sender := &senderRecorder{err: errors.New("uplink rejected")}
	c := capture.New(mic, sender, capture.Config{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Emit([]byte{0x01, 0x02})

	if err := c.Stop(); err == nil {
		t.Fatal("Stop swallowed the send error; want propagation")
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after failed send; want false")
	}
}

func TestStartStop_RepeatedBursts(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	sender := &senderRecorder{}
	c := capture.New(mic, sender, capture.Config{})

	for i := range 3 {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		mic.Streams[i].Emit([]byte{byte(i), byte(i)})
		if err := c.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	if got := sender.count(); got != 3 {
		t.Errorf("sent bursts = %d; want 3", got)
	}
}
