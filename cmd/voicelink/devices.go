package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kundliapp/voicelink/pkg/audio"
	"github.com/kundliapp/voicelink/pkg/device"
)

// File-backed device implementations for running voicelink headless: the
// microphone replays a raw PCM16 file in real-time chunks and the output
// device writes each spoken segment to a numbered WAV file. Host applications
// with real audio hardware supply their own device.Microphone/device.Output.

const defaultChunkInterval = 100 * time.Millisecond

// ─── Microphone ───────────────────────────────────────────────────────────────

// fileMicrophone replays a raw PCM16 file as if it were live capture.
type fileMicrophone struct {
	path string
}

var _ device.Microphone = (*fileMicrophone)(nil)

func newFileMicrophone(path string) *fileMicrophone {
	return &fileMicrophone{path: path}
}

// Start implements [device.Microphone]. A missing or unreadable file is the
// file-world analogue of a denied device.
func (m *fileMicrophone) Start(_ context.Context, cfg device.CaptureConfig) (device.Stream, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("open %q: %w", m.path, device.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("open %q: %w", m.path, err)
	}

	interval := cfg.ChunkInterval
	if interval <= 0 {
		interval = defaultChunkInterval
	}
	// Bytes of PCM16 per chunk tick at the requested format.
	chunkBytes := cfg.SampleRate * cfg.Channels * 2 * int(interval/time.Millisecond) / 1000
	if chunkBytes <= 0 {
		chunkBytes = 4800
	}

	s := &fileStream{
		chunks: make(chan []byte, 16),
		stop:   make(chan struct{}),
	}
	go s.replay(data, chunkBytes, interval)
	return s, nil
}

type fileStream struct {
	chunks chan []byte

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

var _ device.Stream = (*fileStream)(nil)

// replay feeds the file contents chunk by chunk on the capture cadence, then
// idles until Stop. It owns the chunk channel and closes it on exit.
func (s *fileStream) replay(data []byte, chunkBytes int, interval time.Duration) {
	defer close(s.chunks)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(data); off += chunkBytes {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		end := min(off+chunkBytes, len(data))
		select {
		case s.chunks <- data[off:end]:
		case <-s.stop:
			return
		}
	}
	<-s.stop
}

func (s *fileStream) Chunks() <-chan []byte { return s.chunks }

func (s *fileStream) Format() string { return "pcm" }

func (s *fileStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stop)
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// wavOutput writes each spoken segment to outdir as segment-NNNN.wav. A
// source "plays" for the segment's real audio duration so the sequencer's
// ordering behaviour matches a real speaker.
type wavOutput struct {
	outdir string

	mu  sync.Mutex
	seq int
}

var _ device.Output = (*wavOutput)(nil)

func newWAVOutput(outdir string) (*wavOutput, error) {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %q: %w", outdir, err)
	}
	return &wavOutput{outdir: outdir}, nil
}

// Prepare implements [device.Output].
func (o *wavOutput) Prepare(samples []float32, sampleRate, channels int) (device.Source, error) {
	o.mu.Lock()
	o.seq++
	n := o.seq
	o.mu.Unlock()

	pcm := audio.EncodePCM16(samples)
	path := filepath.Join(o.outdir, fmt.Sprintf("segment-%04d.wav", n))
	if err := os.WriteFile(path, audio.WrapWAV(pcm, sampleRate, channels), 0o644); err != nil {
		return nil, fmt.Errorf("write %q: %w", path, err)
	}

	dur := audio.Duration(len(pcm), audio.Format{SampleRate: sampleRate, Channels: channels})
	return newWAVSource(time.Duration(dur * float64(time.Second))), nil
}

// Close implements [device.Output].
func (o *wavOutput) Close() error { return nil }

// wavSource completes after the segment's playback duration elapses.
type wavSource struct {
	dur time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	ended bool
}

var _ device.Source = (*wavSource)(nil)

func newWAVSource(dur time.Duration) *wavSource {
	return &wavSource{dur: dur, done: make(chan struct{})}
}

func (s *wavSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.timer != nil {
		return nil
	}
	s.timer = time.AfterFunc(s.dur, s.finish)
	return nil
}

func (s *wavSource) Stop() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *wavSource) Done() <-chan struct{} { return s.done }

func (s *wavSource) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.done)
}
