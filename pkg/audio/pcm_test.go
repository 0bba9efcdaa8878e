package audio_test

import (
	"math"
	"testing"

	"github.com/kundliapp/voicelink/pkg/audio"
)

func TestDecodePCM16_ExactScale(t *testing.T) {
	t.Parallel()

	// The divisor must be exactly 32768: reference clients decode with
	// int16/32768, and a different divisor shifts playback volume.
	cases := []struct {
		sample int16
		want   float32
	}{
		{0, 0},
		{16384, 0.5},
		{-16384, -0.5},
		{32767, 32767.0 / 32768.0},
		{-32768, -1.0},
		{1, 1.0 / 32768.0},
	}
	for _, tc := range cases {
		data := audio.Int16sToBytes([]int16{tc.sample})
		got, err := audio.DecodePCM16(data)
		if err != nil {
			t.Fatalf("DecodePCM16(%d): %v", tc.sample, err)
		}
		if len(got) != 1 || got[0] != tc.want {
			t.Errorf("DecodePCM16(%d) = %v; want [%v]", tc.sample, got, tc.want)
		}
	}
}

func TestDecodePCM16_OddByteCount(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodePCM16([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("DecodePCM16 accepted odd byte count; want error")
	}
}

func TestDecodePCM16_Empty(t *testing.T) {
	t.Parallel()

	got, err := audio.DecodePCM16(nil)
	if err != nil {
		t.Fatalf("DecodePCM16(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("DecodePCM16(nil) = %v; want empty", got)
	}
}

func TestEncodePCM16_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 12345, -12345, 32767, -32768}
	decoded, err := audio.DecodePCM16(audio.Int16sToBytes(in))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	back := audio.BytesToInt16s(audio.EncodePCM16(decoded))
	for i, want := range in {
		if back[i] != want {
			t.Errorf("round trip sample %d = %d; want %d", i, back[i], want)
		}
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	t.Parallel()

	out := audio.BytesToInt16s(audio.EncodePCM16([]float32{1.5, -1.5}))
	if out[0] != 32767 {
		t.Errorf("over-range sample = %d; want 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("under-range sample = %d; want -32768", out[1])
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	// 48000 bytes = 24000 samples = 1 second at 24 kHz mono.
	got := audio.Duration(48000, audio.DefaultFormat)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Duration(48000, 24kHz mono) = %v; want 1.0", got)
	}

	if got := audio.Duration(100, audio.Format{}); got != 0 {
		t.Errorf("Duration with zero format = %v; want 0", got)
	}
}
