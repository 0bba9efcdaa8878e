package audio_test

import (
	"testing"

	"github.com/kundliapp/voicelink/pkg/audio"
)

func TestParseMimeType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mime string
		want audio.Format
	}{
		{"empty defaults", "", audio.DefaultFormat},
		{"bare pcm", "audio/pcm", audio.DefaultFormat},
		{"explicit rate", "audio/pcm;rate=48000", audio.Format{SampleRate: 48000, Channels: 1}},
		{"rate and channels", "audio/pcm;rate=44100;channels=2", audio.Format{SampleRate: 44100, Channels: 2}},
		{"whitespace tolerated", "audio/pcm; rate=16000", audio.Format{SampleRate: 16000, Channels: 1}},
		{"garbage params ignored", "audio/pcm;rate=banana;channels=-3", audio.DefaultFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.ParseMimeType(tc.mime); got != tc.want {
				t.Errorf("ParseMimeType(%q) = %+v; want %+v", tc.mime, got, tc.want)
			}
		})
	}
}

func TestNormalize_FastPathNoCopy(t *testing.T) {
	t.Parallel()

	n := &audio.Normalizer{Target: audio.DefaultFormat}
	in := audio.Int16sToBytes([]int16{1, 2, 3})
	out := n.Normalize(audio.Fragment{Data: in, MimeType: "audio/pcm"})
	if &out[0] != &in[0] {
		t.Error("matching format was copied; want the input slice unchanged")
	}
}

func TestNormalize_DropsOddBytes(t *testing.T) {
	t.Parallel()

	n := &audio.Normalizer{Target: audio.DefaultFormat}
	if out := n.Normalize(audio.Fragment{Data: []byte{0x01}}); out != nil {
		t.Errorf("odd-byte fragment returned %v; want nil", out)
	}
}

func TestNormalize_Downsamples(t *testing.T) {
	t.Parallel()

	n := &audio.Normalizer{Target: audio.DefaultFormat}
	in := audio.Int16sToBytes([]int16{0, 100, 200, 300})
	out := n.Normalize(audio.Fragment{Data: in, MimeType: "audio/pcm;rate=48000"})
	// 48 kHz → 24 kHz halves the sample count.
	if got := len(out) / 2; got != 2 {
		t.Errorf("downsampled to %d samples; want 2", got)
	}
}

func TestNormalize_StereoMixdown(t *testing.T) {
	t.Parallel()

	n := &audio.Normalizer{Target: audio.DefaultFormat}
	in := audio.Int16sToBytes([]int16{100, 300, -200, -400}) // two stereo frames
	out := n.Normalize(audio.Fragment{Data: in, MimeType: "audio/pcm;rate=24000;channels=2"})

	got := audio.BytesToInt16s(out)
	want := []int16{200, -300} // (L+R)/2 per frame
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("mixdown = %v; want %v", got, want)
	}
}

func TestStereoToMono_Clamps(t *testing.T) {
	t.Parallel()

	in := audio.Int16sToBytes([]int16{-32768, -32768})
	got := audio.BytesToInt16s(audio.StereoToMono(in))
	if len(got) != 1 || got[0] != -32768 {
		t.Errorf("mixdown of full-scale negative = %v; want [-32768]", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate unchanged", func(t *testing.T) {
		t.Parallel()
		in := audio.Int16sToBytes([]int16{1, 2, 3})
		out := audio.ResampleMono16(in, 24000, 24000)
		if &out[0] != &in[0] {
			t.Error("same-rate resample copied the input")
		}
	})

	t.Run("halving rate halves samples", func(t *testing.T) {
		t.Parallel()
		in := audio.Int16sToBytes(make([]int16, 480))
		out := audio.ResampleMono16(in, 48000, 24000)
		if got := len(out) / 2; got != 240 {
			t.Errorf("resampled to %d samples; want 240", got)
		}
	})

	t.Run("doubling rate interpolates", func(t *testing.T) {
		t.Parallel()
		in := audio.Int16sToBytes([]int16{0, 100})
		out := audio.BytesToInt16s(audio.ResampleMono16(in, 12000, 24000))
		if len(out) != 4 {
			t.Fatalf("resampled to %d samples; want 4", len(out))
		}
		// Midpoint between 0 and 100 must be linearly interpolated.
		if out[1] != 50 {
			t.Errorf("interpolated sample = %d; want 50", out[1])
		}
	})

	t.Run("invalid rates unchanged", func(t *testing.T) {
		t.Parallel()
		in := audio.Int16sToBytes([]int16{1, 2})
		out := audio.ResampleMono16(in, 0, 24000)
		if &out[0] != &in[0] {
			t.Error("invalid rate did not return the input unchanged")
		}
	})
}
