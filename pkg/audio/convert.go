package audio

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// ParseMimeType extracts the PCM format from a wire mime tag such as
// "audio/pcm", "audio/pcm;rate=48000" or "audio/pcm;rate=48000;channels=2".
// Unknown or empty tags and unparsable parameters fall back to [DefaultFormat];
// the backend only documents the 24 kHz mono path.
func ParseMimeType(mime string) Format {
	f := DefaultFormat
	parts := strings.Split(mime, ";")
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "rate":
			f.SampleRate = n
		case "channels":
			f.Channels = n
		}
	}
	return f
}

// Normalizer converts inbound fragments to a single target format so that
// byte-level concatenation downstream operates on uniform sample data.
// It logs a warning on the first format mismatch and drops fragments with
// misaligned PCM data. Create one per stream; not designed for shared use
// across goroutines.
type Normalizer struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize returns frag's sample data converted to the target format.
// If the fragment's declared format already matches the target, the data is
// returned unchanged (zero allocation). Fragments with an odd byte count are
// dropped (nil return).
func (n *Normalizer) Normalize(frag Fragment) []byte {
	if len(frag.Data)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: odd byte count in PCM data, dropping fragment",
				"bytes", len(frag.Data),
				"mime_type", frag.MimeType,
			)
		})
		return nil
	}

	src := ParseMimeType(frag.MimeType)

	// Fast path: declared format matches target.
	if src == n.Target {
		return frag.Data
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(src),
			"to", formatString(n.Target),
		)
	})

	pcm := frag.Data

	// Mix down first so resampling runs on fewer samples.
	if src.Channels == 2 && n.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	if src.SampleRate != n.Target.SampleRate {
		pcm = ResampleMono16(pcm, src.SampleRate, n.Target.SampleRate)
	}
	return pcm
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
// If srcRate == dstRate or either rate is non-positive, the input is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a format, e.g. "24000Hz mono".
func formatString(f Format) string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = strconv.Itoa(f.Channels) + "ch"
	}
	return strconv.Itoa(f.SampleRate) + "Hz " + ch
}
