// Package audio provides the PCM primitives shared by the voicelink pipeline:
// fragment and segment types, PCM16 sample conversions, inbound format
// normalisation, and a WAV container writer.
//
// All sample data is signed 16-bit little-endian PCM unless stated otherwise.
// This package lives under pkg/ because custom device adapters are expected
// to consume these types alongside [github.com/kundliapp/voicelink/pkg/device].
package audio

import "fmt"

// pcmScale is the divisor mapping int16 sample values to the [-1, 1) float
// range expected by audio output APIs. It must stay at 32768 — a different
// divisor shifts playback volume relative to the backend's reference clients.
const pcmScale = 32768.0

// DecodePCM16 converts little-endian int16 PCM bytes to float32 samples in
// the range [-1, 1). It returns an error if the byte count is odd, which
// indicates a truncated or corrupt sample stream.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM16 byte count %d", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(s) / pcmScale
	}
	return samples, nil
}

// EncodePCM16 converts float32 samples to little-endian int16 PCM bytes.
// Samples outside [-1, 1) are clamped to the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(f * pcmScale)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Duration returns the playback duration in seconds of PCM16 data at the
// given format. Returns 0 for invalid formats.
func Duration(byteLen int, f Format) float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return float64(byteLen/2) / float64(f.SampleRate*f.Channels)
}
