package capture

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/kundliapp/voicelink/pkg/audio"
)

// Opus framing for the outbound uplink: 20 ms frames at the capture rate.
const opusFrameMs = 20

// opusEncoder wraps a gopus encoder configured for the capture format. One
// encoder per capture burst — Opus encoders are stateful across frames.
type opusEncoder struct {
	enc       *gopus.Encoder
	frameSize int // samples per channel per frame
	channels  int
}

// newOpusEncoder creates an encoder for the given capture format. The voice
// profile (gopus.Voip) enables Opus's speech-tuned mode.
func newOpusEncoder(sampleRate, channels int) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("capture: create opus encoder: %w", err)
	}
	return &opusEncoder{
		enc:       enc,
		frameSize: sampleRate * opusFrameMs / 1000,
		channels:  channels,
	}, nil
}

// encodeAll encodes a whole PCM16 capture burst into a concatenation of
// length-prefixed Opus packets (2-byte big-endian length per packet). A
// trailing partial frame is zero-padded to a full frame so no speech is lost.
func (e *opusEncoder) encodeAll(pcmBytes []byte) ([]byte, error) {
	pcm := audio.BytesToInt16s(pcmBytes)
	samplesPerFrame := e.frameSize * e.channels

	var out []byte
	for off := 0; off < len(pcm); off += samplesPerFrame {
		end := off + samplesPerFrame
		frame := pcm[off:min(end, len(pcm))]
		if len(frame) < samplesPerFrame {
			padded := make([]int16, samplesPerFrame)
			copy(padded, frame)
			frame = padded
		}
		pkt, err := e.enc.Encode(frame, e.frameSize, samplesPerFrame*2)
		if err != nil {
			return nil, fmt.Errorf("capture: opus encode: %w", err)
		}
		if len(pkt) > 0xFFFF {
			return nil, fmt.Errorf("capture: opus packet too large: %d bytes", len(pkt))
		}
		out = append(out, byte(len(pkt)>>8), byte(len(pkt)))
		out = append(out, pkt...)
	}
	return out, nil
}
