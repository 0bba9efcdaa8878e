package audio

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the format the backend voice service synthesises speech in:
// 24 kHz mono PCM16. Inbound fragments that carry no mime parameters are
// assumed to be in this format.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1}

// Fragment is one inbound chunk of synthesised speech as delivered by a single
// transport message. Fragments are short-lived: they exist between message
// receipt and the moment the reassembly buffer merges them into a [Segment].
type Fragment struct {
	// Data is raw little-endian PCM16 sample data.
	Data []byte

	// MimeType is the encoding tag carried on the wire, e.g. "audio/pcm" or
	// "audio/pcm;rate=48000". Empty means "audio/pcm" at [DefaultFormat].
	MimeType string
}

// Segment is a coalesced run of one or more fragments — the unit actually
// handed to the output device. The PCM bytes are the byte-level concatenation
// of the source fragments in arrival order; sample boundaries are preserved
// exactly, so a segment decodes identically to its fragments played seamlessly.
type Segment struct {
	// PCM is little-endian PCM16 sample data.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count (always 1 for backend speech).
	Channels int
}
