package transport

// Wire message types exchanged with the voice backend. All messages are JSON
// text frames with a discriminating "type" field; fields not used by a given
// type are omitted.

// Outbound message types.
const (
	typeAudio = "audio"
	typePing  = "ping"
)

// Inbound message types.
const (
	typeAudioResponse = "audio_response"
	typeError         = "error"
	typePong          = "pong"
)

// envelope is the single wire struct for both directions. The backend uses a
// flat JSON object per message, so one struct with omitempty tags covers the
// whole protocol.
type envelope struct {
	Type string `json:"type"`

	// Outbound audio: base64-encoded capture blob plus its encoding tag.
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`

	// Inbound audio_response: base64-encoded PCM16 and an optional mime tag.
	// An absent mime_type means "audio/pcm" (24 kHz mono).
	Audio    string `json:"audio,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// Inbound error: human-readable description from the service.
	Message string `json:"message,omitempty"`
}
