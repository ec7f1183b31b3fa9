package bridge

// ClientEnvelope is a message from the browser client.
type ClientEnvelope struct {
	Event string      `json:"event"` // "start", "media", "stop"
	Start *StartEvent `json:"start,omitempty"`
	Media *MediaEvent `json:"media,omitempty"`
}

// StartEvent opens a session for the connection. The browser reports the
// outcome of its microphone permission prompt here; a denial fails the
// session start without dialing upstream.
type StartEvent struct {
	SessionID  string `json:"sessionId,omitempty"`
	Microphone string `json:"microphone,omitempty"` // "granted" or "denied"
	SampleRate int    `json:"sampleRate,omitempty"` // native capture rate, defaults to 16000
}

// MediaEvent carries one captured frame from the browser, base64 PCM16.
type MediaEvent struct {
	Payload string `json:"payload"`
}

// ServerEnvelope is a message to the browser client.
type ServerEnvelope struct {
	Event string      `json:"event"` // "state", "media", "clear", "error"
	State string      `json:"state,omitempty"`
	Media *MediaEvent `json:"media,omitempty"`
	Error string      `json:"error,omitempty"`
}
