package session

import (
	"encoding/json"
	"fmt"
)

// MediaPayload is the outbound audio packet body: transport-encoded PCM plus
// its MIME descriptor.
type MediaPayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// OutboundMessage is one captured frame, sent once per frame while active.
type OutboundMessage struct {
	Media MediaPayload `json:"media"`
}

// AudioPayload is inbound synthesized audio, implicitly at the session's
// fixed output rate.
type AudioPayload struct {
	Data string `json:"data"`
}

// ServerMessage is an inbound streaming message. It carries either an audio
// payload or an interruption flag; no other shapes are handled.
type ServerMessage struct {
	Audio       *AudioPayload `json:"audio,omitempty"`
	Interrupted bool          `json:"interrupted,omitempty"`
}

// encodeOutbound builds the wire form of one outbound packet.
func encodeOutbound(encoded string, sampleRate int) ([]byte, error) {
	msg := OutboundMessage{
		Media: MediaPayload{
			Data:     encoded,
			MimeType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		},
	}
	return json.Marshal(msg)
}

// decodeInbound parses an inbound streaming message.
func decodeInbound(payload []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse server message: %w", err)
	}
	return &msg, nil
}
