package voice

import (
	"encoding/json"
	"fmt"

	"github.com/alkime/companion/internal/call"
)

// Client frame types.
const (
	frameStart = "start"
	frameStop  = "stop"
	frameMute  = "mute"
)

// Server frame types.
const (
	frameCallStart   = "call-start"
	frameCallEnd     = "call-end"
	frameMessage     = "message"
	frameSpeechStart = "speech-start"
	frameSpeechEnd   = "speech-end"
	frameError       = "error"
)

type startFrame struct {
	Type        string         `json:"type"`
	AssistantID string         `json:"assistantId,omitempty"`
	Assistant   call.Assistant `json:"assistant"`
	Overrides   call.Overrides `json:"overrides"`
}

type stopFrame struct {
	Type string `json:"type"`
}

type muteFrame struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

// serverFrame is the envelope of every text frame the service sends.
type serverFrame struct {
	Type    string          `json:"type"`
	Message *messagePayload `json:"message,omitempty"`
	Error   *errorPayload   `json:"error,omitempty"`
}

type messagePayload struct {
	Type           string `json:"type"`
	TranscriptType string `json:"transcriptType"`
	Role           string `json:"role"`
	Transcript     string `json:"transcript"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// RemoteError is an error reported by the voice service itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// decodeFrame turns a server text frame into a call event. Unknown frame
// types decode to a nil event.
func decodeFrame(data []byte) (call.Event, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	switch frame.Type {
	case frameCallStart:
		return call.CallStarted{}, nil
	case frameCallEnd:
		return call.CallEnded{}, nil
	case frameSpeechStart:
		return call.SpeechStarted{}, nil
	case frameSpeechEnd:
		return call.SpeechEnded{}, nil
	case frameMessage:
		if frame.Message == nil {
			return nil, fmt.Errorf("message frame without payload")
		}
		return call.Message{
			Type:           call.MessageKind(frame.Message.Type),
			TranscriptType: call.TranscriptType(frame.Message.TranscriptType),
			Role:           call.Role(frame.Message.Role),
			Transcript:     frame.Message.Transcript,
		}, nil
	case frameError:
		msg := "unknown error"
		if frame.Error != nil && frame.Error.Message != "" {
			msg = frame.Error.Message
		}
		return call.Failure{Err: &RemoteError{Message: msg}}, nil
	default:
		return nil, nil
	}
}
