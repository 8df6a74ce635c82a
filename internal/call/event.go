package call

import (
	"context"
	"errors"
	"time"
)

// Event is a notification emitted by the voice service.
type Event interface {
	isCallEvent()
}

// CallStarted reports that the remote call is established.
type CallStarted struct{}

// CallEnded reports that the remote call is over.
type CallEnded struct{}

// SpeechStarted reports that the assistant started speaking.
type SpeechStarted struct{}

// SpeechEnded reports that the assistant stopped speaking.
type SpeechEnded struct{}

// MessageKind identifies the kind of a Message event.
type MessageKind string

// MessageKindTranscript is the only message kind the session consumes.
const MessageKindTranscript MessageKind = "transcript"

// TranscriptType distinguishes partial from final transcripts.
type TranscriptType string

const (
	TranscriptPartial TranscriptType = "partial"
	TranscriptFinal   TranscriptType = "final"
)

// Message carries a client message from the voice service.
type Message struct {
	Type           MessageKind
	TranscriptType TranscriptType
	Role           Role
	Transcript     string
}

// IsFinalTranscript reports whether the message should enter the transcript.
func (m Message) IsFinalTranscript() bool {
	return m.Type == MessageKindTranscript && m.TranscriptType == TranscriptFinal
}

// Failure reports an asynchronous error from the voice service.
type Failure struct {
	Err error
}

// Message returns a human-readable description of the failure.
func (f Failure) Message() string {
	if f.Err == nil {
		return "unknown voice service error"
	}

	return f.Err.Error()
}

func (CallStarted) isCallEvent()   {}
func (CallEnded) isCallEvent()     {}
func (SpeechStarted) isCallEvent() {}
func (SpeechEnded) isCallEvent()   {}
func (Message) isCallEvent()       {}
func (Failure) isCallEvent()       {}

// Adapter is the voice service client the session drives.
type Adapter interface {
	// Start requests a new call. A returned error means the request was rejected.
	Start(ctx context.Context, req StartRequest) error
	// Stop ends the current call.
	Stop(ctx context.Context) error
	// IsMuted returns the authoritative microphone mute state.
	IsMuted() bool
	// SetMuted mutes or unmutes the microphone.
	SetMuted(muted bool) error
	// Subscribe registers handler for every event and returns a function
	// removing it again.
	Subscribe(handler func(Event)) (unsubscribe func())
}

// HistoryRecorder is notified with the companion id whenever a call ends.
type HistoryRecorder interface {
	Record(ctx context.Context, companionID string) error
}

// Clock schedules delayed work.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled function.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

var (
	// ErrMaxRetries is recorded once automatic reconnection gives up.
	ErrMaxRetries = errors.New("maximum retry attempts reached")
	// ErrNotMounted is recorded when an intent arrives before Mount.
	ErrNotMounted = errors.New("call session is not mounted")
)
