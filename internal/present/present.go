// Package present derives what the call screen shows from a session snapshot.
package present

import (
	"fmt"

	"github.com/alkime/companion/internal/call"
)

// Button labels.
const (
	LabelStart      = "Start Session"
	LabelConnecting = "Connecting"
	LabelEnd        = "End Session"
	LabelMicOn      = "Mic on"
	LabelMicOff     = "Mic off"
	LabelTryAgain   = "Try Again"
)

// View is the presentation state of the call screen.
type View struct {
	CallLabel   string
	CallEnabled bool
	// Connecting is set while the call button should show progress.
	Connecting bool

	MicLabel   string
	MicEnabled bool
	Muted      bool

	AvatarDimmed bool
	Speaking     bool

	ErrorMessage string
	ShowTryAgain bool
	CanSave      bool

	StatusText string
	RetryText  string

	Transcript []call.Entry
}

// Derive maps snap to its presentation. It has no side effects.
func Derive(snap call.Snapshot) View {
	v := View{
		Muted:      snap.Muted,
		Transcript: snap.Transcript,
		StatusText: statusText(snap.Status),
	}

	switch snap.Status {
	case call.StatusConnecting:
		v.CallLabel = LabelConnecting
		v.Connecting = true
	case call.StatusActive:
		v.CallLabel = LabelEnd
		v.CallEnabled = true
	default:
		v.CallLabel = LabelStart
		v.CallEnabled = true
	}

	v.MicEnabled = snap.Status == call.StatusActive
	v.MicLabel = LabelMicOn
	if snap.Muted {
		v.MicLabel = LabelMicOff
	}

	switch snap.Status {
	case call.StatusInactive, call.StatusFinished, call.StatusError:
		v.AvatarDimmed = true
	}
	v.Speaking = snap.Status == call.StatusActive && snap.Speaking

	if snap.Error.HasError {
		v.ErrorMessage = snap.Error.Message
	}
	v.ShowTryAgain = snap.Status == call.StatusError
	v.CanSave = len(snap.Transcript) > 0 &&
		(snap.Status == call.StatusFinished || snap.Status == call.StatusError)

	if snap.Status == call.StatusConnecting && snap.RetryCount > 0 {
		v.RetryText = retryText(snap.RetryCount)
	}

	return v
}

func statusText(s call.Status) string {
	switch s {
	case call.StatusInactive:
		return "Ready to start"
	case call.StatusConnecting:
		return "Connecting..."
	case call.StatusActive:
		return "In session"
	case call.StatusFinished:
		return "Session ended"
	case call.StatusError:
		return "Session failed"
	default:
		return ""
	}
}

func retryText(failed int) string {
	if failed == 1 {
		return "Retrying (1 failed attempt)"
	}

	return fmt.Sprintf("Retrying (%d failed attempts)", failed)
}
