// Package call implements the lifecycle of a live voice call with a companion:
// connection status, reactions to voice service events, bounded reconnection
// and the running transcript.
package call

// Status is the connection status of a call session.
type Status int

const (
	// StatusInactive is the initial state; no call has been requested.
	StatusInactive Status = iota
	// StatusConnecting means a start request is in flight or a retry is pending.
	StatusConnecting
	// StatusActive means the voice service reported the call as started.
	StatusActive
	// StatusFinished means the call ended, either remotely or by the user.
	StatusFinished
	// StatusError means the call failed and awaits acknowledgement.
	StatusError
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "Inactive"
	case StatusConnecting:
		return "Connecting"
	case StatusActive:
		return "Active"
	case StatusFinished:
		return "Finished"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// transitions lists every status change the session may perform.
// Connecting -> Connecting is the re-entry made by a scheduled retry.
var transitions = map[Status][]Status{
	StatusInactive:   {StatusConnecting},
	StatusConnecting: {StatusConnecting, StatusActive, StatusError},
	StatusActive:     {StatusFinished, StatusError},
	StatusFinished:   {StatusConnecting},
	StatusError:      {StatusConnecting, StatusInactive},
}

// CanTransition reports whether the session may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// ErrorState is the user-visible projection of the last failure.
type ErrorState struct {
	HasError bool
	Message  string
}

func errorState(message string) ErrorState {
	return ErrorState{HasError: true, Message: message}
}
