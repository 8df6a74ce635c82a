package call_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/alkime/companion/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPersona = call.Persona{
	CompanionID: "companion-42",
	Name:        "Neura",
	Subject:     "science",
	Topic:       "black holes",
	Style:       "casual",
	Voice:       "female",
	UserName:    "Ada",
}

type harness struct {
	adapter  *mockAdapter
	clock    *mockClock
	history  *mockHistory
	statuses *statusRecorder
	session  *call.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		adapter:  newMockAdapter(),
		clock:    &mockClock{},
		history:  &mockHistory{},
		statuses: &statusRecorder{},
	}
	h.session = call.NewSession(h.adapter, call.Config{
		Persona: testPersona,
		History: h.history,
		Clock:   h.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.session.OnChange(h.statuses.observe)
	h.session.Mount(context.Background())

	t.Cleanup(func() {
		_ = h.session.Unmount(context.Background())
	})

	return h
}

// connect drives the session to Active.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.session.HandleCall(context.Background())
	h.adapter.emit(call.CallStarted{})
	require.Equal(t, call.StatusActive, h.session.Status())
}

func finalTranscript(role call.Role, text string) call.Message {
	return call.Message{
		Type:           call.MessageKindTranscript,
		TranscriptType: call.TranscriptFinal,
		Role:           role,
		Transcript:     text,
	}
}

func TestSession_InitialState(t *testing.T) {
	h := newHarness(t)

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusInactive, snap.Status)
	assert.False(t, snap.Error.HasError)
	assert.Zero(t, snap.RetryCount)
	assert.Empty(t, snap.Transcript)
	assert.Equal(t, 1, h.adapter.subscribers())
}

func TestSession_StartCallSendsPersonaConfiguration(t *testing.T) {
	h := newHarness(t)

	h.session.HandleCall(context.Background())

	require.Equal(t, 1, h.adapter.startCount())
	req := h.adapter.starts[0]
	assert.Equal(t, map[string]string{
		"subject": "science",
		"topic":   "black holes",
		"style":   "casual",
	}, req.Overrides.VariableValues)
	assert.Equal(t, []string{"transcript"}, req.Overrides.ClientMessages)
	assert.NotNil(t, req.Overrides.ServerMessages)
	assert.Empty(t, req.Overrides.ServerMessages)
	assert.Equal(t, testPersona.VoiceID(), req.Assistant.Voice.VoiceID)
	assert.Equal(t, call.StatusConnecting, h.session.Status())
}

func TestSession_HandleCallWhileConnectingIsNoop(t *testing.T) {
	h := newHarness(t)

	h.session.HandleCall(context.Background())
	h.session.HandleCall(context.Background())
	h.session.HandleCall(context.Background())

	assert.Equal(t, 1, h.adapter.startCount())
	assert.Equal(t, call.StatusConnecting, h.session.Status())
}

// Scenario A.
func TestSession_TranscriptMostRecentFirst(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.adapter.emit(finalTranscript(call.RoleAssistant, "Hello"))
	h.adapter.emit(finalTranscript(call.RoleUser, "Hi"))

	assert.Equal(t, []call.Entry{
		{Role: call.RoleUser, Content: "Hi"},
		{Role: call.RoleAssistant, Content: "Hello"},
	}, h.session.Snapshot().Transcript)
}

func TestSession_TranscriptIgnoresPartialAndOtherMessages(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.adapter.emit(finalTranscript(call.RoleAssistant, "one"))
	h.adapter.emit(call.Message{
		Type:           call.MessageKindTranscript,
		TranscriptType: call.TranscriptPartial,
		Role:           call.RoleUser,
		Transcript:     "tw",
	})
	h.adapter.emit(call.Message{Type: "function-call", Role: call.RoleAssistant, Transcript: "ignored"})
	h.adapter.emit(finalTranscript(call.RoleUser, "two"))
	h.adapter.emit(finalTranscript(call.RoleAssistant, "three"))

	entries := h.session.Snapshot().Transcript
	require.Len(t, entries, 3)
	assert.Equal(t, "three", entries[0].Content)
	assert.Equal(t, "two", entries[1].Content)
	assert.Equal(t, "one", entries[2].Content)
	assert.Equal(t, 3, h.session.Transcript().Len())
}

// Scenario B.
func TestSession_RetriesWhileConnectingUntilExhausted(t *testing.T) {
	h := newHarness(t)

	h.session.HandleCall(context.Background())

	for attempt := 1; attempt < call.DefaultMaxRetries; attempt++ {
		h.adapter.emit(call.Failure{Err: errors.New("connection refused")})

		snap := h.session.Snapshot()
		assert.Equal(t, call.StatusConnecting, snap.Status, "attempt %d", attempt)
		assert.Equal(t, attempt, snap.RetryCount)
		assert.True(t, snap.RetryPending)
		assert.Equal(t, "connection refused", snap.Error.Message)

		pending := h.clock.pending()
		require.Len(t, pending, 1, "exactly one retry timer")
		assert.Equal(t, call.DefaultRetryDelay, pending[0].delay)

		h.clock.fireAll()
		assert.Equal(t, attempt+1, h.adapter.startCount())
		assert.False(t, h.session.Snapshot().Error.HasError, "retry attempt clears the error")
	}

	h.adapter.emit(call.Failure{Err: errors.New("connection refused")})

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusError, snap.Status)
	assert.Equal(t, call.DefaultMaxRetries, snap.RetryCount)
	assert.False(t, snap.RetryPending)
	assert.Equal(t, call.ErrMaxRetries.Error(), snap.Error.Message)
	assert.Empty(t, h.clock.pending())
	assert.Equal(t, call.DefaultMaxRetries, h.adapter.startCount())
}

func TestSession_LateFailureKeepsExhaustionMessage(t *testing.T) {
	h := newHarness(t)
	h.session.HandleCall(context.Background())
	for attempt := 1; attempt < call.DefaultMaxRetries; attempt++ {
		h.adapter.emit(call.Failure{Err: errors.New("assistant not found")})
		h.clock.fireAll()
	}
	h.adapter.emit(call.Failure{Err: errors.New("assistant not found")})
	require.Equal(t, call.StatusError, h.session.Status())

	// the last attempt's connection drops after it was rejected
	h.adapter.emit(call.Failure{Err: errors.New("lost connection to voice service")})

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusError, snap.Status)
	assert.Equal(t, call.ErrMaxRetries.Error(), snap.Error.Message)
	assert.Equal(t, call.DefaultMaxRetries, snap.RetryCount)
	assert.Empty(t, h.clock.pending())
	assert.Equal(t, call.DefaultMaxRetries, h.adapter.startCount())
}

func TestSession_CallStartResetsRetriesAndError(t *testing.T) {
	h := newHarness(t)

	h.session.HandleCall(context.Background())
	h.adapter.emit(call.Failure{Err: errors.New("flaky")})
	h.clock.fireAll()
	h.adapter.emit(call.Failure{Err: errors.New("flaky")})
	require.Equal(t, 2, h.session.Snapshot().RetryCount)
	require.True(t, h.session.Snapshot().Error.HasError)

	h.adapter.emit(call.CallStarted{})

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusActive, snap.Status)
	assert.Zero(t, snap.RetryCount)
	assert.False(t, snap.Error.HasError)
	assert.Empty(t, h.clock.pending(), "call start cancels the pending retry")
}

func TestSession_ErrorAfterConnectIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.adapter.emit(call.Failure{Err: errors.New("socket closed")})

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusError, snap.Status)
	assert.Equal(t, "socket closed", snap.Error.Message)
	assert.Zero(t, snap.RetryCount)
	assert.Empty(t, h.clock.pending())
	assert.Equal(t, 1, h.adapter.startCount())

	h.session.Acknowledge()

	snap = h.session.Snapshot()
	assert.Equal(t, call.StatusInactive, snap.Status)
	assert.False(t, snap.Error.HasError)
}

func TestSession_AcknowledgeOnlyLeavesError(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.session.Acknowledge()

	assert.Equal(t, call.StatusActive, h.session.Status())
}

func TestSession_StartFailureResetsToInactive(t *testing.T) {
	h := newHarness(t)
	h.adapter.startErr = errors.New("invalid assistant")

	h.session.HandleCall(context.Background())

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusInactive, snap.Status)
	assert.True(t, snap.Error.HasError)
	assert.Equal(t, "invalid assistant", snap.Error.Message)
	assert.Equal(t, []call.Status{
		call.StatusConnecting,
		call.StatusError,
		call.StatusInactive,
	}, h.statuses.all())

	// the user can retry right away
	h.adapter.startErr = nil
	h.session.HandleCall(context.Background())
	assert.Equal(t, call.StatusConnecting, h.session.Status())
	assert.False(t, h.session.Snapshot().Error.HasError)
}

// Scenario C.
func TestSession_DisconnectAlwaysFinishes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		stopErr error
	}{
		{name: "stop succeeds"},
		{name: "stop fails", stopErr: errors.New("already gone")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.connect(t)
			h.adapter.stopErr = tc.stopErr

			h.session.HandleDisconnect(context.Background())

			snap := h.session.Snapshot()
			assert.Equal(t, call.StatusFinished, snap.Status)
			assert.Equal(t, 1, h.adapter.stopCount())
			assert.Equal(t, tc.stopErr != nil, snap.Error.HasError)
		})
	}
}

func TestSession_DisconnectOutsideActiveIsNoop(t *testing.T) {
	h := newHarness(t)

	h.session.HandleDisconnect(context.Background())
	assert.Equal(t, call.StatusInactive, h.session.Status())

	h.session.HandleCall(context.Background())
	h.session.HandleDisconnect(context.Background())
	assert.Equal(t, call.StatusConnecting, h.session.Status())
	assert.Zero(t, h.adapter.stopCount())
}

// Scenario D.
func TestSession_ToggleMicrophoneMirrorsAdapter(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	original := h.session.Snapshot().Muted

	h.session.ToggleMicrophone()
	assert.Equal(t, !original, h.session.Snapshot().Muted)
	assert.Equal(t, h.adapter.isMuted(), h.session.Snapshot().Muted)

	h.session.ToggleMicrophone()
	assert.Equal(t, original, h.session.Snapshot().Muted)
	assert.Equal(t, h.adapter.isMuted(), h.session.Snapshot().Muted)
}

func TestSession_ToggleMicrophoneReadsAuthoritativeState(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	// muted behind the session's back
	require.NoError(t, h.adapter.SetMuted(true))

	h.session.ToggleMicrophone()

	assert.False(t, h.adapter.isMuted())
	assert.False(t, h.session.Snapshot().Muted)
}

func TestSession_ToggleMicrophoneFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.adapter.setMutedErr = errBoom

	h.session.ToggleMicrophone()

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusActive, snap.Status)
	assert.True(t, snap.Error.HasError)
	assert.Contains(t, snap.Error.Message, "boom")
	assert.False(t, snap.Muted)
}

func TestSession_ToggleMicrophoneOutsideActiveIsNoop(t *testing.T) {
	h := newHarness(t)

	h.session.ToggleMicrophone()

	assert.False(t, h.adapter.isMuted())
	assert.False(t, h.session.Snapshot().Muted)
}

func TestSession_SpeechEventsDriveSpeakingFlag(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.adapter.emit(call.SpeechStarted{})
	assert.True(t, h.session.Snapshot().Speaking)
	assert.Equal(t, call.StatusActive, h.session.Status())

	h.adapter.emit(call.SpeechEnded{})
	assert.False(t, h.session.Snapshot().Speaking)
	assert.Equal(t, call.StatusActive, h.session.Status())
}

func TestSession_CallEndRecordsHistory(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.adapter.emit(call.CallEnded{})

	assert.Equal(t, call.StatusFinished, h.session.Status())
	require.Eventually(t, func() bool {
		return len(h.history.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"companion-42"}, h.history.snapshot())
}

func TestSession_CallEndAfterDisconnectRecordsHistoryOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.session.HandleDisconnect(context.Background())
	h.adapter.emit(call.CallEnded{})
	h.adapter.emit(call.CallEnded{})

	require.Eventually(t, func() bool {
		return len(h.history.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.history.snapshot(), 1)
	assert.Equal(t, call.StatusFinished, h.session.Status())
}

func TestSession_HistoryFailureDoesNotAffectStatus(t *testing.T) {
	h := newHarness(t)
	h.history.err = errBoom
	h.connect(t)

	h.adapter.emit(call.CallEnded{})

	require.Eventually(t, func() bool {
		return len(h.history.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusFinished, snap.Status)
	assert.False(t, snap.Error.HasError)
}

func TestSession_FinishedCanStartAgain(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.adapter.emit(call.CallEnded{})

	h.session.HandleCall(context.Background())

	assert.Equal(t, call.StatusConnecting, h.session.Status())
	assert.Equal(t, 2, h.adapter.startCount())
}

func TestSession_UnmountWhileActiveStopsOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	require.NoError(t, h.session.Unmount(context.Background()))
	require.NoError(t, h.session.Unmount(context.Background()))

	assert.Equal(t, 1, h.adapter.stopCount())
	assert.Zero(t, h.adapter.subscribers())
}

func TestSession_UnmountFinishesActiveCall(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.adapter.emit(call.SpeechStarted{})
	before := h.session.Snapshot().Seq

	require.NoError(t, h.session.Unmount(context.Background()))

	snap := h.session.Snapshot()
	assert.Equal(t, call.StatusFinished, snap.Status)
	assert.False(t, snap.Speaking)
	assert.Greater(t, snap.Seq, before)

	// a remounted session starts a fresh call rather than showing a dead one
	h.session.Mount(context.Background())
	h.session.HandleCall(context.Background())
	assert.Equal(t, call.StatusConnecting, h.session.Status())
	assert.Equal(t, 2, h.adapter.startCount())
}

func TestSession_UnmountWhileConnectingCancelsRetry(t *testing.T) {
	h := newHarness(t)
	h.session.HandleCall(context.Background())
	h.adapter.emit(call.Failure{Err: errBoom})
	require.Len(t, h.clock.pending(), 1)

	require.NoError(t, h.session.Unmount(context.Background()))

	assert.Empty(t, h.clock.pending())
	assert.Zero(t, h.adapter.stopCount())
	assert.Zero(t, h.adapter.subscribers())

	// a timer that fired anyway must not start a call on a defunct session
	h.clock.fireStale()
	assert.Equal(t, 1, h.adapter.startCount())
}

func TestSession_UnmountWhileFinishedDoesNotStop(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.adapter.emit(call.CallEnded{})

	require.NoError(t, h.session.Unmount(context.Background()))

	assert.Zero(t, h.adapter.stopCount())
}

func TestSession_UnmountRunsEveryStep(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.adapter.stopErr = errBoom
	h.adapter.unsubscribePanic = true

	err := h.session.Unmount(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "unsubscribe exploded")
	assert.Equal(t, 1, h.adapter.stopCount())
	assert.Zero(t, h.adapter.subscribers())
}

func TestSession_EventsAfterUnmountAreIgnored(t *testing.T) {
	adapter := newMockAdapter()
	session := call.NewSession(adapter, call.Config{
		Persona: testPersona,
		Clock:   &mockClock{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	session.Mount(context.Background())

	var captured func(call.Event)
	for _, h := range adapter.handlers {
		captured = h
	}
	require.NotNil(t, captured)
	require.NoError(t, session.Unmount(context.Background()))

	captured(finalTranscript(call.RoleUser, "late"))

	assert.Empty(t, session.Snapshot().Transcript)
}

func TestSession_IntentBeforeMountRecordsError(t *testing.T) {
	adapter := newMockAdapter()
	session := call.NewSession(adapter, call.Config{Clock: &mockClock{}})

	session.HandleCall(context.Background())

	snap := session.Snapshot()
	assert.Equal(t, call.StatusInactive, snap.Status)
	assert.Equal(t, call.ErrNotMounted.Error(), snap.Error.Message)
	assert.Zero(t, adapter.startCount())
}

func TestSession_StrayCallStartIsStopped(t *testing.T) {
	h := newHarness(t)
	h.adapter.startErr = errBoom
	h.session.HandleCall(context.Background())
	require.Equal(t, call.StatusInactive, h.session.Status())

	h.adapter.emit(call.CallStarted{})

	assert.Equal(t, call.StatusInactive, h.session.Status())
	assert.Equal(t, 1, h.adapter.stopCount())
}

func TestSession_SnapshotSeqIncreases(t *testing.T) {
	h := newHarness(t)

	var seqs []uint64
	h.session.OnChange(func(s call.Snapshot) { seqs = append(seqs, s.Seq) })

	h.connect(t)
	h.adapter.emit(finalTranscript(call.RoleAssistant, "Hello"))

	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

// lifecycleEdges is the call lifecycle diagram written out edge by edge.
var lifecycleEdges = map[[2]call.Status]bool{
	{call.StatusInactive, call.StatusConnecting}:   true,
	{call.StatusConnecting, call.StatusConnecting}: true, // scheduled retry
	{call.StatusConnecting, call.StatusActive}:     true,
	{call.StatusConnecting, call.StatusError}:      true,
	{call.StatusActive, call.StatusFinished}:       true,
	{call.StatusActive, call.StatusError}:          true,
	{call.StatusFinished, call.StatusConnecting}:   true,
	{call.StatusError, call.StatusConnecting}:      true,
	{call.StatusError, call.StatusInactive}:        true,
}

func TestStatus_CanTransitionMatchesLifecycle(t *testing.T) {
	all := []call.Status{
		call.StatusInactive, call.StatusConnecting, call.StatusActive, call.StatusFinished, call.StatusError,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equalf(t, lifecycleEdges[[2]call.Status{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestSession_TransitionsFollowLifecycle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		h := newHarness(t)
		for step := 0; step < 40; step++ {
			switch rng.Intn(11) {
			case 0:
				h.session.HandleCall(context.Background())
			case 1:
				h.session.HandleDisconnect(context.Background())
			case 2:
				h.session.ToggleMicrophone()
			case 3:
				h.session.Acknowledge()
			case 4:
				h.adapter.emit(call.CallStarted{})
			case 5:
				h.adapter.emit(call.CallEnded{})
			case 6:
				h.adapter.emit(call.Failure{Err: errBoom})
			case 7:
				h.adapter.emit(finalTranscript(call.RoleUser, "hi"))
			case 8:
				h.clock.fireAll()
			case 9:
				h.adapter.emit(call.SpeechStarted{})
			case 10:
				h.adapter.startErr = map[bool]error{true: errBoom, false: nil}[rng.Intn(4) == 0]
			}

			snap := h.session.Snapshot()
			require.LessOrEqual(t, snap.RetryCount, call.DefaultMaxRetries)
			require.LessOrEqual(t, len(h.clock.pending()), 1)
		}

		statuses := append([]call.Status{call.StatusInactive}, h.statuses.all()...)
		for i := 1; i < len(statuses); i++ {
			from, to := statuses[i-1], statuses[i]
			if from == to && from != call.StatusConnecting {
				continue
			}
			require.Truef(t, lifecycleEdges[[2]call.Status{from, to}],
				"run %d: illegal transition %s -> %s", run, from, to)
		}
	}
}
