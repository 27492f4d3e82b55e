package turntaking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler collects callbacks and runs them on demand
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every pending timer scheduled with delay d
func (s *fakeScheduler) fire(d time.Duration) int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if t.delay == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type harness struct {
	machine    *conversation.Machine
	controller *Controller
	scheduler  *fakeScheduler
}

func newHarness(t *testing.T, initial conversation.State, cfg Config) *harness {
	t.Helper()
	m := conversation.NewMachine(initial)
	s := &fakeScheduler{}
	c := NewController(m, cfg, WithScheduler(s), WithSessionID("test"))
	t.Cleanup(c.Close)
	return &harness{machine: m, controller: c, scheduler: s}
}

func (h *harness) send(t *testing.T, typ event.Type, payload map[string]interface{}) Outcome {
	t.Helper()
	out, err := h.controller.HandleEvent(context.Background(), event.NewEvent(typ, "test", payload))
	require.NoError(t, err)
	return out
}

func TestController_EventMapping(t *testing.T) {
	tests := []struct {
		name       string
		from       conversation.State
		eventType  event.Type
		payload    map[string]interface{}
		wantState  conversation.State
		wantAction string
		wantSource string
	}{
		{
			name: "session created opens the mic", from: conversation.StateIdle,
			eventType: event.TypeSessionCreated, wantState: conversation.StateListening,
			wantAction: ActionTransition, wantSource: SourceSessionCreated,
		},
		{
			name: "final transcript starts processing", from: conversation.StateListening,
			eventType: event.TypeSpeechFinal, payload: map[string]interface{}{"transcript": " hello "},
			wantState: conversation.StateProcessing, wantAction: ActionTransition, wantSource: SourceFinalTranscript,
		},
		{
			name: "empty final transcript is ignored", from: conversation.StateListening,
			eventType: event.TypeSpeechFinal, payload: map[string]interface{}{"transcript": "  "},
			wantState: conversation.StateListening, wantAction: ActionIgnored,
		},
		{
			name: "interim speech barges in", from: conversation.StateSpeaking,
			eventType: event.TypeSpeechInterim, wantState: conversation.StateInterrupted,
			wantAction: ActionTransition, wantSource: SourceInterimTranscript,
		},
		{
			name: "interim speech while listening is ignored", from: conversation.StateListening,
			eventType: event.TypeSpeechInterim, wantState: conversation.StateListening, wantAction: ActionIgnored,
		},
		{
			name: "fatal recognition error", from: conversation.StateListening,
			eventType: event.TypeSpeechError, payload: map[string]interface{}{"fatal": true},
			wantState: conversation.StateError, wantAction: ActionTransition, wantSource: SourceRecognitionError,
		},
		{
			name: "non-fatal recognition error", from: conversation.StateListening,
			eventType: event.TypeSpeechError, payload: map[string]interface{}{"reason": "no-speech"},
			wantState: conversation.StateListening, wantAction: ActionIgnored,
		},
		{
			name: "playback started", from: conversation.StateProcessing,
			eventType: event.TypePlaybackStarted, wantState: conversation.StateSpeaking,
			wantAction: ActionTransition, wantSource: SourceAudioStarted,
		},
		{
			name: "autoplay failure falls back to listening", from: conversation.StateProcessing,
			eventType: event.TypePlaybackFailed, wantState: conversation.StateListening,
			wantAction: ActionTransition, wantSource: SourceAutoplayFail,
		},
		{
			name: "transport lost", from: conversation.StateSpeaking,
			eventType: event.TypeTransportLost, wantState: conversation.StateError,
			wantAction: ActionTransition, wantSource: SourceTransportLost,
		},
		{
			name: "interview report ends the session", from: conversation.StateProcessing,
			eventType: event.TypeInterviewEnded, wantState: conversation.StateEnded,
			wantAction: ActionTransition, wantSource: SourceReport,
		},
		{
			name: "transport connected is informational", from: conversation.StateIdle,
			eventType: event.TypeTransportConnected, wantState: conversation.StateIdle, wantAction: ActionIgnored,
		},
		{
			name: "response complete is informational", from: conversation.StateSpeaking,
			eventType: event.TypeResponseComplete, wantState: conversation.StateSpeaking, wantAction: ActionIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.from, DefaultConfig())

			out := h.send(t, tt.eventType, tt.payload)

			assert.Equal(t, tt.wantAction, out.Action)
			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantState, h.machine.State())
			if tt.wantSource != "" {
				require.True(t, out.Applied)
				assert.Equal(t, tt.wantSource, h.machine.History(1)[0].Source())
			}
		})
	}
}

func TestController_FinalTranscriptIsRecorded(t *testing.T) {
	h := newHarness(t, conversation.StateInterrupted, DefaultConfig())

	h.send(t, event.TypeSpeechFinal, map[string]interface{}{"transcript": "I built the billing service"})

	v, ok := h.machine.History(1)[0].Value(conversation.MetaTranscript)
	require.True(t, ok)
	assert.Equal(t, "I built the billing service", v)
}

func TestController_RejectedTransitionIsReported(t *testing.T) {
	h := newHarness(t, conversation.StateEnded, DefaultConfig())

	out := h.send(t, event.TypeSessionCreated, nil)

	assert.Equal(t, ActionTransition, out.Action)
	assert.False(t, out.Applied)
	assert.Equal(t, conversation.StateEnded, out.State)
	assert.Equal(t, 0, h.machine.HistoryLen())
}

func TestController_PlaybackEndedWaitsForEchoGuard(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, conversation.StateSpeaking, cfg)

	out := h.send(t, event.TypePlaybackEnded, nil)

	assert.Equal(t, ActionScheduled, out.Action)
	assert.Equal(t, conversation.StateSpeaking, h.machine.State(), "mic stays closed during the guard")
	assert.Equal(t, 1, h.controller.PendingTimers())

	require.Equal(t, 1, h.scheduler.fire(cfg.ResumeListeningDelay))

	assert.Equal(t, conversation.StateListening, h.machine.State())
	assert.Equal(t, SourceAudioFinished, h.machine.History(1)[0].Source())
	assert.Equal(t, 0, h.controller.PendingTimers())
}

func TestController_DeferredTransitionSkippedWhenStateMoved(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, conversation.StateSpeaking, cfg)

	h.send(t, event.TypePlaybackEnded, nil)
	// candidate talks over the tail of the audio
	h.send(t, event.TypeSpeechInterim, nil)
	h.send(t, event.TypeSpeechFinal, map[string]interface{}{"transcript": "wait"})
	require.Equal(t, conversation.StateProcessing, h.machine.State())

	h.scheduler.fire(cfg.ResumeListeningDelay)

	assert.Equal(t, conversation.StateProcessing, h.machine.State())
}

func TestController_ZeroDelayTransitionsImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResumeListeningDelay = 0
	h := newHarness(t, conversation.StateSpeaking, cfg)

	out := h.send(t, event.TypePlaybackEnded, nil)

	assert.True(t, out.Applied)
	assert.Equal(t, conversation.StateListening, h.machine.State())
	assert.Equal(t, 0, h.scheduler.pending())
}

func TestController_CandidateInterrupt(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, conversation.StateSpeaking, cfg)

	out := h.send(t, event.TypeCandidateInterrupt, nil)

	require.True(t, out.Applied)
	assert.Equal(t, conversation.StateInterrupted, h.machine.State())
	assert.True(t, h.machine.IsMicrophoneActive())

	require.Equal(t, 1, h.scheduler.fire(cfg.InterruptSettleDelay))
	assert.Equal(t, conversation.StateListening, h.machine.State())
	assert.Equal(t, SourceInterruptSettled, h.machine.History(1)[0].Source())
}

func TestController_InterruptIgnoredWhenNotSpeaking(t *testing.T) {
	h := newHarness(t, conversation.StateListening, DefaultConfig())

	out := h.send(t, event.TypeCandidateInterrupt, nil)

	assert.Equal(t, ActionIgnored, out.Action)
	assert.Equal(t, conversation.StateListening, h.machine.State())
	assert.Equal(t, 0, h.scheduler.pending())
}

func TestController_BargeInDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BargeInOnInterim = false
	h := newHarness(t, conversation.StateSpeaking, cfg)

	out := h.send(t, event.TypeSpeechInterim, nil)

	assert.Equal(t, ActionIgnored, out.Action)
	assert.Equal(t, conversation.StateSpeaking, h.machine.State())
}

func TestController_TransportClosedResets(t *testing.T) {
	h := newHarness(t, conversation.StateSpeaking, DefaultConfig())

	out := h.send(t, event.TypeTransportClosed, nil)

	assert.Equal(t, ActionReset, out.Action)
	assert.Equal(t, conversation.StateIdle, h.machine.State())
	last := h.machine.History(1)[0]
	assert.True(t, last.Forced())
	assert.Equal(t, "reset", last.Reason())
}

func TestController_SpeakingWatchdog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeakingDuration = 30 * time.Second
	h := newHarness(t, conversation.StateProcessing, cfg)

	h.send(t, event.TypePlaybackStarted, nil)
	require.Equal(t, 1, h.scheduler.pending())

	require.Equal(t, 1, h.scheduler.fire(cfg.MaxSpeakingDuration))

	assert.Equal(t, conversation.StateListening, h.machine.State())
	last := h.machine.History(1)[0]
	assert.True(t, last.Forced())
	assert.Equal(t, ReasonSpeakingTimeout, last.Reason())
}

func TestController_WatchdogDisarmedWhenSpeakingEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeakingDuration = 30 * time.Second
	cfg.ResumeListeningDelay = 0
	h := newHarness(t, conversation.StateProcessing, cfg)

	h.send(t, event.TypePlaybackStarted, nil)
	h.send(t, event.TypePlaybackEnded, nil)
	require.Equal(t, conversation.StateListening, h.machine.State())

	assert.Equal(t, 0, h.scheduler.fire(cfg.MaxSpeakingDuration))
	assert.Equal(t, conversation.StateListening, h.machine.State())
}

func TestController_WatchdogIgnoresStaleTurn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeakingDuration = 30 * time.Second
	h := newHarness(t, conversation.StateProcessing, cfg)

	h.send(t, event.TypePlaybackStarted, nil)
	stale := h.scheduler.timers[0]

	// a forced change re-enters SPEAKING as a new turn
	h.machine.ForceState(conversation.StateSpeaking, nil)
	stale.fn()

	assert.Equal(t, conversation.StateSpeaking, h.machine.State())
}

func TestController_UnsupportedEvent(t *testing.T) {
	h := newHarness(t, conversation.StateIdle, DefaultConfig())

	_, err := h.controller.HandleEvent(context.Background(), event.NewEvent(event.TypeStateChanged, "test", nil))
	assert.True(t, errors.Is(err, ErrUnsupportedEvent))

	_, err = h.controller.HandleEvent(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrNilEvent))
}

func TestController_CancelledContext(t *testing.T) {
	h := newHarness(t, conversation.StateIdle, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.controller.HandleEvent(ctx, event.NewEvent(event.TypeSessionCreated, "test", nil))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, conversation.StateIdle, h.machine.State())
}

func TestController_Close(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeakingDuration = time.Minute
	h := newHarness(t, conversation.StateSpeaking, cfg)
	require.Equal(t, 1, h.machine.ListenerCount())

	h.send(t, event.TypePlaybackEnded, nil)
	h.controller.Close()
	h.controller.Close()

	assert.Equal(t, 0, h.scheduler.pending())
	assert.Equal(t, 0, h.controller.PendingTimers())
	assert.Equal(t, 0, h.machine.ListenerCount())

	_, err := h.controller.HandleEvent(context.Background(), event.NewEvent(event.TypeSessionCreated, "test", nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestController_InterviewFlow(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, conversation.StateIdle, cfg)

	h.send(t, event.TypeTransportConnected, nil)
	h.send(t, event.TypeSessionCreated, nil)
	h.send(t, event.TypeSpeechFinal, map[string]interface{}{"transcript": "Hi, I'm ready"})
	h.send(t, event.TypePlaybackStarted, nil)
	h.send(t, event.TypeResponseComplete, nil)
	h.send(t, event.TypePlaybackEnded, nil)
	h.scheduler.fire(cfg.ResumeListeningDelay)
	h.send(t, event.TypeSpeechFinal, map[string]interface{}{"transcript": "That's all"})
	h.send(t, event.TypeInterviewEnded, nil)

	var path []conversation.State
	for _, tr := range h.machine.History(0) {
		path = append(path, tr.To)
	}
	assert.Equal(t, []conversation.State{
		conversation.StateListening,
		conversation.StateProcessing,
		conversation.StateSpeaking,
		conversation.StateListening,
		conversation.StateProcessing,
		conversation.StateEnded,
	}, path)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.ResumeListeningDelay = -time.Second
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxSpeakingDuration = -time.Second
	assert.Error(t, bad.Validate())
}

// racingMachine applies a competing transition right before each guarded
// call reaches the machine, as another goroutine would
type racingMachine struct {
	*conversation.Machine
	before func()
}

func (r *racingMachine) TransitionIfSeq(seq uint64, target conversation.State, md conversation.Metadata) bool {
	if r.before != nil {
		r.before()
	}
	return r.Machine.TransitionIfSeq(seq, target, md)
}

func (r *racingMachine) ForceStateIfSeq(seq uint64, target conversation.State, md conversation.Metadata) (conversation.Transition, bool) {
	if r.before != nil {
		r.before()
	}
	return r.Machine.ForceStateIfSeq(seq, target, md)
}

func TestController_EchoGuardLosesToConcurrentTransition(t *testing.T) {
	cfg := DefaultConfig()
	m := &racingMachine{Machine: conversation.NewMachine(conversation.StateSpeaking)}
	s := &fakeScheduler{}
	c := NewController(m, cfg, WithScheduler(s))
	t.Cleanup(c.Close)

	_, err := c.HandleEvent(context.Background(), event.NewEvent(event.TypePlaybackEnded, "test", nil))
	require.NoError(t, err)

	m.before = func() {
		m.Machine.Transition(conversation.StateInterrupted, conversation.Metadata{conversation.MetaSource: "other"})
	}
	require.Equal(t, 1, s.fire(cfg.ResumeListeningDelay))

	assert.Equal(t, conversation.StateInterrupted, m.State())
	require.Equal(t, 1, m.HistoryLen())
	assert.Equal(t, "other", m.History(1)[0].Source())
}

func TestController_WatchdogLosesToConcurrentTransition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeakingDuration = 30 * time.Second
	m := &racingMachine{Machine: conversation.NewMachine(conversation.StateProcessing)}
	s := &fakeScheduler{}
	c := NewController(m, cfg, WithScheduler(s))
	t.Cleanup(c.Close)

	_, err := c.HandleEvent(context.Background(), event.NewEvent(event.TypePlaybackStarted, "test", nil))
	require.NoError(t, err)
	require.Equal(t, conversation.StateSpeaking, m.State())
	stale := s.timers[0]

	m.before = func() {
		m.Machine.Transition(conversation.StateInterrupted, nil)
	}
	stale.fn()

	assert.Equal(t, conversation.StateInterrupted, m.State())
	for _, tr := range m.History(10) {
		assert.NotEqual(t, ReasonSpeakingTimeout, tr.Reason())
	}
}
