package turntaking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/event"
)

// Transition sources recorded in metadata
const (
	SourceSessionCreated    = "session_created"
	SourceInterimTranscript = "interim_transcript"
	SourceFinalTranscript   = "final_transcript"
	SourceRecognitionError  = "recognition_error"
	SourceAudioStarted      = "audio_started"
	SourceAudioFinished     = "audio_finished"
	SourceAutoplayFail      = "autoplay_fail"
	SourceUserInterrupt     = "user_interrupt"
	SourceInterruptSettled  = "interrupt_settled"
	SourceTransportLost     = "transport_lost"
	SourceReport            = "report"
	SourceWatchdog          = "watchdog"

	ReasonSpeakingTimeout = "speaking_timeout"
)

// Actions reported in an Outcome
const (
	ActionTransition = "transition"
	ActionReset      = "reset"
	ActionScheduled  = "scheduled"
	ActionIgnored    = "ignored"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Outcome describes what an event did to the machine
type Outcome struct {
	Type    event.Type         `json:"type"`
	Action  string             `json:"action"`
	Applied bool               `json:"applied"`
	State   conversation.State `json:"state"`
}

// Controller maps collaborator signals onto state machine operations and owns
// the timers that finish deferred transitions
type Controller struct {
	machine   conversation.StateMachine
	cfg       Config
	scheduler Scheduler
	logger    Logger
	sessionID string

	mu       sync.Mutex
	timers   map[uint64]Timer
	nextID   uint64
	watchdog Timer
	closed   bool

	unsubscribe func()
}

// Option configures a Controller
type Option func(*Controller)

// WithScheduler replaces the wall-clock scheduler
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithLogger sets a logger for the controller
func WithLogger(logger Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithSessionID labels log output
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.sessionID = id
	}
}

// NewController attaches a controller to machine
func NewController(machine conversation.StateMachine, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		machine:   machine,
		cfg:       cfg,
		scheduler: SystemScheduler(),
		timers:    make(map[uint64]Timer),
	}

	for _, opt := range opts {
		opt(c)
	}

	if cfg.MaxSpeakingDuration > 0 {
		c.unsubscribe = machine.Subscribe(c.watchSpeaking)
	}

	return c
}

// HandleEvent processes a collaborator signal
func (c *Controller) HandleEvent(ctx context.Context, evt *event.Event) (Outcome, error) {
	if evt == nil {
		return Outcome{}, ErrNilEvent
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Outcome{}, ErrClosed
	}

	out := Outcome{Type: evt.Type, Action: ActionIgnored}

	switch evt.Type {
	case event.TypeSessionCreated:
		out = c.transition(out, conversation.StateListening, source(SourceSessionCreated))

	case event.TypeSpeechInterim:
		if c.cfg.BargeInOnInterim && c.machine.IsInterruptible() {
			out = c.transition(out, c.interruptTarget(), source(SourceInterimTranscript))
		}

	case event.TypeSpeechFinal:
		transcript := strings.TrimSpace(evt.GetPayloadString(event.PayloadTranscript))
		if transcript != "" {
			md := source(SourceFinalTranscript)
			md[conversation.MetaTranscript] = transcript
			out = c.transition(out, conversation.StateProcessing, md)
		}

	case event.TypeSpeechError:
		if evt.GetPayloadBool(event.PayloadFatal) {
			md := source(SourceRecognitionError)
			if reason := evt.GetPayloadString(event.PayloadReason); reason != "" {
				md[conversation.MetaReason] = reason
			}
			out = c.transition(out, conversation.StateError, md)
		}

	case event.TypePlaybackStarted:
		out = c.transition(out, conversation.StateSpeaking, source(SourceAudioStarted))

	case event.TypePlaybackEnded:
		out = c.deferred(out, c.cfg.ResumeListeningDelay, conversation.StateListening, source(SourceAudioFinished))

	case event.TypePlaybackFailed:
		out = c.transition(out, conversation.StateListening, source(SourceAutoplayFail))

	case event.TypeCandidateInterrupt:
		if c.machine.IsInterruptible() {
			out = c.transition(out, c.interruptTarget(), source(SourceUserInterrupt))
			if out.Applied {
				c.deferred(out, c.cfg.InterruptSettleDelay, conversation.StateListening, source(SourceInterruptSettled))
			}
		}

	case event.TypeTransportLost:
		out = c.transition(out, conversation.StateError, source(SourceTransportLost))

	case event.TypeTransportClosed:
		c.machine.Reset()
		out.Action = ActionReset
		out.Applied = true

	case event.TypeInterviewEnded:
		out = c.transition(out, conversation.StateEnded, source(SourceReport))

	case event.TypeTransportConnected, event.TypeResponseComplete:
		// informational only

	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, evt.Type)
	}

	out.State = c.machine.State()

	if c.logger != nil {
		c.logger.Info("Event handled",
			"session_id", c.sessionID,
			"event_type", evt.Type,
			"event_id", evt.ID,
			"action", out.Action,
			"applied", out.Applied,
			"state", out.State,
		)
	}
	return out, nil
}

func source(s string) conversation.Metadata {
	return conversation.Metadata{conversation.MetaSource: s}
}

func (c *Controller) interruptTarget() conversation.State {
	if target := c.machine.Policy().InterruptTarget(); target != "" {
		return target
	}
	return conversation.StateInterrupted
}

func (c *Controller) transition(out Outcome, target conversation.State, md conversation.Metadata) Outcome {
	out.Action = ActionTransition
	out.Applied = c.machine.Transition(target, md)
	return out
}

// deferred moves to target after delay unless another transition happens first
func (c *Controller) deferred(out Outcome, delay time.Duration, target conversation.State, md conversation.Metadata) Outcome {
	if delay <= 0 {
		return c.transition(out, target, md)
	}

	seq := c.machine.Snapshot().Seq
	c.schedule(delay, func() {
		c.machine.TransitionIfSeq(seq, target, md)
	})

	out.Action = ActionScheduled
	out.Applied = false
	return out
}

func (c *Controller) schedule(delay time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.nextID++
	id := c.nextID
	c.timers[id] = c.scheduler.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, id)
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

// watchSpeaking arms the watchdog on entering SPEAKING and disarms it on leaving
func (c *Controller) watchSpeaking(t conversation.Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if c.closed || t.To != conversation.StateSpeaking {
		return
	}

	seq := t.Seq
	c.watchdog = c.scheduler.AfterFunc(c.cfg.MaxSpeakingDuration, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		// seq identifies the transition into SPEAKING; any later move disarms
		_, fired := c.machine.ForceStateIfSeq(seq, conversation.StateListening, conversation.Metadata{
			conversation.MetaSource: SourceWatchdog,
			conversation.MetaReason: ReasonSpeakingTimeout,
		})
		if fired && c.logger != nil {
			c.logger.Info("Speaking watchdog fired",
				"session_id", c.sessionID,
				"limit", c.cfg.MaxSpeakingDuration.String(),
			)
		}
	})
}

// PendingTimers returns the number of scheduled deferred transitions
func (c *Controller) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Close stops all timers and detaches from the machine
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
