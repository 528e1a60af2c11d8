// Package callsession implements the Call Session & State Machine:
// the authoritative per-call record, its state transitions, and the
// concurrent registry that tracks every call in flight.
package callsession

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// timeNow is indirected so FSM callbacks stay deterministic in tests.
var timeNow = time.Now

// Direction classifies which side originated the call.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Mode distinguishes an outbound announcement from a two-way conversation.
// Inbound calls are always Conversation.
type Mode string

const (
	ModeAnnounce     Mode = "announce"
	ModeConversation Mode = "conversation"
)

// State is one of the named states in the call lifecycle FSM.
type State string

const (
	StateCreated   State = "created"
	StateDialing   State = "dialing"
	StateRinging   State = "ringing"
	StateAccepted  State = "accepted"
	StateAnswered  State = "answered"
	StateSpeaking  State = "speaking"
	StateListening State = "listening"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Turn is one exchange in a conversation-mode call.
type Turn struct {
	Timestamp     time.Time
	UserText      string
	AssistantText string
}

// Endpoint is the subset of the media adapter's Endpoint the session
// needs for lifecycle management; satisfied by *media.Endpoint.
type Endpoint interface {
	Destroy(ctx context.Context) error
}

// DialogHandle is the subset of a SIP dialog the session needs to tear
// down on hangup; satisfied by a sipcore dialog wrapper.
type DialogHandle interface {
	Hangup(ctx context.Context) error
}

// Session is the authoritative record for one call.
type Session struct {
	CallID    string
	Direction Direction
	Mode      Mode

	DeviceExtension string
	DeviceName      string
	RemoteParty     string

	// InitialMessage overrides the device's configured greeting for this
	// call (outbound calls carry their announce/opening text in the
	// request body; inbound calls leave this empty and fall back to the
	// device's configured greeting).
	InitialMessage string

	// PromptContext is extra per-call background appended to the device's
	// system prompt for this call only (outbound calls' optional `context`
	// field).
	PromptContext string

	// CallerID overrides the device's display name in the outbound From
	// header, when the caller supplied one.
	CallerID string

	State       State
	FailReason  string
	WebhookURL  string

	Endpoint     Endpoint
	Dialog       DialogHandle
	CaptureGate  *CaptureGate

	Turns     []Turn
	TurnCount int

	CreatedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time

	onTransition func(State)

	cancel context.CancelFunc
	ctx    context.Context
	fsm    *fsm.FSM

	// mu guards every mutable field above. The mailbox goroutine takes the
	// write lock around each task it runs (see Manager.run); Snapshot and
	// the eviction sweeper read under the read lock.
	mu sync.RWMutex

	// mailbox serializes every mutation to this session through a single
	// goroutine; see Manager.run.
	mailbox chan func()
}

// New creates a Session in StateCreated, wired to a fresh cancellation
// context derived from parent and its own transition FSM.
func New(parent context.Context, callID string, dir Direction, mode Mode) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		CallID:    callID,
		Direction: dir,
		Mode:      mode,
		State:     StateCreated,
		CreatedAt: timeNow(),
		ctx:       ctx,
		cancel:    cancel,
		mailbox:   make(chan func(), 32),
	}
	s.fsm = newFSM(s)
	return s
}

// Fire drives the session's FSM with event, returning an error if the
// transition is invalid from the session's current state. Must only be
// called from within the session's mailbox goroutine (see Manager.Do).
func (s *Session) Fire(event string, args ...interface{}) error {
	return s.transition(s.fsm, event, args...)
}

// Cancel tears down the session's context, signalling every derived
// goroutine (media read loop, conversation loop, AI bridge calls) to stop.
func (s *Session) Cancel() {
	s.cancel()
}

// CaptureGate toggles audio-fork ingestion during TTS playback so the bot
// never transcribes its own voice (barge-in stays disabled).
type CaptureGate struct {
	enabled func(bool)
}

// NewCaptureGate wraps a setter (typically *audiofork.Session.SetCaptureEnabled).
func NewCaptureGate(setter func(bool)) *CaptureGate {
	return &CaptureGate{enabled: setter}
}

// Set toggles capture, tolerating a nil gate (no fork session yet).
func (g *CaptureGate) Set(enabled bool) {
	if g == nil || g.enabled == nil {
		return
	}
	g.enabled(enabled)
}

// DurationSeconds returns the call's answered-to-now (or answered-to-ended)
// duration, or 0 if never answered. It takes no lock: callers must already
// hold the session's lock (mailbox tasks, transition callbacks). External
// readers go through Snapshot.
func (s *Session) DurationSeconds() float64 {
	return durationSeconds(s.AnsweredAt, s.EndedAt)
}

func durationSeconds(answeredAt, endedAt *time.Time) float64 {
	if answeredAt == nil {
		return 0
	}
	end := time.Now()
	if endedAt != nil {
		end = *endedAt
	}
	return end.Sub(*answeredAt).Seconds()
}

// Snapshot is a point-in-time copy of a Session's observable state, safe
// to read and serialize without any further locking.
type Snapshot struct {
	CallID    string
	Direction Direction
	Mode      Mode

	DeviceExtension string
	DeviceName      string
	RemoteParty     string

	State      State
	FailReason string

	Turns     []Turn
	TurnCount int

	CreatedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time
}

// DurationSeconds mirrors Session.DurationSeconds over the copied fields.
func (v Snapshot) DurationSeconds() float64 {
	return durationSeconds(v.AnsweredAt, v.EndedAt)
}

// Snapshot copies the session's observable fields under its read lock,
// so HTTP status queries never race the mailbox goroutine's mutations.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		CallID:          s.CallID,
		Direction:       s.Direction,
		Mode:            s.Mode,
		DeviceExtension: s.DeviceExtension,
		DeviceName:      s.DeviceName,
		RemoteParty:     s.RemoteParty,
		State:           s.State,
		FailReason:      s.FailReason,
		TurnCount:       s.TurnCount,
		CreatedAt:       s.CreatedAt,
	}
	if len(s.Turns) > 0 {
		snap.Turns = append([]Turn(nil), s.Turns...)
	}
	if s.AnsweredAt != nil {
		t := *s.AnsweredAt
		snap.AnsweredAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		snap.EndedAt = &t
	}
	return snap
}

// Context returns the call's cancellation context; tearing down the
// session cancels every child task derived from it.
func (s *Session) Context() context.Context { return s.ctx }

// IsTerminal reports whether the session has reached an absorbing state.
func (s *Session) IsTerminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// SetOnTransition registers a callback fired synchronously, from within the
// session's mailbox goroutine, on every successful FSM transition. Used to
// drive best-effort webhook delivery without coupling the session to the
// webhook package. Must be called before the session observes its first
// event.
func (s *Session) SetOnTransition(fn func(State)) {
	s.onTransition = fn
}
