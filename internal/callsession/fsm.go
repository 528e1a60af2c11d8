package callsession

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Event names for the transition table below.
const (
	EventDial     = "dial"
	EventRing     = "ring"
	EventAccept   = "accept"
	EventAnswer   = "answer"
	EventSpeak    = "speak"
	EventListen   = "listen"
	EventComplete = "complete"
	EventFail     = "fail"
)

// newFSM builds the looplab/fsm transition table for a call in the given
// direction. Outbound calls enter via dial; inbound calls enter via ring.
func newFSM(s *Session) *fsm.FSM {
	events := fsm.Events{
		{Name: EventDial, Src: []string{string(StateCreated)}, Dst: string(StateDialing)},
		{Name: EventRing, Src: []string{string(StateCreated), string(StateDialing)}, Dst: string(StateRinging)},
		{Name: EventAccept, Src: []string{string(StateRinging)}, Dst: string(StateAccepted)},
		{Name: EventAnswer, Src: []string{string(StateDialing), string(StateRinging), string(StateAccepted)}, Dst: string(StateAnswered)},
		{Name: EventSpeak, Src: []string{string(StateAnswered), string(StateListening), string(StateSpeaking)}, Dst: string(StateSpeaking)},
		{Name: EventListen, Src: []string{string(StateAnswered), string(StateSpeaking), string(StateListening)}, Dst: string(StateListening)},
		{Name: EventComplete, Src: []string{
			string(StateCreated), string(StateDialing), string(StateRinging), string(StateAccepted),
			string(StateAnswered), string(StateSpeaking), string(StateListening),
		}, Dst: string(StateCompleted)},
		{Name: EventFail, Src: []string{
			string(StateCreated), string(StateDialing), string(StateRinging), string(StateAccepted),
			string(StateAnswered), string(StateSpeaking), string(StateListening),
		}, Dst: string(StateFailed)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			s.State = State(e.Dst)
			switch s.State {
			case StateAnswered:
				if s.AnsweredAt == nil {
					now := timeNow()
					s.AnsweredAt = &now
				}
			case StateCompleted, StateFailed:
				if s.EndedAt == nil {
					now := timeNow()
					s.EndedAt = &now
				}
				if s.State == StateFailed && len(e.Args) > 0 {
					if reason, ok := e.Args[0].(string); ok {
						s.FailReason = reason
					}
				}
			}
			if s.onTransition != nil {
				s.onTransition(s.State)
			}
		},
	}

	return fsm.NewFSM(string(s.State), events, callbacks)
}

// Transition fires event against the session's FSM, returning an error if
// the transition is invalid from the current state.
func (s *Session) transition(f *fsm.FSM, event string, args ...interface{}) error {
	if err := f.Event(context.Background(), event, args...); err != nil {
		return fmt.Errorf("call %s: transition %s from %s: %w", s.CallID, event, s.State, err)
	}
	return nil
}
