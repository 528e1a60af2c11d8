package callsession

import (
	"context"
	"testing"
)

func TestFSMOutboundHappyPath(t *testing.T) {
	s := New(context.Background(), "call-1", Outbound, ModeAnnounce)

	steps := []struct {
		event string
		want  State
	}{
		{EventDial, StateDialing},
		{EventRing, StateRinging},
		{EventAnswer, StateAnswered},
		{EventSpeak, StateSpeaking},
		{EventListen, StateListening},
		{EventComplete, StateCompleted},
	}
	for _, step := range steps {
		if err := s.Fire(step.event); err != nil {
			t.Fatalf("Fire(%s): %v", step.event, err)
		}
		if s.State != step.want {
			t.Fatalf("after %s: state = %s, want %s", step.event, s.State, step.want)
		}
	}
	if s.EndedAt == nil {
		t.Error("EndedAt not set after complete")
	}
}

func TestFSMInboundHappyPath(t *testing.T) {
	s := New(context.Background(), "call-2", Inbound, ModeConversation)

	for _, event := range []string{EventRing, EventAccept, EventAnswer} {
		if err := s.Fire(event); err != nil {
			t.Fatalf("Fire(%s): %v", event, err)
		}
	}
	if s.State != StateAnswered {
		t.Fatalf("state = %s, want %s", s.State, StateAnswered)
	}
	if s.AnsweredAt == nil {
		t.Error("AnsweredAt not set after answer")
	}
}

func TestFSMFailFromAnyNonTerminalState(t *testing.T) {
	s := New(context.Background(), "call-3", Inbound, ModeConversation)
	if err := s.Fire(EventRing); err != nil {
		t.Fatal(err)
	}
	if err := s.Fire(EventFail, "no_answer"); err != nil {
		t.Fatalf("Fire(fail): %v", err)
	}
	if s.State != StateFailed {
		t.Fatalf("state = %s, want %s", s.State, StateFailed)
	}
	if s.FailReason != "no_answer" {
		t.Errorf("FailReason = %q, want no_answer", s.FailReason)
	}
}

func TestFSMRejectsInvalidTransition(t *testing.T) {
	s := New(context.Background(), "call-4", Inbound, ModeConversation)
	if err := s.Fire(EventSpeak); err == nil {
		t.Error("expected error speaking before answered")
	}
}

func TestFSMTerminalIsAbsorbing(t *testing.T) {
	s := New(context.Background(), "call-5", Outbound, ModeAnnounce)
	if err := s.Fire(EventComplete); err != nil {
		t.Fatal(err)
	}
	if err := s.Fire(EventFail, "late"); err == nil {
		t.Error("expected error transitioning out of a terminal state")
	}
}
