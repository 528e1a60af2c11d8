package callsession

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(testLogger())
	s := m.Create(context.Background(), "call-1", Inbound, ModeConversation)

	got, ok := m.Get("call-1")
	if !ok || got != s {
		t.Fatal("Get did not return the created session")
	}
	if len(m.All()) != 1 {
		t.Errorf("All() len = %d, want 1", len(m.All()))
	}
}

func TestManagerDoSerializesMutations(t *testing.T) {
	m := NewManager(testLogger())
	s := m.Create(context.Background(), "call-1", Inbound, ModeConversation)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do(s, func(s *Session) {
				s.TurnCount++
			})
		}()
	}
	wg.Wait()

	m.Do(s, func(s *Session) {
		if s.TurnCount != 50 {
			t.Errorf("TurnCount = %d, want 50", s.TurnCount)
		}
	})
}

func TestManagerEndMarksTerminalAndCancels(t *testing.T) {
	m := NewManager(testLogger())
	s := m.Create(context.Background(), "call-1", Outbound, ModeAnnounce)
	m.Do(s, func(s *Session) {
		_ = s.Fire(EventDial)
	})

	m.End(context.Background(), "call-1", false, "")

	if !s.IsTerminal() {
		t.Error("session not terminal after End")
	}
	select {
	case <-s.Context().Done():
	default:
		t.Error("context not cancelled after End")
	}
}

func TestManagerEndIsIdempotent(t *testing.T) {
	m := NewManager(testLogger())
	m.Create(context.Background(), "call-1", Outbound, ModeAnnounce)

	m.End(context.Background(), "call-1", true, "no_answer")
	m.End(context.Background(), "call-1", false, "") // must not panic or override

	s, _ := m.Get("call-1")
	if s.State != StateFailed {
		t.Errorf("state = %s, want %s (first End call wins)", s.State, StateFailed)
	}
}

func TestManagerSweepEvictsAfterGrace(t *testing.T) {
	m := NewManager(testLogger())
	m.evictionGrace = 10 * time.Millisecond
	m.Create(context.Background(), "call-1", Outbound, ModeAnnounce)
	m.End(context.Background(), "call-1", false, "")

	time.Sleep(20 * time.Millisecond)
	m.sweep()

	if _, ok := m.Get("call-1"); ok {
		t.Error("session should have been evicted")
	}
}

func TestManagerSweepKeepsFreshTerminalSessions(t *testing.T) {
	m := NewManager(testLogger())
	m.Create(context.Background(), "call-1", Outbound, ModeAnnounce)
	m.End(context.Background(), "call-1", false, "")

	m.sweep()

	if _, ok := m.Get("call-1"); !ok {
		t.Error("freshly-ended session should survive the grace window")
	}
}
