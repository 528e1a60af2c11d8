package callsession

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultEvictionGrace is how long a terminal session is kept around for
// late status lookups (GET /api/call/:callId) before the sweeper removes it.
const DefaultEvictionGrace = 60 * time.Second

// Manager is the concurrent registry of all in-flight and recently-ended
// calls: a mutex-guarded map plus a ticker that evicts stale entries.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	evictionGrace time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a Manager with the default eviction grace period.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:        logger.With("subsystem", "callsession"),
		sessions:      make(map[string]*Session),
		evictionGrace: DefaultEvictionGrace,
		stopCh:        make(chan struct{}),
	}
}

// Create registers a new session and starts its mailbox goroutine.
func (m *Manager) Create(parent context.Context, callID string, dir Direction, mode Mode) *Session {
	s := New(parent, callID, dir, mode)

	m.mu.Lock()
	m.sessions[callID] = s
	m.mu.Unlock()

	go m.run(s)

	m.logger.Info("call session created", "call_id", callID, "direction", dir, "mode", mode)
	return s
}

// run drains a session's mailbox until its context is cancelled and the
// mailbox is empty, serializing every mutation onto one goroutine so FSM
// transitions and field writes never race. Each task runs under the
// session's write lock so Snapshot and the sweeper can read concurrently.
func (m *Manager) run(s *Session) {
	exec := func(fn func()) {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
	}
	for {
		select {
		case fn := <-s.mailbox:
			exec(fn)
		case <-s.ctx.Done():
			// Drain whatever queued before returning, then exit.
			for {
				select {
				case fn := <-s.mailbox:
					exec(fn)
				default:
					return
				}
			}
		}
	}
}

// Do schedules fn to run serialized on the session's mailbox goroutine and
// blocks until it has run. Callers use this to mutate session state (fire
// FSM events, append turns, set endpoints) without external locking.
func (m *Manager) Do(s *Session, fn func(*Session)) {
	if s.ctx.Err() != nil {
		// Session already torn down; its mailbox goroutine may have exited.
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	task := func() {
		fn(s)
		close(done)
	}
	select {
	case s.mailbox <- task:
		<-done
	case <-s.ctx.Done():
		// Session already torn down; run fn inline so callers (e.g. final
		// cleanup) still observe a consistent result.
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
	}
}

// Get returns the session for callID, if present.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// All returns a snapshot of every tracked session.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// End marks a session terminal, firing the matching FSM event, cancelling
// its context, and releasing its endpoint/dialog resources. Safe to call
// more than once.
func (m *Manager) End(ctx context.Context, callID string, failed bool, reason string) {
	s, ok := m.Get(callID)
	if !ok {
		return
	}

	var endpoint Endpoint
	var dialog DialogHandle
	m.Do(s, func(s *Session) {
		if s.IsTerminal() {
			return
		}
		if failed {
			s.FailReason = reason
			_ = s.Fire(EventFail, reason)
		} else {
			_ = s.Fire(EventComplete)
		}
		endpoint = s.Endpoint
		dialog = s.Dialog
	})

	if endpoint != nil {
		if err := endpoint.Destroy(ctx); err != nil {
			m.logger.Warn("endpoint teardown failed", "call_id", callID, "error", err)
		}
	}
	if dialog != nil {
		if err := dialog.Hangup(ctx); err != nil {
			m.logger.Warn("dialog hangup failed", "call_id", callID, "error", err)
		}
	}

	s.Cancel()
	m.logger.Info("call session ended", "call_id", callID, "failed", failed, "reason", reason)
}

// StartSweeper launches the background eviction loop; it runs until ctx is
// cancelled or Stop is called.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.evictionGrace)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		s.mu.RLock()
		evictable := s.IsTerminal() && s.EndedAt != nil && s.EndedAt.Before(cutoff)
		s.mu.RUnlock()
		if evictable {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Debug("evicted terminal call sessions", "count", evicted)
	}
}
