package audiofork

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connectMetadata is the optional leading JSON text frame a connection may
// send before raw binary PCM frames begin.
type connectMetadata struct {
	SampleRate int `json:"sampleRate"`
}

// expectation is a pre-registered slot for an out-of-order WebSocket
// connect: the conversation loop registers one before instructing the
// media engine to fork audio, so the connection — when it arrives — can be
// handed the right callback and VAD parameters.
type expectation struct {
	onUtterance func(Utterance)
	ready       chan *Session
	timer       *time.Timer
}

// Server is the WebSocket server for the audio fork. It is served by its
// own listener on the WebSocket port, separate from the HTTP control API,
// at a path whose trailing segment is the call id.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu           sync.Mutex
	expectations map[string]*expectation
	sessions     map[string]*Session
}

// NewServer creates a Server.
func NewServer(logger *slog.Logger) *Server {
	return &Server{
		logger: logger.With("subsystem", "audiofork"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		expectations: make(map[string]*expectation),
		sessions:     make(map[string]*Session),
	}
}

// Expect pre-registers an expectation for callID with a bounded wait. It
// returns the Session once the connection arrives, or nil on timeout.
// On timeout Expect logs a warning and returns nil; it does not end the
// call itself. The conversation loop ends a call whose fork never arrives
// with reason audio_fork_timeout.
func (s *Server) Expect(callID string, timeout time.Duration, onUtterance func(Utterance)) *Session {
	exp := &expectation{
		onUtterance: onUtterance,
		ready:       make(chan *Session, 1),
	}

	s.mu.Lock()
	s.expectations[callID] = exp
	s.mu.Unlock()

	exp.timer = time.AfterFunc(timeout, func() {
		s.mu.Lock()
		if s.expectations[callID] == exp {
			delete(s.expectations, callID)
		}
		s.mu.Unlock()
		select {
		case exp.ready <- nil:
		default:
		}
	})

	session := <-exp.ready
	exp.timer.Stop()
	if session == nil {
		s.logger.Warn("audio fork expectation timed out", "call_id", callID)
	}
	return session
}

// Session returns the active session for a call id, if any.
func (s *Server) Session(callID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	return sess, ok
}

// Close releases the session for callID.
func (s *Server) Close(callID string) {
	s.mu.Lock()
	delete(s.sessions, callID)
	delete(s.expectations, callID)
	s.mu.Unlock()
}

// ServeHTTP handles a WebSocket connection at /{callID}. A connection
// whose call id has no registered expectation still instantiates and
// tracks a session — it is simply not delivered through Expect's channel.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimPrefix(r.URL.Path, "/")
	callID = strings.Trim(callID, "/")
	if callID == "" {
		http.Error(w, "missing call id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "call_id", callID, "error", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	exp, hasExpectation := s.expectations[callID]
	if hasExpectation {
		delete(s.expectations, callID)
	}
	s.mu.Unlock()

	var onUtterance func(Utterance)
	if hasExpectation {
		onUtterance = exp.onUtterance
	}

	session := NewSession(callID, onUtterance)

	s.mu.Lock()
	s.sessions[callID] = session
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, callID)
		s.mu.Unlock()
	}()

	if hasExpectation {
		select {
		case exp.ready <- session:
		default:
		}
	}

	s.readLoop(conn, session, callID)
}

func (s *Server) readLoop(conn *websocket.Conn, session *Session, callID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.TextMessage {
			var meta connectMetadata
			if err := json.Unmarshal(data, &meta); err == nil {
				session.SetSampleRate(meta.SampleRate)
			}
			continue
		}

		session.Ingest(data)
	}
}
