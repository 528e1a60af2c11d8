package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/errs"
	"github.com/shaike1/claude-phone/internal/sipcore"
)

// outboundCallRequest is the wire body of POST /api/outbound-call.
type outboundCallRequest struct {
	To             string `json:"to"`
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	Device         string `json:"device"`
	CallerID       string `json:"callerId"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	WebhookURL     string `json:"webhookUrl"`
	Context        string `json:"context"`
}

type outboundCallResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId"`
	Status  string `json:"status"`
}

const defaultOutboundTimeoutSeconds = 30

// handleOutboundCall implements POST /api/outbound-call: validates the
// request, places the call via sipcore, and returns immediately once the
// Call Session exists. Call progress continues in the background.
func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var body outboundCallRequest
	if msg := readJSON(w, r, &body); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if msg := validateDestination(body.To); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("message", body.Message, 1, 1000); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateMode(body.Mode); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateTimeoutSeconds(body.TimeoutSeconds); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	mode := callsession.Mode(body.Mode)
	if mode == "" {
		mode = "announce"
	}

	timeout := body.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultOutboundTimeoutSeconds
	}

	sess, err := s.core.PlaceCall(r.Context(), sipcore.OutboundCallRequest{
		To:              body.To,
		DeviceExtension: body.Device,
		Mode:            mode,
		Message:         body.Message,
		WebhookURL:      body.WebhookURL,
		CallerID:        body.CallerID,
		Context:         body.Context,
		RingTimeout:     time.Duration(timeout) * time.Second,
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		if errors.Is(err, errs.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, errs.ErrUpstreamUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "media engine is not ready")
			return
		}
		writeErrKind(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, outboundCallResponse{
		Success: true,
		CallID:  sess.CallID,
		Status:  "queued",
	})
}

// handleGetCall implements GET /api/call/:callId.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	sess, ok := s.sessions.Get(callID)
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, newCallView(sess.Snapshot()))
}

// callsListResponse wraps GET /api/calls.
type callsListResponse struct {
	Calls []callView `json:"calls"`
}

// handleListCalls implements GET /api/calls: every session still tracked
// by the Manager, which already excludes sessions past their eviction
// grace window (see callsession.Manager.sweep).
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	all := s.sessions.All()
	views := make([]callView, 0, len(all))
	for _, sess := range all {
		views = append(views, newCallView(sess.Snapshot()))
	}
	writeJSON(w, http.StatusOK, callsListResponse{Calls: views})
}

// handleHangup implements POST /api/call/:callId/hangup: forces the
// session to COMPLETED via cancellation.
func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	if _, ok := s.sessions.Get(callID); !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	s.sessions.End(r.Context(), callID, false, "")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
