package httpapi

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/database/models"
	"github.com/shaike1/claude-phone/internal/devices"
	"github.com/shaike1/claude-phone/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRepo is an in-memory DeviceRepository stand-in, mirroring the one in
// internal/devices' own tests.
type fakeRepo struct {
	rows []models.Device
}

func (f *fakeRepo) Create(ctx context.Context, d *models.Device) error { return nil }
func (f *fakeRepo) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	return nil, nil
}
func (f *fakeRepo) GetByExtension(ctx context.Context, ext string) (*models.Device, error) {
	return nil, nil
}
func (f *fakeRepo) GetByName(ctx context.Context, name string) (*models.Device, error) {
	return nil, nil
}
func (f *fakeRepo) List(ctx context.Context) ([]models.Device, error) { return f.rows, nil }
func (f *fakeRepo) Update(ctx context.Context, d *models.Device) error { return nil }
func (f *fakeRepo) Delete(ctx context.Context, id int64) error        { return nil }

func newTestServer(t *testing.T, rows []models.Device) *Server {
	t.Helper()

	reg, err := devices.New(context.Background(), &fakeRepo{rows: rows}, testLogger())
	if err != nil {
		t.Fatalf("devices.New: %v", err)
	}

	store, err := tts.NewStore(t.TempDir(), "", testLogger())
	if err != nil {
		t.Fatalf("tts.NewStore: %v", err)
	}

	return &Server{
		devices:  reg,
		sessions: callsession.NewManager(testLogger()),
		store:    store,
		logger:   testLogger(),
	}
}

func TestHandleListDevices(t *testing.T) {
	s := newTestServer(t, []models.Device{
		{Extension: "1001", Name: "Alice", Language: "en"},
		{Extension: "1002", Name: "Bob", Language: "he"},
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/devices", nil)
	s.handleListDevices(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("Alice")) {
		t.Errorf("body missing Alice: %s", w.Body.String())
	}
}

func TestHandleGetCallNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	router := chi.NewRouter()
	router.Get("/api/call/{callId}", s.handleGetCall)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/call/does-not-exist", nil)
	router.ServeHTTP(w, r)

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleGetCallFound(t *testing.T) {
	s := newTestServer(t, nil)
	s.sessions.Create(context.Background(), "call-1", callsession.Outbound, callsession.ModeAnnounce)

	router := chi.NewRouter()
	router.Get("/api/call/{callId}", s.handleGetCall)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/call/call-1", nil)
	router.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("call-1")) {
		t.Errorf("body missing call id: %s", w.Body.String())
	}
}

func TestHandleHangupNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	router := chi.NewRouter()
	router.Post("/api/call/{callId}/hangup", s.handleHangup)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/call/does-not-exist/hangup", nil)
	router.ServeHTTP(w, r)

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleHangupEndsSession(t *testing.T) {
	s := newTestServer(t, nil)
	s.sessions.Create(context.Background(), "call-1", callsession.Outbound, callsession.ModeAnnounce)

	router := chi.NewRouter()
	router.Post("/api/call/{callId}/hangup", s.handleHangup)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/call/call-1/hangup", nil)
	router.ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	sess, _ := s.sessions.Get("call-1")
	if !sess.IsTerminal() {
		t.Error("session should be terminal after hangup")
	}
}

func TestHandleListCalls(t *testing.T) {
	s := newTestServer(t, nil)
	s.sessions.Create(context.Background(), "call-1", callsession.Inbound, callsession.ModeConversation)
	s.sessions.Create(context.Background(), "call-2", callsession.Outbound, callsession.ModeAnnounce)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/calls", nil)
	s.handleListCalls(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("call-1")) || !bytes.Contains(w.Body.Bytes(), []byte("call-2")) {
		t.Errorf("body missing a call id: %s", w.Body.String())
	}
}

func TestHandleOutboundCallRejectsBadDestination(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"to":"not-a-number","message":"hello"}`)
	r := httptest.NewRequest("POST", "/api/outbound-call", body)
	s.handleOutboundCall(w, r)

	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleOutboundCallRejectsBadMode(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"to":"+14155551234","message":"hello","mode":"bogus"}`)
	r := httptest.NewRequest("POST", "/api/outbound-call", body)
	s.handleOutboundCall(w, r)

	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleQueryRejectsUnknownTarget(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"target":"nobody","query":"hi"}`)
	r := httptest.NewRequest("POST", "/api/query", body)
	s.handleQuery(w, r)

	if w.Code != 404 {
		t.Errorf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleAudioUploadRejectsEmptyBody(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/audio", bytes.NewReader(nil))
	s.handleAudioUpload(w, r)

	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleAudioUploadStoresFile(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/audio", bytes.NewReader([]byte("fake mp3 bytes")))
	r.Header.Set("Content-Type", "audio/mpeg")
	s.handleAudioUpload(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(".mp3")) {
		t.Errorf("expected stored url with .mp3 extension: %s", w.Body.String())
	}
}

func TestHandleQueryRejectsBadFormat(t *testing.T) {
	s := newTestServer(t, []models.Device{{Extension: "1001", Name: "Alice"}})

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"target":"1001","query":"hi","format":"xml"}`)
	r := httptest.NewRequest("POST", "/api/query", body)
	s.handleQuery(w, r)

	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleReloadDevices(t *testing.T) {
	repo := &fakeRepo{rows: []models.Device{{Extension: "1001", Name: "Alice"}}}
	reg, err := devices.New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("devices.New: %v", err)
	}
	s := &Server{devices: reg, logger: testLogger()}

	repo.rows = append(repo.rows, models.Device{Extension: "1002", Name: "Bob"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/devices/reload", nil)
	s.handleReloadDevices(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, ok := reg.Lookup("1002"); !ok {
		t.Error("reload did not pick up the new device")
	}
}
