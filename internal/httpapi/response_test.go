package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/shaike1/claude-phone/internal/errs"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, 200, map[string]string{"ok": "yes"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["ok"] != "yes" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteErrKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("bad: %w", errs.ErrValidation), 400},
		{fmt.Errorf("missing: %w", errs.ErrNotFound), 404},
		{fmt.Errorf("down: %w", errs.ErrUpstreamUnavailable), 503},
		{fmt.Errorf("slow: %w", errs.ErrTimeout), 504},
		{fmt.Errorf("boom"), 500},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		writeErrKind(w, c.err)
		if w.Code != c.want {
			t.Errorf("writeErrKind(%v) status = %d, want %d", c.err, w.Code, c.want)
		}
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"to":"1001","bogus":"x"}`))

	var body struct {
		To string `json:"to"`
	}
	if msg := readJSON(w, r, &body); msg == "" {
		t.Error("expected rejection of unknown field")
	}
}

func TestReadJSONRejectsEmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", bytes.NewBufferString(``))

	var body struct{}
	if msg := readJSON(w, r, &body); msg == "" {
		t.Error("expected rejection of empty body")
	}
}

func TestReadJSONAcceptsValidBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"to":"1001"}`))

	var body struct {
		To string `json:"to"`
	}
	if msg := readJSON(w, r, &body); msg != "" {
		t.Errorf("unexpected rejection: %s", msg)
	}
	if body.To != "1001" {
		t.Errorf("To = %q", body.To)
	}
}
