package aibridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAskSuccess(t *testing.T) {
	var gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotSession = req.Session
		if !strings.Contains(req.Text, "hello") {
			t.Errorf("request text missing user text: %q", req.Text)
		}

		resp := askResponse{}
		resp.Response.Speech.Plain.Speech = "hi there"
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	reply, err := c.Ask(context.Background(), "hello", "call-1", "you are a helpful bot")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q", reply)
	}
	if gotSession != "claude-phone-call-1" {
		t.Errorf("session = %q", gotSession)
	}
}

func TestAskRetriesOn5xx(t *testing.T) {
	var calls int
	var sessions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req askRequest
		json.NewDecoder(r.Body).Decode(&req)
		sessions = append(sessions, req.Session)

		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
			return
		}
		resp := askResponse{}
		resp.Response.Speech.Plain.Speech = "recovered"
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	reply, err := c.Ask(context.Background(), "hello", "call-1", "")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("reply = %q", reply)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if sessions[1] == sessions[0] {
		t.Error("retry should use a fresh session key")
	}
}

func TestAskNoRetryOn4xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.Ask(context.Background(), "hello", "call-1", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}
