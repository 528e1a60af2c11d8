package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateEndpointAndDestroy(t *testing.T) {
	var destroyed int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/endpoints":
			json.NewEncoder(w).Encode(envelope{Data: json.RawMessage(`{"endpointId":"ep-1","localSdp":"v=0..."}`)})
		case r.Method == http.MethodDelete:
			destroyed++
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	a := &Adapter{httpClient: srv.Client(), baseURL: srv.URL}
	ep, err := a.CreateEndpoint(context.Background())
	if err != nil {
		t.Fatalf("CreateEndpoint() error: %v", err)
	}
	if ep.LocalSDP() != "v=0..." {
		t.Errorf("LocalSDP() = %q", ep.LocalSDP())
	}

	if err := ep.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if err := ep.Destroy(context.Background()); err != nil {
		t.Fatalf("second Destroy() error: %v", err)
	}
	if destroyed != 1 {
		t.Errorf("destroy called %d times, want 1 (idempotent)", destroyed)
	}
}

func TestModifyAndForkAudio(t *testing.T) {
	var gotModify, gotFork bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/endpoints/ep-1/modify":
			gotModify = true
		case "/endpoints/ep-1/fork":
			gotFork = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &Adapter{httpClient: srv.Client(), baseURL: srv.URL}
	ep := &Endpoint{adapter: a, id: "ep-1"}

	if err := ep.Modify(context.Background(), "v=0 remote"); err != nil {
		t.Fatalf("Modify() error: %v", err)
	}
	if !gotModify {
		t.Error("modify request not sent")
	}

	if err := ep.ForkAudio(context.Background(), "ws://localhost:8081/call-1", "call-1"); err != nil {
		t.Fatalf("ForkAudio() error: %v", err)
	}
	if !gotFork {
		t.Error("fork request not sent")
	}
}

func TestAdapterErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(envelope{Error: "engine overloaded"})
	}))
	defer srv.Close()

	a := &Adapter{httpClient: srv.Client(), baseURL: srv.URL}
	_, err := a.CreateEndpoint(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}
