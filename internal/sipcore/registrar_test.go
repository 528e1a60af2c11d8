package sipcore

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func TestParseContactExpires(t *testing.T) {
	cases := map[string]int{
		"<sip:100@10.0.0.1:5060>;expires=3600": 3600,
		"<sip:100@10.0.0.1:5060>":              0,
		"<sip:100@10.0.0.1>;expires=120;q=0.5": 120,
	}
	for input, want := range cases {
		if got := parseContactExpires(input); got != want {
			t.Errorf("parseContactExpires(%q) = %d, want %d", input, got, want)
		}
	}
}

func newTestResponse(t *testing.T) *sip.Response {
	t.Helper()
	var recipient sip.Uri
	if err := sip.ParseUri("sip:registrar.example.com", &recipient); err != nil {
		t.Fatalf("parsing test uri: %v", err)
	}
	req := sip.NewRequest(sip.REGISTER, recipient)
	return sip.NewResponseFromRequest(req, 200, "OK", nil)
}

func TestGrantedExpiryPrefersContact(t *testing.T) {
	res := newTestResponse(t)
	res.AppendHeader(sip.NewHeader("Contact", "<sip:100@10.0.0.1>;expires=600"))
	res.AppendHeader(sip.NewHeader("Expires", "300"))

	if got := grantedExpiry(res, 120); got != 600 {
		t.Errorf("grantedExpiry = %d, want 600 (contact wins)", got)
	}
}

func TestGrantedExpiryFallsBackToExpiresHeader(t *testing.T) {
	res := newTestResponse(t)
	res.AppendHeader(sip.NewHeader("Expires", "300"))

	if got := grantedExpiry(res, 120); got != 300 {
		t.Errorf("grantedExpiry = %d, want 300", got)
	}
}

func TestGrantedExpiryFallsBackToRequested(t *testing.T) {
	res := newTestResponse(t)
	if got := grantedExpiry(res, 120); got != 120 {
		t.Errorf("grantedExpiry = %d, want 120 (requested fallback)", got)
	}
}
