package sipcore

import "testing"

func TestDialString(t *testing.T) {
	cases := map[string]string{
		"+15551234567": "95551234567",
		"+445551234":   "9445551234",
		"12611":        "12611",
		"1002":         "1002",
	}
	for input, want := range cases {
		if got := dialString(input); got != want {
			t.Errorf("dialString(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMapSIPFailure(t *testing.T) {
	cases := map[int]string{
		486: "busy",
		600: "busy",
		480: "no_answer",
		408: "no_answer",
		404: "not_found",
		603: "rejected",
		401: "auth_failed",
		407: "auth_failed",
		403: "forbidden",
		503: "service_unavailable",
		500: "sip_failure",
	}
	for code, want := range cases {
		if got := mapSIPFailure(code); got != want {
			t.Errorf("mapSIPFailure(%d) = %q, want %q", code, got, want)
		}
	}
}
