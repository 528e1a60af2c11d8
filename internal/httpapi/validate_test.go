package httpapi

import "testing"

func TestValidateDestination(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"+14155551234", true},
		{"1001", true},
		{"12", false},
		{"abc", false},
		{"", false},
		{"+1", false},
	}
	for _, c := range cases {
		got := validateDestination(c.in) == ""
		if got != c.want {
			t.Errorf("validateDestination(%q) valid = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidateMode(t *testing.T) {
	for _, m := range []string{"", "announce", "conversation"} {
		if msg := validateMode(m); msg != "" {
			t.Errorf("validateMode(%q) = %q, want valid", m, msg)
		}
	}
	if validateMode("bogus") == "" {
		t.Error("validateMode(bogus) should be invalid")
	}
}

func TestValidateTimeoutSeconds(t *testing.T) {
	if validateTimeoutSeconds(0) != "" {
		t.Error("0 means unset, should be valid")
	}
	if validateTimeoutSeconds(30) != "" {
		t.Error("30 should be valid")
	}
	if validateTimeoutSeconds(4) == "" {
		t.Error("4 is below minimum, should be invalid")
	}
	if validateTimeoutSeconds(121) == "" {
		t.Error("121 is above maximum, should be invalid")
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"", "text", "json"} {
		if validateFormat(f) != "" {
			t.Errorf("validateFormat(%q) should be valid", f)
		}
	}
	if validateFormat("xml") == "" {
		t.Error("validateFormat(xml) should be invalid")
	}
}

func TestValidateStringLen(t *testing.T) {
	if validateStringLen("field", "", 1, 10) == "" {
		t.Error("empty string below min should be invalid")
	}
	if validateStringLen("field", "hello", 1, 10) != "" {
		t.Error("hello within bounds should be valid")
	}
	if validateStringLen("field", "this is way too long", 1, 5) == "" {
		t.Error("string over max should be invalid")
	}
}
