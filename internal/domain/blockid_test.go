package domain

import "testing"

func TestParseBlockID(t *testing.T) {
	valid, err := ParseBlockID("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid.IsZero() {
		t.Fatalf("parsed id should not be zero")
	}

	cases := []string{"", "short", "XYZ", "0123456789ABCDEF0123456789ABCDEF", "0123456789abcdef0123456789abcdeg"}
	for _, c := range cases {
		if _, err := ParseBlockID(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}

func TestNewBlockID(t *testing.T) {
	const n = 50
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := NewBlockID()
		if err != nil {
			t.Fatalf("NewBlockID error: %v", err)
		}
		s := id.String()
		if len(s) != 32 {
			t.Fatalf("id length unexpected: %d", len(s))
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate id generated: %s", s)
		}
		seen[s] = struct{}{}
	}
}

func TestFanoutSplit(t *testing.T) {
	id, err := ParseBlockID("ab23456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := id.FanoutPrefix(); got != "ab" {
		t.Errorf("FanoutPrefix() = %q, want %q", got, "ab")
	}
	if got := id.FanoutRemainder(); got != "23456789abcdef0123456789abcdef" {
		t.Errorf("FanoutRemainder() = %q", got)
	}
}
