package acl

import "testing"

func TestPerformativeStringKnown(t *testing.T) {
	if got := Request.String(); got != "request" {
		t.Fatalf("expected 'request', got %q", got)
	}
	if got := AcceptProposal.String(); got != "accept-proposal" {
		t.Fatalf("expected 'accept-proposal', got %q", got)
	}
}

func TestPerformativeStringUnknown(t *testing.T) {
	p := Performative(999)
	if got := p.String(); got != "performative(999)" {
		t.Fatalf("expected fallback string, got %q", got)
	}
}

func TestParsePerformativeRoundTrip(t *testing.T) {
	for p := AcceptProposal; p <= Subscribe; p++ {
		parsed, err := ParsePerformative(int32(p))
		if err != nil {
			t.Fatalf("unexpected error parsing %d: %v", p, err)
		}
		if parsed != p {
			t.Fatalf("expected %d, got %d", p, parsed)
		}
	}
}

func TestParsePerformativeOutOfRange(t *testing.T) {
	if _, err := ParsePerformative(-1); err == nil {
		t.Fatal("expected error for negative performative")
	}
	if _, err := ParsePerformative(int32(Subscribe) + 1); err == nil {
		t.Fatal("expected error for out-of-range performative")
	}
}
