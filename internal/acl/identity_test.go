package acl

import "testing"

func TestAgentIdEqualIgnoresAddresses(t *testing.T) {
	a := AgentId{Name: "alice", Addresses: []string{"node-1"}}
	b := AgentId{Name: "alice", Addresses: []string{"node-2"}}
	if !a.Equal(b) {
		t.Fatal("expected equal AgentIds with same name")
	}
	c := AgentId{Name: "bob"}
	if a.Equal(c) {
		t.Fatal("expected different names to be unequal")
	}
}

func TestNewReceiverSetDedups(t *testing.T) {
	alice := AgentId{Name: "alice"}
	bob := AgentId{Name: "bob"}
	rs := NewReceiverSet(alice, bob, alice)
	if len(rs.Receivers) != 2 {
		t.Fatalf("expected 2 receivers after dedup, got %d", len(rs.Receivers))
	}
	if !rs.Contains(alice) || !rs.Contains(bob) {
		t.Fatal("expected receiver set to contain both agents")
	}
	if rs.Contains(AgentId{Name: "carol"}) {
		t.Fatal("did not expect receiver set to contain carol")
	}
}

func TestReceiverSetEmpty(t *testing.T) {
	rs := NewReceiverSet()
	if len(rs.Receivers) != 0 {
		t.Fatalf("expected empty receiver set, got %d", len(rs.Receivers))
	}
}
