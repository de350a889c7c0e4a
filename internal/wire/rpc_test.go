package wire

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fipamesh/agentd/internal/consensus"
)

func TestAgentLocationRoundTrip(t *testing.T) {
	loc := consensus.AgentLocation{
		Fingerprint:  "trader-1",
		NodeID:       "node-b",
		UpdatedAt:    1000,
		Capabilities: []string{"request", "query"},
		Epoch:        3,
	}
	got, err := UnmarshalAgentLocation(MarshalAgentLocation(loc))
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != loc.Fingerprint || got.NodeID != loc.NodeID {
		t.Fatalf("expected fingerprint/node to round-trip, got %+v", got)
	}
	if got.Epoch != 3 {
		t.Fatalf("expected epoch 3, got %d", got.Epoch)
	}
	if len(got.Capabilities) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(got.Capabilities))
	}
}

func TestServiceEntryRoundTrip(t *testing.T) {
	e := consensus.ServiceEntry{
		ServiceType:  "weather",
		Name:         "weather-1",
		Provider:     "trader-1",
		NodeID:       "node-a",
		Properties:   map[string]string{"region": "eu"},
		RegisteredAt: 555,
	}
	got, err := UnmarshalServiceEntry(MarshalServiceEntry(e))
	if err != nil {
		t.Fatal(err)
	}
	if got.ServiceType != "weather" || got.Provider != "trader-1" {
		t.Fatalf("expected fields to round-trip, got %+v", got)
	}
	if got.Properties["region"] != "eu" {
		t.Fatalf("expected property region=eu, got %+v", got.Properties)
	}
}

func TestServiceListRoundTrip(t *testing.T) {
	entries := []consensus.ServiceEntry{
		{ServiceType: "weather", Name: "w1", Provider: "p1"},
		{ServiceType: "weather", Name: "w2", Provider: "p2"},
	}
	got, err := UnmarshalServiceList(MarshalServiceList(entries))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestServiceListEmptyRoundTrip(t *testing.T) {
	got, err := UnmarshalServiceList(MarshalServiceList(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(got))
	}
}

func TestNodeInfoRoundTrip(t *testing.T) {
	info := NodeInfo{
		NodeID:          "node-a",
		IsLeader:        true,
		LeaderAddr:      "node-a:7000",
		ConnectedPeers:  4,
		MessagesSent:    100,
		MessagesRecv:    99,
		LocalAgentCount: 12,
	}
	got, err := UnmarshalNodeInfo(MarshalNodeInfo(info))
	if err != nil {
		t.Fatal(err)
	}
	if got != info {
		t.Fatalf("expected node info to round-trip exactly, got %+v", got)
	}
}

func TestNodeInfoNotLeader(t *testing.T) {
	info := NodeInfo{NodeID: "node-b", IsLeader: false}
	got, err := UnmarshalNodeInfo(MarshalNodeInfo(info))
	if err != nil {
		t.Fatal(err)
	}
	if got.IsLeader {
		t.Fatal("expected IsLeader to be false when unset")
	}
}

func TestMigrateAgentRequestRoundTrip(t *testing.T) {
	name, target, err := UnmarshalMigrateAgentRequest(MarshalMigrateAgentRequest("trader-1", "node-c"))
	if err != nil {
		t.Fatal(err)
	}
	if name != "trader-1" || target != "node-c" {
		t.Fatalf("expected request fields to round-trip, got %s/%s", name, target)
	}
}

func TestFindRequestRoundTrip(t *testing.T) {
	got, err := UnmarshalFindRequest(MarshalFindRequest("weather-service"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "weather-service" {
		t.Fatalf("expected query to round-trip, got %q", got)
	}
}

func TestMigrateAgentResponseEncodesEpoch(t *testing.T) {
	data := MarshalMigrateAgentResponse(42)
	num, _, n := protowire.ConsumeTag(data)
	if n < 0 || num != 1 {
		t.Fatalf("expected field 1 tag, got num=%d n=%d", num, n)
	}
	v, n := protowire.ConsumeVarint(data[n:])
	if n < 0 || v != 42 {
		t.Fatalf("expected epoch 42, got %d", v)
	}
}

func TestWasmModuleResponseEncodesBytes(t *testing.T) {
	module := []byte("wasm-bytes")
	data := MarshalWasmModuleResponse(module)
	_, _, n := protowire.ConsumeTag(data)
	got, n2 := protowire.ConsumeBytes(data[n:])
	if n2 < 0 || !bytes.Equal(got, module) {
		t.Fatalf("expected module bytes to encode, got %v", got)
	}
}

func TestAckEncodesOkAndError(t *testing.T) {
	data := MarshalAck(Ack{OK: false, Error: "boom"})
	num, _, n := protowire.ConsumeTag(data)
	if num != 2 {
		t.Fatalf("expected field 2 (error) since OK omitted, got field %d", num)
	}
	got, n2 := protowire.ConsumeBytes(data[n:])
	if n2 < 0 || string(got) != "boom" {
		t.Fatalf("expected error message 'boom', got %q", got)
	}
}

func TestHealthStatusEncodesNodeID(t *testing.T) {
	data := MarshalHealthStatus(HealthStatus{OK: true, NodeID: "node-a"})
	num, _, n := protowire.ConsumeTag(data)
	if num != 1 {
		t.Fatalf("expected field 1 (ok) first, got %d", num)
	}
	v, n2 := protowire.ConsumeVarint(data[n:])
	if n2 < 0 || v != 1 {
		t.Fatal("expected ok=1")
	}
}
