package wire

import (
	"testing"
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/router"
)

func TestAgentIdRoundTrip(t *testing.T) {
	id := acl.AgentId{Name: "alice", Addresses: []string{"node-1", "node-2"}}
	data := MarshalAgentId(id)
	got, err := UnmarshalAgentId(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != id.Name {
		t.Fatalf("expected name %q, got %q", id.Name, got.Name)
	}
	if len(got.Addresses) != 2 || got.Addresses[0] != "node-1" || got.Addresses[1] != "node-2" {
		t.Fatalf("expected addresses to round-trip, got %v", got.Addresses)
	}
}

func TestAgentIdRoundTripNoAddresses(t *testing.T) {
	id := acl.AgentId{Name: "solo"}
	got, err := UnmarshalAgentId(MarshalAgentId(id))
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "solo" || len(got.Addresses) != 0 {
		t.Fatalf("expected solo agent with no addresses, got %+v", got)
	}
}

func TestContentTextRoundTrip(t *testing.T) {
	c := &acl.MessageContent{Kind: acl.ContentText, Text: "hello world"}
	got, err := UnmarshalContent(MarshalContent(c))
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != acl.ContentText || got.Text != "hello world" {
		t.Fatalf("expected text content round-trip, got %+v", got)
	}
}

func TestContentStructuredRoundTrip(t *testing.T) {
	c := &acl.MessageContent{
		Kind: acl.ContentStructured,
		Structured: acl.StructuredContent{
			Expressions: []acl.ContentExpression{
				{Kind: acl.ExprAction, Value: "move(left)"},
				{Kind: acl.ExprFact, Value: "temp(20)"},
			},
		},
	}
	got, err := UnmarshalContent(MarshalContent(c))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Structured.Expressions) != 2 {
		t.Fatalf("expected 2 expressions, got %d", len(got.Structured.Expressions))
	}
	if got.Structured.Expressions[0].Value != "move(left)" {
		t.Fatalf("unexpected first expression: %+v", got.Structured.Expressions[0])
	}
}

func TestMarshalContentNil(t *testing.T) {
	if data := MarshalContent(nil); data != nil {
		t.Fatalf("expected nil bytes for nil content, got %v", data)
	}
}

func TestMessageRoundTripFullFields(t *testing.T) {
	sender := acl.AgentId{Name: "alice"}
	receiver := acl.NewReceiverSet(acl.AgentId{Name: "bob"}, acl.AgentId{Name: "carol"})
	protocol := acl.ProtoContractNet
	convID := acl.ConversationId("conv-42")
	replyWith := acl.MessageId("msg-1")
	inReplyTo := acl.MessageId("msg-0")
	replyBy := time.UnixMilli(time.Now().UnixMilli())
	lang := acl.LangFipaSL
	enc := acl.EncodingUTF8
	ontology := acl.OntologyRef("weather-ontology")

	msg := acl.Message{
		Performative:   acl.Cfp,
		Sender:         sender,
		Receiver:       receiver,
		Protocol:       &protocol,
		ConversationID: &convID,
		ReplyWith:      &replyWith,
		InReplyTo:      &inReplyTo,
		ReplyBy:        &replyBy,
		Language:       &lang,
		Encoding:       &enc,
		Ontology:       &ontology,
		Content:        &acl.MessageContent{Kind: acl.ContentText, Text: "bid now"},
	}

	got, err := UnmarshalMessage(MarshalMessage(msg))
	if err != nil {
		t.Fatal(err)
	}
	if got.Performative != acl.Cfp {
		t.Fatalf("expected Cfp performative, got %v", got.Performative)
	}
	if got.Sender.Name != "alice" {
		t.Fatalf("expected sender alice, got %s", got.Sender.Name)
	}
	if len(got.Receiver.Receivers) != 2 {
		t.Fatalf("expected 2 receivers, got %d", len(got.Receiver.Receivers))
	}
	if got.Protocol == nil || *got.Protocol != acl.ProtoContractNet {
		t.Fatal("expected protocol to round-trip")
	}
	if got.ConversationID == nil || *got.ConversationID != convID {
		t.Fatal("expected conversation id to round-trip")
	}
	if got.ReplyWith == nil || *got.ReplyWith != replyWith {
		t.Fatal("expected reply-with to round-trip")
	}
	if got.InReplyTo == nil || *got.InReplyTo != inReplyTo {
		t.Fatal("expected in-reply-to to round-trip")
	}
	if got.ReplyBy == nil || got.ReplyBy.UnixMilli() != replyBy.UnixMilli() {
		t.Fatal("expected reply-by to round-trip")
	}
	if got.Ontology == nil || *got.Ontology != ontology {
		t.Fatal("expected ontology to round-trip")
	}
	if got.Content == nil || got.Content.Text != "bid now" {
		t.Fatal("expected content to round-trip")
	}
}

func TestMessageRoundTripMinimal(t *testing.T) {
	msg := acl.NewMessage(acl.Inform, acl.AgentId{Name: "a"}, acl.ReceiverSet{})
	got, err := UnmarshalMessage(MarshalMessage(msg))
	if err != nil {
		t.Fatal(err)
	}
	if got.Performative != acl.Inform {
		t.Fatalf("expected Inform, got %v", got.Performative)
	}
	if got.Protocol != nil {
		t.Fatal("expected nil protocol when unset")
	}
	if got.Content != nil {
		t.Fatal("expected nil content when unset")
	}
}

func TestEnvelopeRoundTripAclMessage(t *testing.T) {
	msg := acl.NewMessage(acl.Request, acl.AgentId{Name: "alice"}, acl.NewReceiverSet(acl.AgentId{Name: "bob"}))
	env := router.Envelope{
		SourceNode: "node-a",
		TargetNode: "node-b",
		Sequence:   7,
		Timestamp:  123456,
		Payload:    router.Payload{Kind: router.PayloadAclMessage, AclMessage: &msg},
	}
	got, err := UnmarshalEnvelope(MarshalEnvelope(env))
	if err != nil {
		t.Fatal(err)
	}
	if got.SourceNode != "node-a" || got.TargetNode != "node-b" {
		t.Fatalf("expected source/target to round-trip, got %+v", got)
	}
	if got.Sequence != 7 || got.Timestamp != 123456 {
		t.Fatalf("expected sequence/timestamp to round-trip, got %+v", got)
	}
	if got.Payload.Kind != router.PayloadAclMessage || got.Payload.AclMessage == nil {
		t.Fatal("expected ACL message payload to round-trip")
	}
	if got.Payload.AclMessage.Sender.Name != "alice" {
		t.Fatalf("expected sender alice, got %s", got.Payload.AclMessage.Sender.Name)
	}
}

func TestEnvelopeRoundTripMigration(t *testing.T) {
	env := router.Envelope{
		SourceNode: "node-a",
		TargetNode: "node-b",
		Sequence:   1,
		Timestamp:  1,
		Payload:    router.Payload{Kind: router.PayloadMigration, Migration: []byte("signed-package-bytes")},
	}
	got, err := UnmarshalEnvelope(MarshalEnvelope(env))
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.Kind != router.PayloadMigration {
		t.Fatalf("expected migration payload kind, got %v", got.Payload.Kind)
	}
	if string(got.Payload.Migration) != "signed-package-bytes" {
		t.Fatalf("expected migration bytes to round-trip, got %q", got.Payload.Migration)
	}
}

func TestEnvelopeRoundTripHealthPing(t *testing.T) {
	env := router.Envelope{
		SourceNode: "node-a",
		TargetNode: "node-b",
		Sequence:   1,
		Timestamp:  1,
		Payload:    router.Payload{Kind: router.PayloadHealthPing, HealthPing: &router.HealthPing{NodeID: "node-a"}},
	}
	got, err := UnmarshalEnvelope(MarshalEnvelope(env))
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.HealthPing == nil || got.Payload.HealthPing.NodeID != "node-a" {
		t.Fatalf("expected health ping node id to round-trip, got %+v", got.Payload.HealthPing)
	}
}

func TestUnmarshalMessageBadTag(t *testing.T) {
	if _, err := UnmarshalMessage([]byte{0xFF}); err == nil {
		t.Fatal("expected error decoding malformed message")
	}
}

func TestUnmarshalAgentIdBadTag(t *testing.T) {
	if _, err := UnmarshalAgentId([]byte{0xFF}); err == nil {
		t.Fatal("expected error decoding malformed agent id")
	}
}
