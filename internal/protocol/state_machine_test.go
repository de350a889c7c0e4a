package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/errs"
)

func TestCreateWiresAllProtocols(t *testing.T) {
	protocols := []acl.ProtocolType{
		acl.ProtoRequest, acl.ProtoQuery, acl.ProtoRequestWhen, acl.ProtoContractNet,
		acl.ProtoIteratedContractNet, acl.ProtoPropose, acl.ProtoBrokering,
		acl.ProtoRecruiting, acl.ProtoSubscribe, acl.ProtoEnglishAuction, acl.ProtoDutchAuction,
	}
	for _, p := range protocols {
		sm, err := Create(p, RoleInitiator)
		if err != nil {
			t.Fatalf("expected %s to be wired, got error %v", p, err)
		}
		if sm.ProtocolType() != p {
			t.Fatalf("expected %s state machine to report its own protocol type, got %s", p, sm.ProtocolType())
		}
	}
}

func TestCreateRejectsCustomProtocol(t *testing.T) {
	_, err := Create(acl.ProtoCustom, RoleInitiator)
	if !errors.Is(err, errs.ErrProtocolNotSupported) {
		t.Fatalf("expected ErrProtocolNotSupported, got %v", err)
	}
}

func TestConversationBaseAddParticipantDedups(t *testing.T) {
	c := NewConversationBase("conv-1", RoleInitiator)
	alice := acl.AgentId{Name: "alice"}
	c.AddParticipant(alice)
	c.AddParticipant(alice)
	if len(c.Participants) != 1 {
		t.Fatalf("expected 1 participant after dedup, got %d", len(c.Participants))
	}
}

func TestConversationBaseHistoryLimit(t *testing.T) {
	c := NewConversationBase("conv-1", RoleInitiator)
	msg := acl.NewMessage(acl.Inform, acl.AgentId{Name: "a"}, acl.ReceiverSet{})
	for i := 0; i < historyLimit+10; i++ {
		c.RecordMessage(msg)
	}
	if len(c.Messages) != historyLimit {
		t.Fatalf("expected history capped at %d, got %d", historyLimit, len(c.Messages))
	}
}

func TestConversationBaseIsExpired(t *testing.T) {
	c := NewConversationBase("conv-1", RoleInitiator)
	if c.IsExpired() {
		t.Fatal("expected no deadline to mean not expired")
	}
	past := c.StartTime.Add(-time.Hour)
	c.Deadline = &past
	if !c.IsExpired() {
		t.Fatal("expected past deadline to mean expired")
	}
}

func TestCreateResponseAddressesSender(t *testing.T) {
	convID := acl.ConversationId("conv-1")
	replyWith := acl.MessageId("m1")
	original := acl.NewMessage(acl.Request, acl.AgentId{Name: "alice"}, acl.NewReceiverSet(acl.AgentId{Name: "bob"})).
		WithConversation(convID).
		WithReplyWith(replyWith).
		WithProtocol(acl.ProtoRequest)

	resp := CreateResponse(original, acl.Agree, []byte("ok"))

	if !resp.Receiver.Contains(acl.AgentId{Name: "alice"}) {
		t.Fatal("expected response addressed back to original sender")
	}
	if resp.Sender.Name != "bob" {
		t.Fatalf("expected response sender to be the original's first receiver, got %s", resp.Sender.Name)
	}
	if resp.ConversationID == nil || *resp.ConversationID != convID {
		t.Fatal("expected conversation id to carry over")
	}
	if resp.InReplyTo == nil || *resp.InReplyTo != replyWith {
		t.Fatal("expected in-reply-to to match original's reply-with")
	}
	if resp.Protocol == nil || *resp.Protocol != acl.ProtoRequest {
		t.Fatal("expected protocol to carry over")
	}
}
