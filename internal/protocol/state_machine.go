// Package protocol implements the FIPA interaction protocol state
// machines: deterministic transition tables keyed by (protocol, role)
// that validate and advance a conversation one message at a time.
package protocol

import (
	"fmt"
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/errs"
)

// TransitionError reports an invalid state transition, with the states
// named so callers can log or surface it without re-deriving context.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return errs.ErrInvalidTransition
}

// ProcessResultKind tags the outcome of feeding a message into a StateMachine.
type ProcessResultKind int

const (
	ResultContinue ProcessResultKind = iota
	ResultRespond
	ResultComplete
	ResultFailed
)

// CompletionData carries the final outcome of a completed protocol run.
type CompletionData struct {
	Result   []byte
	Metadata map[string]string
}

// ProcessResult is returned by StateMachine.Process after each message.
type ProcessResult struct {
	Kind       ProcessResultKind
	Response   *acl.Message
	Completion CompletionData
	FailReason string
}

// StateMachine is implemented by every FIPA interaction protocol. All
// methods operate on the receiver's own conversation state; callers drive
// the state machine by feeding it inbound messages via Process.
type StateMachine interface {
	ProtocolType() acl.ProtocolType
	StateName() string
	Validate(msg acl.Message) error
	Process(msg acl.Message) (ProcessResult, error)
	IsComplete() bool
	IsFailed() bool
	ExpectedPerformatives() []acl.Performative
	SerializeState() ([]byte, error)
	RestoreState(data []byte) error
	MessageHistory() []acl.Message
}

// reverseState looks up the enum value whose String() name matches data,
// the inverse of the per-protocol stateNames maps used by SerializeState.
// Every protocol's transition table switches on its state enum, and
// Iterated Contract Net's also on its round counter, which its
// SerializeState appends after the state name; restoring those is
// sufficient for the round-trip invariant: a restored machine accepts
// exactly the same future message sequences as the original.
func reverseState[S comparable](names map[S]string, data []byte) (S, error) {
	target := string(data)
	for k, v := range names {
		if v == target {
			return k, nil
		}
	}
	var zero S
	return zero, fmt.Errorf("unknown protocol state: %q", target)
}

// Role identifies a participant's function within a conversation.
type Role int

const (
	RoleInitiator Role = iota
	RoleParticipant
	RoleBroker
)

// ConversationBase holds the bookkeeping shared by every protocol
// implementation: participants, message history and deadline tracking.
type ConversationBase struct {
	ConversationID string
	Role           Role
	Participants   []acl.AgentId
	Messages       []acl.Message
	StartTime      time.Time
	Deadline       *time.Time
}

// historyLimit bounds ConversationBase.Messages so a long-running
// conversation cannot grow its migration snapshot without bound.
const historyLimit = 256

func NewConversationBase(conversationID string, role Role) ConversationBase {
	return ConversationBase{
		ConversationID: conversationID,
		Role:           role,
		StartTime:      time.Now(),
	}
}

func (c *ConversationBase) AddParticipant(agent acl.AgentId) {
	for _, p := range c.Participants {
		if p.Equal(agent) {
			return
		}
	}
	c.Participants = append(c.Participants, agent)
}

func (c *ConversationBase) RecordMessage(msg acl.Message) {
	c.Messages = append(c.Messages, msg)
	if len(c.Messages) > historyLimit {
		c.Messages = c.Messages[len(c.Messages)-historyLimit:]
	}
}

func (c *ConversationBase) IsExpired() bool {
	return c.Deadline != nil && time.Now().After(*c.Deadline)
}

// CreateResponse builds a reply to original, addressed back to its
// sender and carrying the same conversation and protocol context.
func CreateResponse(original acl.Message, performative acl.Performative, content []byte) acl.Message {
	var receiver acl.ReceiverSet
	receiver = acl.NewReceiverSet(original.Sender)

	resp := acl.NewMessage(performative, firstReceiver(original.Receiver), receiver)
	resp = resp.WithBinaryContent(content)
	if original.Protocol != nil {
		resp = resp.WithProtocol(*original.Protocol)
	}
	if original.ConversationID != nil {
		resp = resp.WithConversation(*original.ConversationID)
	}
	resp.InReplyTo = msgIDPtr(original)
	return resp
}

func firstReceiver(rs acl.ReceiverSet) acl.AgentId {
	if len(rs.Receivers) == 0 {
		return acl.AgentId{}
	}
	return rs.Receivers[0]
}

func msgIDPtr(original acl.Message) *acl.MessageId {
	if original.ReplyWith == nil {
		return nil
	}
	id := *original.ReplyWith
	return &id
}

// Create builds a StateMachine for the given protocol and role. All
// eleven FIPA interaction protocols are wired; the original implementation
// only wired four (Request, Query, ContractNet, Subscribe) and returned
// NotSupported for the rest.
func Create(p acl.ProtocolType, role Role) (StateMachine, error) {
	switch p {
	case acl.ProtoRequest:
		return NewRequestProtocol(role), nil
	case acl.ProtoQuery:
		return NewQueryProtocol(role), nil
	case acl.ProtoRequestWhen:
		return NewRequestWhenProtocol(role), nil
	case acl.ProtoContractNet:
		return NewContractNetProtocol(role), nil
	case acl.ProtoIteratedContractNet:
		return NewIteratedContractNetProtocol(role), nil
	case acl.ProtoPropose:
		return NewProposeProtocol(role), nil
	case acl.ProtoBrokering:
		return NewBrokeringProtocol(role), nil
	case acl.ProtoRecruiting:
		return NewRecruitingProtocol(role), nil
	case acl.ProtoSubscribe:
		return NewSubscribeProtocol(role), nil
	case acl.ProtoEnglishAuction:
		return NewEnglishAuctionProtocol(role), nil
	case acl.ProtoDutchAuction:
		return NewDutchAuctionProtocol(role), nil
	default:
		return nil, fmt.Errorf("%w: %s", errs.ErrProtocolNotSupported, p)
	}
}
