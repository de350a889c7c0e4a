package protocol

import (
	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

type ProposeState int

const (
	PropNotStarted ProposeState = iota
	PropSent
	PropAccepted
	PropRejected
)

var proposeStateNames = map[ProposeState]string{
	PropNotStarted: "not_started",
	PropSent:       "proposal_sent",
	PropAccepted:   "accepted",
	PropRejected:   "rejected",
}

func (s ProposeState) String() string { return proposeStateNames[s] }

// ProposeProtocol implements the standalone FIPA Propose protocol: a
// single proposal, accepted or rejected by the receiver.
type ProposeProtocol struct {
	state ProposeState
	base  ConversationBase
}

func NewProposeProtocol(role Role) *ProposeProtocol {
	return &ProposeProtocol{state: PropNotStarted, base: NewConversationBase(uuid.NewString(), role)}
}

func (p *ProposeProtocol) validateTransition(perf acl.Performative) (ProposeState, error) {
	switch {
	case p.state == PropNotStarted && perf == acl.Propose:
		return PropSent, nil
	case p.state == PropSent && perf == acl.AcceptProposal:
		return PropAccepted, nil
	case p.state == PropSent && perf == acl.RejectProposal:
		return PropRejected, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *ProposeProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoPropose }
func (p *ProposeProtocol) StateName() string               { return p.state.String() }

func (p *ProposeProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *ProposeProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)
	p.base.AddParticipant(msg.Sender)
	p.state = newState

	switch p.state {
	case PropAccepted:
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Metadata: map[string]string{}}}, nil
	case PropRejected:
		return ProcessResult{Kind: ResultFailed, FailReason: "proposal rejected"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *ProposeProtocol) IsComplete() bool { return p.state == PropAccepted || p.state == PropRejected }
func (p *ProposeProtocol) IsFailed() bool   { return p.state == PropRejected }

func (p *ProposeProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case PropNotStarted:
		return []acl.Performative{acl.Propose}
	case PropSent:
		return []acl.Performative{acl.AcceptProposal, acl.RejectProposal}
	default:
		return nil
	}
}

func (p *ProposeProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *ProposeProtocol) RestoreState(data []byte) error {
	s, err := reverseState(proposeStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *ProposeProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
