package protocol

import (
	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

type SubscribeState int

const (
	SubNotStarted SubscribeState = iota
	SubRequested
	SubActive
	SubRefused
	SubCancelled
	SubFailed
)

var subscribeStateNames = map[SubscribeState]string{
	SubNotStarted: "not_started",
	SubRequested:  "requested",
	SubActive:     "active",
	SubRefused:    "refused",
	SubCancelled:  "cancelled",
	SubFailed:     "failed",
}

func (s SubscribeState) String() string { return subscribeStateNames[s] }

// SubscribeProtocol implements the FIPA Subscribe protocol: a standing
// subscription that delivers repeated Inform notifications until the
// subscriber cancels or the subscription fails.
type SubscribeProtocol struct {
	state         SubscribeState
	base          ConversationBase
	notifications [][]byte
}

func NewSubscribeProtocol(role Role) *SubscribeProtocol {
	return &SubscribeProtocol{state: SubNotStarted, base: NewConversationBase(uuid.NewString(), role)}
}

func (p *SubscribeProtocol) validateTransition(perf acl.Performative) (SubscribeState, error) {
	switch {
	case p.state == SubNotStarted && perf == acl.Subscribe:
		return SubRequested, nil
	case p.state == SubRequested && perf == acl.Agree:
		return SubActive, nil
	case p.state == SubRequested && perf == acl.Refuse:
		return SubRefused, nil
	case p.state == SubActive && perf == acl.Inform:
		return SubActive, nil
	case p.state == SubActive && perf == acl.Cancel:
		return SubCancelled, nil
	case p.state == SubActive && perf == acl.Failure:
		return SubFailed, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *SubscribeProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoSubscribe }
func (p *SubscribeProtocol) StateName() string               { return p.state.String() }

func (p *SubscribeProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *SubscribeProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)
	p.base.AddParticipant(msg.Sender)

	if msg.Performative == acl.Inform {
		p.notifications = append(p.notifications, contentBytes(msg.Content))
	}

	p.state = newState
	switch p.state {
	case SubCancelled:
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Metadata: map[string]string{"notifications": itoa(len(p.notifications))}}}, nil
	case SubFailed, SubRefused:
		return ProcessResult{Kind: ResultFailed, FailReason: "subscribe " + p.state.String()}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *SubscribeProtocol) IsComplete() bool {
	return p.state == SubCancelled || p.state == SubFailed || p.state == SubRefused
}
func (p *SubscribeProtocol) IsFailed() bool { return p.state == SubFailed || p.state == SubRefused }

func (p *SubscribeProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case SubNotStarted:
		return []acl.Performative{acl.Subscribe}
	case SubRequested:
		return []acl.Performative{acl.Agree, acl.Refuse}
	case SubActive:
		return []acl.Performative{acl.Inform, acl.Cancel, acl.Failure}
	default:
		return nil
	}
}

func (p *SubscribeProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *SubscribeProtocol) RestoreState(data []byte) error {
	s, err := reverseState(subscribeStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *SubscribeProtocol) MessageHistory() []acl.Message   { return p.base.Messages }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
