package protocol

import (
	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

type RequestState int

const (
	ReqNotStarted RequestState = iota
	ReqSent
	ReqAgreed
	ReqRefused
	ReqCompleted
	ReqFailed
)

var requestStateNames = map[RequestState]string{
	ReqNotStarted: "not_started",
	ReqSent:       "request_sent",
	ReqAgreed:     "agreed",
	ReqRefused:    "refused",
	ReqCompleted:  "completed",
	ReqFailed:     "failed",
}

func (s RequestState) String() string { return requestStateNames[s] }

// RequestProtocol implements the FIPA Request protocol: a single action
// request, an agree/refuse handshake, then a result report.
type RequestProtocol struct {
	state  RequestState
	base   ConversationBase
	result []byte
}

func NewRequestProtocol(role Role) *RequestProtocol {
	return &RequestProtocol{state: ReqNotStarted, base: NewConversationBase(uuid.NewString(), role)}
}

func (p *RequestProtocol) validateTransition(perf acl.Performative) (RequestState, error) {
	switch {
	case p.state == ReqNotStarted && perf == acl.Request:
		return ReqSent, nil
	case p.state == ReqSent && perf == acl.Agree:
		return ReqAgreed, nil
	case p.state == ReqSent && perf == acl.Refuse:
		return ReqRefused, nil
	case p.state == ReqSent && perf == acl.NotUnderstood:
		return ReqFailed, nil
	case p.state == ReqAgreed && (perf == acl.InformDone || perf == acl.InformResult):
		return ReqCompleted, nil
	case p.state == ReqAgreed && perf == acl.Failure:
		return ReqFailed, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *RequestProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoRequest }
func (p *RequestProtocol) StateName() string               { return p.state.String() }

func (p *RequestProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *RequestProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)
	p.base.AddParticipant(msg.Sender)

	if msg.Performative == acl.InformDone || msg.Performative == acl.InformResult {
		p.result = contentBytes(msg.Content)
	}

	p.state = newState
	switch p.state {
	case ReqCompleted:
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: p.result, Metadata: map[string]string{}}}, nil
	case ReqFailed, ReqRefused:
		return ProcessResult{Kind: ResultFailed, FailReason: "request " + p.state.String()}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *RequestProtocol) IsComplete() bool {
	return p.state == ReqCompleted || p.state == ReqFailed || p.state == ReqRefused
}
func (p *RequestProtocol) IsFailed() bool { return p.state == ReqFailed || p.state == ReqRefused }

func (p *RequestProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case ReqNotStarted:
		return []acl.Performative{acl.Request}
	case ReqSent:
		return []acl.Performative{acl.Agree, acl.Refuse, acl.NotUnderstood}
	case ReqAgreed:
		return []acl.Performative{acl.InformDone, acl.InformResult, acl.Failure}
	default:
		return nil
	}
}

func (p *RequestProtocol) SerializeState() ([]byte, error)   { return []byte(p.state.String()), nil }

func (p *RequestProtocol) RestoreState(data []byte) error {
	s, err := reverseState(requestStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *RequestProtocol) MessageHistory() []acl.Message     { return p.base.Messages }

// RequestWhenProtocol is the Request protocol variant where the action is
// deferred until a trigger condition holds; it reuses the Request
// protocol's states and transitions unchanged and differs only in its
// ProtocolType. It has no separate pending state.
type RequestWhenProtocol struct {
	RequestProtocol
}

func NewRequestWhenProtocol(role Role) *RequestWhenProtocol {
	return &RequestWhenProtocol{RequestProtocol: *NewRequestProtocol(role)}
}

func (p *RequestWhenProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoRequestWhen }
