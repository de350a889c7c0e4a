package protocol

import (
	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

type QueryState int

const (
	QNotStarted QueryState = iota
	QSent
	QAgreed
	QRefused
	QCompleted
	QFailed
)

var queryStateNames = map[QueryState]string{
	QNotStarted: "not_started",
	QSent:       "query_sent",
	QAgreed:     "agreed",
	QRefused:    "refused",
	QCompleted:  "completed",
	QFailed:     "failed",
}

func (s QueryState) String() string { return queryStateNames[s] }

// QueryProtocol implements the FIPA Query protocol: query-if/query-ref,
// an agree/refuse handshake, then an inform-if/inform-ref report.
type QueryProtocol struct {
	state  QueryState
	base   ConversationBase
	result []byte
}

func NewQueryProtocol(role Role) *QueryProtocol {
	return &QueryProtocol{state: QNotStarted, base: NewConversationBase(uuid.NewString(), role)}
}

func (p *QueryProtocol) validateTransition(perf acl.Performative) (QueryState, error) {
	switch {
	case p.state == QNotStarted && (perf == acl.QueryIf || perf == acl.QueryRef):
		return QSent, nil
	case p.state == QSent && perf == acl.Agree:
		return QAgreed, nil
	case p.state == QSent && perf == acl.Refuse:
		return QRefused, nil
	case p.state == QSent && perf == acl.NotUnderstood:
		return QFailed, nil
	case p.state == QAgreed && (perf == acl.InformIf || perf == acl.InformRef):
		return QCompleted, nil
	case p.state == QAgreed && perf == acl.Failure:
		return QFailed, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *QueryProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoQuery }
func (p *QueryProtocol) StateName() string               { return p.state.String() }

func (p *QueryProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *QueryProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)
	p.base.AddParticipant(msg.Sender)

	if msg.Performative == acl.InformIf || msg.Performative == acl.InformRef {
		p.result = contentBytes(msg.Content)
	}

	p.state = newState
	switch p.state {
	case QCompleted:
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: p.result, Metadata: map[string]string{}}}, nil
	case QFailed, QRefused:
		return ProcessResult{Kind: ResultFailed, FailReason: "query " + p.state.String()}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *QueryProtocol) IsComplete() bool {
	return p.state == QCompleted || p.state == QFailed || p.state == QRefused
}
func (p *QueryProtocol) IsFailed() bool { return p.state == QFailed || p.state == QRefused }

func (p *QueryProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case QNotStarted:
		return []acl.Performative{acl.QueryIf, acl.QueryRef}
	case QSent:
		return []acl.Performative{acl.Agree, acl.Refuse, acl.NotUnderstood}
	case QAgreed:
		return []acl.Performative{acl.InformIf, acl.InformRef, acl.Failure}
	default:
		return nil
	}
}

func (p *QueryProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *QueryProtocol) RestoreState(data []byte) error {
	s, err := reverseState(queryStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *QueryProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
