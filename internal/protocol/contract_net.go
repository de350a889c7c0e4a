package protocol

import (
	"time"

	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

// ContractNetState is one of the nine states of the FIPA Contract Net
// protocol, from CFP issuance through execution and result reporting.
type ContractNetState int

const (
	CNNotStarted ContractNetState = iota
	CNCfpSent
	CNProposalsReceived
	CNEvaluating
	CNAccepted
	CNRejected
	CNInExecution
	CNCompleted
	CNFailed
)

var contractNetStateNames = map[ContractNetState]string{
	CNNotStarted:        "not_started",
	CNCfpSent:           "cfp_sent",
	CNProposalsReceived: "proposals_received",
	CNEvaluating:        "evaluating",
	CNAccepted:          "accepted",
	CNRejected:          "rejected",
	CNInExecution:       "in_execution",
	CNCompleted:         "completed",
	CNFailed:            "failed",
}

func (s ContractNetState) String() string { return contractNetStateNames[s] }

// Proposal records a single bid received from a contractor.
type Proposal struct {
	Bidder     acl.AgentId
	Content    []byte
	ReceivedAt time.Time
}

// ContractNetProtocol implements the FIPA Contract Net interaction
// protocol: CFP, proposals, accept/reject, then execution and reporting.
type ContractNetProtocol struct {
	state ContractNetState
	base  ConversationBase

	taskDescription      []byte
	expectedParticipants int
	proposals            []Proposal
	accepted             map[string]Proposal
	results              map[string][]byte
}

func NewContractNetProtocol(role Role) *ContractNetProtocol {
	return &ContractNetProtocol{
		state:    CNNotStarted,
		base:     NewConversationBase(uuid.NewString(), role),
		accepted: make(map[string]Proposal),
		results:  make(map[string][]byte),
	}
}

func (p *ContractNetProtocol) WithExpectedParticipants(n int) *ContractNetProtocol {
	p.expectedParticipants = n
	return p
}

func (p *ContractNetProtocol) Proposals() []Proposal { return p.proposals }

func (p *ContractNetProtocol) AcceptProposal(bidderName string) (Proposal, bool) {
	for _, prop := range p.proposals {
		if prop.Bidder.Name == bidderName {
			p.accepted[bidderName] = prop
			return prop, true
		}
	}
	return Proposal{}, false
}

func (p *ContractNetProtocol) validateTransition(perf acl.Performative) (ContractNetState, error) {
	switch {
	case p.state == CNNotStarted && perf == acl.Cfp:
		return CNCfpSent, nil
	case p.state == CNCfpSent && perf == acl.Propose:
		return CNProposalsReceived, nil
	case p.state == CNCfpSent && perf == acl.Refuse:
		return CNProposalsReceived, nil
	case p.state == CNProposalsReceived && perf == acl.Propose:
		return CNProposalsReceived, nil
	case p.state == CNProposalsReceived && perf == acl.Refuse:
		return CNProposalsReceived, nil
	case p.state == CNProposalsReceived && perf == acl.AcceptProposal:
		return CNInExecution, nil
	case p.state == CNProposalsReceived && perf == acl.RejectProposal:
		return CNRejected, nil
	case p.state == CNInExecution && (perf == acl.InformDone || perf == acl.InformResult):
		return CNCompleted, nil
	case p.state == CNInExecution && perf == acl.Failure:
		return CNFailed, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *ContractNetProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoContractNet }
func (p *ContractNetProtocol) StateName() string               { return p.state.String() }

func (p *ContractNetProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *ContractNetProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}

	p.base.RecordMessage(msg)

	switch msg.Performative {
	case acl.Cfp:
		if msg.Content != nil {
			p.taskDescription = msg.Content.Binary
		}
	case acl.Propose:
		p.proposals = append(p.proposals, Proposal{
			Bidder:     msg.Sender,
			Content:    contentBytes(msg.Content),
			ReceivedAt: time.Now(),
		})
		p.base.AddParticipant(msg.Sender)
	case acl.InformDone, acl.InformResult:
		p.results[msg.Sender.Name] = contentBytes(msg.Content)
	}

	p.state = newState

	switch p.state {
	case CNCompleted:
		var result []byte
		for _, r := range p.results {
			result = r
			break
		}
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: result, Metadata: map[string]string{}}}, nil
	case CNFailed, CNRejected:
		return ProcessResult{Kind: ResultFailed, FailReason: "contract net failed"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *ContractNetProtocol) IsComplete() bool {
	return p.state == CNCompleted || p.state == CNFailed || p.state == CNRejected
}

func (p *ContractNetProtocol) IsFailed() bool {
	return p.state == CNFailed || p.state == CNRejected
}

func (p *ContractNetProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case CNNotStarted:
		return []acl.Performative{acl.Cfp}
	case CNCfpSent:
		return []acl.Performative{acl.Propose, acl.Refuse}
	case CNProposalsReceived:
		return []acl.Performative{acl.Propose, acl.Refuse, acl.AcceptProposal, acl.RejectProposal}
	case CNInExecution:
		return []acl.Performative{acl.InformDone, acl.InformResult, acl.Failure}
	default:
		return nil
	}
}

func (p *ContractNetProtocol) SerializeState() ([]byte, error) {
	return []byte(p.state.String()), nil
}

func (p *ContractNetProtocol) RestoreState(data []byte) error {
	s, err := reverseState(contractNetStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *ContractNetProtocol) MessageHistory() []acl.Message { return p.base.Messages }

func contentBytes(c *acl.MessageContent) []byte {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case acl.ContentBinary:
		return c.Binary
	case acl.ContentText:
		return []byte(c.Text)
	default:
		return nil
	}
}
