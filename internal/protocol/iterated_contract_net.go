package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

type IteratedContractNetState int

const (
	ICNNotStarted IteratedContractNetState = iota
	ICNCfpSent
	ICNProposalsReceived
	ICNInExecution
	ICNCompleted
	ICNFailed
)

var iteratedContractNetStateNames = map[IteratedContractNetState]string{
	ICNNotStarted:        "not_started",
	ICNCfpSent:           "cfp_sent",
	ICNProposalsReceived: "proposals_received",
	ICNInExecution:       "in_execution",
	ICNCompleted:         "completed",
	ICNFailed:            "failed",
}

func (s IteratedContractNetState) String() string { return iteratedContractNetStateNames[s] }

// IteratedContractNetProtocol runs successive Contract Net rounds, each
// refining the task description, until a round completes or MaxRounds is
// exhausted.
type IteratedContractNetProtocol struct {
	state     IteratedContractNetState
	base      ConversationBase
	round     int
	MaxRounds int
	proposals []Proposal
}

func NewIteratedContractNetProtocol(role Role) *IteratedContractNetProtocol {
	return &IteratedContractNetProtocol{
		state:     ICNNotStarted,
		base:      NewConversationBase(uuid.NewString(), role),
		MaxRounds: 5,
	}
}

func (p *IteratedContractNetProtocol) validateTransition(perf acl.Performative) (IteratedContractNetState, error) {
	switch {
	case p.state == ICNNotStarted && perf == acl.Cfp:
		return ICNCfpSent, nil
	case p.state == ICNCfpSent && (perf == acl.Propose || perf == acl.Refuse):
		return ICNProposalsReceived, nil
	case p.state == ICNProposalsReceived && (perf == acl.Propose || perf == acl.Refuse):
		return ICNProposalsReceived, nil
	case p.state == ICNProposalsReceived && perf == acl.AcceptProposal:
		return ICNInExecution, nil
	case p.state == ICNProposalsReceived && perf == acl.Cfp && p.round < p.MaxRounds:
		return ICNCfpSent, nil
	case p.state == ICNInExecution && (perf == acl.InformDone || perf == acl.InformResult):
		return ICNCompleted, nil
	case p.state == ICNInExecution && perf == acl.Failure && p.round < p.MaxRounds:
		return ICNCfpSent, nil
	case p.state == ICNInExecution && perf == acl.Failure:
		return ICNFailed, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *IteratedContractNetProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoIteratedContractNet }
func (p *IteratedContractNetProtocol) StateName() string               { return p.state.String() }

func (p *IteratedContractNetProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *IteratedContractNetProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)
	p.base.AddParticipant(msg.Sender)

	switch msg.Performative {
	case acl.Cfp:
		p.round++
		p.proposals = nil
	case acl.Propose:
		p.proposals = append(p.proposals, Proposal{Bidder: msg.Sender, Content: contentBytes(msg.Content)})
	case acl.Failure:
		if newState == ICNCfpSent {
			p.round++
		}
	}

	p.state = newState
	switch p.state {
	case ICNCompleted:
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Metadata: map[string]string{"rounds": itoa(p.round)}}}, nil
	case ICNFailed:
		return ProcessResult{Kind: ResultFailed, FailReason: "iterated contract net exhausted rounds"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *IteratedContractNetProtocol) IsComplete() bool { return p.state == ICNCompleted || p.state == ICNFailed }
func (p *IteratedContractNetProtocol) IsFailed() bool   { return p.state == ICNFailed }

func (p *IteratedContractNetProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case ICNNotStarted:
		return []acl.Performative{acl.Cfp}
	case ICNCfpSent:
		return []acl.Performative{acl.Propose, acl.Refuse}
	case ICNProposalsReceived:
		if p.round < p.MaxRounds {
			return []acl.Performative{acl.Propose, acl.Refuse, acl.AcceptProposal, acl.Cfp}
		}
		return []acl.Performative{acl.Propose, acl.Refuse, acl.AcceptProposal}
	case ICNInExecution:
		return []acl.Performative{acl.InformDone, acl.InformResult, acl.Failure}
	default:
		return nil
	}
}

func (p *IteratedContractNetProtocol) SerializeState() ([]byte, error) {
	return []byte(p.state.String() + ":" + itoa(p.round)), nil
}

func (p *IteratedContractNetProtocol) RestoreState(data []byte) error {
	name, round, _ := strings.Cut(string(data), ":")
	s, err := reverseState(iteratedContractNetStateNames, []byte(name))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(round)
	if err != nil {
		return fmt.Errorf("invalid round in protocol state: %q", round)
	}
	p.state = s
	p.round = n
	return nil
}

func (p *IteratedContractNetProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
