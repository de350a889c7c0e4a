package protocol

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

// Candidate is a directory search result considered for recruitment.
type Candidate struct {
	AgentID     acl.AgentId
	ServiceName string
	Score       float64
}

type RecruitingState int

const (
	RecNotStarted RecruitingState = iota
	RecProxyReceived
	RecSearching
	RecCandidatesFound
	RecCompleted
	RecNoCandidates
	RecFailed
	RecCancelled
)

var recruitingStateNames = map[RecruitingState]string{
	RecNotStarted:       "not_started",
	RecProxyReceived:    "proxy_received",
	RecSearching:        "searching",
	RecCandidatesFound:  "candidates_found",
	RecCompleted:        "completed",
	RecNoCandidates:     "no_candidates",
	RecFailed:           "failed",
	RecCancelled:        "cancelled",
}

func (s RecruitingState) String() string { return recruitingStateNames[s] }

// RecruitingProtocol implements the FIPA Recruiting protocol: a recruiter
// searches the directory for agents matching a requirement and reports
// ranked candidates back to the initiator, who then contacts them
// directly.
type RecruitingProtocol struct {
	state RecruitingState
	base  ConversationBase

	originalRequest  *acl.Message
	initiator        *acl.AgentId
	searchCriteria   []byte
	serviceName      string
	requiredProtocol *acl.ProtocolType
	candidates       []Candidate
	maxCandidates    int
	minScore         float64
}

func NewRecruitingProtocol(role Role) *RecruitingProtocol {
	return &RecruitingProtocol{
		state:         RecNotStarted,
		base:          NewConversationBase(uuid.NewString(), role),
		maxCandidates: 10,
	}
}

func (p *RecruitingProtocol) WithServiceName(name string) *RecruitingProtocol {
	p.serviceName = name
	return p
}

func (p *RecruitingProtocol) WithRequiredProtocol(pt acl.ProtocolType) *RecruitingProtocol {
	p.requiredProtocol = &pt
	return p
}

func (p *RecruitingProtocol) WithMaxCandidates(n int) *RecruitingProtocol {
	p.maxCandidates = n
	return p
}

func (p *RecruitingProtocol) WithMinScore(score float64) *RecruitingProtocol {
	p.minScore = score
	return p
}

// AddCandidate records a candidate if it meets the score threshold and
// there is still room, keeping the list sorted by descending score.
func (p *RecruitingProtocol) AddCandidate(id acl.AgentId, serviceName string, score float64) {
	if score < p.minScore || len(p.candidates) >= p.maxCandidates {
		return
	}
	p.candidates = append(p.candidates, Candidate{AgentID: id, ServiceName: serviceName, Score: score})
	sort.Slice(p.candidates, func(i, j int) bool { return p.candidates[i].Score > p.candidates[j].Score })
}

func (p *RecruitingProtocol) Candidates() []Candidate { return p.candidates }

// CompleteSearch ends the search phase, reporting whether any candidates
// were found.
func (p *RecruitingProtocol) CompleteSearch() error {
	if p.state != RecSearching {
		return &TransitionError{From: p.state.String(), To: "complete_search"}
	}
	if len(p.candidates) == 0 {
		p.state = RecNoCandidates
	} else {
		p.state = RecCandidatesFound
	}
	return nil
}

func (p *RecruitingProtocol) validateTransition(perf acl.Performative) (RecruitingState, error) {
	switch {
	case p.state == RecNotStarted && perf == acl.Proxy:
		return RecProxyReceived, nil
	case p.state == RecProxyReceived && perf == acl.QueryRef:
		return RecSearching, nil
	case p.state == RecSearching && (perf == acl.Inform || perf == acl.InformRef):
		return RecCandidatesFound, nil
	case p.state == RecCandidatesFound && perf == acl.Inform:
		return RecCompleted, nil
	case p.state == RecSearching && perf == acl.Failure:
		return RecNoCandidates, nil
	case perf == acl.Cancel:
		return RecCancelled, nil
	case perf == acl.Failure:
		return RecFailed, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *RecruitingProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoRecruiting }
func (p *RecruitingProtocol) StateName() string               { return p.state.String() }

func (p *RecruitingProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *RecruitingProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)

	if msg.Performative == acl.Proxy {
		m := msg
		p.originalRequest = &m
		sender := msg.Sender
		p.initiator = &sender
		p.searchCriteria = contentBytes(msg.Content)
	}

	p.state = newState
	switch p.state {
	case RecCompleted:
		names := make([]string, len(p.candidates))
		for i, c := range p.candidates {
			names[i] = c.AgentID.Name
		}
		result, _ := json.Marshal(names)
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: result, Metadata: map[string]string{}}}, nil
	case RecNoCandidates:
		return ProcessResult{Kind: ResultFailed, FailReason: "no candidates found"}, nil
	case RecFailed:
		return ProcessResult{Kind: ResultFailed, FailReason: "recruiting failed"}, nil
	case RecCancelled:
		return ProcessResult{Kind: ResultFailed, FailReason: "recruiting cancelled"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *RecruitingProtocol) IsComplete() bool {
	return p.state == RecCompleted || p.state == RecNoCandidates || p.state == RecFailed || p.state == RecCancelled
}
func (p *RecruitingProtocol) IsFailed() bool {
	return p.state == RecNoCandidates || p.state == RecFailed || p.state == RecCancelled
}

func (p *RecruitingProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case RecNotStarted:
		return []acl.Performative{acl.Proxy}
	case RecProxyReceived:
		return []acl.Performative{acl.QueryRef, acl.Cancel}
	case RecSearching:
		return []acl.Performative{acl.Inform, acl.InformRef, acl.Failure, acl.Cancel}
	case RecCandidatesFound:
		return []acl.Performative{acl.Inform, acl.Cancel}
	default:
		return nil
	}
}

func (p *RecruitingProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *RecruitingProtocol) RestoreState(data []byte) error {
	s, err := reverseState(recruitingStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *RecruitingProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
