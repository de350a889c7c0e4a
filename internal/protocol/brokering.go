package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

type ProviderStatus int

const (
	ProviderPending ProviderStatus = iota
	ProviderAgreed
	ProviderRefused
	ProviderCompleted
	ProviderFailed
)

type ProviderInfo struct {
	AgentID  acl.AgentId
	Status   ProviderStatus
	Response []byte
}

type BrokeringState int

const (
	BrNotStarted BrokeringState = iota
	BrProxyReceived
	BrForwarding
	BrWaitingResponses
	BrConsolidating
	BrCompleted
	BrFailed
	BrCancelled
)

var brokeringStateNames = map[BrokeringState]string{
	BrNotStarted:        "not_started",
	BrProxyReceived:     "proxy_received",
	BrForwarding:        "forwarding",
	BrWaitingResponses:  "waiting_responses",
	BrConsolidating:      "consolidating",
	BrCompleted:         "completed",
	BrFailed:            "failed",
	BrCancelled:         "cancelled",
}

func (s BrokeringState) String() string { return brokeringStateNames[s] }

// BrokeringProtocol implements the FIPA Brokering protocol: an initiator
// proxies a request through a broker, which forwards it to one or more
// providers and consolidates their responses.
type BrokeringProtocol struct {
	state BrokeringState
	base  ConversationBase

	originalRequest   *acl.Message
	initiator         *acl.AgentId
	providers         map[string]*ProviderInfo
	requiredResponses *int
	results           [][]byte
	serviceName       string
}

func NewBrokeringProtocol(role Role) *BrokeringProtocol {
	return &BrokeringProtocol{
		state:     BrNotStarted,
		base:      NewConversationBase(uuid.NewString(), role),
		providers: make(map[string]*ProviderInfo),
	}
}

func (p *BrokeringProtocol) WithRequiredResponses(n int) *BrokeringProtocol {
	p.requiredResponses = &n
	return p
}

func (p *BrokeringProtocol) WithServiceName(name string) *BrokeringProtocol {
	p.serviceName = name
	return p
}

func (p *BrokeringProtocol) AddProvider(id acl.AgentId) {
	p.providers[id.Name] = &ProviderInfo{AgentID: id, Status: ProviderPending}
}

func (p *BrokeringProtocol) UpdateProvider(name string, status ProviderStatus, response []byte) {
	if prov, ok := p.providers[name]; ok {
		prov.Status = status
		prov.Response = response
	}
}

func (p *BrokeringProtocol) Providers() map[string]*ProviderInfo { return p.providers }
func (p *BrokeringProtocol) Results() [][]byte                   { return p.results }

func (p *BrokeringProtocol) AllResponded() bool {
	for _, prov := range p.providers {
		if prov.Status != ProviderCompleted && prov.Status != ProviderFailed && prov.Status != ProviderRefused {
			return false
		}
	}
	return true
}

func (p *BrokeringProtocol) SuccessfulCount() int {
	n := 0
	for _, prov := range p.providers {
		if prov.Status == ProviderCompleted {
			n++
		}
	}
	return n
}

// Consolidate gathers completed provider responses into Results, moving
// the protocol to Completed if any succeeded or Failed otherwise.
func (p *BrokeringProtocol) Consolidate() error {
	if p.state != BrWaitingResponses && p.state != BrConsolidating {
		return &TransitionError{From: p.state.String(), To: "consolidate"}
	}
	p.results = nil
	for _, prov := range p.providers {
		if prov.Status == ProviderCompleted && prov.Response != nil {
			p.results = append(p.results, prov.Response)
		}
	}
	if len(p.results) == 0 {
		p.state = BrFailed
	} else {
		p.state = BrCompleted
	}
	return nil
}

func (p *BrokeringProtocol) validateTransition(perf acl.Performative) (BrokeringState, error) {
	switch {
	case p.state == BrNotStarted && perf == acl.Proxy:
		return BrProxyReceived, nil
	case (p.state == BrProxyReceived || p.state == BrForwarding) && perf == acl.Request:
		return BrForwarding, nil
	case (p.state == BrForwarding || p.state == BrWaitingResponses) && perf == acl.Agree:
		return BrWaitingResponses, nil
	case (p.state == BrForwarding || p.state == BrWaitingResponses) && perf == acl.Refuse:
		return BrWaitingResponses, nil
	case p.state == BrWaitingResponses && (perf == acl.InformResult || perf == acl.InformDone):
		return BrConsolidating, nil
	case p.state == BrWaitingResponses && perf == acl.Failure:
		return BrWaitingResponses, nil
	case p.state == BrConsolidating && perf == acl.Inform:
		return BrCompleted, nil
	case perf == acl.Failure:
		return BrFailed, nil
	case perf == acl.Cancel:
		return BrCancelled, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *BrokeringProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoBrokering }
func (p *BrokeringProtocol) StateName() string               { return p.state.String() }

func (p *BrokeringProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *BrokeringProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)

	switch msg.Performative {
	case acl.Proxy:
		m := msg
		p.originalRequest = &m
		sender := msg.Sender
		p.initiator = &sender
	case acl.InformResult, acl.InformDone:
		p.UpdateProvider(msg.Sender.Name, ProviderCompleted, contentBytes(msg.Content))
		p.results = append(p.results, contentBytes(msg.Content))
	case acl.Agree:
		p.UpdateProvider(msg.Sender.Name, ProviderAgreed, nil)
	case acl.Refuse:
		p.UpdateProvider(msg.Sender.Name, ProviderRefused, nil)
	case acl.Failure:
		p.UpdateProvider(msg.Sender.Name, ProviderFailed, contentBytes(msg.Content))
	}

	p.state = newState
	switch p.state {
	case BrCompleted:
		result, _ := json.Marshal(p.results)
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: result, Metadata: map[string]string{}}}, nil
	case BrFailed:
		return ProcessResult{Kind: ResultFailed, FailReason: "brokering failed"}, nil
	case BrCancelled:
		return ProcessResult{Kind: ResultFailed, FailReason: "brokering cancelled"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *BrokeringProtocol) IsComplete() bool {
	return p.state == BrCompleted || p.state == BrFailed || p.state == BrCancelled
}
func (p *BrokeringProtocol) IsFailed() bool { return p.state == BrFailed || p.state == BrCancelled }

func (p *BrokeringProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case BrNotStarted:
		return []acl.Performative{acl.Proxy}
	case BrProxyReceived:
		return []acl.Performative{acl.Request, acl.Cancel}
	case BrForwarding:
		return []acl.Performative{acl.Request, acl.Agree, acl.Refuse, acl.Cancel}
	case BrWaitingResponses:
		return []acl.Performative{acl.Agree, acl.Refuse, acl.InformResult, acl.InformDone, acl.Failure, acl.Cancel}
	case BrConsolidating:
		return []acl.Performative{acl.Inform, acl.Cancel}
	default:
		return nil
	}
}

func (p *BrokeringProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *BrokeringProtocol) RestoreState(data []byte) error {
	s, err := reverseState(brokeringStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *BrokeringProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
