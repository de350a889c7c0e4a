package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
)

// Bid records a single bid in an ascending-price auction.
type Bid struct {
	Bidder    string
	Amount    float64
	Timestamp time.Time
}

type EnglishAuctionState int

const (
	EANotStarted EnglishAuctionState = iota
	EAAnnounced
	EABidding
	EAClosing
	EACompleted
	EAFailed
	EACancelled
)

var englishAuctionStateNames = map[EnglishAuctionState]string{
	EANotStarted: "not_started",
	EAAnnounced:  "announced",
	EABidding:    "bidding",
	EAClosing:    "closing",
	EACompleted:  "completed",
	EAFailed:     "failed",
	EACancelled:  "cancelled",
}

func (s EnglishAuctionState) String() string { return englishAuctionStateNames[s] }

// EnglishAuctionProtocol implements the ascending-price English Auction:
// the auctioneer announces an item, bidders submit progressively higher
// bids, and the auction closes with the highest bidder as winner.
type EnglishAuctionProtocol struct {
	state EnglishAuctionState
	base  ConversationBase

	itemDescription []byte
	startingPrice   float64
	reservePrice    *float64
	bidIncrement    float64
	currentBid      *Bid
	bidHistory      []Bid
	bidders         map[string]acl.AgentId
	winner          string
}

func NewEnglishAuctionAsAuctioneer(startingPrice, bidIncrement float64) *EnglishAuctionProtocol {
	return &EnglishAuctionProtocol{
		state:         EANotStarted,
		base:          NewConversationBase(uuid.NewString(), RoleInitiator),
		startingPrice: startingPrice,
		bidIncrement:  bidIncrement,
		bidders:       make(map[string]acl.AgentId),
	}
}

func NewEnglishAuctionProtocol(role Role) *EnglishAuctionProtocol {
	return &EnglishAuctionProtocol{
		state:   EANotStarted,
		base:    NewConversationBase(uuid.NewString(), role),
		bidders: make(map[string]acl.AgentId),
	}
}

func (p *EnglishAuctionProtocol) WithReservePrice(price float64) *EnglishAuctionProtocol {
	p.reservePrice = &price
	return p
}

func (p *EnglishAuctionProtocol) WithItemDescription(desc []byte) *EnglishAuctionProtocol {
	p.itemDescription = desc
	return p
}

func (p *EnglishAuctionProtocol) CurrentBid() *Bid { return p.currentBid }

func (p *EnglishAuctionProtocol) MinimumBid() float64 {
	if p.currentBid != nil {
		return p.currentBid.Amount + p.bidIncrement
	}
	return p.startingPrice
}

func (p *EnglishAuctionProtocol) Winner() string { return p.winner }

func (p *EnglishAuctionProtocol) RegisterBidder(id acl.AgentId) {
	p.bidders[id.Name] = id
}

// SubmitBid records a bid if it meets the minimum, returning false (not
// an error) for a bid that is simply too low.
func (p *EnglishAuctionProtocol) SubmitBid(bidder string, amount float64) (bool, error) {
	if p.state != EAAnnounced && p.state != EABidding {
		return false, &TransitionError{From: p.state.String(), To: "bid"}
	}
	if amount < p.MinimumBid() {
		return false, nil
	}
	bid := Bid{Bidder: bidder, Amount: amount, Timestamp: time.Now()}
	p.bidHistory = append(p.bidHistory, bid)
	p.currentBid = &bid
	p.state = EABidding
	return true, nil
}

// CloseAuction ends bidding, declaring the winner unless the current bid
// is below the reserve price.
func (p *EnglishAuctionProtocol) CloseAuction() (*Bid, error) {
	if p.state != EABidding && p.state != EAClosing {
		return nil, &TransitionError{From: p.state.String(), To: "close"}
	}
	if p.reservePrice != nil && p.currentBid != nil && p.currentBid.Amount < *p.reservePrice {
		p.state = EAFailed
		return nil, nil
	}
	if p.currentBid != nil {
		p.winner = p.currentBid.Bidder
		p.state = EACompleted
		return p.currentBid, nil
	}
	p.state = EAFailed
	return nil, nil
}

func (p *EnglishAuctionProtocol) validateTransition(perf acl.Performative) (EnglishAuctionState, error) {
	switch {
	case p.state == EANotStarted && perf == acl.Inform:
		return EAAnnounced, nil
	case (p.state == EAAnnounced || p.state == EABidding) && perf == acl.Propose:
		return EABidding, nil
	case p.state == EABidding && (perf == acl.AcceptProposal || perf == acl.RejectProposal):
		return EABidding, nil
	case p.state == EABidding && perf == acl.Inform:
		return EACompleted, nil
	case p.state == EAAnnounced && perf == acl.Inform:
		return EACompleted, nil
	case perf == acl.Failure:
		return EAFailed, nil
	case perf == acl.Cancel:
		return EACancelled, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *EnglishAuctionProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoEnglishAuction }
func (p *EnglishAuctionProtocol) StateName() string               { return p.state.String() }

func (p *EnglishAuctionProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *EnglishAuctionProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)

	switch {
	case msg.Performative == acl.Inform && p.state == EANotStarted:
		p.itemDescription = contentBytes(msg.Content)
	case msg.Performative == acl.Propose:
		p.RegisterBidder(msg.Sender)
	}

	p.state = newState
	switch p.state {
	case EACompleted:
		var result []byte
		if p.currentBid != nil {
			result, _ = json.Marshal(p.currentBid)
		}
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: result, Metadata: map[string]string{}}}, nil
	case EAFailed:
		return ProcessResult{Kind: ResultFailed, FailReason: "auction failed"}, nil
	case EACancelled:
		return ProcessResult{Kind: ResultFailed, FailReason: "auction cancelled"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *EnglishAuctionProtocol) IsComplete() bool {
	return p.state == EACompleted || p.state == EAFailed || p.state == EACancelled
}
func (p *EnglishAuctionProtocol) IsFailed() bool { return p.state == EAFailed || p.state == EACancelled }

func (p *EnglishAuctionProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case EANotStarted:
		return []acl.Performative{acl.Inform}
	case EAAnnounced:
		return []acl.Performative{acl.Propose, acl.Inform, acl.Cancel}
	case EABidding:
		return []acl.Performative{acl.Propose, acl.AcceptProposal, acl.RejectProposal, acl.Inform, acl.Cancel}
	case EAClosing:
		return []acl.Performative{acl.Inform, acl.Cancel}
	default:
		return nil
	}
}

func (p *EnglishAuctionProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *EnglishAuctionProtocol) RestoreState(data []byte) error {
	s, err := reverseState(englishAuctionStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *EnglishAuctionProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
