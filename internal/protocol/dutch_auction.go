package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/errs"
)

// PriceUpdate records one price-descent step of a Dutch auction.
type PriceUpdate struct {
	Price     float64
	Round     uint32
	Timestamp time.Time
}

type DutchAuctionState int

const (
	DANotStarted DutchAuctionState = iota
	DADescending
	DABidReceived
	DASold
	DAUnsold
	DACancelled
)

var dutchAuctionStateNames = map[DutchAuctionState]string{
	DANotStarted:  "not_started",
	DADescending:  "descending",
	DABidReceived: "bid_received",
	DASold:        "sold",
	DAUnsold:      "unsold",
	DACancelled:   "cancelled",
}

func (s DutchAuctionState) String() string { return dutchAuctionStateNames[s] }

// DutchAuctionProtocol implements the descending-price Dutch Auction: the
// auctioneer lowers the price each round until a bidder accepts, or the
// reserve price is reached with no bid.
type DutchAuctionProtocol struct {
	state DutchAuctionState
	base  ConversationBase

	itemDescription []byte
	startingPrice   float64
	reservePrice    float64
	currentPrice    float64
	priceDecrement  float64
	currentRound    uint32
	priceHistory    []PriceUpdate
	winner          string
	salePrice       *float64
}

func NewDutchAuctionAsAuctioneer(startingPrice, reservePrice, priceDecrement float64) *DutchAuctionProtocol {
	return &DutchAuctionProtocol{
		state:          DANotStarted,
		base:           NewConversationBase(uuid.NewString(), RoleInitiator),
		startingPrice:  startingPrice,
		reservePrice:   reservePrice,
		currentPrice:   startingPrice,
		priceDecrement: priceDecrement,
	}
}

func NewDutchAuctionProtocol(role Role) *DutchAuctionProtocol {
	return &DutchAuctionProtocol{state: DANotStarted, base: NewConversationBase(uuid.NewString(), role)}
}

func (p *DutchAuctionProtocol) WithItemDescription(desc []byte) *DutchAuctionProtocol {
	p.itemDescription = desc
	return p
}

func (p *DutchAuctionProtocol) CurrentPrice() float64 { return p.currentPrice }
func (p *DutchAuctionProtocol) CurrentRound() uint32  { return p.currentRound }
func (p *DutchAuctionProtocol) Winner() string        { return p.winner }
func (p *DutchAuctionProtocol) SalePrice() *float64   { return p.salePrice }

// Start moves the auction into its first descending round.
func (p *DutchAuctionProtocol) Start() error {
	if p.state != DANotStarted {
		return &TransitionError{From: p.state.String(), To: "start"}
	}
	p.currentPrice = p.startingPrice
	p.currentRound = 1
	p.priceHistory = append(p.priceHistory, PriceUpdate{Price: p.currentPrice, Round: p.currentRound, Timestamp: time.Now()})
	p.state = DADescending
	return nil
}

// DecreasePrice drops the price by one increment, failing with
// ErrResourceExhausted semantics (reserve reached, no bid) if the next
// price would fall below the reserve.
func (p *DutchAuctionProtocol) DecreasePrice() (float64, error) {
	if p.state != DADescending {
		return 0, &TransitionError{From: p.state.String(), To: "decrease"}
	}
	newPrice := p.currentPrice - p.priceDecrement
	if newPrice < p.reservePrice {
		p.state = DAUnsold
		return 0, fmt.Errorf("%w: reached reserve price without bids", errs.ErrResourceExhausted)
	}
	p.currentPrice = newPrice
	p.currentRound++
	p.priceHistory = append(p.priceHistory, PriceUpdate{Price: p.currentPrice, Round: p.currentRound, Timestamp: time.Now()})
	return p.currentPrice, nil
}

// AcceptBid sells the item to bidder at the current price.
func (p *DutchAuctionProtocol) AcceptBid(bidder string) (float64, error) {
	if p.state != DADescending {
		return 0, &TransitionError{From: p.state.String(), To: "accept_bid"}
	}
	p.winner = bidder
	price := p.currentPrice
	p.salePrice = &price
	p.state = DASold
	return price, nil
}

func (p *DutchAuctionProtocol) validateTransition(perf acl.Performative) (DutchAuctionState, error) {
	switch {
	case p.state == DANotStarted && perf == acl.Cfp:
		return DADescending, nil
	case p.state == DADescending && perf == acl.Cfp:
		return DADescending, nil
	case p.state == DADescending && perf == acl.Propose:
		return DABidReceived, nil
	case p.state == DABidReceived && perf == acl.AcceptProposal:
		return DASold, nil
	case p.state == DADescending && perf == acl.Inform:
		return DAUnsold, nil
	case p.state == DASold && perf == acl.Inform:
		return DASold, nil
	case perf == acl.Failure:
		return DAUnsold, nil
	case perf == acl.Cancel:
		return DACancelled, nil
	default:
		return 0, &TransitionError{From: p.state.String(), To: perf.String()}
	}
}

func (p *DutchAuctionProtocol) ProtocolType() acl.ProtocolType { return acl.ProtoDutchAuction }
func (p *DutchAuctionProtocol) StateName() string               { return p.state.String() }

func (p *DutchAuctionProtocol) Validate(msg acl.Message) error {
	_, err := p.validateTransition(msg.Performative)
	return err
}

func (p *DutchAuctionProtocol) Process(msg acl.Message) (ProcessResult, error) {
	newState, err := p.validateTransition(msg.Performative)
	if err != nil {
		return ProcessResult{}, err
	}
	p.base.RecordMessage(msg)

	switch {
	case msg.Performative == acl.Cfp && p.state == DANotStarted:
		p.itemDescription = contentBytes(msg.Content)
	case msg.Performative == acl.Propose:
		p.winner = msg.Sender.Name
	}

	p.state = newState
	switch p.state {
	case DASold:
		var result []byte
		if p.salePrice != nil {
			result = []byte(fmt.Sprintf("%v", *p.salePrice))
		}
		return ProcessResult{Kind: ResultComplete, Completion: CompletionData{Result: result, Metadata: map[string]string{}}}, nil
	case DAUnsold:
		return ProcessResult{Kind: ResultFailed, FailReason: "no buyer found"}, nil
	case DACancelled:
		return ProcessResult{Kind: ResultFailed, FailReason: "auction cancelled"}, nil
	default:
		return ProcessResult{Kind: ResultContinue}, nil
	}
}

func (p *DutchAuctionProtocol) IsComplete() bool {
	return p.state == DASold || p.state == DAUnsold || p.state == DACancelled
}
func (p *DutchAuctionProtocol) IsFailed() bool { return p.state == DAUnsold || p.state == DACancelled }

func (p *DutchAuctionProtocol) ExpectedPerformatives() []acl.Performative {
	switch p.state {
	case DANotStarted:
		return []acl.Performative{acl.Cfp}
	case DADescending:
		return []acl.Performative{acl.Cfp, acl.Propose, acl.Inform, acl.Cancel}
	case DABidReceived:
		return []acl.Performative{acl.AcceptProposal, acl.Cancel}
	default:
		return nil
	}
}

func (p *DutchAuctionProtocol) SerializeState() ([]byte, error) { return []byte(p.state.String()), nil }

func (p *DutchAuctionProtocol) RestoreState(data []byte) error {
	s, err := reverseState(dutchAuctionStateNames, data)
	if err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *DutchAuctionProtocol) MessageHistory() []acl.Message   { return p.base.Messages }
