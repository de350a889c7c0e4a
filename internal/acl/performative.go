package acl

import "fmt"

// Performative is the communicative act of a message, per FIPA ACL.
type Performative int

const (
	AcceptProposal Performative = iota
	Agree
	Cancel
	Cfp
	Confirm
	Disconfirm
	Failure
	Inform
	InformDone
	InformIf
	InformRef
	InformResult
	NotUnderstood
	Propagate
	Propose
	Proxy
	QueryIf
	QueryRef
	Refuse
	RejectProposal
	Request
	RequestWhen
	RequestWhenever
	Subscribe
)

var performativeNames = map[Performative]string{
	AcceptProposal:   "accept-proposal",
	Agree:            "agree",
	Cancel:           "cancel",
	Cfp:              "cfp",
	Confirm:          "confirm",
	Disconfirm:       "disconfirm",
	Failure:          "failure",
	Inform:           "inform",
	InformDone:       "inform-done",
	InformIf:         "inform-if",
	InformRef:        "inform-ref",
	InformResult:     "inform-result",
	NotUnderstood:    "not-understood",
	Propagate:        "propagate",
	Propose:          "propose",
	Proxy:            "proxy",
	QueryIf:          "query-if",
	QueryRef:         "query-ref",
	Refuse:           "refuse",
	RejectProposal:   "reject-proposal",
	Request:          "request",
	RequestWhen:      "request-when",
	RequestWhenever:  "request-whenever",
	Subscribe:        "subscribe",
}

func (p Performative) String() string {
	if name, ok := performativeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("performative(%d)", int(p))
}

// ParsePerformative maps a wire int32 to a Performative, matching the
// original enum's ordinal layout.
func ParsePerformative(v int32) (Performative, error) {
	if v < 0 || v > int32(Subscribe) {
		return 0, fmt.Errorf("unknown performative: %d", v)
	}
	return Performative(v), nil
}
