// Package acl implements the FIPA agent communication language message
// vocabulary: agent identifiers, performatives, protocol types and the
// ACL message envelope that every component in the mesh exchanges.
package acl

import "fmt"

// AgentId identifies an agent by name. Two AgentIds are equal iff their
// names are equal; addresses are hints for routing only.
type AgentId struct {
	Name      string
	Addresses []string
}

func (id AgentId) Equal(other AgentId) bool {
	return id.Name == other.Name
}

func (id AgentId) String() string {
	return id.Name
}

// ReceiverSet is an ordered, deduplicated set of receivers for broadcast
// and multicast performatives.
type ReceiverSet struct {
	Receivers []AgentId
}

func NewReceiverSet(ids ...AgentId) ReceiverSet {
	seen := make(map[string]struct{}, len(ids))
	rs := ReceiverSet{}
	for _, id := range ids {
		if _, ok := seen[id.Name]; ok {
			continue
		}
		seen[id.Name] = struct{}{}
		rs.Receivers = append(rs.Receivers, id)
	}
	return rs
}

func (rs ReceiverSet) Contains(id AgentId) bool {
	for _, r := range rs.Receivers {
		if r.Equal(id) {
			return true
		}
	}
	return false
}

func (rs ReceiverSet) String() string {
	return fmt.Sprintf("%v", rs.Receivers)
}
