// Package router delivers ACL messages to local agents or forwards them
// to remote nodes, replacing the original libp2p swarm with a plain
// HTTP transport plus mDNS bootstrap discovery: agentd nodes run inside
// ordinary cluster networks where a libp2p swarm is unnecessary overhead
// and a REST-ish transport is easier to operate and firewall.
package router

import (
	"context"
	"time"

	"github.com/fipamesh/agentd/internal/acl"
)

// PeerSource records how a peer was learned about.
type PeerSource int

const (
	SourceMdns PeerSource = iota
	SourceBootstrap
	SourceDirect
	SourcePeerExchange
)

// Peer is a known remote node.
type Peer struct {
	NodeID        string
	Addresses     []string
	Source        PeerSource
	DiscoveredAt  time.Time
	LastSeen      time.Time
}

// Transport abstracts node-to-node delivery so the router can be tested
// without a real network and so alternate transports (e.g. gRPC) can be
// substituted later without touching routing logic.
type Transport interface {
	// Send delivers envelope bytes to the peer at addr, returning an error
	// if the peer is unreachable or rejects the envelope.
	Send(ctx context.Context, addr string, envelope []byte) error
}

// Envelope wraps an ACL message (or other payload) for node-to-node
// transit, mirroring proto.MessageEnvelope's source/target/sequence
// framing.
type Envelope struct {
	SourceNode string
	TargetNode string
	Sequence   uint64
	Timestamp  int64
	Payload    Payload
}

// PayloadKind tags which field of Payload is populated.
type PayloadKind int

const (
	PayloadAclMessage PayloadKind = iota
	PayloadMigration
	PayloadRegistryUpdate
	PayloadConsensus
	PayloadHealthPing
)

type Payload struct {
	Kind        PayloadKind
	AclMessage  *acl.Message
	Migration   []byte
	RegistryMsg []byte
	Consensus   []byte
	HealthPing  *HealthPing
}

type HealthPing struct {
	NodeID string
}
