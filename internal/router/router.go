package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/errs"
	"github.com/fipamesh/agentd/internal/metrics"
)

// LocalDelivery is the subset of supervisor.Supervisor the router needs
// to hand a message to a locally running agent.
type LocalDelivery interface {
	Lookup(name string) (*actor.Handle, bool)
}

// DirectoryResolver resolves an agent name to the node currently hosting
// it, backed by the consensus-replicated directory.
type DirectoryResolver interface {
	ResolveAgent(ctx context.Context, name string) (nodeID string, err error)
	NodeAddress(nodeID string) (addr string, ok bool)
}

// Router delivers ACL messages to local agents or forwards them over a
// Transport to the node that actually hosts the target, generalizing the
// original NetworkActor's routing away from a libp2p swarm.
type Router struct {
	nodeID    string
	local     LocalDelivery
	directory DirectoryResolver
	transport Transport
	discovery *Discovery
	dedup     *dedupCache

	mu               sync.Mutex
	sequence         uint64
	messagesSent     uint64
	messagesRecv     uint64
	subscribers      map[string][]chan acl.Message
	migrationHandler func([]byte) error
}

// SetMigrationHandler installs the callback invoked when a signed
// migration package arrives over PayloadMigration, the counterpart to
// SetEnvelopeCodec: main wires this to a closure that verifies the
// package's signature and spawns it under the local supervisor, kept
// out of this package to avoid an import cycle with internal/migration
// (which imports internal/actor).
func (r *Router) SetMigrationHandler(h func([]byte) error) { r.migrationHandler = h }

// SendMigrationPackage delivers a signed, wire-encoded migration.Package
// to targetNode over the same envelope transport used for routed ACL
// messages, the transfer step behind both the MigrateAgent and
// CloneAgent RPCs.
func (r *Router) SendMigrationPackage(ctx context.Context, targetNode string, data []byte) error {
	addr, ok := r.resolveAddr(targetNode)
	if !ok {
		return fmt.Errorf("%w: no known address for node %s", errs.ErrNotFound, targetNode)
	}
	env := Envelope{
		SourceNode: r.nodeID,
		TargetNode: targetNode,
		Sequence:   r.nextSequence(),
		Timestamp:  time.Now().UnixMilli(),
		Payload:    Payload{Kind: PayloadMigration, Migration: data},
	}
	return r.send(ctx, addr, env)
}

func New(nodeID string, local LocalDelivery, directory DirectoryResolver, transport Transport, discovery *Discovery, dedup *dedupCache) *Router {
	return &Router{
		nodeID:      nodeID,
		local:       local,
		directory:   directory,
		transport:   transport,
		discovery:   discovery,
		dedup:       dedup,
		subscribers: make(map[string][]chan acl.Message),
	}
}

// Subscribe registers an observer for every message delivered through
// this router to agentName, local or remote, the fan-out backing the
// SubscribeMessages RPC's streaming response. Callers must read from the
// returned channel promptly and call the returned cancel func when done.
func (r *Router) Subscribe(agentName string) (<-chan acl.Message, func()) {
	ch := make(chan acl.Message, 32)
	r.mu.Lock()
	r.subscribers[agentName] = append(r.subscribers[agentName], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subscribers[agentName]
		for i, c := range subs {
			if c == ch {
				r.subscribers[agentName] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

func (r *Router) notifySubscribers(agentName string, msg acl.Message) {
	r.mu.Lock()
	subs := r.subscribers[agentName]
	r.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SendRemote implements actor.Network: route msg to wherever its
// receivers actually live, trying local delivery first.
func (r *Router) SendRemote(ctx context.Context, targetNode string, msg acl.Message) error {
	var firstErr error
	for _, receiver := range msg.Receiver.Receivers {
		if handle, ok := r.local.Lookup(receiver.Name); ok {
			if err := handle.Deliver(ctx, msg); err != nil && firstErr == nil {
				firstErr = err
				metrics.MessagesDropped.WithLabelValues("mailbox_full").Inc()
			} else if err == nil {
				metrics.MessagesRouted.WithLabelValues("local").Inc()
				r.notifySubscribers(receiver.Name, msg)
			}
			continue
		}

		node := targetNode
		if node == "" && r.directory != nil {
			resolved, err := r.directory.ResolveAgent(ctx, receiver.Name)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				metrics.MessagesDropped.WithLabelValues("no_route").Inc()
				continue
			}
			node = resolved
		}
		if node == "" {
			if firstErr == nil {
				firstErr = errs.ErrNotFound
			}
			metrics.MessagesDropped.WithLabelValues("no_route").Inc()
			continue
		}

		if err := r.routeToNode(ctx, node, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) routeToNode(ctx context.Context, nodeID string, msg acl.Message) error {
	addr, ok := r.resolveAddr(nodeID)
	if !ok {
		return fmt.Errorf("%w: no known address for node %s", errs.ErrNotFound, nodeID)
	}

	env := Envelope{
		SourceNode: r.nodeID,
		TargetNode: nodeID,
		Sequence:   r.nextSequence(),
		Timestamp:  time.Now().UnixMilli(),
		Payload:    Payload{Kind: PayloadAclMessage, AclMessage: &msg},
	}

	if err := r.send(ctx, addr, env); err != nil {
		return err
	}
	r.mu.Lock()
	r.messagesSent++
	r.mu.Unlock()
	metrics.MessagesRouted.WithLabelValues("remote").Inc()
	return nil
}

func (r *Router) resolveAddr(nodeID string) (string, bool) {
	if r.discovery != nil {
		if p, ok := r.discovery.Lookup(nodeID); ok && len(p.Addresses) > 0 {
			return p.Addresses[0], true
		}
	}
	if r.directory != nil {
		return r.directory.NodeAddress(nodeID)
	}
	return "", false
}

func (r *Router) nextSequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence++
	return r.sequence
}

// encodeEnvelope is the encoder send uses, kept as a package variable so
// tests can substitute a fake codec without pulling in the wire codec.
var encodeEnvelope = func(env Envelope) []byte { return nil }

func (r *Router) send(ctx context.Context, addr string, env Envelope) error {
	data := encodeEnvelope(env)
	if data == nil {
		return fmt.Errorf("envelope encoder not configured")
	}
	return r.transport.Send(ctx, addr, data)
}

// SetEnvelopeCodec installs the encode function used by send. main wires
// this to wire.MarshalEnvelope at startup to avoid an import cycle
// between router and wire (wire imports router's Envelope type).
func SetEnvelopeCodec(encode func(Envelope) []byte) {
	encodeEnvelope = encode
}

// HandleIncoming processes an envelope received over Transport, routing
// its payload to the correct local handler and discarding duplicates
// seen within the dedup window.
func (r *Router) HandleIncoming(ctx context.Context, env Envelope) error {
	dedupKey := fmt.Sprintf("%s:%d", env.SourceNode, env.Sequence)
	if r.dedup != nil && r.dedup.seen(ctx, dedupKey) {
		metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
		return nil
	}

	r.mu.Lock()
	r.messagesRecv++
	r.mu.Unlock()

	switch env.Payload.Kind {
	case PayloadAclMessage:
		if env.Payload.AclMessage == nil {
			return nil
		}
		msg := *env.Payload.AclMessage
		var firstErr error
		for _, receiver := range msg.Receiver.Receivers {
			handle, ok := r.local.Lookup(receiver.Name)
			if !ok {
				log.Warn().Str("agent", receiver.Name).Msg("no local agent for incoming message")
				metrics.MessagesDropped.WithLabelValues("no_route").Inc()
				continue
			}
			if err := handle.Deliver(ctx, msg); err != nil && firstErr == nil {
				firstErr = err
				metrics.MessagesDropped.WithLabelValues("mailbox_full").Inc()
			} else if err == nil {
				metrics.MessagesRouted.WithLabelValues("remote").Inc()
				r.notifySubscribers(receiver.Name, msg)
			}
		}
		return firstErr
	case PayloadMigration:
		if r.migrationHandler == nil {
			return fmt.Errorf("%w: no migration handler installed", errs.ErrNotFound)
		}
		return r.migrationHandler(env.Payload.Migration)
	case PayloadHealthPing:
		if env.Payload.HealthPing != nil {
			log.Debug().Str("node", env.Payload.HealthPing.NodeID).Msg("health ping received")
		}
		return nil
	default:
		return nil
	}
}

// Status reports routing counters for the node info RPC.
type Status struct {
	NodeID          string
	ConnectedPeers  int
	MessagesSent    uint64
	MessagesRecv    uint64
}

func (r *Router) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := 0
	if r.discovery != nil {
		peers = len(r.discovery.Peers())
	}
	return Status{
		NodeID:         r.nodeID,
		ConnectedPeers: peers,
		MessagesSent:   r.messagesSent,
		MessagesRecv:   r.messagesRecv,
	}
}

// dedupCache tracks recently seen envelope sequence keys in Redis,
// generalizing the original chat store's nonce-replay check
// (internal/store.RedisStore.IsNonceUsed/MarkNonceUsed) to envelope
// dedup on the node-to-node path.
type dedupCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupCache(client *redis.Client, ttl time.Duration) *dedupCache {
	return &dedupCache{client: client, ttl: ttl}
}

func (c *dedupCache) seen(ctx context.Context, key string) bool {
	if c.client == nil {
		return false
	}
	fullKey := "envelope:seen:" + key
	ok, err := c.client.SetNX(ctx, fullKey, "1", c.ttl).Result()
	if err != nil {
		return false
	}
	return !ok
}
