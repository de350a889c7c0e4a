// Package directory exposes the replicated agent directory and service
// registry as a typed API over internal/consensus, translating
// AgentId/ServiceDescription lookups into Raft-applied StateRequests.
package directory

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/consensus"
	"github.com/fipamesh/agentd/internal/errs"
)

const applyTimeout = 5 * time.Second

// Directory is the node-local facade over the replicated cluster state.
type Directory struct {
	node *consensus.Node

	mu        sync.RWMutex
	nodeAddrs map[string]string
	nodeKeys  map[string]ed25519.PublicKey
}

func New(node *consensus.Node) *Directory {
	return &Directory{
		node:      node,
		nodeAddrs: make(map[string]string),
		nodeKeys:  make(map[string]ed25519.PublicKey),
	}
}

// SetNodeAddress records the RPC/transport address for nodeID, used to
// resolve where to deliver a message once an agent's host node is known.
func (d *Directory) SetNodeAddress(nodeID, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodeAddrs[nodeID] = addr
}

// NodeAddress implements router.DirectoryResolver.
func (d *Directory) NodeAddress(nodeID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.nodeAddrs[nodeID]
	return addr, ok
}

// TrustNode records nodeID's Ed25519 public key, admitting it as a
// valid signer for node-to-node RPC auth.
func (d *Directory) TrustNode(nodeID string, pub ed25519.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodeKeys[nodeID] = pub
}

// NodePublicKey implements middleware.TrustStore.
func (d *Directory) NodePublicKey(nodeID string) (ed25519.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.nodeKeys[nodeID]
	return pub, ok
}

// RegisterAgent records that fingerprint is hosted on nodeID with the
// given capability names, replicated via Raft.
func (d *Directory) RegisterAgent(ctx context.Context, fingerprint, nodeID string, capabilities []string) error {
	if !d.node.IsLeader() {
		return fmt.Errorf("%w: node is not raft leader", errs.ErrNoLeader)
	}
	return d.node.Apply(consensus.StateRequest{
		Kind:         consensus.RequestRegisterAgent,
		Fingerprint:  fingerprint,
		NodeID:       nodeID,
		Capabilities: capabilities,
	}, applyTimeout)
}

func (d *Directory) UnregisterAgent(ctx context.Context, fingerprint string) error {
	if !d.node.IsLeader() {
		return fmt.Errorf("%w: node is not raft leader", errs.ErrNoLeader)
	}
	return d.node.Apply(consensus.StateRequest{
		Kind:        consensus.RequestUnregisterAgent,
		Fingerprint: fingerprint,
	}, applyTimeout)
}

// ResolveAgent implements router.DirectoryResolver: looks up which node
// currently hosts an agent by name.
func (d *Directory) ResolveAgent(ctx context.Context, name string) (string, error) {
	loc, ok := d.node.State().QueryAgent(name)
	if !ok {
		return "", errs.ErrNotFound
	}
	return loc.NodeID, nil
}

// FindAgent returns the full AgentLocation entry, or ErrNotFound.
func (d *Directory) FindAgent(fingerprint string) (consensus.AgentLocation, error) {
	loc, ok := d.node.State().QueryAgent(fingerprint)
	if !ok {
		return consensus.AgentLocation{}, errs.ErrNotFound
	}
	return loc, nil
}

// MigrateAgent relocates fingerprint onto toNode, bumping its epoch by
// one past whatever is currently recorded. Two proposers racing to
// migrate the same agent converge because Raft linearizes their Apply
// calls: whichever commits first wins the epoch, and the loser's
// request is rejected as stale against that result.
func (d *Directory) MigrateAgent(ctx context.Context, fingerprint, toNode string, capabilities []string) (uint64, error) {
	if !d.node.IsLeader() {
		return 0, fmt.Errorf("%w: node is not raft leader", errs.ErrNoLeader)
	}
	current, _ := d.node.State().QueryAgent(fingerprint)
	newEpoch := current.Epoch + 1
	err := d.node.Apply(consensus.StateRequest{
		Kind:         consensus.RequestMigrateAgent,
		Fingerprint:  fingerprint,
		NodeID:       toNode,
		FromNode:     current.NodeID,
		NewEpoch:     newEpoch,
		Capabilities: capabilities,
	}, applyTimeout)
	if err != nil {
		return 0, err
	}
	return newEpoch, nil
}

// ServiceDescription is what an agent advertises when it registers a
// capability with the directory.
type ServiceDescription struct {
	ServiceType string
	Name        string
	Provider    acl.AgentId
	Properties  map[string]string
}

func (d *Directory) RegisterService(ctx context.Context, nodeID string, svc ServiceDescription) error {
	if !d.node.IsLeader() {
		return fmt.Errorf("%w: node is not raft leader", errs.ErrNoLeader)
	}
	return d.node.Apply(consensus.StateRequest{
		Kind:        consensus.RequestRegisterService,
		ServiceType: svc.ServiceType,
		Name:        svc.Name,
		NodeID:      nodeID,
		Provider:    svc.Provider.Name,
		Properties:  svc.Properties,
	}, applyTimeout)
}

func (d *Directory) UnregisterService(ctx context.Context, serviceType string, provider acl.AgentId) error {
	if !d.node.IsLeader() {
		return fmt.Errorf("%w: node is not raft leader", errs.ErrNoLeader)
	}
	return d.node.Apply(consensus.StateRequest{
		Kind:        consensus.RequestUnregisterService,
		ServiceType: serviceType,
		Provider:    provider.Name,
	}, applyTimeout)
}

// FindService returns every currently registered provider for a service
// type, the basis of FindService and the Recruiting/Brokering protocols'
// directory search.
func (d *Directory) FindService(serviceType string) []consensus.ServiceEntry {
	return d.node.State().QueryServices(serviceType)
}

// ActorServices adapts Directory to the narrow actor.Services interface
// agents running on nodeID use to register or look up services, binding
// every call to the node's own identity.
type ActorServices struct {
	dir    *Directory
	nodeID string
}

func NewActorServices(dir *Directory, nodeID string) *ActorServices {
	return &ActorServices{dir: dir, nodeID: nodeID}
}

func (s *ActorServices) FindAgentsByService(serviceType string) []string {
	entries := s.dir.FindService(serviceType)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Provider)
	}
	return out
}

func (s *ActorServices) RegisterService(agentID acl.AgentId, serviceType string) error {
	return s.dir.RegisterService(context.Background(), s.nodeID, ServiceDescription{
		ServiceType: serviceType,
		Name:        serviceType,
		Provider:    agentID,
	})
}

func (s *ActorServices) DeregisterService(agentID acl.AgentId, serviceType string) error {
	return s.dir.UnregisterService(context.Background(), serviceType, agentID)
}
