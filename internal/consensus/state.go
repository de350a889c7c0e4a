// Package consensus replicates the agent directory and service registry
// across nodes with hashicorp/raft, the same role the original host gave
// openraft: every RegisterAgent/RegisterService mutation goes through the
// log so all nodes agree on who is hosting what.
package consensus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fipamesh/agentd/internal/errs"
)

// AgentLocation records which node currently hosts an agent. Epoch is
// bumped on every migration; a MigrateAgent request at or below the
// recorded epoch is stale and rejected, the same discipline a signed
// migration package's epoch is checked against before it is admitted.
type AgentLocation struct {
	Fingerprint  string
	NodeID       string
	UpdatedAt    int64
	Capabilities []string
	Epoch        uint64
}

// ServiceEntry is one provider's registration for a service type.
type ServiceEntry struct {
	ServiceType  string
	Name         string
	Provider     string
	NodeID       string
	Properties   map[string]string
	RegisteredAt int64
}

// RequestKind tags which mutation a StateRequest carries.
type RequestKind int

const (
	RequestRegisterAgent RequestKind = iota
	RequestUnregisterAgent
	RequestRegisterService
	RequestUnregisterService
	RequestMigrateAgent
)

var requestKindNames = map[RequestKind]string{
	RequestRegisterAgent:    "register_agent",
	RequestUnregisterAgent:  "unregister_agent",
	RequestRegisterService:  "register_service",
	RequestUnregisterService: "unregister_service",
	RequestMigrateAgent:     "migrate_agent",
}

func (k RequestKind) String() string {
	if name, ok := requestKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// StateRequest is the payload appended to the Raft log; FSM.Apply
// decodes and applies it on every node.
type StateRequest struct {
	Kind RequestKind

	Fingerprint  string
	NodeID       string
	Capabilities []string

	ServiceType string
	Name        string
	Provider    string
	Properties  map[string]string

	// MigrateAgent fields: relocate Fingerprint from FromNode to NodeID
	// at NewEpoch. Keyed by (Fingerprint, NewEpoch); re-proposing the
	// same pair with the same NodeID is a no-op, and any other NewEpoch
	// <= the recorded epoch is rejected as stale.
	FromNode string
	NewEpoch uint64
}

func (r StateRequest) encode() ([]byte, error) { return json.Marshal(r) }

func decodeRequest(data []byte) (StateRequest, error) {
	var r StateRequest
	err := json.Unmarshal(data, &r)
	return r, err
}

// ClusterState is the FSM's in-memory replicated state, safe for
// concurrent reads from RPC handlers while Apply serializes writes.
type ClusterState struct {
	mu       sync.RWMutex
	agents   map[string]AgentLocation
	services map[string][]ServiceEntry
}

func newClusterState() *ClusterState {
	return &ClusterState{
		agents:   make(map[string]AgentLocation),
		services: make(map[string][]ServiceEntry),
	}
}

func (s *ClusterState) apply(req StateRequest) error {
	now := time.Now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Kind {
	case RequestRegisterAgent:
		s.agents[req.Fingerprint] = AgentLocation{
			Fingerprint:  req.Fingerprint,
			NodeID:       req.NodeID,
			UpdatedAt:    now,
			Capabilities: req.Capabilities,
		}
	case RequestUnregisterAgent:
		delete(s.agents, req.Fingerprint)
	case RequestMigrateAgent:
		current, ok := s.agents[req.Fingerprint]
		if ok && req.NewEpoch == current.Epoch && req.NodeID == current.NodeID {
			return nil
		}
		if ok && req.NewEpoch <= current.Epoch {
			return errs.ErrEpochStale
		}
		s.agents[req.Fingerprint] = AgentLocation{
			Fingerprint:  req.Fingerprint,
			NodeID:       req.NodeID,
			UpdatedAt:    now,
			Capabilities: req.Capabilities,
			Epoch:        req.NewEpoch,
		}
	case RequestRegisterService:
		entries := s.services[req.ServiceType]
		filtered := entries[:0]
		for _, e := range entries {
			if e.Provider != req.Provider {
				filtered = append(filtered, e)
			}
		}
		filtered = append(filtered, ServiceEntry{
			ServiceType:  req.ServiceType,
			Name:         req.Name,
			Provider:     req.Provider,
			NodeID:       req.NodeID,
			Properties:   req.Properties,
			RegisteredAt: now,
		})
		s.services[req.ServiceType] = filtered
	case RequestUnregisterService:
		entries := s.services[req.ServiceType]
		filtered := entries[:0]
		for _, e := range entries {
			if e.Provider != req.Provider {
				filtered = append(filtered, e)
			}
		}
		s.services[req.ServiceType] = filtered
	}
	return nil
}

func (s *ClusterState) QueryAgent(fingerprint string) (AgentLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.agents[fingerprint]
	return loc, ok
}

func (s *ClusterState) QueryServices(serviceType string) []ServiceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.services[serviceType]
	out := make([]ServiceEntry, len(entries))
	copy(out, entries)
	return out
}

func (s *ClusterState) snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(struct {
		Agents   map[string]AgentLocation
		Services map[string][]ServiceEntry
	}{Agents: s.agents, Services: s.services})
}

func (s *ClusterState) restore(data []byte) error {
	var payload struct {
		Agents   map[string]AgentLocation
		Services map[string][]ServiceEntry
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = payload.Agents
	if s.agents == nil {
		s.agents = make(map[string]AgentLocation)
	}
	s.services = payload.Services
	if s.services == nil {
		s.services = make(map[string][]ServiceEntry)
	}
	return nil
}
