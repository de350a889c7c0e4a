// Package wasmhost hosts a single agent's compiled WASM component inside
// a wazero runtime, exposing the fipa:agent/* host function namespaces
// that agent code imports to send messages, persist data and observe
// time.
package wasmhost

import (
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/errs"
)

// DefaultMailboxSize bounds an agent's mailbox when Capabilities.MaxMailboxSize
// is left at zero.
const DefaultMailboxSize = 256

// Capabilities mirrors the resource grants a supervisor assigns an
// agent. The host enforces the execution-time, mailbox and storage
// ceilings; MaxFuelPerCall and MaxMemoryBytes are carried (and migrated)
// but not enforced.
type Capabilities struct {
	MaxExecutionTimeMS uint64
	MaxMemoryBytes     uint64
	MaxFuelPerCall     uint64
	MaxMailboxSize     int
	StorageQuotaBytes  uint64
	AllowedProtocols   []acl.ProtocolType
	NetworkAccess      NetworkAccess
	MigrationAllowed   bool
	SpawnAllowed       bool
}

// NetworkAccess is the breadth of outbound network reach granted to an
// agent, per the capability declared at spawn time.
type NetworkAccess int

const (
	NetworkNone NetworkAccess = iota
	NetworkLocalOnly
	NetworkRestrictedList
	NetworkUnrestricted
)

// ServiceDirectory is the narrow view of the node's directory a guest
// reaches through find-agents-by-service / register-service /
// deregister-service; the actor wires its concrete implementation in at
// spawn time.
type ServiceDirectory interface {
	FindAgentsByService(serviceType string) []string
	RegisterService(serviceType string) error
	DeregisterService(serviceType string) error
}

// MigrationRequest is left on HostState by the migrate-to/clone-to host
// calls, which must return synchronously; the actor's run loop picks it
// up and drives the actual migration sequence after the guest call
// returns.
type MigrationRequest struct {
	TargetNode string
	Clone      bool
}

// HostState is the per-agent state visible to host functions. It is the
// single piece of mutable state a wazero module instance closes over.
type HostState struct {
	AgentID      acl.AgentId
	Capabilities Capabilities
	NodeID       string

	Mailbox []acl.Message
	Outbox  []acl.Message

	Storage      map[string][]byte
	StorageUsage uint64

	Timers      map[uint64]int64 // timer id -> deadline (unix millis)
	NextTimerID uint64
	FiredTimers []uint64

	ShutdownRequested bool
	IsMigrating       bool
	MigrationHistory  []string
	PendingMigration  *MigrationRequest

	Services  ServiceDirectory
	NodeList  func() []string
	StartedAt int64 // unix nanos, for monotonic-now

	MessagesSent     uint64
	MessagesReceived uint64
	LogCount         uint64
}

func NewHostState(capabilities Capabilities) *HostState {
	return &HostState{
		Capabilities: capabilities,
		Storage:      make(map[string][]byte),
		Timers:       make(map[uint64]int64),
		NextTimerID:  1,
		StartedAt:    time.Now().UnixNano(),
	}
}

// mailboxBound returns the effective mailbox capacity, defaulting when
// the capability was left unset.
func (s *HostState) mailboxBound() int {
	if s.Capabilities.MaxMailboxSize > 0 {
		return s.Capabilities.MaxMailboxSize
	}
	return DefaultMailboxSize
}

// QueueMessage appends msg to the mailbox, failing with ErrMailboxFull
// once the agent's bound is reached so a full mailbox never grows
// unbounded across a migration snapshot.
func (s *HostState) QueueMessage(msg acl.Message) error {
	if len(s.Mailbox) >= s.mailboxBound() {
		return errs.ErrMailboxFull
	}
	s.Mailbox = append(s.Mailbox, msg)
	s.MessagesReceived++
	return nil
}

func (s *HostState) PopOutgoing() (acl.Message, bool) {
	if len(s.Outbox) == 0 {
		return acl.Message{}, false
	}
	msg := s.Outbox[0]
	s.Outbox = s.Outbox[1:]
	return msg, true
}

// DequeueMessage implements the guest's non-blocking receive-message
// call: pop the oldest mailbox entry, or report none available.
func (s *HostState) DequeueMessage() (acl.Message, bool) {
	if len(s.Mailbox) == 0 {
		return acl.Message{}, false
	}
	msg := s.Mailbox[0]
	s.Mailbox = s.Mailbox[1:]
	return msg, true
}

// ListKeys returns the agent's persistent storage key set, for the
// guest's list-keys host call.
func (s *HostState) ListKeys() []string {
	keys := make([]string, 0, len(s.Storage))
	for k := range s.Storage {
		keys = append(keys, k)
	}
	return keys
}

func (s *HostState) Store(key string, value []byte) error {
	newUsage := s.StorageUsage + uint64(len(value))
	if existing, ok := s.Storage[key]; ok {
		newUsage -= uint64(len(existing))
	}
	if newUsage > s.Capabilities.StorageQuotaBytes {
		return errs.ErrQuotaExceeded
	}
	s.StorageUsage = newUsage
	s.Storage[key] = value
	return nil
}

func (s *HostState) Load(key string) ([]byte, bool) {
	v, ok := s.Storage[key]
	return v, ok
}

func (s *HostState) Delete(key string) bool {
	v, ok := s.Storage[key]
	if !ok {
		return false
	}
	s.StorageUsage -= uint64(len(v))
	delete(s.Storage, key)
	return true
}

func (s *HostState) ScheduleTimer(delayMS int64, nowMS int64) uint64 {
	id := s.NextTimerID
	s.NextTimerID++
	s.Timers[id] = nowMS + delayMS
	return id
}

func (s *HostState) CancelTimer(id uint64) bool {
	if _, ok := s.Timers[id]; ok {
		delete(s.Timers, id)
		return true
	}
	return false
}

func (s *HostState) CheckTimers(nowMS int64) {
	for id, deadline := range s.Timers {
		if nowMS >= deadline {
			delete(s.Timers, id)
			s.FiredTimers = append(s.FiredTimers, id)
		}
	}
}

func (s *HostState) TakeFiredTimers() []uint64 {
	fired := s.FiredTimers
	s.FiredTimers = nil
	return fired
}
