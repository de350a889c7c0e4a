// Package actor runs each agent as a goroutine that owns a WASM runtime
// and drains a channel mailbox, the Go equivalent of the actix actor the
// original host used per agent.
package actor

import (
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/wasmhost"
)

// RuntimeState mirrors the lifecycle states a supervisor tracks per agent.
type RuntimeState int

const (
	StateStarting RuntimeState = iota
	StateRunning
	StatePaused
	StateMigrating
	StateStopping
	StateStopped
	StateFailed
)

var runtimeStateNames = map[RuntimeState]string{
	StateStarting:  "starting",
	StateRunning:   "running",
	StatePaused:    "paused",
	StateMigrating: "migrating",
	StateStopping:  "stopping",
	StateStopped:   "stopped",
	StateFailed:    "failed",
}

func (s RuntimeState) String() string { return runtimeStateNames[s] }

// MigrationReason explains why an agent is being relocated.
type MigrationReason int

const (
	ReasonUserRequested MigrationReason = iota
	ReasonLoadBalancing
	ReasonNetworkOptimization
	ReasonFollowData
	ReasonNodeShutdown
)

// ShutdownReason explains why an agent was asked to stop.
type ShutdownReason int

const (
	ShutdownRequested ShutdownReason = iota
	ShutdownMigration
	ShutdownNodeShutdown
	ShutdownError
	ShutdownTimeout
)

// Config describes an agent to be spawned under an actor.
type Config struct {
	ID              acl.AgentId
	WasmModule      []byte
	Capabilities    wasmhost.Capabilities
	InitialSnapshot []byte
	RestartStrategy RestartStrategy
}

// RestartStrategy mirrors the supervisor's restart policy for one agent.
type RestartStrategy struct {
	Kind       RestartKind
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxCount   uint32
	Window     time.Duration
}

type RestartKind int

const (
	RestartBackoff RestartKind = iota
	RestartImmediate
	RestartMaxFailures
	RestartNever
)

// DefaultRestartStrategy matches the original host's default: exponential
// backoff starting at one second, capped at one minute.
func DefaultRestartStrategy() RestartStrategy {
	return RestartStrategy{Kind: RestartBackoff, Initial: time.Second, Max: time.Minute, Multiplier: 2.0}
}

// Snapshot is a captured agent state ready for migration or persistence.
type Snapshot struct {
	AgentID          acl.AgentId
	WasmModule       []byte
	WasmHash         [32]byte
	Memory           []byte
	Capabilities     wasmhost.Capabilities
	MigrationHistory []string
}

// Status reports an agent's runtime health for GetStatus / supervisor polls.
type Status struct {
	AgentID              acl.AgentId
	State                RuntimeState
	ActiveConversations  int
	MessagesProcessed    uint64
	UptimeSeconds        uint64
	MemoryUsed           uint32
}

// EventKind enumerates supervision notifications an actor raises.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventFailed
	EventMigrated
	EventRecovered
)

// Event is sent to the supervisor whenever an actor's lifecycle changes.
type Event struct {
	AgentID    acl.AgentId
	Kind       EventKind
	Error      string
	WillRestart bool
	FromNode   string
	ToNode     string
}
