// Package supervisor owns the set of agents running on a node, spawning
// their actor goroutines, restarting them on failure with backoff, and
// routing inbound deliveries to the right agent handle.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/errs"
	"github.com/fipamesh/agentd/internal/wasmhost"
)

type supervisedAgent struct {
	handle         *actor.Handle
	cancel         context.CancelFunc
	config         actor.Config
	state          actor.RuntimeState
	failures       []time.Time
	currentBackoff time.Duration
}

// Supervisor spawns and restarts agents, and fans SupervisionEvent
// notifications raised by agent goroutines back into restart decisions.
type Supervisor struct {
	nodeID string

	network    actor.Network
	registry   actor.Registry
	services   actor.Services
	nodeLister actor.NodeLister

	mu     sync.Mutex
	agents map[string]*supervisedAgent

	wg sync.WaitGroup
}

func New(nodeID string) *Supervisor {
	return &Supervisor{nodeID: nodeID, agents: make(map[string]*supervisedAgent)}
}

func (s *Supervisor) WithNetwork(n actor.Network) *Supervisor     { s.network = n; return s }
func (s *Supervisor) WithRegistry(r actor.Registry) *Supervisor   { s.registry = r; return s }
func (s *Supervisor) WithServices(v actor.Services) *Supervisor   { s.services = v; return s }
func (s *Supervisor) WithNodeLister(n actor.NodeLister) *Supervisor { s.nodeLister = n; return s }

// Spawn starts a new agent under supervision, compiling its WASM module
// and running its actor loop in a dedicated goroutine.
func (s *Supervisor) Spawn(ctx context.Context, cfg actor.Config) (*actor.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := cfg.ID.Name
	if _, exists := s.agents[name]; exists {
		return nil, errs.ErrAlreadyExists
	}

	handle, err := s.startAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// startAgent must be called with s.mu held.
func (s *Supervisor) startAgent(parent context.Context, cfg actor.Config) (*actor.Handle, error) {
	runtime, err := wasmhost.New(parent, cfg.WasmModule, cfg.Capabilities)
	if err != nil {
		return nil, err
	}
	if len(cfg.InitialSnapshot) > 0 {
		if err := runtime.RestoreMemory(cfg.InitialSnapshot); err != nil {
			return nil, err
		}
	}

	ag := actor.New(cfg, runtime).WithSupervisor(s).WithNodeID(s.nodeID)
	if s.network != nil {
		ag = ag.WithNetwork(s.network)
	}
	if s.registry != nil {
		ag = ag.WithRegistry(s.registry)
	}
	if s.services != nil {
		ag = ag.WithServices(s.services)
	}
	if s.nodeLister != nil {
		ag = ag.WithNodeLister(s.nodeLister)
	}

	runCtx, cancel := context.WithCancel(parent)
	handle := ag.Handle()

	strategy := cfg.RestartStrategy
	if strategy.Kind == 0 && strategy.Initial == 0 {
		strategy = actor.DefaultRestartStrategy()
	}

	s.agents[cfg.ID.Name] = &supervisedAgent{
		handle:         handle,
		cancel:         cancel,
		config:         cfg,
		state:          actor.StateStarting,
		currentBackoff: strategy.Initial,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ag.Run(runCtx)
	}()

	log.Info().Str("agent", cfg.ID.Name).Msg("spawned agent")
	return handle, nil
}

// Stop requests a supervised agent to shut down and removes it from
// supervision.
func (s *Supervisor) Stop(name string, reason actor.ShutdownReason) error {
	s.mu.Lock()
	sup, ok := s.agents[name]
	if ok {
		delete(s.agents, name)
	}
	s.mu.Unlock()

	if !ok {
		return errs.ErrNotFound
	}
	sup.handle.Shutdown(reason)
	return nil
}

// StopAll shuts down every supervised agent, for node shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	agents := make([]*supervisedAgent, 0, len(s.agents))
	for name, sup := range s.agents {
		agents = append(agents, sup)
		delete(s.agents, name)
	}
	s.mu.Unlock()

	for _, sup := range agents {
		sup.handle.Shutdown(actor.ShutdownNodeShutdown)
	}
	s.wg.Wait()
}

// Lookup returns the handle for a locally supervised agent.
func (s *Supervisor) Lookup(name string) (*actor.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.agents[name]
	if !ok {
		return nil, false
	}
	return sup.handle, true
}

// WasmModule returns the compiled module bytes a supervised agent was
// spawned with, for the GetWasmModule RPC.
func (s *Supervisor) WasmModule(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.agents[name]
	if !ok {
		return nil, false
	}
	return sup.config.WasmModule, true
}

// List reports every locally supervised agent's bookkeeping.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.agents))
	for _, sup := range s.agents {
		out = append(out, Info{
			AgentID:      sup.config.ID,
			State:        sup.state,
			RestartCount: uint32(len(sup.failures)),
		})
	}
	return out
}

// Info summarizes one supervised agent for status reporting.
type Info struct {
	AgentID      acl.AgentId
	State        actor.RuntimeState
	RestartCount uint32
}

// NotifyEvent implements actor.Supervisor, driving restart decisions
// from agent lifecycle notifications.
func (s *Supervisor) NotifyEvent(event actor.Event) {
	name := event.AgentID.Name

	s.mu.Lock()
	sup, ok := s.agents[name]
	if !ok {
		s.mu.Unlock()
		return
	}

	switch event.Kind {
	case actor.EventStarted:
		sup.state = actor.StateRunning
		sup.currentBackoff = sup.config.RestartStrategy.Initial
		s.mu.Unlock()
	case actor.EventStopped:
		sup.state = actor.StateStopped
		s.mu.Unlock()
	case actor.EventMigrated:
		delete(s.agents, name)
		s.mu.Unlock()
		log.Info().Str("agent", name).Str("to", event.ToNode).Msg("agent migrated, dropping local supervision")
	case actor.EventRecovered:
		sup.state = actor.StateRunning
		s.mu.Unlock()
	case actor.EventFailed:
		sup.failures = append(sup.failures, time.Now())
		sup.state = actor.StateFailed
		cfg := sup.config
		delay, shouldRestart := s.nextRestart(sup)
		s.mu.Unlock()

		if !event.WillRestart || !shouldRestart {
			log.Warn().Str("agent", name).Msg("agent failed, not restarting")
			return
		}

		log.Info().Str("agent", name).Dur("delay", delay).Msg("scheduling agent restart")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			timer := time.NewTimer(delay)
			defer timer.Stop()
			<-timer.C
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, stillTracked := s.agents[name]; !stillTracked {
				return
			}
			delete(s.agents, name)
			if _, err := s.startAgent(context.Background(), cfg); err != nil {
				log.Error().Err(err).Str("agent", name).Msg("failed to restart agent")
			}
		}()
	default:
		s.mu.Unlock()
	}
}

// nextRestart computes the restart decision and backoff for a failed
// agent per its RestartStrategy. Caller must hold s.mu.
func (s *Supervisor) nextRestart(sup *supervisedAgent) (time.Duration, bool) {
	strategy := sup.config.RestartStrategy
	switch strategy.Kind {
	case actor.RestartNever:
		return 0, false
	case actor.RestartImmediate:
		return 0, true
	case actor.RestartMaxFailures:
		cutoff := time.Now().Add(-strategy.Window)
		kept := sup.failures[:0]
		for _, t := range sup.failures {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		sup.failures = kept
		return 0, uint32(len(sup.failures)) < strategy.MaxCount
	default: // RestartBackoff
		delay := sup.currentBackoff
		if delay <= 0 {
			delay = time.Second
		}
		next := time.Duration(float64(delay) * strategy.Multiplier)
		if strategy.Max > 0 && next > strategy.Max {
			next = strategy.Max
		}
		sup.currentBackoff = next
		return delay, true
	}
}
