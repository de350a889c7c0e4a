package actor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/errs"
	"github.com/fipamesh/agentd/internal/protocol"
	"github.com/fipamesh/agentd/internal/wasmhost"
)

const tickInterval = 10 * time.Millisecond

// Network is the subset of router functionality an agent needs to send
// outbound ACL messages without depending on the router package directly.
type Network interface {
	SendRemote(ctx context.Context, targetNode string, msg acl.Message) error
}

// Registry tracks which actor address serves which agent, mirroring the
// original ActorRegistry.
type Registry interface {
	Register(id acl.AgentId, handle *Handle)
	Deregister(id acl.AgentId)
}

// Supervisor receives lifecycle notifications from supervised agents.
type Supervisor interface {
	NotifyEvent(event Event)
}

// Services is the directory lookup a guest reaches through
// find-agents-by-service / register-service / deregister-service.
type Services interface {
	FindAgentsByService(serviceType string) []string
	RegisterService(agentID acl.AgentId, serviceType string) error
	DeregisterService(agentID acl.AgentId, serviceType string) error
}

// NodeLister reports the set of nodes known to the mesh, backing the
// guest's list-nodes host call.
type NodeLister interface {
	ListNodes() []string
}

// serviceBinding adapts the node-wide Services interface to
// wasmhost.ServiceDirectory for one specific agent.
type serviceBinding struct {
	agentID acl.AgentId
	svc     Services
}

func (b serviceBinding) FindAgentsByService(serviceType string) []string {
	return b.svc.FindAgentsByService(serviceType)
}

func (b serviceBinding) RegisterService(serviceType string) error {
	return b.svc.RegisterService(b.agentID, serviceType)
}

func (b serviceBinding) DeregisterService(serviceType string) error {
	return b.svc.DeregisterService(b.agentID, serviceType)
}

// Handle is the externally visible reference to a running agent, playing
// the role an actix Addr<AgentActor> played: every interaction goes
// through a command sent over a channel, never by touching agent state
// directly from another goroutine.
type Handle struct {
	id   acl.AgentId
	cmds chan command
	done chan struct{}
}

func (h *Handle) ID() acl.AgentId { return h.id }

// Deliver enqueues msg for processing, subject to the agent's allowed
// protocols.
func (h *Handle) Deliver(ctx context.Context, msg acl.Message) error {
	result := make(chan error, 1)
	cmd := deliverCmd{msg: msg, result: result}
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return errs.ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) CaptureState(ctx context.Context) (Snapshot, error) {
	result := make(chan captureResult, 1)
	select {
	case h.cmds <- captureCmd{result: result}:
	case <-h.done:
		return Snapshot{}, errs.ErrShuttingDown
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-result:
		return r.snapshot, r.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (h *Handle) MigrateTo(ctx context.Context, targetNode string, reason MigrationReason) error {
	result := make(chan error, 1)
	cmd := migrateCmd{targetNode: targetNode, reason: reason, result: result}
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return errs.ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) Shutdown(reason ShutdownReason) {
	select {
	case h.cmds <- shutdownCmd{reason: reason}:
	case <-h.done:
	}
}

func (h *Handle) GetStatus(ctx context.Context) (Status, error) {
	result := make(chan Status, 1)
	select {
	case h.cmds <- statusCmd{result: result}:
	case <-h.done:
		return Status{}, errs.ErrShuttingDown
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (h *Handle) RegisterService(ctx context.Context, name string) error {
	result := make(chan error, 1)
	cmd := registerServiceCmd{name: name, result: result}
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return errs.ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) StartConversation(ctx context.Context, proto acl.ProtocolType, participants []acl.AgentId) (string, error) {
	result := make(chan startConvResult, 1)
	cmd := startConversationCmd{protocol: proto, participants: participants, result: result}
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return "", errs.ErrShuttingDown
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-result:
		return r.conversationID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type command interface{}

type deliverCmd struct {
	msg    acl.Message
	result chan error
}

type captureResult struct {
	snapshot Snapshot
	err      error
}

type captureCmd struct {
	result chan captureResult
}

type migrateCmd struct {
	targetNode string
	reason     MigrationReason
	result     chan error
}

type shutdownCmd struct {
	reason ShutdownReason
}

type statusCmd struct {
	result chan Status
}

type registerServiceCmd struct {
	name   string
	result chan error
}

type startConvResult struct {
	conversationID string
	err            error
}

type startConversationCmd struct {
	protocol     acl.ProtocolType
	participants []acl.AgentId
	result       chan startConvResult
}

// Agent is the private state behind a Handle; it is only ever touched
// from its own run loop goroutine.
type Agent struct {
	id           acl.AgentId
	runtime      *wasmhost.Runtime
	capabilities wasmhost.Capabilities

	conversations map[string]protocol.StateMachine

	nodeID     string
	network    Network
	registry   Registry
	supervisor Supervisor
	services   Services
	nodeLister NodeLister

	state RuntimeState
	stats stats

	startTime time.Time

	cmds chan command
	done chan struct{}
}

type stats struct {
	messagesReceived     uint64
	messagesSent         uint64
	conversationsStarted uint64
	conversationsDone    uint64
	errors               uint64
}

func New(cfg Config, runtime *wasmhost.Runtime) *Agent {
	return &Agent{
		id:            cfg.ID,
		runtime:       runtime,
		capabilities:  cfg.Capabilities,
		conversations: make(map[string]protocol.StateMachine),
		state:         StateStarting,
		startTime:     time.Now(),
		cmds:          make(chan command, 64),
		done:          make(chan struct{}),
	}
}

func (a *Agent) WithNetwork(n Network) *Agent       { a.network = n; return a }
func (a *Agent) WithRegistry(r Registry) *Agent     { a.registry = r; return a }
func (a *Agent) WithSupervisor(s Supervisor) *Agent { a.supervisor = s; return a }
func (a *Agent) WithServices(s Services) *Agent     { a.services = s; return a }
func (a *Agent) WithNodeLister(n NodeLister) *Agent { a.nodeLister = n; return a }
func (a *Agent) WithNodeID(id string) *Agent        { a.nodeID = id; return a }

// wireHostState attaches this agent's node id, service directory and
// node lister to the HostState the guest sees, once those dependencies
// are known (the supervisor wires them after construction).
func (a *Agent) wireHostState() {
	state := a.runtime.State()
	state.NodeID = a.nodeID
	if a.services != nil {
		state.Services = serviceBinding{agentID: a.id, svc: a.services}
	}
	if a.nodeLister != nil {
		state.NodeList = a.nodeLister.ListNodes
	}
}

// Handle returns the channel-backed reference callers use to interact
// with this agent once Run has started.
func (a *Agent) Handle() *Handle { return &Handle{id: a.id, cmds: a.cmds, done: a.done} }

// Run drives the agent's lifecycle until ctx is cancelled or the guest
// requests shutdown. Call it in its own goroutine, analogous to
// actix's Actor::started followed by its run-interval tick.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.done)

	logger := log.With().Str("agent", a.id.Name).Logger()
	logger.Info().Msg("agent starting")

	a.wireHostState()

	if err := a.runtime.CallInit(ctx); err != nil {
		logger.Error().Err(err).Msg("agent init failed")
		a.state = StateFailed
		a.notifySupervisor(Event{AgentID: a.id, Kind: EventFailed, Error: err.Error(), WillRestart: true})
		return
	}
	a.state = StateRunning
	a.notifySupervisor(Event{AgentID: a.id, Kind: EventStarted})

	if a.registry != nil {
		a.registry.Register(a.id, a.Handle())
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	defer func() {
		logger.Info().Msg("agent stopping")
		a.state = StateStopping
		if err := a.runtime.CallShutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("agent shutdown error")
		}
		if a.registry != nil {
			a.registry.Deregister(a.id)
		}
		if a.state != StateStopped {
			a.notifySupervisor(Event{AgentID: a.id, Kind: EventStopped})
		}
		a.state = StateStopped
		logger.Info().Msg("agent stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			if !a.handleCommand(ctx, cmd) {
				return
			}
		case <-ticker.C:
			if a.state != StateRunning {
				continue
			}
			cont, err := a.runtime.CallRun(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("agent run tick error")
				a.stats.errors++
				continue
			}
			if !cont {
				logger.Info().Msg("agent requested stop")
				return
			}
			a.drainOutbox(ctx)
		}
	}
}

func (a *Agent) handleCommand(ctx context.Context, cmd command) bool {
	switch c := cmd.(type) {
	case deliverCmd:
		c.result <- a.deliver(c.msg)
		a.drainOutbox(ctx)
	case captureCmd:
		snap, err := a.captureState()
		c.result <- captureResult{snapshot: snap, err: err}
	case migrateCmd:
		c.result <- a.migrateTo(ctx, c.targetNode, c.reason)
		if a.state == StateStopped {
			return false
		}
	case shutdownCmd:
		log.Info().Str("agent", a.id.Name).Int("reason", int(c.reason)).Msg("agent shutdown requested")
		return false
	case statusCmd:
		c.result <- a.status()
	case registerServiceCmd:
		c.result <- a.registerService(c.name)
	case startConversationCmd:
		id, err := a.startConversation(c.protocol)
		c.result <- startConvResult{conversationID: id, err: err}
	}
	return true
}

func (a *Agent) deliver(msg acl.Message) error {
	if msg.Protocol != nil {
		allowed := false
		for _, p := range a.capabilities.AllowedProtocols {
			if p == *msg.Protocol {
				allowed = true
				break
			}
		}
		if !allowed {
			return errs.ErrCapabilityDenied
		}
	}

	a.stats.messagesReceived++

	if msg.ConversationID != nil {
		if conv, ok := a.conversations[string(*msg.ConversationID)]; ok {
			result, err := conv.Process(msg)
			if err != nil {
				a.stats.errors++
				return err
			}
			return a.handleProtocolResult(result)
		}
	}

	_, err := a.runtime.HandleMessage(context.Background(), msg)
	if err != nil {
		a.stats.errors++
		return fmt.Errorf("handle message: %w", err)
	}
	return nil
}

func (a *Agent) handleProtocolResult(result protocol.ProcessResult) error {
	switch result.Kind {
	case protocol.ResultRespond:
		if result.Response != nil {
			return a.sendMessage(*result.Response)
		}
	case protocol.ResultComplete:
		a.stats.conversationsDone++
	case protocol.ResultFailed:
		a.stats.errors++
	}
	return nil
}

func (a *Agent) sendMessage(msg acl.Message) error {
	if a.network == nil {
		return nil
	}
	for range msg.Receiver.Receivers {
		if err := a.network.SendRemote(context.Background(), "", msg); err != nil {
			return err
		}
	}
	a.stats.messagesSent++
	return nil
}

func (a *Agent) drainOutbox(ctx context.Context) {
	for {
		msg, ok := a.runtime.State().PopOutgoing()
		if !ok {
			break
		}
		if err := a.sendMessage(msg); err != nil {
			log.Warn().Err(err).Str("agent", a.id.Name).Msg("failed to deliver outbound message")
		}
	}
	a.checkPendingMigration(ctx)
}

// checkPendingMigration drives the migrate-to/clone-to host calls the
// guest issued during the last tick: those calls only record intent on
// HostState since they must return synchronously, so the actual
// capture/sign/transfer sequence runs here, back on the actor's own
// goroutine.
func (a *Agent) checkPendingMigration(ctx context.Context) {
	state := a.runtime.State()
	if state.PendingMigration == nil {
		return
	}
	req := state.PendingMigration
	state.PendingMigration = nil

	if req.Clone {
		log.Warn().Str("agent", a.id.Name).Msg("clone-to requested but cloning is driven by the supervisor, ignoring")
		return
	}
	if err := a.migrateTo(ctx, req.TargetNode, ReasonUserRequested); err != nil {
		log.Warn().Err(err).Str("agent", a.id.Name).Str("target", req.TargetNode).Msg("guest-requested migration failed")
	}
}

func (a *Agent) captureState() (Snapshot, error) {
	memory := a.runtime.CaptureMemory()
	wasmModule := a.runtime.ModuleBytes()
	hash := sha256.Sum256(wasmModule)

	return Snapshot{
		AgentID:          a.id,
		WasmModule:       wasmModule,
		WasmHash:         hash,
		Memory:           memory,
		Capabilities:     a.capabilities,
		MigrationHistory: append([]string(nil), a.runtime.State().MigrationHistory...),
	}, nil
}

func (a *Agent) migrateTo(ctx context.Context, targetNode string, reason MigrationReason) error {
	log.Info().Str("agent", a.id.Name).Str("target", targetNode).Msg("agent migrating")
	a.state = StateMigrating

	snapshot, err := a.captureState()
	if err != nil {
		a.state = StateRunning
		return err
	}

	if a.network == nil {
		a.state = StateRunning
		return fmt.Errorf("agent %s has no network attached for migration", a.id.Name)
	}

	migrationMsg := acl.NewMessage(acl.Propagate, a.id, acl.NewReceiverSet()).
		WithBinaryContent(snapshot.WasmModule)

	if err := a.network.SendRemote(ctx, targetNode, migrationMsg); err != nil {
		a.state = StateRunning
		return err
	}

	a.notifySupervisor(Event{AgentID: a.id, Kind: EventMigrated, FromNode: "local", ToNode: targetNode})
	a.state = StateStopped
	return nil
}

func (a *Agent) status() Status {
	return Status{
		AgentID:             a.id,
		State:               a.state,
		ActiveConversations: len(a.conversations),
		MessagesProcessed:   a.stats.messagesReceived,
		UptimeSeconds:       uint64(time.Since(a.startTime).Seconds()),
		MemoryUsed:          a.runtime.MemorySize(),
	}
}

func (a *Agent) registerService(serviceType string) error {
	if a.services == nil {
		return fmt.Errorf("agent %s has no service directory attached", a.id.Name)
	}
	return a.services.RegisterService(a.id, serviceType)
}

func (a *Agent) startConversation(pt acl.ProtocolType) (string, error) {
	sm, err := protocol.Create(pt, protocol.RoleInitiator)
	if err != nil {
		return "", err
	}
	convID := uuid.NewString()
	a.conversations[convID] = sm
	a.stats.conversationsStarted++
	return convID, nil
}

func (a *Agent) notifySupervisor(evt Event) {
	if a.supervisor != nil {
		a.supervisor.NotifyEvent(evt)
	}
}
