package wasmhost

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fipamesh/agentd/internal/acl"
)

// defineHostModules registers the fipa:agent/* host module namespaces a
// guest imports. wazero has no component-model support, so each
// namespace becomes a plain core-wasm module of i32/i64-only functions;
// guests exchange structured data (messages, content) by writing to
// their own linear memory and passing a (ptr, len) pair, mirroring the
// canonical ABI the original component-model host used without
// requiring the component tooling.
func defineHostModules(ctx context.Context, rt wazero.Runtime) error {
	if _, err := rt.NewHostModuleBuilder("fipa:agent/messaging").
		NewFunctionBuilder().WithFunc(hostHasMessages).Export("has-messages").
		NewFunctionBuilder().WithFunc(hostMessageCount).Export("message-count").
		NewFunctionBuilder().WithFunc(hostSendMessage).Export("send-message").
		NewFunctionBuilder().WithFunc(hostReceiveMessage).Export("receive-message").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/services").
		NewFunctionBuilder().WithFunc(hostFindAgentsByService).Export("find-agents-by-service").
		NewFunctionBuilder().WithFunc(hostRegisterService).Export("register-service").
		NewFunctionBuilder().WithFunc(hostDeregisterService).Export("deregister-service").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/lifecycle").
		NewFunctionBuilder().WithFunc(hostRequestShutdown).Export("request-shutdown").
		NewFunctionBuilder().WithFunc(hostIsShutdownRequested).Export("is-shutdown-requested").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/logging").
		NewFunctionBuilder().WithFunc(hostLog).Export("log").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/storage").
		NewFunctionBuilder().WithFunc(hostStorageStore).Export("store").
		NewFunctionBuilder().WithFunc(hostStorageLoad).Export("load").
		NewFunctionBuilder().WithFunc(hostStorageDelete).Export("delete").
		NewFunctionBuilder().WithFunc(hostStorageListKeys).Export("list-keys").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/timing").
		NewFunctionBuilder().WithFunc(hostNowMillis).Export("now").
		NewFunctionBuilder().WithFunc(hostMonotonicNow).Export("monotonic-now").
		NewFunctionBuilder().WithFunc(hostScheduleTimer).Export("schedule-timer").
		NewFunctionBuilder().WithFunc(hostCancelTimer).Export("cancel-timer").
		NewFunctionBuilder().WithFunc(hostGetFiredTimers).Export("get-fired-timers").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/migration").
		NewFunctionBuilder().WithFunc(hostIsMigrating).Export("is-migrating").
		NewFunctionBuilder().WithFunc(hostCurrentNode).Export("get-current-node").
		NewFunctionBuilder().WithFunc(hostListNodes).Export("list-nodes").
		NewFunctionBuilder().WithFunc(hostMigrateTo).Export("migrate-to").
		NewFunctionBuilder().WithFunc(hostCloneTo).Export("clone-to").
		Instantiate(ctx); err != nil {
		return err
	}

	if _, err := rt.NewHostModuleBuilder("fipa:agent/random").
		NewFunctionBuilder().WithFunc(hostRandomU64).Export("next-u64").
		Instantiate(ctx); err != nil {
		return err
	}

	return nil
}

func readMemory(m api.Module, ptr, length uint32) ([]byte, bool) {
	return m.Memory().Read(ptr, length)
}

func writeResult(m api.Module, state *HostState, outPtrPtr, outLenPtr uint32, data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	// The host writes results into a scratch region at a fixed offset
	// (1 MiB) in guest memory, which guests must leave free; no guest
	// allocator export is consulted.
	const scratchBase = 1 << 20
	if !m.Memory().Write(scratchBase, data) {
		return 1
	}
	if !m.Memory().WriteUint32Le(outPtrPtr, scratchBase) {
		return 1
	}
	if !m.Memory().WriteUint32Le(outLenPtr, uint32(len(data))) {
		return 1
	}
	return 0
}

func hostHasMessages(ctx context.Context, m api.Module) uint32 {
	state := hostStateFrom(ctx)
	if state == nil || len(state.Mailbox) == 0 {
		return 0
	}
	return 1
}

func hostMessageCount(ctx context.Context, m api.Module) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 0
	}
	return uint32(len(state.Mailbox))
}

// hostSendMessage reads a JSON-encoded acl.Message from guest memory at
// (ptr, len) and appends it to the agent's outbox for the router to
// deliver.
func hostSendMessage(ctx context.Context, m api.Module, ptr, length uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	raw, ok := readMemory(m, ptr, length)
	if !ok {
		return 1
	}
	var msg acl.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Str("agent", state.AgentID.Name).Msg("guest sent malformed message")
		return 1
	}
	state.Outbox = append(state.Outbox, msg)
	state.MessagesSent++
	return 0
}

// hostReceiveMessage is the guest's non-blocking mailbox pop: returns 0
// and writes nothing when the mailbox is empty.
func hostReceiveMessage(ctx context.Context, m api.Module, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 0
	}
	msg, ok := state.DequeueMessage()
	if !ok {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	if writeResult(m, state, outPtrPtr, outLenPtr, data) != 0 {
		return 0
	}
	return 1
}

func hostFindAgentsByService(ctx context.Context, m api.Module, keyPtr, keyLen, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil || state.Services == nil {
		return 1
	}
	key, ok := readMemory(m, keyPtr, keyLen)
	if !ok {
		return 1
	}
	providers := state.Services.FindAgentsByService(string(key))
	data, err := json.Marshal(providers)
	if err != nil {
		return 1
	}
	return writeResult(m, state, outPtrPtr, outLenPtr, data)
}

func hostRegisterService(ctx context.Context, m api.Module, keyPtr, keyLen uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil || state.Services == nil {
		return 1
	}
	key, ok := readMemory(m, keyPtr, keyLen)
	if !ok {
		return 1
	}
	if err := state.Services.RegisterService(string(key)); err != nil {
		return 1
	}
	return 0
}

func hostDeregisterService(ctx context.Context, m api.Module, keyPtr, keyLen uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil || state.Services == nil {
		return 1
	}
	key, ok := readMemory(m, keyPtr, keyLen)
	if !ok {
		return 1
	}
	if err := state.Services.DeregisterService(string(key)); err != nil {
		return 1
	}
	return 0
}

func hostRequestShutdown(ctx context.Context, m api.Module) {
	if state := hostStateFrom(ctx); state != nil {
		state.ShutdownRequested = true
	}
}

func hostIsShutdownRequested(ctx context.Context, m api.Module) uint32 {
	state := hostStateFrom(ctx)
	if state != nil && state.ShutdownRequested {
		return 1
	}
	return 0
}

// hostLog lets a guest emit a structured log line through the node's own
// zerolog sink rather than stdout, so agent logs interleave with node
// logs and inherit its fields (node id, agent name).
func hostLog(ctx context.Context, m api.Module, level, ptr, length uint32) {
	state := hostStateFrom(ctx)
	raw, ok := readMemory(m, ptr, length)
	if !ok {
		return
	}
	var evt *zerologEvent
	if state != nil {
		state.LogCount++
		evt = &zerologEvent{agent: state.AgentID.Name}
	}
	logGuestLine(level, string(raw), evt)
}

type zerologEvent struct {
	agent string
}

func logGuestLine(level uint32, msg string, evt *zerologEvent) {
	logger := log.With().Str("component", "wasm-guest").Logger()
	if evt != nil {
		logger = logger.With().Str("agent", evt.agent).Logger()
	}
	switch level {
	case 0:
		logger.Debug().Msg(msg)
	case 1:
		logger.Info().Msg(msg)
	case 2:
		logger.Warn().Msg(msg)
	default:
		logger.Error().Msg(msg)
	}
}

func hostStorageStore(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	key, ok := readMemory(m, keyPtr, keyLen)
	if !ok {
		return 1
	}
	val, ok := readMemory(m, valPtr, valLen)
	if !ok {
		return 1
	}
	if err := state.Store(string(key), append([]byte(nil), val...)); err != nil {
		return 2
	}
	return 0
}

func hostStorageLoad(ctx context.Context, m api.Module, keyPtr, keyLen, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	key, ok := readMemory(m, keyPtr, keyLen)
	if !ok {
		return 1
	}
	val, found := state.Load(string(key))
	if !found {
		return 1
	}
	return writeResult(m, state, outPtrPtr, outLenPtr, val)
}

func hostStorageDelete(ctx context.Context, m api.Module, keyPtr, keyLen uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 0
	}
	key, ok := readMemory(m, keyPtr, keyLen)
	if !ok {
		return 0
	}
	if state.Delete(string(key)) {
		return 1
	}
	return 0
}

func hostStorageListKeys(ctx context.Context, m api.Module, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	data, err := json.Marshal(state.ListKeys())
	if err != nil {
		return 1
	}
	return writeResult(m, state, outPtrPtr, outLenPtr, data)
}

func hostNowMillis(ctx context.Context, m api.Module) uint64 {
	return uint64(time.Now().UnixMilli())
}

// hostMonotonicNow reports nanoseconds since the runtime was created,
// immune to wall-clock adjustments, for guests measuring elapsed time.
func hostMonotonicNow(ctx context.Context, m api.Module) uint64 {
	state := hostStateFrom(ctx)
	if state == nil || state.StartedAt == 0 {
		return 0
	}
	return uint64(time.Now().UnixNano() - state.StartedAt)
}

func hostScheduleTimer(ctx context.Context, m api.Module, delayMS uint64) uint64 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 0
	}
	return state.ScheduleTimer(int64(delayMS), time.Now().UnixMilli())
}

func hostCancelTimer(ctx context.Context, m api.Module, id uint64) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 0
	}
	if state.CancelTimer(id) {
		return 1
	}
	return 0
}

func hostGetFiredTimers(ctx context.Context, m api.Module, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	fired := state.TakeFiredTimers()
	data, err := json.Marshal(fired)
	if err != nil {
		return 1
	}
	return writeResult(m, state, outPtrPtr, outLenPtr, data)
}

func hostIsMigrating(ctx context.Context, m api.Module) uint32 {
	state := hostStateFrom(ctx)
	if state != nil && state.IsMigrating {
		return 1
	}
	return 0
}

func hostCurrentNode(ctx context.Context, m api.Module, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	return writeResult(m, state, outPtrPtr, outLenPtr, []byte(state.NodeID))
}

func hostListNodes(ctx context.Context, m api.Module, outPtrPtr, outLenPtr uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil || state.NodeList == nil {
		return 1
	}
	data, err := json.Marshal(state.NodeList())
	if err != nil {
		return 1
	}
	return writeResult(m, state, outPtrPtr, outLenPtr, data)
}

// hostMigrateTo and hostCloneTo must return synchronously, so they only
// record the guest's intent; the actor's run loop observes
// PendingMigration after the call returns and drives the actual
// capture/sign/transfer sequence.
func hostMigrateTo(ctx context.Context, m api.Module, ptr, length uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	if !state.Capabilities.MigrationAllowed {
		return 1
	}
	target, ok := readMemory(m, ptr, length)
	if !ok {
		return 1
	}
	state.PendingMigration = &MigrationRequest{TargetNode: string(target)}
	return 0
}

func hostCloneTo(ctx context.Context, m api.Module, ptr, length uint32) uint32 {
	state := hostStateFrom(ctx)
	if state == nil {
		return 1
	}
	if !state.Capabilities.MigrationAllowed {
		return 1
	}
	target, ok := readMemory(m, ptr, length)
	if !ok {
		return 1
	}
	state.PendingMigration = &MigrationRequest{TargetNode: string(target), Clone: true}
	return 0
}

// hostRandomU64 backs a guest's PRNG seed; agents must not rely on this
// for anything cryptographic, only scheduling jitter and tie-breaking.
func hostRandomU64(ctx context.Context, m api.Module) uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
		uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
}
