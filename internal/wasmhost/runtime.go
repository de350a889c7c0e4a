package wasmhost

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fipamesh/agentd/internal/acl"
)

type hostStateKey struct{}

// WithHostState attaches a HostState to ctx so host functions invoked
// during a call on this context can reach it.
func WithHostState(ctx context.Context, state *HostState) context.Context {
	return context.WithValue(ctx, hostStateKey{}, state)
}

func hostStateFrom(ctx context.Context) *HostState {
	state, _ := ctx.Value(hostStateKey{}).(*HostState)
	return state
}

// Runtime hosts one agent's compiled WASM module. wazero has no native
// fuel counter like wasmtime; CPU budget is approximated with a context
// deadline derived from Capabilities.MaxExecutionTimeMS, which CallRun
// sets on each run call and wazero enforces by closing the module when
// the deadline passes (WithCloseOnContextDone). No instruction count is
// kept.
type Runtime struct {
	runtime      wazero.Runtime
	compiled     wazero.CompiledModule
	module       api.Module
	moduleBytes  []byte
	capabilities Capabilities
	state        *HostState
}

// New compiles and instantiates wasmBytes, wiring the fipa:agent/* host
// module namespaces before instantiation.
func New(ctx context.Context, wasmBytes []byte, capabilities Capabilities) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	state := NewHostState(capabilities)

	if err := defineHostModules(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("define host modules: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}

	moduleCtx := WithHostState(ctx, state)
	mod, err := rt.InstantiateModule(moduleCtx, compiled, wazero.NewModuleConfig())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	return &Runtime{
		runtime:      rt,
		compiled:     compiled,
		module:       mod,
		moduleBytes:  append([]byte(nil), wasmBytes...),
		capabilities: capabilities,
		state:        state,
	}, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

func (r *Runtime) State() *HostState { return r.state }

func (r *Runtime) callVoid(ctx context.Context, name string) error {
	fn := r.module.ExportedFunction(name)
	if fn == nil {
		return fmt.Errorf("%s function not found", name)
	}
	_, err := fn.Call(WithHostState(ctx, r.state))
	return err
}

func (r *Runtime) CallInit(ctx context.Context) error {
	return r.callVoid(ctx, "init")
}

// CallRun invokes the agent's run tick, budget-limited by
// MaxExecutionTimeMS via a derived context deadline.
func (r *Runtime) CallRun(ctx context.Context) (bool, error) {
	tickCtx, cancel := context.WithTimeout(ctx, time.Duration(r.capabilities.MaxExecutionTimeMS)*time.Millisecond)
	defer cancel()

	fn := r.module.ExportedFunction("run")
	if fn == nil {
		return false, fmt.Errorf("run function not found")
	}
	results, err := fn.Call(WithHostState(tickCtx, r.state))
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	return int32(results[0]) != 0, nil
}

func (r *Runtime) CallShutdown(ctx context.Context) error {
	return r.callVoid(ctx, "shutdown")
}

// HandleMessage queues msg for the guest and, if it exports
// handle-message, invokes it immediately; otherwise the message is
// picked up on the next run tick.
func (r *Runtime) HandleMessage(ctx context.Context, msg acl.Message) (bool, error) {
	if err := r.state.QueueMessage(msg); err != nil {
		return false, err
	}

	fn := r.module.ExportedFunction("handle-message")
	if fn == nil {
		return false, nil
	}
	results, err := fn.Call(WithHostState(ctx, r.state), 0, 0)
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	return int32(results[0]) != 0, nil
}

// CaptureMemory snapshots the guest's linear memory for migration.
func (r *Runtime) CaptureMemory() []byte {
	mem := r.module.Memory()
	if mem == nil {
		return nil
	}
	data, _ := mem.Read(0, mem.Size())
	return append([]byte(nil), data...)
}

// RestoreMemory writes a previously captured memory snapshot back into
// the guest, truncated to the smaller of the two sizes.
func (r *Runtime) RestoreMemory(snapshot []byte) error {
	mem := r.module.Memory()
	if mem == nil {
		return fmt.Errorf("memory not found")
	}
	n := uint32(len(snapshot))
	if mem.Size() < n {
		n = mem.Size()
	}
	if !mem.Write(0, snapshot[:n]) {
		return fmt.Errorf("failed to write memory snapshot")
	}
	return nil
}

func (r *Runtime) ModuleBytes() []byte { return r.moduleBytes }

func (r *Runtime) MemorySize() uint32 {
	if mem := r.module.Memory(); mem != nil {
		return mem.Size()
	}
	return 0
}
