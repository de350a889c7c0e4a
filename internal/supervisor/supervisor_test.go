package supervisor

import (
	"testing"
	"time"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
)

func TestNextRestartNeverStrategy(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{config: actor.Config{RestartStrategy: actor.RestartStrategy{Kind: actor.RestartNever}}}

	delay, should := s.nextRestart(sup)
	if should {
		t.Fatal("expected RestartNever to never restart")
	}
	if delay != 0 {
		t.Fatalf("expected zero delay, got %v", delay)
	}
}

func TestNextRestartImmediateStrategy(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{config: actor.Config{RestartStrategy: actor.RestartStrategy{Kind: actor.RestartImmediate}}}

	delay, should := s.nextRestart(sup)
	if !should || delay != 0 {
		t.Fatalf("expected immediate restart with zero delay, got delay=%v should=%v", delay, should)
	}
}

func TestNextRestartMaxFailuresWithinLimit(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{
		config: actor.Config{RestartStrategy: actor.RestartStrategy{
			Kind: actor.RestartMaxFailures, MaxCount: 3, Window: time.Hour,
		}},
		failures: []time.Time{time.Now(), time.Now()},
	}

	_, should := s.nextRestart(sup)
	if !should {
		t.Fatal("expected restart allowed when failures below MaxCount")
	}
}

func TestNextRestartMaxFailuresExceedsLimit(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{
		config: actor.Config{RestartStrategy: actor.RestartStrategy{
			Kind: actor.RestartMaxFailures, MaxCount: 2, Window: time.Hour,
		}},
		failures: []time.Time{time.Now(), time.Now(), time.Now()},
	}

	_, should := s.nextRestart(sup)
	if should {
		t.Fatal("expected restart denied once failures reach MaxCount")
	}
}

func TestNextRestartMaxFailuresPrunesOldEntries(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{
		config: actor.Config{RestartStrategy: actor.RestartStrategy{
			Kind: actor.RestartMaxFailures, MaxCount: 2, Window: time.Minute,
		}},
		failures: []time.Time{time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)},
	}

	_, should := s.nextRestart(sup)
	if !should {
		t.Fatal("expected stale failures outside the window to be pruned, allowing restart")
	}
	if len(sup.failures) != 0 {
		t.Fatalf("expected pruned failures slice to be empty, got %d", len(sup.failures))
	}
}

func TestNextRestartBackoffDoublesUpToMax(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{
		config: actor.Config{RestartStrategy: actor.RestartStrategy{
			Kind: actor.RestartBackoff, Initial: time.Second, Max: 5 * time.Second, Multiplier: 2.0,
		}},
		currentBackoff: 3 * time.Second,
	}

	delay, should := s.nextRestart(sup)
	if !should {
		t.Fatal("expected backoff strategy to always allow restart")
	}
	if delay != 3*time.Second {
		t.Fatalf("expected returned delay to be the pre-bump backoff, got %v", delay)
	}
	if sup.currentBackoff != 5*time.Second {
		t.Fatalf("expected backoff capped at Max (5s), got %v", sup.currentBackoff)
	}
}

func TestNextRestartBackoffDefaultsWhenUnset(t *testing.T) {
	s := New("node-a")
	sup := &supervisedAgent{
		config: actor.Config{RestartStrategy: actor.RestartStrategy{
			Kind: actor.RestartBackoff, Multiplier: 2.0,
		}},
	}

	delay, should := s.nextRestart(sup)
	if !should {
		t.Fatal("expected backoff strategy to allow restart")
	}
	if delay != time.Second {
		t.Fatalf("expected default 1s delay when currentBackoff unset, got %v", delay)
	}
}

func TestLookupReturnsSupervisedAgentHandle(t *testing.T) {
	s := New("node-a")
	handle := (&actor.Agent{}).Handle()
	s.agents["trader-1"] = &supervisedAgent{handle: handle, config: actor.Config{ID: acl.AgentId{Name: "trader-1"}}}

	got, ok := s.Lookup("trader-1")
	if !ok || got != handle {
		t.Fatal("expected Lookup to return the registered handle")
	}

	if _, ok := s.Lookup("ghost"); ok {
		t.Fatal("expected Lookup of unknown agent to fail")
	}
}

func TestWasmModuleReturnsConfiguredBytes(t *testing.T) {
	s := New("node-a")
	s.agents["trader-1"] = &supervisedAgent{config: actor.Config{WasmModule: []byte("wasm-bytes")}}

	module, ok := s.WasmModule("trader-1")
	if !ok || string(module) != "wasm-bytes" {
		t.Fatalf("expected wasm-bytes, got %q ok=%v", module, ok)
	}
}

func TestListReportsRestartCount(t *testing.T) {
	s := New("node-a")
	s.agents["trader-1"] = &supervisedAgent{
		config:   actor.Config{ID: acl.AgentId{Name: "trader-1"}},
		state:    actor.StateFailed,
		failures: []time.Time{time.Now(), time.Now()},
	}

	infos := s.List()
	if len(infos) != 1 {
		t.Fatalf("expected 1 info entry, got %d", len(infos))
	}
	if infos[0].RestartCount != 2 {
		t.Fatalf("expected restart count 2, got %d", infos[0].RestartCount)
	}
}

func TestStopUnknownAgentReturnsNotFound(t *testing.T) {
	s := New("node-a")
	if err := s.Stop("ghost", actor.ShutdownNodeShutdown); err == nil {
		t.Fatal("expected error stopping an unknown agent")
	}
}

func TestNotifyEventStartedResetsBackoff(t *testing.T) {
	s := New("node-a")
	s.agents["trader-1"] = &supervisedAgent{
		config:         actor.Config{ID: acl.AgentId{Name: "trader-1"}, RestartStrategy: actor.RestartStrategy{Initial: 2 * time.Second}},
		currentBackoff: 10 * time.Second,
	}

	s.NotifyEvent(actor.Event{AgentID: acl.AgentId{Name: "trader-1"}, Kind: actor.EventStarted})

	sup := s.agents["trader-1"]
	if sup.state != actor.StateRunning {
		t.Fatalf("expected StateRunning, got %v", sup.state)
	}
	if sup.currentBackoff != 2*time.Second {
		t.Fatalf("expected backoff reset to Initial (2s), got %v", sup.currentBackoff)
	}
}

func TestNotifyEventMigratedDropsSupervision(t *testing.T) {
	s := New("node-a")
	s.agents["trader-1"] = &supervisedAgent{config: actor.Config{ID: acl.AgentId{Name: "trader-1"}}}

	s.NotifyEvent(actor.Event{AgentID: acl.AgentId{Name: "trader-1"}, Kind: actor.EventMigrated, ToNode: "node-b"})

	if _, ok := s.Lookup("trader-1"); ok {
		t.Fatal("expected migrated agent to be dropped from local supervision")
	}
}

func TestNotifyEventFailedWithoutRestartStrategySkipsRestart(t *testing.T) {
	s := New("node-a")
	s.agents["trader-1"] = &supervisedAgent{
		config: actor.Config{ID: acl.AgentId{Name: "trader-1"}, RestartStrategy: actor.RestartStrategy{Kind: actor.RestartNever}},
	}

	s.NotifyEvent(actor.Event{AgentID: acl.AgentId{Name: "trader-1"}, Kind: actor.EventFailed, WillRestart: true})

	sup := s.agents["trader-1"]
	if sup.state != actor.StateFailed {
		t.Fatalf("expected StateFailed, got %v", sup.state)
	}
	if len(sup.failures) != 1 {
		t.Fatalf("expected one failure recorded, got %d", len(sup.failures))
	}
}

func TestNotifyEventUnknownAgentIsNoop(t *testing.T) {
	s := New("node-a")
	s.NotifyEvent(actor.Event{AgentID: acl.AgentId{Name: "ghost"}, Kind: actor.EventStarted})
}
