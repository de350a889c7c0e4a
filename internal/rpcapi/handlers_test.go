package rpcapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/errs"
	"github.com/fipamesh/agentd/internal/router"
	"github.com/fipamesh/agentd/internal/supervisor"
	"github.com/fipamesh/agentd/internal/wire"
)

type fakeLocalAgents struct {
	module map[string][]byte
}

func (f fakeLocalAgents) Lookup(name string) (*actor.Handle, bool) { return nil, false }
func (f fakeLocalAgents) WasmModule(name string) ([]byte, bool) {
	b, ok := f.module[name]
	return b, ok
}
func (f fakeLocalAgents) List() []supervisor.Info { return nil }

type noopLocal struct{}

func (noopLocal) Lookup(name string) (*actor.Handle, bool) { return nil, false }

type noopTransport struct{}

func (noopTransport) Send(ctx context.Context, addr string, envelope []byte) error { return nil }

func testServer(local LocalAgents) *Server {
	rtr := router.New("node-a", noopLocal{}, nil, noopTransport{}, nil, nil)
	return &Server{nodeID: "node-a", rtr: rtr, local: local}
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != wireContentType {
		t.Fatalf("expected wire content type, got %s", rec.Header().Get("Content-Type"))
	}
}

func TestHandleGetWasmModuleFound(t *testing.T) {
	s := testServer(fakeLocalAgents{module: map[string][]byte{"trader": []byte("wasm-bytes")}})
	body := strings.NewReader(string(wire.MarshalFindRequest("trader")))
	req := httptest.NewRequest(http.MethodPost, "/rpc/get-wasm-module", body)
	rec := httptest.NewRecorder()
	s.handleGetWasmModule(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleGetWasmModuleNotFound(t *testing.T) {
	s := testServer(fakeLocalAgents{module: map[string][]byte{}})
	body := strings.NewReader(string(wire.MarshalFindRequest("ghost")))
	req := httptest.NewRequest(http.MethodPost, "/rpc/get-wasm-module", body)
	rec := httptest.NewRecorder()
	s.handleGetWasmModule(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetWasmModuleBadRequest(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	req := httptest.NewRequest(http.MethodPost, "/rpc/get-wasm-module", strings.NewReader("not-valid-wire"))
	rec := httptest.NewRecorder()
	s.handleGetWasmModule(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed request, got %d", rec.Code)
	}
}

func TestHandleSendMessageNoRouteReturnsBadGateway(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	msg := acl.NewMessage(acl.Request, acl.AgentId{Name: "alice"}, acl.NewReceiverSet(acl.AgentId{Name: "ghost"}))
	body := strings.NewReader(string(wire.MarshalMessage(msg)))
	req := httptest.NewRequest(http.MethodPost, "/rpc/send-message", body)
	rec := httptest.NewRecorder()
	s.handleSendMessage(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when message cannot be routed, got %d", rec.Code)
	}
}

func TestHandleSendMessageMalformedBody(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	req := httptest.NewRequest(http.MethodPost, "/rpc/send-message", strings.NewReader("garbage"))
	rec := httptest.NewRecorder()
	s.handleSendMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed message, got %d", rec.Code)
	}
}

func TestHandleEnvelopeHealthPingOK(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	env := router.Envelope{
		SourceNode: "node-b",
		Sequence:   1,
		Payload:    router.Payload{Kind: router.PayloadHealthPing, HealthPing: &router.HealthPing{NodeID: "node-b"}},
	}
	body := strings.NewReader(string(wire.MarshalEnvelope(env)))
	req := httptest.NewRequest(http.MethodPost, "/v1/envelope", body)
	rec := httptest.NewRecorder()
	s.handleEnvelope(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleEnvelopeMalformedBody(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	req := httptest.NewRequest(http.MethodPost, "/v1/envelope", strings.NewReader("not-an-envelope"))
	rec := httptest.NewRecorder()
	s.handleEnvelope(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed envelope, got %d", rec.Code)
	}
}

func TestHandleMigrateAgentNotFoundReturnsBadGateway(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	body := strings.NewReader(string(wire.MarshalMigrateAgentRequest("ghost", "node-b")))
	req := httptest.NewRequest(http.MethodPost, "/rpc/migrate-agent", body)
	rec := httptest.NewRecorder()
	s.handleMigrateAgent(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when source agent not found locally, got %d", rec.Code)
	}
}

func TestHandleCloneAgentNotFoundReturnsNotFound(t *testing.T) {
	s := testServer(fakeLocalAgents{})
	body := strings.NewReader(string(wire.MarshalMigrateAgentRequest("ghost", "node-b")))
	req := httptest.NewRequest(http.MethodPost, "/rpc/clone-agent", body)
	rec := httptest.NewRecorder()
	s.handleCloneAgent(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when source agent not found locally, got %d", rec.Code)
	}
}

type fakeSpawner struct {
	spawned []string
	err     error
}

func (f *fakeSpawner) Spawn(ctx context.Context, cfg actor.Config) (*actor.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.spawned = append(f.spawned, cfg.ID.Name)
	return nil, nil
}

func TestInstallMigrationHandlerRejectsUnsignedPackage(t *testing.T) {
	spawner := &fakeSpawner{}
	h := InstallMigrationHandler(spawner)

	pkg := testUnsignedMigrationBytes(t)
	if err := h(pkg); err == nil {
		t.Fatal("expected unsigned migration package to be rejected")
	}
	if len(spawner.spawned) != 0 {
		t.Fatal("expected spawner not to be called for a rejected package")
	}
}

func TestInstallMigrationHandlerRejectsMalformedBytes(t *testing.T) {
	spawner := &fakeSpawner{}
	h := InstallMigrationHandler(spawner)
	if err := h([]byte("not-wire-encoded")); err == nil {
		t.Fatal("expected malformed migration bytes to be rejected")
	}
}

func TestInstallMigrationHandlerPropagatesSpawnError(t *testing.T) {
	spawner := &fakeSpawner{err: errs.ErrNotFound}
	h := InstallMigrationHandler(spawner)

	pkg := testSignedMigrationBytes(t)
	if err := h(pkg); err == nil {
		t.Fatal("expected spawn error to propagate")
	}
}

func TestInstallMigrationHandlerSpawnsOnValidPackage(t *testing.T) {
	spawner := &fakeSpawner{}
	h := InstallMigrationHandler(spawner)

	pkg := testSignedMigrationBytes(t)
	if err := h(pkg); err != nil {
		t.Fatal(err)
	}
	if len(spawner.spawned) != 1 {
		t.Fatalf("expected spawner to be invoked once, got %d", len(spawner.spawned))
	}
}
