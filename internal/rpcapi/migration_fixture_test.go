package rpcapi

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/migration"
	"github.com/fipamesh/agentd/internal/wire"
)

func testSnapshot() actor.Snapshot {
	wasmBytes := []byte("fake-wasm-module-bytes")
	return actor.Snapshot{
		AgentID:    acl.AgentId{Name: "trader-1"},
		WasmModule: wasmBytes,
		WasmHash:   sha256.Sum256(wasmBytes),
		Memory:     []byte("agent-memory-bytes"),
	}
}

func testSignedMigrationBytes(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pkg := migration.Capture(testSnapshot(), actor.ReasonUserRequested)
	pkg.Sign(priv)
	return wire.MarshalMigration(pkg)
}

func testUnsignedMigrationBytes(t *testing.T) []byte {
	t.Helper()
	pkg := migration.Capture(testSnapshot(), actor.ReasonUserRequested)
	return wire.MarshalMigration(pkg)
}
