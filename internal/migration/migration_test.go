package migration

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/wasmhost"
)

func testSnapshot() actor.Snapshot {
	wasm := []byte("fake-wasm-module-bytes")
	return actor.Snapshot{
		AgentID:    acl.AgentId{Name: "trader-1"},
		WasmModule: wasm,
		WasmHash:   sha256.Sum256(wasm),
		Memory:     []byte("serialized-agent-memory"),
		Capabilities: wasmhost.Capabilities{
			MaxExecutionTimeMS: 100,
			AllowedProtocols:   []acl.ProtocolType{acl.ProtoRequest},
		},
		MigrationHistory: []string{"node-a"},
	}
}

func TestCaptureSignVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_ = pub

	pkg := Capture(testSnapshot(), actor.ReasonUserRequested)
	pkg.Sign(priv)

	if err := pkg.Verify(); err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
}

func TestVerifyRejectsUnsigned(t *testing.T) {
	pkg := Capture(testSnapshot(), actor.ReasonUserRequested)
	if err := pkg.Verify(); err == nil {
		t.Fatal("expected verify to fail on unsigned package")
	}
}

func TestVerifyRejectsTamperedModule(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	pkg := Capture(testSnapshot(), actor.ReasonUserRequested)
	pkg.Sign(priv)

	pkg.WasmModule = append(pkg.WasmModule, 0xFF)
	if err := pkg.Verify(); err == nil {
		t.Fatal("expected verify to fail after wasm module tampering")
	}
}

func TestVerifyRejectsTamperedMemory(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	pkg := Capture(testSnapshot(), actor.ReasonUserRequested)
	pkg.Sign(priv)

	pkg.Memory = append(pkg.Memory, 0xFF)
	if err := pkg.Verify(); err == nil {
		t.Fatal("expected verify to fail after memory tampering")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)

	pkg := Capture(testSnapshot(), actor.ReasonUserRequested)
	pkg.Sign(priv)
	pkg.Signature = ed25519.Sign(otherPriv, pkg.signedFields())

	if err := pkg.Verify(); err == nil {
		t.Fatal("expected verify to fail with mismatched signature key")
	}
}

func TestRestoreConfig(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	snapshot := testSnapshot()
	pkg := Capture(snapshot, actor.ReasonUserRequested)
	pkg.Sign(priv)

	cfg := pkg.RestoreConfig()
	if cfg.ID.Name != "trader-1" {
		t.Fatalf("expected agent id trader-1, got %s", cfg.ID.Name)
	}
	if string(cfg.InitialSnapshot) != "serialized-agent-memory" {
		t.Fatalf("expected initial snapshot to carry captured memory, got %q", cfg.InitialSnapshot)
	}
	if len(cfg.WasmModule) == 0 {
		t.Fatal("expected wasm module to carry over")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("agent state blob")
	blob, err := Seal(plaintext, pub)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(blob, priv)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected round-trip plaintext, got %q", got)
	}
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	if _, err := Open([]byte{1, 2, 3}, priv); err == nil {
		t.Fatal("expected error opening truncated blob")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)

	blob, err := Seal([]byte("secret"), pub)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(blob, otherPriv); err == nil {
		t.Fatal("expected error opening with wrong key")
	}
}

func TestEncodeDecodePublicKeyRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	encoded := EncodePublicKey(pub)
	decoded, err := DecodePublicKey(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(pub) {
		t.Fatal("expected decoded public key to equal original")
	}
}

func TestDecodePublicKeyRejectsWrongLength(t *testing.T) {
	if _, err := DecodePublicKey("dG9vc2hvcnQ="); err == nil {
		t.Fatal("expected error decoding wrong-length key")
	}
}
