// Package migration implements the two-phase agent relocation protocol:
// the source node captures and Ed25519-signs a snapshot, the target node
// verifies the signature and hash before restoring the agent into its
// own supervisor. Package confidentiality in transit is optional and
// reuses the same X25519/ChaCha20-Poly1305/HKDF construction the
// original host used for encrypted direct messages.
package migration

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/errs"
	"github.com/fipamesh/agentd/internal/wasmhost"
)

const migrationKeyProtocol = "agentd-migration-v1"

// Package is the signed, transferable unit of agent relocation: a
// source node's capture produces one, a target node's restore consumes
// one.
type Package struct {
	AgentID          acl.AgentId
	WasmModule       []byte
	WasmHash         [32]byte
	Memory           []byte
	Capabilities     wasmhost.Capabilities
	MigrationHistory []string
	Reason           actor.MigrationReason
	Timestamp        int64
	PublicKey        ed25519.PublicKey
	Signature        []byte
}

// signedFields is the exact byte sequence Sign/Verify operate over: the
// wasm hash and memory snapshot are what must not be tampered with in
// transit, since those are what the target node restores and executes.
func (p *Package) signedFields() []byte {
	var buf []byte
	buf = append(buf, p.WasmHash[:]...)
	buf = append(buf, p.Memory...)
	buf = append(buf, []byte(p.AgentID.Name)...)
	return buf
}

// Capture snapshots an agent and produces an unsigned migration package.
func Capture(snapshot actor.Snapshot, reason actor.MigrationReason) *Package {
	return &Package{
		AgentID:          snapshot.AgentID,
		WasmModule:       snapshot.WasmModule,
		WasmHash:         snapshot.WasmHash,
		Memory:           snapshot.Memory,
		Capabilities:     snapshot.Capabilities,
		MigrationHistory: snapshot.MigrationHistory,
		Reason:           reason,
		Timestamp:        time.Now().UnixMilli(),
	}
}

// Sign signs the package with the source node's Ed25519 private key.
func (p *Package) Sign(priv ed25519.PrivateKey) {
	p.PublicKey = priv.Public().(ed25519.PublicKey)
	p.Signature = ed25519.Sign(priv, p.signedFields())
}

// Verify checks the package's signature and wasm hash integrity before
// a target node trusts it enough to restore.
func (p *Package) Verify() error {
	if len(p.Signature) == 0 || len(p.PublicKey) != ed25519.PublicKeySize {
		return errs.ErrSignatureInvalid
	}
	if !ed25519.Verify(p.PublicKey, p.signedFields(), p.Signature) {
		return errs.ErrSignatureInvalid
	}
	if sha256.Sum256(p.WasmModule) != p.WasmHash {
		return fmt.Errorf("%w: wasm module hash mismatch", errs.ErrSignatureInvalid)
	}
	return nil
}

// RestoreConfig converts a verified package into the actor.Config a
// target node's supervisor spawns.
func (p *Package) RestoreConfig() actor.Config {
	return actor.Config{
		ID:              p.AgentID,
		WasmModule:      p.WasmModule,
		Capabilities:    p.Capabilities,
		InitialSnapshot: p.Memory,
		RestartStrategy: actor.DefaultRestartStrategy(),
	}
}

// --- optional in-transit confidentiality, reusing the DM crypto scheme ---

func ed25519PubToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

func ed25519SeedToX25519Private(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

func deriveKey(sharedSecret, ephemeralPK, recipientX25519PK []byte) ([]byte, error) {
	salt := append(append([]byte{}, ephemeralPK...), recipientX25519PK...)
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte(migrationKeyProtocol))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext for the target node's Ed25519 public key,
// returning the wire blob: ephemeral_pk[32] || nonce[12] || ciphertext.
func Seal(plaintext []byte, targetPub ed25519.PublicKey) ([]byte, error) {
	targetX25519, err := ed25519PubToX25519(targetPub)
	if err != nil {
		return nil, err
	}

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, err
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv[:], targetX25519)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(shared, ephPub, targetX25519)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ciphertext))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open decrypts a blob produced by Seal using the target node's Ed25519
// private key.
func Open(blob []byte, priv ed25519.PrivateKey) ([]byte, error) {
	const headerLen = 32 + 12
	if len(blob) < headerLen {
		return nil, fmt.Errorf("%w: migration package too short", errs.ErrMalformedMessage)
	}
	ephPub := blob[:32]
	nonce := blob[32:headerLen]
	ciphertext := blob[headerLen:]

	ownX25519Priv := ed25519SeedToX25519Private(priv.Seed())
	ownX25519Pub, err := curve25519.X25519(ownX25519Priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ownX25519Priv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ephemeral key", errs.ErrMalformedMessage)
	}
	key, err := deriveKey(shared, ephPub, ownX25519Pub)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", errs.ErrMalformedMessage)
	}
	return plaintext, nil
}

// EncodePublicKey/DecodePublicKey round-trip an Ed25519 public key for
// inclusion in directory entries and RPC payloads.
func EncodePublicKey(pub ed25519.PublicKey) string { return base64.StdEncoding.EncodeToString(pub) }

func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, errs.ErrSignatureInvalid
	}
	return ed25519.PublicKey(decoded), nil
}
