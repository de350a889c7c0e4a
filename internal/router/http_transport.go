package router

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fipamesh/agentd/internal/crypto"
)

// HTTPTransport delivers envelopes to peer nodes over plain (cleartext) HTTP,
// posting the protowire-encoded envelope body to each peer's /v1/envelope
// endpoint. It replaces the original libp2p swarm: a node mesh on a
// shared cluster network does not need a DHT or NAT traversal, and HTTP
// is trivial to put behind the same reverse proxies and firewalls
// operators already run for the RPC surface.
//
// Outbound envelopes are signed the same way cmd/sign signs operator
// requests, since /v1/envelope sits behind the same AuthMiddleware as the
// rest of the RPC surface: a peer posting an envelope is a node-to-node
// RPC call like any other, not a special trusted path.
type HTTPTransport struct {
	client  *http.Client
	nodeID  string
	signKey ed25519.PrivateKey
}

// NewHTTPTransport builds a transport that signs every outbound envelope
// as nodeID using signKey. A nil signKey degrades to unsigned delivery,
// which only works against peers whose AuthMiddleware is also disabled.
func NewHTTPTransport(timeout time.Duration, nodeID string, signKey ed25519.PrivateKey) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}, nodeID: nodeID, signKey: signKey}
}

func (t *HTTPTransport) Send(ctx context.Context, addr string, envelope []byte) error {
	url := fmt.Sprintf("http://%s/v1/envelope", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	if t.signKey != nil {
		nonceBytes := make([]byte, 16)
		if _, err := rand.Read(nonceBytes); err != nil {
			return fmt.Errorf("generate envelope nonce: %w", err)
		}
		nonce := hex.EncodeToString(nonceBytes)
		ts := time.Now().UnixMilli()
		bodyHash := sha256Hex(envelope)
		signature := crypto.Sign(t.signKey, crypto.SignaturePayload(bodyHash, nonce, ts))

		req.Header.Set("X-Agentd-Node", t.nodeID)
		req.Header.Set("X-Agentd-Nonce", nonce)
		req.Header.Set("X-Agentd-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Agentd-Signature", signature)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send envelope to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("peer %s rejected envelope: %s: %s", addr, resp.Status, body)
	}
	return nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
