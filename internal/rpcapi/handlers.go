package rpcapi

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/errs"
	"github.com/fipamesh/agentd/internal/metrics"
	"github.com/fipamesh/agentd/internal/migration"
	"github.com/fipamesh/agentd/internal/wire"
)

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return data, true
}

func (s *Server) writeWire(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", wireContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", wireContentType)
	w.WriteHeader(status)
	_, _ = w.Write(wire.MarshalAck(wire.Ack{OK: false, Error: err.Error()}))
}

// handleEnvelope receives node-to-node envelopes posted by a peer's
// HTTPTransport, the server side of /v1/envelope.
func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	env, err := wire.UnmarshalEnvelope(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rtr.HandleIncoming(r.Context(), env); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeWire(w, wire.MarshalHealthStatus(wire.HealthStatus{OK: true, NodeID: s.nodeID}))
}

// SendMessage decodes an AclMessage and routes it, locally or remotely,
// through the same Router.SendRemote path HTTPTransport-delivered
// envelopes use.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	msg, err := wire.UnmarshalMessage(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rtr.SendRemote(r.Context(), "", msg); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeWire(w, wire.MarshalAck(wire.Ack{OK: true}))
}

func (s *Server) handleFindAgent(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	name, err := wire.UnmarshalFindRequest(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	loc, err := s.dir.FindAgent(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeWire(w, wire.MarshalAgentLocation(loc))
}

func (s *Server) handleFindService(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	serviceType, err := wire.UnmarshalFindRequest(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	entries := s.dir.FindService(serviceType)
	s.writeWire(w, wire.MarshalServiceList(entries))
}

func (s *Server) handleGetWasmModule(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	name, err := wire.UnmarshalFindRequest(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	module, found := s.local.WasmModule(name)
	if !found {
		s.writeError(w, http.StatusNotFound, errs.ErrNotFound)
		return
	}
	s.writeWire(w, wire.MarshalWasmModuleResponse(module))
}

// MigrateAgent relocates a locally hosted agent to targetNode: it
// captures the agent's state, ships a signed migration.Package over the
// PayloadMigration transport, tells the agent to stop once the transfer
// succeeds, and bumps the agent's consensus epoch so every node's
// directory converges on the new location.
func (s *Server) handleMigrateAgent(w http.ResponseWriter, r *http.Request) {
	metrics.MigrationsAttempted.Inc()
	epoch, err := s.transferAgent(r, actor.ReasonUserRequested)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	metrics.MigrationsSucceeded.Inc()
	s.writeWire(w, wire.MarshalMigrateAgentResponse(epoch))
}

// CloneAgent ships a copy of a locally hosted agent to targetNode
// without stopping the source: the clone-to host call's externally
// triggerable counterpart. The cloned instance is registered under the
// same fingerprint at a bumped epoch pointing at targetNode, matching
// MigrateAgent's directory bookkeeping, since the directory tracks one
// authoritative location per fingerprint and the spec does not define a
// multi-location fan-out; operators wanting a distinct addressable
// clone should spawn it under a new agent name instead.
func (s *Server) handleCloneAgent(w http.ResponseWriter, r *http.Request) {
	metrics.MigrationsAttempted.Inc()
	agentName, targetNode, err := wire.UnmarshalMigrateAgentRequest(mustBody(r))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	handle, ok := s.local.Lookup(agentName)
	if !ok {
		metrics.MigrationsFailed.WithLabelValues("capture").Inc()
		s.writeError(w, http.StatusNotFound, errs.ErrNotFound)
		return
	}
	snapshot, err := handle.CaptureState(r.Context())
	if err != nil {
		metrics.MigrationsFailed.WithLabelValues("capture").Inc()
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	pkg := migration.Capture(snapshot, actor.ReasonUserRequested)
	pkg.Sign(s.signKey)
	if err := s.rtr.SendMigrationPackage(r.Context(), targetNode, wire.MarshalMigration(pkg)); err != nil {
		metrics.MigrationsFailed.WithLabelValues("transfer").Inc()
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	epoch, err := s.dir.MigrateAgent(r.Context(), agentName, targetNode, capabilityNames(snapshot))
	if err != nil {
		metrics.MigrationsFailed.WithLabelValues("commit").Inc()
		s.writeError(w, http.StatusConflict, err)
		return
	}
	metrics.MigrationsSucceeded.Inc()
	s.writeWire(w, wire.MarshalMigrateAgentResponse(epoch))
}

// transferAgent implements the capture/sign/transfer/shutdown/epoch-bump
// sequence behind handleMigrateAgent. handleCloneAgent does not call it;
// it repeats the same steps inline without telling the source to stop.
func (s *Server) transferAgent(r *http.Request, reason actor.MigrationReason) (uint64, error) {
	agentName, targetNode, err := wire.UnmarshalMigrateAgentRequest(mustBody(r))
	if err != nil {
		return 0, err
	}
	handle, ok := s.local.Lookup(agentName)
	if !ok {
		metrics.MigrationsFailed.WithLabelValues("capture").Inc()
		return 0, errs.ErrNotFound
	}
	snapshot, err := handle.CaptureState(r.Context())
	if err != nil {
		metrics.MigrationsFailed.WithLabelValues("capture").Inc()
		return 0, err
	}
	pkg := migration.Capture(snapshot, reason)
	pkg.Sign(s.signKey)
	if err := s.rtr.SendMigrationPackage(r.Context(), targetNode, wire.MarshalMigration(pkg)); err != nil {
		metrics.MigrationsFailed.WithLabelValues("transfer").Inc()
		return 0, err
	}
	if err := handle.MigrateTo(r.Context(), targetNode, reason); err != nil {
		metrics.MigrationsFailed.WithLabelValues("commit").Inc()
		return 0, err
	}
	epoch, err := s.dir.MigrateAgent(r.Context(), agentName, targetNode, capabilityNames(snapshot))
	if err != nil {
		metrics.MigrationsFailed.WithLabelValues("commit").Inc()
		return 0, err
	}
	return epoch, nil
}

func capabilityNames(snapshot actor.Snapshot) []string {
	names := make([]string, 0, len(snapshot.Capabilities.AllowedProtocols))
	for _, p := range snapshot.Capabilities.AllowedProtocols {
		names = append(names, p.String())
	}
	return names
}

// mustBody reads the request body; callers have already gone through
// middleware that caps body size, so a read failure here means a
// disconnected client, and an empty result decodes as a zero-value
// request rather than an error.
func mustBody(r *http.Request) []byte {
	data, _ := io.ReadAll(r.Body)
	return data
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	status := s.rtr.Status()
	info := wire.NodeInfo{
		NodeID:          s.nodeID,
		IsLeader:        s.cnode.IsLeader(),
		LeaderAddr:      s.cnode.LeaderAddr(),
		ConnectedPeers:  uint32(status.ConnectedPeers),
		MessagesSent:    status.MessagesSent,
		MessagesRecv:    status.MessagesRecv,
		LocalAgentCount: uint32(len(s.local.List())),
	}
	s.writeWire(w, wire.MarshalNodeInfo(info))
}

// SubscribeMessages streams every ACL message delivered to an agent
// back to the caller as they arrive, framed as a 4-byte big-endian
// length prefix followed by a MarshalMessage body and flushed after
// each one: the idiomatic Go substitute for a gRPC server-stream RPC,
// since this transport has no HTTP/2 framing of its own to lean on.
func (s *Server) handleSubscribeMessages(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agent")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errs.ErrNotFound)
		return
	}

	ch, cancel := s.rtr.Subscribe(agentName)
	defer cancel()

	w.Header().Set("Content-Type", wireContentType)
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			body := wire.MarshalMessage(msg)
			var lenPrefix [4]byte
			binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
			if _, err := bw.Write(lenPrefix[:]); err != nil {
				return
			}
			if _, err := bw.Write(body); err != nil {
				return
			}
			if err := bw.Flush(); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// InstallMigrationHandler wires a Router's PayloadMigration callback to
// verify an incoming signed package and spawn it under the local
// supervisor, completing the transfer MigrateAgent/CloneAgent start on
// the source side. Kept as a standalone function rather than a Server
// method so main can wire it before the RPC surface's own Server exists,
// since the router needs a migration handler installed before its first
// envelope arrives.
func InstallMigrationHandler(spawner AgentSpawner) func([]byte) error {
	return func(data []byte) error {
		pkg, err := wire.UnmarshalMigration(data)
		if err != nil {
			metrics.MigrationsFailed.WithLabelValues("verify").Inc()
			return err
		}
		if err := pkg.Verify(); err != nil {
			metrics.MigrationsFailed.WithLabelValues("verify").Inc()
			return err
		}
		cfg := pkg.RestoreConfig()
		if _, err := spawner.Spawn(context.Background(), cfg); err != nil {
			metrics.MigrationsFailed.WithLabelValues("restore").Inc()
			log.Warn().Err(err).Str("agent", cfg.ID.Name).Msg("failed to restore migrated agent")
			return err
		}
		log.Info().Str("agent", cfg.ID.Name).Msg("restored migrated agent")
		return nil
	}
}

// AgentSpawner is the subset of supervisor.Supervisor InstallMigrationHandler needs.
type AgentSpawner interface {
	Spawn(ctx context.Context, cfg actor.Config) (*actor.Handle, error)
}
