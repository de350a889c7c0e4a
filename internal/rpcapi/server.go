// Package rpcapi exposes the node's RPC surface over chi-routed HTTP:
// SendMessage, FindAgent, FindService, MigrateAgent, CloneAgent,
// GetWasmModule, SubscribeMessages, HealthCheck and GetNodeInfo, plus the
// node-to-node envelope endpoint internal/router's HTTPTransport posts
// to. Every RPC body is protowire-encoded per internal/wire/schema.proto,
// carried with content-type application/vnd.fipa.wire+bin, the same
// hand-rolled-codec approach the rest of the wire layer uses since this
// build has no protoc codegen step.
package rpcapi

import (
	"crypto/ed25519"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/api/middleware"
	"github.com/fipamesh/agentd/internal/consensus"
	"github.com/fipamesh/agentd/internal/directory"
	"github.com/fipamesh/agentd/internal/observability"
	"github.com/fipamesh/agentd/internal/router"
	"github.com/fipamesh/agentd/internal/supervisor"
)

const wireContentType = "application/vnd.fipa.wire+bin"

// LocalAgents is the subset of supervisor.Supervisor the RPC surface
// needs: looking up a running agent's handle for CloneAgent/MigrateAgent,
// reading back its compiled module for GetWasmModule, and listing local
// agents for GetNodeInfo.
type LocalAgents interface {
	Lookup(name string) (*actor.Handle, bool)
	WasmModule(name string) ([]byte, bool)
	List() []supervisor.Info
}

// Server wires the node's domain components (directory, router,
// supervisor, consensus node) to the chi mux that serves them.
type Server struct {
	nodeID  string
	mux     *chi.Mux
	dir     *directory.Directory
	rtr     *router.Router
	local   LocalAgents
	cnode   *consensus.Node
	signKey ed25519.PrivateKey
	logger  zerolog.Logger
}

// Config bundles the dependencies a Server needs at construction time.
type Config struct {
	NodeID        string
	Directory     *directory.Directory
	Router        *router.Router
	Local         LocalAgents
	ConsensusNode *consensus.Node
	SignKey       ed25519.PrivateKey
	Logger        zerolog.Logger
	Auth          *middleware.AuthMiddleware
	RateLimiter   *middleware.RateLimiter
	Tracing       *observability.Tracing
}

// New builds the chi mux backing the RPC surface and the node-to-node
// envelope endpoint, mounting the same security/logging/rate-limit
// middleware stack the teacher's HTTP surface used, retargeted from
// agent/room limits to per-node RPC limits.
func New(cfg Config) *Server {
	s := &Server{
		nodeID:  cfg.NodeID,
		mux:     chi.NewRouter(),
		dir:     cfg.Directory,
		rtr:     cfg.Router,
		local:   cfg.Local,
		cnode:   cfg.ConsensusNode,
		signKey: cfg.SignKey,
		logger:  cfg.Logger,
	}

	s.mux.Use(middleware.Logger(cfg.Logger))
	s.mux.Use(cfg.Tracing.Middleware)
	s.mux.Use(middleware.SecurityHeaders)
	s.mux.Use(middleware.Metrics)
	s.mux.Use(middleware.MaxBodySize(16 << 20))
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Agentd-Node", "X-Agentd-Nonce", "X-Agentd-Timestamp", "X-Agentd-Signature"},
		MaxAge:         300,
	}))
	if cfg.RateLimiter != nil {
		s.mux.Use(cfg.RateLimiter.Middleware)
	}

	s.mux.Route("/v1/envelope", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.RequireAuth)
		}
		r.Post("/", s.handleEnvelope)
	})
	s.mux.Get("/v1/health", s.handleHealth)

	s.mux.Route("/rpc", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.RequireAuth)
		}
		r.Post("/send-message", s.handleSendMessage)
		r.Post("/find-agent", s.handleFindAgent)
		r.Post("/find-service", s.handleFindService)
		r.Post("/migrate-agent", s.handleMigrateAgent)
		r.Post("/clone-agent", s.handleCloneAgent)
		r.Post("/get-wasm-module", s.handleGetWasmModule)
		r.Get("/subscribe-messages/{agent}", s.handleSubscribeMessages)
		r.Get("/node-info", s.handleNodeInfo)
	})

	return s
}

// Handler returns the chi mux, for embedding in an *http.Server the
// caller controls the lifecycle of.
func (s *Server) Handler() http.Handler { return s.mux }
