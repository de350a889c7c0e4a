// Command agentd runs one node of the mesh: a Raft-replicated directory,
// a supervisor hosting local WASM agents, a router forwarding messages
// to whichever node hosts their target, and the RPC surface external
// clients and peer nodes talk to.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fipamesh/agentd/internal/acl"
	"github.com/fipamesh/agentd/internal/actor"
	"github.com/fipamesh/agentd/internal/api/middleware"
	"github.com/fipamesh/agentd/internal/config"
	"github.com/fipamesh/agentd/internal/consensus"
	"github.com/fipamesh/agentd/internal/directory"
	"github.com/fipamesh/agentd/internal/observability"
	"github.com/fipamesh/agentd/internal/router"
	"github.com/fipamesh/agentd/internal/rpcapi"
	"github.com/fipamesh/agentd/internal/supervisor"
	"github.com/fipamesh/agentd/internal/wasmhost"
	"github.com/fipamesh/agentd/internal/wire"
)

// connectRedis dials the envelope dedup / rate limit backend, tolerating
// an empty URL (both consumers degrade gracefully with a nil client).
func connectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func main() {
	root := &cobra.Command{
		Use:   "agentd",
		Short: "distributed host for sandboxed WASM agents",
	}
	root.AddCommand(serveCmd(), genkeyCmd(), joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("node", cfg.NodeID).Logger()
}

func genkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "generate an Ed25519 keypair for node RPC/migration signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			fmt.Printf("public:  %s\n", base64.StdEncoding.EncodeToString(pub))
			fmt.Printf("private: %s\n", base64.StdEncoding.EncodeToString(priv))
			return nil
		},
	}
}

func joinCmd() *cobra.Command {
	var leaderAddr string
	cmd := &cobra.Command{
		Use:   "join <node-id> <raft-addr>",
		Short: "ask a running leader to add this node as a raft voter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// join is issued against the leader's RPC surface; the leader
			// applies raft.AddVoter itself, so this is a thin operator
			// convenience over an authenticated request the operator sends
			// with cmd/sign, not a bare RPC agentd exposes over HTTP.
			return fmt.Errorf("issue an authenticated POST to the leader's /rpc surface with cmd/sign; direct raft join for %s at %s via %s is an operator-side step, not one this binary performs itself", args[0], args[1], leaderAddr)
		},
	}
	cmd.Flags().StringVar(&leaderAddr, "leader", "", "leader RPC address")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := config.Load()
	logger := newLogger(cfg)
	log.Logger = logger

	privKey, err := loadOrGenerateKey(cfg.PrivateKeyPath, logger)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}

	raftAddr := cfg.RaftAddr
	raftDataDir := filepath.Join(cfg.DataDir, "raft")
	node, err := consensus.Open(cfg.NodeID, raftAddr, raftDataDir, consensus.DefaultRaftConfig(), cfg.Bootstrap)
	if err != nil {
		return fmt.Errorf("open consensus node: %w", err)
	}

	dir := directory.New(node)
	dir.SetNodeAddress(cfg.NodeID, cfg.RPCAddr)
	dir.TrustNode(cfg.NodeID, privKey.Public().(ed25519.PublicKey))

	discovery := router.NewDiscovery()
	for _, peer := range cfg.BootstrapPeers {
		discovery.AddPeer(peer, peer, router.SourceBootstrap)
	}

	redisClient, err := connectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, envelope dedup and rate limiting disabled")
	}
	dedupCache := router.NewDedupCache(redisClient, 5*time.Minute)

	sup := supervisor.New(cfg.NodeID)

	transport := router.NewHTTPTransport(10*time.Second, cfg.NodeID, privKey)
	rtr := router.New(cfg.NodeID, sup, dir, transport, discovery, dedupCache)
	router.SetEnvelopeCodec(wire.MarshalEnvelope)

	sup.WithNetwork(rtr).WithServices(directory.NewActorServices(dir, cfg.NodeID)).WithNodeLister(discovery)

	rtr.SetMigrationHandler(rpcapi.InstallMigrationHandler(sup))

	if err := loadWasmAgents(context.Background(), cfg, sup); err != nil {
		logger.Warn().Err(err).Msg("failed to preload wasm agents")
	}

	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient, logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
	}
	auth := middleware.NewAuthMiddleware(dir)

	tracing, err := observability.NewStdout(cfg.NodeID)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing exporter unavailable, RPC spans disabled")
	}
	defer tracing.Shutdown(context.Background())

	rpcServer := rpcapi.New(rpcapi.Config{
		NodeID:        cfg.NodeID,
		Directory:     dir,
		Router:        rtr,
		Local:         sup,
		ConsensusNode: node,
		SignKey:       privKey,
		Logger:        logger,
		Auth:          auth,
		RateLimiter:   rateLimiter,
		Tracing:       tracing,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpcSrv := &http.Server{Addr: cfg.RPCAddr, Handler: rpcServer.Handler()}
	go func() {
		logger.Info().Str("addr", cfg.RPCAddr).Msg("rpc surface listening")
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("rpc surface stopped")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	healthSrv := &http.Server{Addr: cfg.HealthAddr, Handler: healthMux}
	go func() {
		logger.Info().Str("addr", cfg.HealthAddr).Msg("health endpoint listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health endpoint stopped")
		}
	}()

	go bootstrapMDNS(ctx, cfg, discovery, logger)

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = rpcSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)

	sup.StopAll()
	if err := node.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("raft shutdown error")
	}
	return nil
}

// loadOrGenerateKey reads a base64 Ed25519 private key from path, or
// generates and persists a fresh one if the file does not exist yet
// (development convenience; production requires PRIVATE_KEY_PATH set to
// an operator-provisioned key per config.Load's validation).
func loadOrGenerateKey(path string, logger zerolog.Logger) (ed25519.PrivateKey, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		logger.Warn().Msg("no PRIVATE_KEY_PATH set, generated ephemeral signing key")
		return priv, err
	}
	data, err := os.ReadFile(path)
	if err == nil {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, err
		}
		return ed25519.PrivateKey(decoded), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, err
	}
	logger.Info().Str("public", base64.StdEncoding.EncodeToString(pub)).Msg("generated node signing key")
	return priv, nil
}

// loadWasmAgents spawns one agent per .wasm file found directly under
// cfg.WasmDir, named after the file (without extension), under the local
// supervisor only; it does not register the agents in the replicated
// directory.
func loadWasmAgents(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor) error {
	entries, err := os.ReadDir(cfg.WasmDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wasm" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".wasm")
		modulePath := filepath.Join(cfg.WasmDir, entry.Name())
		module, err := os.ReadFile(modulePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", modulePath, err)
		}

		agentCfg := actor.Config{
			ID:              acl.AgentId{Name: name},
			WasmModule:      module,
			Capabilities:    defaultCapabilities(),
			RestartStrategy: actor.DefaultRestartStrategy(),
		}
		if _, err := sup.Spawn(ctx, agentCfg); err != nil {
			return fmt.Errorf("spawn %s: %w", name, err)
		}
		log.Info().Str("agent", name).Msg("loaded agent from wasm directory")
	}
	return nil
}

func defaultCapabilities() wasmhost.Capabilities {
	return wasmhost.Capabilities{
		MaxExecutionTimeMS: 100,
		MaxMemoryBytes:     16 * 1024 * 1024,
		MaxFuelPerCall:     1_000_000,
		MaxMailboxSize:     256,
		StorageQuotaBytes:  1024 * 1024,
		NetworkAccess:      wasmhost.NetworkNone,
		MigrationAllowed:   true,
		SpawnAllowed:       false,
		AllowedProtocols: []acl.ProtocolType{
			acl.ProtoRequest,
			acl.ProtoQuery,
		},
	}
}

func bootstrapMDNS(ctx context.Context, cfg *config.Config, discovery *router.Discovery, logger zerolog.Logger) {
	port, err := portOf(cfg.RPCAddr)
	if err != nil {
		logger.Warn().Err(err).Msg("could not parse rpc port for mDNS advertisement")
		return
	}
	mdnsServer, err := router.AdvertiseMDNS(cfg.NodeID, port)
	if err != nil {
		logger.Warn().Err(err).Msg("mDNS advertisement failed")
		return
	}
	defer mdnsServer.Shutdown()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := router.BrowseMDNS(ctx, discovery); err != nil {
				logger.Debug().Err(err).Msg("mDNS browse failed")
			}
			discovery.CleanupStale()
		}
	}
}

func portOf(addr string) (int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0, fmt.Errorf("no port in %q", addr)
	}
	return strconv.Atoi(addr[idx+1:])
}
