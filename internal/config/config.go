// Package config loads node configuration from environment variables and
// an optional .env file, following the same load-then-validate shape used
// across this codebase's other services.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a single mesh node process.
type Config struct {
	NodeID   string
	NodeName string
	Env      string

	RPCAddr    string // HTTP(S) RPC listen address
	RaftAddr   string // Raft transport bind address
	HealthAddr string // health check listen address (HTTP, GET /healthz)
	MetricsAddr string

	DataDir   string // raft log/snapshot + directory durable store
	WasmDir   string // directory of agent wasm modules to load at startup

	RedisURL string // router dedup cache + rate limiter backend

	BootstrapPeers []string // addr:port of known peers to join via mDNS fallback
	Bootstrap      bool     // true if this node forms a new single-node raft cluster

	PrivateKeyPath string // Ed25519 private key for RPC/migration signing

	RateLimitWhitelist []string
	AutoBlockEnabled   bool

	AgentTickInterval int // AGENT_TICK_INTERVAL_MS; not read by the actor, whose run loop ticks every 10ms
}

// Load reads configuration from environment variables, loading a .env
// file first when present (development convenience, ignored if absent).
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		NodeID:      getEnv("NODE_ID", ""),
		NodeName:    getEnv("NODE_NAME", "node"),
		Env:         getEnv("ENV", "development"),
		RPCAddr:     getEnv("RPC_ADDR", ":7700"),
		RaftAddr:    getEnv("RAFT_ADDR", ":7800"),
		HealthAddr:  getEnv("HEALTH_ADDR", ":7701"),
		MetricsAddr: getEnv("METRICS_ADDR", ":7702"),
		DataDir:     getEnv("DATA_DIR", "./data"),
		WasmDir:     getEnv("WASM_DIR", "./agents"),
		RedisURL:  os.Getenv("REDIS_URL"),
		Bootstrap: getEnv("BOOTSTRAP", "false") == "true",

		PrivateKeyPath:    getEnv("PRIVATE_KEY_PATH", ""),
		AutoBlockEnabled:  getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		AgentTickInterval: getEnvInt("AGENT_TICK_INTERVAL_MS", 10),
	}

	if peers := os.Getenv("BOOTSTRAP_PEERS"); peers != "" {
		for _, p := range strings.Split(peers, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.BootstrapPeers = append(cfg.BootstrapPeers, p)
			}
		}
	}

	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if cfg.Env == "production" {
		if cfg.NodeID == "" {
			panic("NODE_ID is required in production")
		}
		if cfg.PrivateKeyPath == "" {
			panic("PRIVATE_KEY_PATH is required in production")
		}
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
