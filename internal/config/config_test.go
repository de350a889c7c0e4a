package config

import "testing"

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"NODE_ID", "NODE_NAME", "ENV", "RPC_ADDR", "RAFT_ADDR", "HEALTH_ADDR",
		"METRICS_ADDR", "DATA_DIR", "WASM_DIR", "REDIS_URL", "BOOTSTRAP",
		"PRIVATE_KEY_PATH", "AUTO_BLOCK_ENABLED", "AGENT_TICK_INTERVAL_MS",
		"BOOTSTRAP_PEERS", "RATE_LIMIT_WHITELIST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearAllEnv(t)
	cfg := Load()

	if cfg.Env != "development" {
		t.Fatalf("expected default env development, got %s", cfg.Env)
	}
	if cfg.RPCAddr != ":7700" {
		t.Fatalf("expected default RPC addr :7700, got %s", cfg.RPCAddr)
	}
	if cfg.AgentTickInterval != 10 {
		t.Fatalf("expected default tick interval 10ms, got %d", cfg.AgentTickInterval)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected IsDevelopment true by default")
	}
}

func TestLoadParsesBootstrapPeersAndWhitelist(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("BOOTSTRAP_PEERS", "10.0.0.1:7800, 10.0.0.2:7800 ,")
	t.Setenv("RATE_LIMIT_WHITELIST", "127.0.0.1, 10.0.0.0/8")

	cfg := Load()

	if len(cfg.BootstrapPeers) != 2 || cfg.BootstrapPeers[0] != "10.0.0.1:7800" || cfg.BootstrapPeers[1] != "10.0.0.2:7800" {
		t.Fatalf("expected trimmed, comma-split bootstrap peers, got %v", cfg.BootstrapPeers)
	}
	if len(cfg.RateLimitWhitelist) != 2 || cfg.RateLimitWhitelist[0] != "127.0.0.1" {
		t.Fatalf("expected trimmed whitelist entries, got %v", cfg.RateLimitWhitelist)
	}
}

func TestLoadInvalidTickIntervalFallsBackToDefault(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("AGENT_TICK_INTERVAL_MS", "not-a-number")

	cfg := Load()
	if cfg.AgentTickInterval != 10 {
		t.Fatalf("expected fallback to default on unparsable int, got %d", cfg.AgentTickInterval)
	}
}

func TestLoadBootstrapFlagParsesBooleanString(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("BOOTSTRAP", "true")

	cfg := Load()
	if !cfg.Bootstrap {
		t.Fatal("expected Bootstrap true when BOOTSTRAP=true")
	}
}

func TestLoadProductionRequiresNodeIDAndKeyPath(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ENV", "production")

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when production env is missing NODE_ID/PRIVATE_KEY_PATH")
		}
	}()
	Load()
}

func TestLoadProductionSucceedsWithRequiredFields(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("NODE_ID", "node-a")
	t.Setenv("PRIVATE_KEY_PATH", "/etc/agentd/node.key")

	cfg := Load()
	if cfg.IsDevelopment() {
		t.Fatal("expected IsDevelopment false in production")
	}
}
