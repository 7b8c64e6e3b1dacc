package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	content := `liquiflow:
  name: "TestApp"
  version: "1.0"
app:
  port: 8080
orderly:
  account_id: "0xabc"
  rest_endpoint: "https://testnet-api.example.com"
  ws_public_endpoint: "wss://testnet-ws.example.com"
executor:
  claim_percent: 0.1
  symbol_qty:
    PERP_BTC_USDC:
      max_qty: 5
      min_qty: 1
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Liquiflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Liquiflow.Name)
	}
	if cfg.Engine.EventQueueSize != 512 || cfg.Engine.ActionQueueSize != 512 {
		t.Errorf("unexpected queue defaults: %+v", cfg.Engine)
	}
	if cfg.Executor.SettleDelay != 15*time.Second {
		t.Errorf("unexpected settle delay default: %v", cfg.Executor.SettleDelay)
	}
	if band, ok := cfg.Executor.SymbolQty["PERP_BTC_USDC"]; !ok || band.MinQty != 1 || band.MaxQty != 5 {
		t.Errorf("unexpected symbol band: %+v", cfg.Executor.SymbolQty)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("ORDERLY_KEY", "ed25519:override")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Orderly.OrderlyKey != "ed25519:override" {
		t.Errorf("env override not applied: %s", cfg.Orderly.OrderlyKey)
	}
}

func TestLoadConfigRequiresCredentialsInProduction(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("APP_ENV", "production")
	t.Setenv("ORDERLY_KEY", "")
	t.Setenv("ORDERLY_SECRET", "")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing credentials in production")
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	cases := map[string]string{
		"":        EnvironmentDevelopment,
		"prod":    EnvironmentProduction,
		"stag":    EnvironmentStaging,
		"staging": EnvironmentStaging,
	}
	for input, want := range cases {
		t.Setenv("APP_ENV", input)
		if got := AppEnvironment(); got != want {
			t.Fatalf("AppEnvironment(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestValidateConfigRejectsBadClaimPercent(t *testing.T) {
	cfg := &Config{
		Liquiflow: LiquiflowConfig{Name: "x", Version: "1"},
		Orderly:   OrderlyConfig{AccountID: "0xabc", RestEndpoint: "https://api"},
		Engine:    EngineConfig{EventQueueSize: 1, ActionQueueSize: 1},
		Collector: CollectorConfig{BufferSize: 1, Rest: RestConfig{PollInterval: time.Second}},
		Executor:  ExecutorConfig{ClaimPercent: 1.5},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for claim_percent > 1")
	}
}

func TestValidateConfigRejectsBadBand(t *testing.T) {
	cfg := &Config{
		Liquiflow: LiquiflowConfig{Name: "x", Version: "1"},
		Orderly:   OrderlyConfig{AccountID: "0xabc", RestEndpoint: "https://api"},
		Engine:    EngineConfig{EventQueueSize: 1, ActionQueueSize: 1},
		Collector: CollectorConfig{BufferSize: 1, Rest: RestConfig{PollInterval: time.Second}},
		Executor: ExecutorConfig{
			ClaimPercent: 0.1,
			SymbolQty:    map[string]SymbolQtyBand{"PERP_ETH_USDC": {MinQty: 5, MaxQty: 1}},
		},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for max_qty < min_qty")
	}
}
