package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Liquiflow LiquiflowConfig `yaml:"liquiflow"`
	App       AppConfig       `yaml:"app"`
	Orderly   OrderlyConfig   `yaml:"orderly"`
	Engine    EngineConfig    `yaml:"engine"`
	Collector CollectorConfig `yaml:"collector"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type LiquiflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type AppConfig struct {
	Port int `yaml:"port"`
}

type OrderlyConfig struct {
	AccountID        string `yaml:"account_id"`
	RestEndpoint     string `yaml:"rest_endpoint"`
	WsPublicEndpoint string `yaml:"ws_public_endpoint"`
	OrderlyKey       string `yaml:"orderly_key"`
	OrderlySecret    string `yaml:"orderly_secret"`
}

type EngineConfig struct {
	EventQueueSize  int `yaml:"event_queue_size"`
	ActionQueueSize int `yaml:"action_queue_size"`
}

type CollectorConfig struct {
	StartTimeout time.Duration   `yaml:"start_timeout"`
	BufferSize   int             `yaml:"buffer_size"`
	Rest         RestConfig      `yaml:"rest"`
	Ws           WsConfig        `yaml:"ws"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RestConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WsConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type StrategyConfig struct {
	// MaxEventAge drops events older than this relative to wall clock.
	// Zero disables the staleness filter.
	MaxEventAge time.Duration `yaml:"max_event_age"`
}

type ExecutorConfig struct {
	ClaimPercent float64                  `yaml:"claim_percent"`
	SettleDelay  time.Duration            `yaml:"settle_delay"`
	SymbolQty    map[string]SymbolQtyBand `yaml:"symbol_qty"`
}

type SymbolQtyBand struct {
	MaxQty float64 `yaml:"max_qty"`
	MinQty float64 `yaml:"min_qty"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Engine: EngineConfig{
			EventQueueSize:  512,
			ActionQueueSize: 512,
		},
		Collector: CollectorConfig{
			StartTimeout: 30 * time.Second,
			BufferSize:   512,
			Rest:         RestConfig{PollInterval: 2 * time.Second},
			Ws: WsConfig{
				ReconnectDelay: 5 * time.Second,
				PingInterval:   15 * time.Second,
			},
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 5},
		},
		Executor: ExecutorConfig{
			SettleDelay: 15 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override credentials from environment variables if available
	if v := os.Getenv("ORDERLY_ACCOUNT_ID"); v != "" {
		config.Orderly.AccountID = strings.TrimSpace(v)
	}
	if v := os.Getenv("ORDERLY_KEY"); v != "" {
		config.Orderly.OrderlyKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("ORDERLY_SECRET"); v != "" {
		config.Orderly.OrderlySecret = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Liquiflow.Name == "" {
		return fmt.Errorf("liquiflow.name is required")
	}

	if cfg.Liquiflow.Version == "" {
		return fmt.Errorf("liquiflow.version is required")
	}

	if cfg.Orderly.AccountID == "" {
		return fmt.Errorf("orderly.account_id is required")
	}
	if cfg.Orderly.RestEndpoint == "" {
		return fmt.Errorf("orderly.rest_endpoint is required")
	}
	if IsProductionLike(AppEnvironment()) {
		if cfg.Orderly.OrderlyKey == "" {
			return fmt.Errorf("orderly.orderly_key is required in %s", AppEnvironment())
		}
		if cfg.Orderly.OrderlySecret == "" {
			return fmt.Errorf("orderly.orderly_secret is required in %s", AppEnvironment())
		}
	}

	if cfg.Engine.EventQueueSize <= 0 {
		return fmt.Errorf("engine.event_queue_size must be greater than 0")
	}
	if cfg.Engine.ActionQueueSize <= 0 {
		return fmt.Errorf("engine.action_queue_size must be greater than 0")
	}

	if cfg.Collector.BufferSize <= 0 {
		return fmt.Errorf("collector.buffer_size must be greater than 0")
	}
	if cfg.Collector.Rest.PollInterval <= 0 {
		return fmt.Errorf("collector.rest.poll_interval must be greater than 0")
	}

	if cfg.Strategy.MaxEventAge < 0 {
		return fmt.Errorf("strategy.max_event_age must not be negative")
	}

	if cfg.Executor.ClaimPercent <= 0 || cfg.Executor.ClaimPercent > 1 {
		return fmt.Errorf("executor.claim_percent must be in (0, 1]")
	}
	if cfg.Executor.SettleDelay < 0 {
		return fmt.Errorf("executor.settle_delay must not be negative")
	}
	for symbol, band := range cfg.Executor.SymbolQty {
		if band.MinQty <= 0 {
			return fmt.Errorf("executor.symbol_qty.%s.min_qty must be greater than 0", symbol)
		}
		if band.MaxQty < band.MinQty {
			return fmt.Errorf("executor.symbol_qty.%s.max_qty must not be below min_qty", symbol)
		}
	}

	return nil
}
