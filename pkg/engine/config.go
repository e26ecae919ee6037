package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"nof0-api/pkg/antichurn"
	"nof0-api/pkg/gate"
	"nof0-api/pkg/panel"
	"nof0-api/pkg/risk"
	"nof0-api/pkg/rules"
)

// Config is the Engine's startup configuration, consumed once and never
// hot-reloaded (spec.md §6.4).
type Config struct {
	Universe []string `yaml:"universe"`

	CycleInterval       time.Duration `yaml:"-"`
	ContractSpecTTL     time.Duration `yaml:"-"`
	PortfolioTTL        time.Duration `yaml:"-"`
	AnalystTimeout      time.Duration `yaml:"-"`
	MarketFetchTimeout  time.Duration `yaml:"-"`
	AntiChurnCooldown   time.Duration `yaml:"-"`

	CycleIntervalRaw      string `yaml:"cycle_interval"`
	ContractSpecTTLRaw    string `yaml:"contract_spec_ttl"`
	PortfolioTTLRaw       string `yaml:"portfolio_ttl"`
	AnalystTimeoutRaw     string `yaml:"analyst_timeout"`
	MarketFetchTimeoutRaw string `yaml:"market_fetch_timeout"`
	AntiChurnCooldownRaw  string `yaml:"anti_churn_cooldown"`

	Gate  gate.Config  `yaml:"gate"`
	Judge panel.JudgeConfig `yaml:"judge"`
	Risk  risk.Config  `yaml:"risk"`
	Rules rules.Config `yaml:"rules"`

	// Analysts lists the Panel's seats (spec.md §6.2): one LLMAnalyst per
	// entry, fanned out concurrently each cycle by panel.Consult.
	Analysts []AnalystSeat `yaml:"analysts"`

	DryRun          bool `yaml:"dry_run"`
	CompetitionMode bool `yaml:"competition_mode"`
	CompetitionAck  bool `yaml:"competition_ack"`
}

// AnalystSeat names one panel seat: a model alias paired with the prompt
// template that renders its view of the cycle.
type AnalystSeat struct {
	ID             string `yaml:"id"`
	ModelName      string `yaml:"model_name"`
	PromptTemplate string `yaml:"prompt_template"`
}

func (c *Config) applyDefaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 3 * time.Minute
	}
	if c.ContractSpecTTL <= 0 {
		c.ContractSpecTTL = 30 * time.Minute
	}
	if c.PortfolioTTL <= 0 {
		c.PortfolioTTL = 60 * time.Second
	}
	if c.AnalystTimeout <= 0 {
		c.AnalystTimeout = 30 * time.Second
	}
	if c.MarketFetchTimeout <= 0 {
		c.MarketFetchTimeout = 5 * time.Second
	}
}

func (c *Config) parseDurations() error {
	fields := []struct {
		raw string
		dst *time.Duration
		name string
	}{
		{c.CycleIntervalRaw, &c.CycleInterval, "cycle_interval"},
		{c.ContractSpecTTLRaw, &c.ContractSpecTTL, "contract_spec_ttl"},
		{c.PortfolioTTLRaw, &c.PortfolioTTL, "portfolio_ttl"},
		{c.AnalystTimeoutRaw, &c.AnalystTimeout, "analyst_timeout"},
		{c.MarketFetchTimeoutRaw, &c.MarketFetchTimeout, "market_fetch_timeout"},
		{c.AntiChurnCooldownRaw, &c.AntiChurnCooldown, "anti_churn_cooldown"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("engine: parse %s=%q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate enforces startup invariants: COMPETITION_MODE requires an
// explicit ACK, and the approved universe must be non-empty.
func (c *Config) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("engine: universe must not be empty")
	}
	if c.CompetitionMode && !c.CompetitionAck {
		return fmt.Errorf("engine: competition_mode requires competition_ack=true")
	}
	return nil
}

// LoadConfig reads and validates a YAML engine configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read config %s: %w", path, err)
	}
	return LoadConfigFromReader(data)
}

// LoadConfigFromReader parses raw YAML bytes into a validated Config.
func LoadConfigFromReader(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("engine: parse config: %w", err)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AntiChurnGuard builds a fresh anti-churn guard per the configured
// cooldown; a new Engine must start with empty caches.
func (c *Config) AntiChurnGuard() *antichurn.Guard {
	cooldown := c.AntiChurnCooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return antichurn.New(cooldown)
}
