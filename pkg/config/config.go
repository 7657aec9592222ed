// Package config loads the platform configuration: a YAML file with the
// recognized options plus per-industry threshold blocks, with environment
// overrides for deployment-specific values. Unknown keys and unknown
// industries are load errors; a typo in a rollback threshold must not
// silently become a default.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Known industries.
const (
	IndustryFinance = "finance"
	IndustryPharma  = "pharma"
)

// Config is the full configuration surface.
type Config struct {
	MonitoringIntervalSeconds  int     `yaml:"monitoring_interval_seconds"`
	BaselineWindowHours        int     `yaml:"baseline_window_hours"`
	BaselineMinimumSamples     int     `yaml:"baseline_minimum_samples"`
	RegressionThresholdPercent float64 `yaml:"regression_threshold_percent"`
	ConfidenceThreshold        float64 `yaml:"confidence_threshold"`
	ExecutionTimeoutSeconds    int     `yaml:"execution_timeout_seconds"`
	ProbeTimeoutSeconds        int     `yaml:"probe_timeout_seconds"`

	EnabledIndustries []string `yaml:"enabled_industries"`

	Finance FinanceConfig `yaml:"finance"`
	Pharma  PharmaConfig  `yaml:"pharma"`

	DecisionOverrides []OverrideRuleConfig `yaml:"decision_overrides"`

	Evidence EvidenceConfig `yaml:"evidence"`
	LogLevel string         `yaml:"log_level"`
}

// OverrideRuleConfig declares one operator decision-override rule. The
// expression is CEL over the decision inputs; compilation happens in the
// decision engine and a bad expression fails startup.
type OverrideRuleConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	// Action is "suppress" or "force".
	Action string `yaml:"action"`
}

// FinanceConfig is the trading-desk threshold block.
type FinanceConfig struct {
	RevenueLossPerMinuteCatastrophic string `yaml:"revenue_loss_per_minute_catastrophic"`
	RevenueLossPerMinuteCritical     string `yaml:"revenue_loss_per_minute_critical"`
	RevenueLossPerMinuteHigh         string `yaml:"revenue_loss_per_minute_high"`
	RevenueLossPerMinuteMedium       string `yaml:"revenue_loss_per_minute_medium"`
	LatencyCostPerMs                 string `yaml:"latency_cost_per_ms"`
	ErrorCostPerFailure              string `yaml:"error_cost_per_failure"`
}

// PharmaConfig is the manufacturing-line threshold block.
type PharmaConfig struct {
	EfficiencyFloorPercent  float64              `yaml:"efficiency_floor_percent"`
	LossPerEfficiencyPoint  string               `yaml:"loss_per_efficiency_point"`
	ComplianceViolationLoss string               `yaml:"compliance_violation_loss"`
	ParameterRanges         map[string][]float64 `yaml:"parameter_ranges"`
}

// EvidenceConfig selects the durable sink.
type EvidenceConfig struct {
	// Sink is "memory", "file", "sqlite" or "postgres".
	Sink string `yaml:"sink"`
	// Path is the file or sqlite location.
	Path string `yaml:"path"`
	// PostgresDSN is read from the environment when empty.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		MonitoringIntervalSeconds:  30,
		BaselineWindowHours:        24,
		BaselineMinimumSamples:     50,
		RegressionThresholdPercent: 10.0,
		ConfidenceThreshold:        0.8,
		ExecutionTimeoutSeconds:    600,
		ProbeTimeoutSeconds:        30,
		EnabledIndustries:          []string{IndustryFinance, IndustryPharma},
		Evidence:                   EvidenceConfig{Sink: "memory"},
		LogLevel:                   "INFO",
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown industries and out-of-range tunings.
func (c *Config) Validate() error {
	for _, ind := range c.EnabledIndustries {
		switch ind {
		case IndustryFinance, IndustryPharma:
		default:
			return fmt.Errorf("config: unknown industry %q", ind)
		}
	}
	if c.MonitoringIntervalSeconds <= 0 {
		return fmt.Errorf("config: monitoring_interval_seconds must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.BaselineMinimumSamples <= 0 {
		return fmt.Errorf("config: baseline_minimum_samples must be positive")
	}
	switch c.Evidence.Sink {
	case "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown evidence sink %q", c.Evidence.Sink)
	}
	for _, r := range c.DecisionOverrides {
		if r.Name == "" || r.Expression == "" {
			return fmt.Errorf("config: decision override needs name and expression")
		}
		switch r.Action {
		case "suppress", "force":
		default:
			return fmt.Errorf("config: decision override %q has unknown action %q", r.Name, r.Action)
		}
	}
	return nil
}

// MonitoringInterval returns the cycle period.
func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringIntervalSeconds) * time.Second
}

// ExecutionTimeout returns the whole-rollback budget.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the per-probe budget.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// IndustryEnabled reports whether an industry block is active.
func (c *Config) IndustryEnabled(name string) bool {
	for _, ind := range c.EnabledIndustries {
		if ind == name {
			return true
		}
	}
	return false
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ZDP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ZDP_EVIDENCE_SINK"); v != "" {
		cfg.Evidence.Sink = v
	}
	if v := os.Getenv("ZDP_EVIDENCE_PATH"); v != "" {
		cfg.Evidence.Path = v
	}
	if v := os.Getenv("ZDP_POSTGRES_DSN"); v != "" {
		cfg.Evidence.PostgresDSN = v
	}
	if v := os.Getenv("ZDP_MONITORING_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MonitoringIntervalSeconds = n
		}
	}
}
