// Package config loads and validates the connector runtime configuration.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/telemetry"
)

// Environment variable names holding the account credentials. Credentials
// never live in the YAML file.
const (
	EnvAPIKey    = "PARADISE_API_KEY"
	EnvAPISecret = "PARADISE_API_SECRET"
)

// Duration decodes either a Go duration string ("30s") or an integer
// nanosecond count.
type Duration time.Duration

// UnmarshalYAML implements custom YAML decoding for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := node.Decode(&asString); err != nil {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("invalid duration"), errs.WithCause(err))
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(asString))
	if err != nil {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("invalid duration "+asString), errs.WithCause(err))
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Telemetry is the YAML shape of the metric export section.
type Telemetry struct {
	Enabled        bool     `yaml:"enabled"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
	OTLPInsecure   bool     `yaml:"otlp_insecure"`
	MetricInterval Duration `yaml:"metric_interval"`
	Environment    string   `yaml:"environment"`
}

// Export converts the section into the telemetry provider configuration.
func (t Telemetry) Export() telemetry.Config {
	return telemetry.Config{
		Enabled:        t.Enabled,
		OTLPEndpoint:   t.OTLPEndpoint,
		OTLPInsecure:   t.OTLPInsecure,
		MetricInterval: t.MetricInterval.Std(),
		Environment:    t.Environment,
	}
}

// Credentials is the API key pair read from the environment.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Config is the connector runtime configuration tree.
type Config struct {
	// Environment selects production or testnet endpoints.
	Environment string `yaml:"environment"`
	// Pairs are the BASE-QUOTE trading pairs to connect for. Empty means
	// every active contract.
	Pairs []string `yaml:"pairs"`
	// PollInterval paces the REST reconciliation loop.
	PollInterval Duration `yaml:"pollInterval"`
	// IdleTimeout bounds stream silence before a liveness probe.
	IdleTimeout Duration `yaml:"idleTimeout"`

	Logging   logging.Config `yaml:"logging"`
	Telemetry Telemetry      `yaml:"telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Environment:  "production",
		PollInterval: Duration(2 * time.Minute),
		Logging:      logging.Config{Level: "info"},
	}
}

// Load reads the YAML file at path, applying defaults for absent fields. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errs.New("config", errs.CodeConfig, errs.WithMessage("read "+path), errs.WithCause(err))
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errs.New("config", errs.CodeConfig, errs.WithMessage("parse "+path), errs.WithCause(err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the environment name and pair shapes.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "production", "testnet":
	default:
		return errs.New("config", errs.CodeConfig, errs.WithMessage("unknown environment "+c.Environment))
	}
	for _, pair := range c.Pairs {
		if err := schema.Pair(pair).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Testnet reports whether the testnet deployment is selected.
func (c Config) Testnet() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "testnet")
}

// TradingPairs returns the configured pairs in canonical form.
func (c Config) TradingPairs() []schema.Pair {
	pairs := make([]schema.Pair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		pairs = append(pairs, schema.Pair(strings.ToUpper(strings.TrimSpace(p))))
	}
	return pairs
}

// CredentialsFromEnv reads the API key pair. Both variables must be set for
// authenticated operation.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		APIKey:    strings.TrimSpace(os.Getenv(EnvAPIKey)),
		APISecret: strings.TrimSpace(os.Getenv(EnvAPISecret)),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, errs.New("config", errs.CodeConfig,
			errs.WithMessage(EnvAPIKey+" and "+EnvAPISecret+" must both be set"))
	}
	return creds, nil
}
