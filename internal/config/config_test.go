package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/schema"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "production" || cfg.PollInterval.Std() != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	doc := `
environment: testnet
pairs:
  - BTC-USD
  - ETH-USD
pollInterval: 30s
logging:
  level: debug
telemetry:
  enabled: true
  otlp_endpoint: http://collector:4318
  metric_interval: 45s
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Testnet() {
		t.Fatal("testnet not detected")
	}
	if cfg.PollInterval.Std() != 30*time.Second {
		t.Fatalf("poll interval %v", cfg.PollInterval)
	}
	pairs := cfg.TradingPairs()
	if len(pairs) != 2 || pairs[0] != schema.Pair("BTC-USD") {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	if !cfg.Telemetry.Enabled || cfg.Logging.Level != "debug" {
		t.Fatalf("nested sections not parsed: %+v", cfg)
	}
	exported := cfg.Telemetry.Export()
	if !exported.Enabled || exported.MetricInterval != 45*time.Second {
		t.Fatalf("telemetry export wrong: %+v", exported)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	if err := os.WriteFile(path, []byte("environment: staging\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if !errs.HasCode(err, errs.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadRejectsMalformedPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	if err := os.WriteFile(path, []byte("environment: testnet\npairs: [BTCUSD]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if !errs.HasCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid pair error, got %v", err)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvAPISecret, "secret")
	creds, err := CredentialsFromEnv()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.APIKey != "key" || creds.APISecret != "secret" {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	t.Setenv(EnvAPISecret, "")
	if _, err := CredentialsFromEnv(); !errs.HasCode(err, errs.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
