package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func clearBoolEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PRODUCTION_MODE", "VAULT_TLS_ENABLED", "RISK_TRAILING_STOP_ENABLED"} {
		t.Setenv(key, "")
	}
}

func TestFileBoolsSurviveEnvOverrides(t *testing.T) {
	clearBoolEnv(t)
	path := writeConfig(t, `{
		"server": {"production_mode": true},
		"vault": {"tls_enabled": true},
		"risk": {"trailing_stop_enabled": false}
	}`)

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	applyEnvOverrides(cfg)

	if !cfg.Server.ProductionMode {
		t.Error("production_mode=true from file was overwritten")
	}
	if !cfg.Vault.TLSEnabled {
		t.Error("vault tls_enabled=true from file was overwritten")
	}
	if cfg.Risk.TrailingStopEnabled {
		t.Error("trailing_stop_enabled=false from file was overwritten")
	}
}

func TestEnvBoolWinsOverFile(t *testing.T) {
	clearBoolEnv(t)
	path := writeConfig(t, `{"server": {"production_mode": false}, "risk": {"trailing_stop_enabled": true}}`)
	t.Setenv("PRODUCTION_MODE", "true")
	t.Setenv("RISK_TRAILING_STOP_ENABLED", "false")

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	applyEnvOverrides(cfg)

	if !cfg.Server.ProductionMode {
		t.Error("PRODUCTION_MODE=true env did not win over the file")
	}
	if cfg.Risk.TrailingStopEnabled {
		t.Error("RISK_TRAILING_STOP_ENABLED=false env did not win over the file")
	}
}

func TestTrailingStopDefaultsOn(t *testing.T) {
	clearBoolEnv(t)

	cfg := newBaseConfig()
	applyEnvOverrides(cfg)

	if !cfg.Risk.TrailingStopEnabled {
		t.Error("trailing stop not enabled by default")
	}
	if cfg.Server.ProductionMode {
		t.Error("production mode enabled by default")
	}
}
