package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadConfigMergesEnvironmentOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: "8080"
escrow:
  platform_fee_percent: 5
  max_attempts: 3
`)
	writeFile(t, dir, "staging.yaml", `
escrow:
  platform_fee_percent: 7.5
`)

	var out struct {
		Server ServerConfig `yaml:"server"`
		Escrow struct {
			PlatformFeePercent float64 `yaml:"platform_fee_percent"`
			MaxAttempts        int     `yaml:"max_attempts"`
		} `yaml:"escrow"`
	}
	if err := Decode("staging", dir, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", out.Server.Port)
	}
	if out.Escrow.PlatformFeePercent != 7.5 {
		t.Errorf("fee = %v, want 7.5", out.Escrow.PlatformFeePercent)
	}
	if out.Escrow.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3 (kept from base)", out.Escrow.MaxAttempts)
	}
}

func TestLoadConfigSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
jwt:
  secret: "${ESCROW_TEST_JWT}"
providers:
  mtn:
    webhook_secret: "${ESCROW_TEST_MTN_SECRET}"
`)
	writeFile(t, dir, "secrets.env", "ESCROW_TEST_JWT=from-file\nESCROW_TEST_MTN_SECRET='quoted'\n")
	t.Setenv("ESCROW_TEST_MTN_SECRET", "from-env")

	var out struct {
		JWT       JWTConfig `yaml:"jwt"`
		Providers struct {
			MTN struct {
				WebhookSecret string `yaml:"webhook_secret"`
			} `yaml:"mtn"`
		} `yaml:"providers"`
	}
	if err := Decode("local", dir, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.JWT.Secret != "from-file" {
		t.Errorf("jwt secret = %q, want from-file", out.JWT.Secret)
	}
	if out.Providers.MTN.WebhookSecret != "from-env" {
		t.Errorf("mtn secret = %q, want process env to win", out.Providers.MTN.WebhookSecret)
	}
}

func TestLoadConfigMissingBase(t *testing.T) {
	if _, err := LoadConfig("local", t.TempDir()); err == nil {
		t.Fatal("expected error for missing base.yaml")
	}
}

func TestDBConfigDSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "escrow"}
	want := "postgres://u:p@db:5432/escrow?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
