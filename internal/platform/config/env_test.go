package config

import "testing"

type testConfig struct {
	Addr    string `env:"TABLELINK_TEST_ADDR" envDefault:"localhost:9999"`
	Retries int    `env:"TABLELINK_TEST_RETRIES" envDefault:"3"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:9999" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.Retries != 3 {
		t.Fatalf("expected default retries 3, got %d", cfg.Retries)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("TABLELINK_TEST_ADDR", "env-addr")
	t.Setenv("TABLELINK_TEST_RETRIES", "7")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "env-addr" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
	if cfg.Retries != 7 {
		t.Fatalf("expected retries 7, got %d", cfg.Retries)
	}
}

func TestParseEnvInvalidValue(t *testing.T) {
	t.Setenv("TABLELINK_TEST_RETRIES", "not-a-number")

	var cfg testConfig
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for invalid integer value")
	}
}
