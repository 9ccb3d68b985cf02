package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointConfig struct {
	Addr string `env:"TABLELINK_ENTRYPOINT_TEST_ADDR" envDefault:":0"`
}

func TestParseConfigFromArgs(t *testing.T) {
	t.Setenv("TABLELINK_ENTRYPOINT_TEST_ADDR", "env-addr")

	var cfg entrypointConfig
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	if err := ParseConfigFromArgs(&cfg, fs, []string{"-addr", "flag-addr"}); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-addr" {
		t.Fatalf("expected flag to win, got %q", cfg.Addr)
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	if err := ParseConfig[entrypointConfig](nil); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), ServiceBridge, func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected run error, got %v", err)
	}
}

func TestRunWithTelemetryRejectsNilRun(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), ServiceBridge, nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}
