package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Addr string `env:"DUOCHAT_TEST_ADDR" envDefault:":9999"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected default addr :9999, got %q", cfg.Addr)
	}
}

func TestParseEnvReadsValues(t *testing.T) {
	t.Setenv("DUOCHAT_TEST_ADDR", ":8087")

	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":8087" {
		t.Fatalf("expected env addr :8087, got %q", cfg.Addr)
	}
}

func TestParseEnvError(t *testing.T) {
	type badConfig struct {
		Port int `env:"DUOCHAT_TEST_PORT"`
	}
	t.Setenv("DUOCHAT_TEST_PORT", "not-an-int")

	var cfg badConfig
	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
