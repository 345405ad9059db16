package config

import "testing"

type testConfig struct {
	Addr    string `env:"PARTY_MODE_TEST_ADDR" envDefault:":9999"`
	DataDir string `env:"PARTY_MODE_TEST_DATA_DIR"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, ":9999")
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("PARTY_MODE_TEST_ADDR", ":1234")
	t.Setenv("PARTY_MODE_TEST_DATA_DIR", "/tmp/party")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":1234" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, ":1234")
	}
	if cfg.DataDir != "/tmp/party" {
		t.Fatalf("data dir = %q, want %q", cfg.DataDir, "/tmp/party")
	}
}
