package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureConfigFileCreatesDefault(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "voxproxy.yml")
	defer func() { configFile = "" }()

	if err := ensureConfigFile(); err != nil {
		t.Fatalf("ensureConfigFile failed: %v", err)
	}

	raw, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if string(raw) != defaultConfig {
		t.Error("created config file does not carry the defaults")
	}

	// An existing file is left untouched.
	custom := []byte("listen: \"127.0.0.1:9000\"\n")
	if err := os.WriteFile(configFile, custom, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureConfigFile(); err != nil {
		t.Fatalf("ensureConfigFile on existing file failed: %v", err)
	}
	raw, _ = os.ReadFile(configFile)
	if string(raw) != string(custom) {
		t.Error("existing config file was overwritten")
	}
}

func TestEnsureConfigFileRejectsUnknownExtension(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "voxproxy.toml")
	defer func() { configFile = "" }()

	if err := ensureConfigFile(); err == nil {
		t.Error("expected an error for a non-yaml config path")
	}
}
