package main

import (
	"os"
	"path/filepath"
	"testing"
)

// withConfigFile points the global --config flag at a temp file for the
// duration of the test.
func withConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiller.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	orig := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = orig })
}

func TestValidateConfigValidFile(t *testing.T) {
	withConfigFile(t, `
dataplane:
  base_url: http://127.0.0.1:5555/v1
  username: admin
  password: secret
`)

	if err := validateConfig(nil, nil); err != nil {
		t.Errorf("validateConfig() with valid file returned error: %v", err)
	}
}

func TestValidateConfigInvalidFile(t *testing.T) {
	withConfigFile(t, `
dataplane:
  base_url: "not a url"
gate:
  failure_threshold: -1
`)

	if err := validateConfig(nil, nil); err == nil {
		t.Error("validateConfig() with invalid file should return error")
	}
}

func TestValidateConfigNonexistentFile(t *testing.T) {
	orig := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = orig })

	if err := validateConfig(nil, nil); err == nil {
		t.Error("validateConfig() with nonexistent file should return error")
	}
}

func TestValidateConfigPrintEffective(t *testing.T) {
	withConfigFile(t, `
dataplane:
  base_url: http://127.0.0.1:5555/v1
optimizer:
  disabled: true
`)
	validateFlags.printEffective = true
	t.Cleanup(func() { validateFlags.printEffective = false })

	if err := validateConfig(nil, nil); err != nil {
		t.Errorf("validateConfig() with --print returned error: %v", err)
	}
}
