package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.QueueMaxAttempts != 0 {
		t.Errorf("QueueMaxAttempts = %d, want 0", cfg.QueueMaxAttempts)
	}
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "data_dir: /var/lib/tenantd\nlisten_addr: \":9000\"\nqueue_max_attempts: 5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/tenantd" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.QueueMaxAttempts != 5 {
		t.Errorf("QueueMaxAttempts = %d", cfg.QueueMaxAttempts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TENANTD_DATA", "/tmp/override")
	t.Setenv("TENANTD_ADDR", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/tmp/override" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data_dir: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.QueueMaxAttempts = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative ceiling accepted")
	}

	cfg = Default()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty data_dir accepted")
	}
}
