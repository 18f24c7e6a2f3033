package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.PageSize != 10 {
		t.Fatalf("expected default page size 10, got %d", cfg.App.PageSize)
	}
	if cfg.Security.TokenTTL != 24*time.Hour {
		t.Fatalf("expected default token ttl 24h, got %v", cfg.Security.TokenTTL)
	}
}

func TestLoad_ParsesDurationsAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	payload := `{
		"app": {"http_addr": ":9999", "sweep_interval": "30m"},
		"security": {"token_ttl": "2h", "activation_token_ttl": "10m"}
	}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":9999" {
		t.Fatalf("expected :9999, got %s", cfg.App.HTTPAddr)
	}
	if cfg.App.SweepInterval != 30*time.Minute {
		t.Fatalf("expected 30m sweep interval, got %v", cfg.App.SweepInterval)
	}
	if cfg.Security.TokenTTL != 2*time.Hour {
		t.Fatalf("expected 2h token ttl, got %v", cfg.Security.TokenTTL)
	}
	if cfg.Security.ActivationTokenTTL != 10*time.Minute {
		t.Fatalf("expected 10m activation ttl, got %v", cfg.Security.ActivationTokenTTL)
	}
	// 未设置的字段回落到默认值
	if cfg.App.PageSize != 10 {
		t.Fatalf("expected default page size, got %d", cfg.App.PageSize)
	}
	if cfg.Security.PasswordMinLen != 8 {
		t.Fatalf("expected default password min len, got %d", cfg.Security.PasswordMinLen)
	}
}

func TestLoad_InvalidDurationFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"app": {"sweep_interval": "soon"}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_ADDR", "redis-host:16379")
	t.Setenv("APP_PAGE_SIZE", "25")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.JWTSecret != "from-env" {
		t.Fatalf("expected jwt secret from env, got %s", cfg.Security.JWTSecret)
	}
	if cfg.Redis.Addr != "redis-host:16379" {
		t.Fatalf("expected redis addr from env, got %s", cfg.Redis.Addr)
	}
	if cfg.App.PageSize != 25 {
		t.Fatalf("expected page size from env, got %d", cfg.App.PageSize)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := getDefaultConfig()
	cfg.App.HTTPAddr = ":7777"
	cfg.Security.SessionTTL = 12 * time.Hour
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.App.HTTPAddr != ":7777" {
		t.Fatalf("expected :7777 after reload, got %s", loaded.App.HTTPAddr)
	}
	if loaded.Security.SessionTTL != 12*time.Hour {
		t.Fatalf("expected 12h session ttl after reload, got %v", loaded.Security.SessionTTL)
	}
}
