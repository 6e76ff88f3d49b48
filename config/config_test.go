package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = postgres
primary = postgres://app@db1/stock
replica1 = postgres://app@db2/stock
replica3 = postgres://app@db3/stock

[keys]
source = redis
increment = 500

[batch]
threshold = 50
auto_trigger = false

[cache]
totals_ttl = 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.Database.Driver)
	}
	if len(cfg.Database.Replicas) != 2 || cfg.Database.Replicas[1] != "postgres://app@db3/stock" {
		t.Errorf("Unexpected replicas %v", cfg.Database.Replicas)
	}
	if cfg.Keys.Source != "redis" || cfg.Keys.Increment != 500 {
		t.Errorf("Unexpected keys config %+v", cfg.Keys)
	}
	if cfg.Batch.Threshold != 50 || cfg.Batch.AutoTrigger || !cfg.Batch.CheckFailures {
		t.Errorf("Unexpected batch config %+v", cfg.Batch)
	}
	if cfg.Cache.TotalsTTL != 30*time.Second {
		t.Errorf("Expected 30s totals TTL, got %v", cfg.Cache.TotalsTTL)
	}
	if cfg.HTTP.Listen != ":9090" {
		t.Errorf("Expected default listen address, got %s", cfg.HTTP.Listen)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[keys]\nsource = carrier-pigeon\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Expected sqlite3 driver, got %s", cfg.Database.Driver)
	}
	if cfg.Keys.Source != "sql" {
		t.Errorf("Expected unknown key source to fall back to sql, got %s", cfg.Keys.Source)
	}
	if cfg.Keys.Increment != 1000 || cfg.Batch.Threshold != 2000 {
		t.Errorf("Unexpected defaults %+v %+v", cfg.Keys, cfg.Batch)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STOCKBATCH_DATABASE_PRIMARY", "file:override.db")
	t.Setenv("STOCKBATCH_BATCH_THRESHOLD", "7")
	t.Setenv("STOCKBATCH_HTTP_LISTEN", ":8081")

	cfg, err := Load(writeConfig(t, "[database]\nprimary = stock.db\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Primary != "file:override.db" {
		t.Errorf("Expected env primary, got %s", cfg.Database.Primary)
	}
	if cfg.Batch.Threshold != 7 {
		t.Errorf("Expected env threshold, got %d", cfg.Batch.Threshold)
	}
	if cfg.HTTP.Listen != ":8081" {
		t.Errorf("Expected env listen, got %s", cfg.HTTP.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Error("Expected error for missing file")
	}
}
