package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "db.yml", `
database:
  data_dir: /var/lib/adb/data
  meta_dir: /var/lib/adb/meta
  index_shards: 32
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/adb/data" || cfg.MetaDir != "/var/lib/adb/meta" {
		t.Fatalf("directories not parsed: %+v", cfg)
	}
	if cfg.IndexShards != 32 {
		t.Fatalf("expected index_shards 32, got %d", cfg.IndexShards)
	}
	if cfg.CleanIntervalMs != DefaultCleanIntervalMs {
		t.Fatalf("expected default clean interval, got %d", cfg.CleanIntervalMs)
	}
	if cfg.PinTTLSeconds != DefaultPinTTLSeconds {
		t.Fatalf("expected default pin ttl, got %d", cfg.PinTTLSeconds)
	}
	if cfg.EventBufferSize != DefaultEventBufferSize {
		t.Fatalf("expected default event buffer, got %d", cfg.EventBufferSize)
	}
	if cfg.CleanInterval() != time.Duration(DefaultCleanIntervalMs)*time.Millisecond {
		t.Fatal("CleanInterval conversion wrong")
	}
}

func TestLoadConfigRequiresDirectories(t *testing.T) {
	path := writeFile(t, "db.yml", `
database:
  index_shards: 8
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing directories")
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "db.yml", "database: [not, a, mapping")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig("/data", "/meta")

	path := writeFile(t, "overrides.ini", `
[database]
index_shards = 64
clean_interval_ms = 500
pin_ttl_seconds = 60
`)
	if err := ApplyOverrides(&cfg, path); err != nil {
		t.Fatal(err)
	}
	if cfg.IndexShards != 64 {
		t.Fatalf("expected index_shards 64, got %d", cfg.IndexShards)
	}
	if cfg.CleanIntervalMs != 500 {
		t.Fatalf("expected clean_interval_ms 500, got %d", cfg.CleanIntervalMs)
	}
	if cfg.PinTTLSeconds != 60 {
		t.Fatalf("expected pin_ttl_seconds 60, got %d", cfg.PinTTLSeconds)
	}
	// Keys absent from the overrides file keep their prior values.
	if cfg.EventBufferSize != DefaultEventBufferSize {
		t.Fatalf("event_buffer_size should be untouched, got %d", cfg.EventBufferSize)
	}
	if cfg.DataDir != "/data" || cfg.MetaDir != "/meta" {
		t.Fatal("directories must not be overridable")
	}
}
