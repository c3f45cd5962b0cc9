package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a YAML database config file. Missing tuning
// fields fall back to defaults; the directories are required.
func LoadConfig(path string) (*DatabaseConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	cfg := cfgFile.Database
	if cfg.DataDir == "" || cfg.MetaDir == "" {
		return nil, fmt.Errorf("config is missing data_dir or meta_dir")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// ApplyOverrides layers operator overrides from an INI file on top of an
// existing config. Unknown keys are ignored.
func ApplyOverrides(cfg *DatabaseConfig, path string) error {
	iniFile, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load overrides file: %w", err)
	}

	section := iniFile.Section("database")
	if v := section.Key("index_shards").MustInt(0); v > 0 {
		cfg.IndexShards = v
	}
	if v := section.Key("clean_interval_ms").MustInt(0); v > 0 {
		cfg.CleanIntervalMs = v
	}
	if v := section.Key("pin_ttl_seconds").MustInt(0); v > 0 {
		cfg.PinTTLSeconds = v
	}
	if v := section.Key("event_buffer_size").MustInt(0); v > 0 {
		cfg.EventBufferSize = v
	}
	if v := section.Key("reader_handle_cache_size").MustInt(0); v > 0 {
		cfg.ReaderHandleCacheSize = v
	}
	return nil
}

func applyDefaults(cfg *DatabaseConfig) {
	if cfg.IndexShards <= 0 {
		cfg.IndexShards = DefaultIndexShards
	}
	if cfg.CleanIntervalMs <= 0 {
		cfg.CleanIntervalMs = DefaultCleanIntervalMs
	}
	if cfg.PinTTLSeconds <= 0 {
		cfg.PinTTLSeconds = DefaultPinTTLSeconds
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.ReaderHandleCacheSize <= 0 {
		cfg.ReaderHandleCacheSize = DefaultReaderHandleCacheSize
	}
}
