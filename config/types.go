package config

import "time"

// DatabaseConfig controls the accounts database engine.
type DatabaseConfig struct {
	// DataDir holds segment files. MetaDir holds the bookkeeping KV store.
	DataDir string `yaml:"data_dir"`
	MetaDir string `yaml:"meta_dir"`

	// IndexShards bounds lock contention on the version index. Rounded up
	// to a power of two.
	IndexShards int `yaml:"index_shards"`

	// CleanIntervalMs is how often the cleaner wakes on its own, in
	// addition to being woken by rooting.
	CleanIntervalMs int `yaml:"clean_interval_ms"`

	// PinTTLSeconds bounds how long a crashed reader can starve cleaning.
	PinTTLSeconds int `yaml:"pin_ttl_seconds"`

	// EventBufferSize is the per-subscriber channel depth for account
	// update notifications.
	EventBufferSize int `yaml:"event_buffer_size"`

	// ReaderHandleCacheSize caps the number of sealed segment files kept
	// open for reads.
	ReaderHandleCacheSize int `yaml:"reader_handle_cache_size"`

	// DisableAutoClean stops the background cleaning runner; passes then
	// only happen through explicit CleanPass calls. Meant for tooling and
	// tests, not for validators.
	DisableAutoClean bool `yaml:"disable_auto_clean"`
}

type ConfigFile struct {
	Database DatabaseConfig `yaml:"database"`
}

const (
	DefaultIndexShards           = 16
	DefaultCleanIntervalMs       = 2000
	DefaultPinTTLSeconds         = 300
	DefaultEventBufferSize       = 256
	DefaultReaderHandleCacheSize = 128
)

// DefaultConfig returns a config usable without a config file; only the
// directories must be supplied.
func DefaultConfig(dataDir, metaDir string) DatabaseConfig {
	return DatabaseConfig{
		DataDir:               dataDir,
		MetaDir:               metaDir,
		IndexShards:           DefaultIndexShards,
		CleanIntervalMs:       DefaultCleanIntervalMs,
		PinTTLSeconds:         DefaultPinTTLSeconds,
		EventBufferSize:       DefaultEventBufferSize,
		ReaderHandleCacheSize: DefaultReaderHandleCacheSize,
	}
}

func (c DatabaseConfig) CleanInterval() time.Duration {
	return time.Duration(c.CleanIntervalMs) * time.Millisecond
}

func (c DatabaseConfig) PinTTL() time.Duration {
	return time.Duration(c.PinTTLSeconds) * time.Second
}
