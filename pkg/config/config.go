package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Cache    CacheConfig    `yaml:"cache"`
	Delta    DeltaConfig    `yaml:"delta"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig contains store-instance configuration
type InstanceConfig struct {
	ID         string `yaml:"id"`
	DataDir    string `yaml:"data_dir"`
	ThreadSafe bool   `yaml:"thread_safe"`
}

// CacheConfig contains cache engine configuration
type CacheConfig struct {
	Strategy        string        `yaml:"strategy"`         // "basic", "tiered", "persistent"
	EvictionPolicy  string        `yaml:"eviction_policy"`  // "lru", "lfu", "fifo", "ttl"
	MaxEntries      int           `yaml:"max_entries"`      // 0 = unbounded
	MaxMemory       uint64        `yaml:"max_memory"`       // bytes, 0 = unbounded
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Tiered strategy settings
	OverflowMaxEntries int    `yaml:"overflow_max_entries"`
	OverflowMaxMemory  uint64 `yaml:"overflow_max_memory"`
	PromoteOnAccess    bool   `yaml:"promote_on_access"`
	EnableFilter       bool   `yaml:"enable_filter"` // cuckoo filter over the overflow tier

	// Persistent strategy settings
	PersistInterval time.Duration `yaml:"persist_interval"`
}

// DeltaConfig contains delta engine and chain configuration
type DeltaConfig struct {
	Enabled        bool `yaml:"enabled"`
	Compression    bool `yaml:"compression"`     // lz4 payload compression
	MaxChainLength int  `yaml:"max_chain_length"`
	AutoOptimize   bool `yaml:"auto_optimize"`
}

// SnapshotConfig contains snapshot manager configuration
type SnapshotConfig struct {
	MaxSnapshots int           `yaml:"max_snapshots"` // 0 = unlimited
	AutoInterval time.Duration `yaml:"auto_interval"` // 0 = disabled
	AutoDelta    bool          `yaml:"auto_delta"`    // auto snapshots are delta snapshots
	Compression  bool          `yaml:"compression"`
}

// JournalConfig contains operation journal configuration
type JournalConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SyncPolicy   string        `yaml:"sync_policy"` // "always", "everysec", "no"
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`          // debug, info, warn, error, fatal
	EnableConsole bool   `yaml:"enable_console"` // Enable console output
	EnableFile    bool   `yaml:"enable_file"`    // Enable file output
	LogFile       string `yaml:"log_file"`       // Log file path
	BufferSize    int    `yaml:"buffer_size"`    // Async log buffer size
	LogDir        string `yaml:"log_dir"`        // Log directory
	MaxFileSize   string `yaml:"max_file_size"`  // Maximum log file size before rotation
	MaxFiles      int    `yaml:"max_files"`      // Maximum number of log files to keep
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Set defaults
	config := &Config{
		Instance: InstanceConfig{
			ID:         "statevault-1",
			DataDir:    "./data",
			ThreadSafe: true,
		},
		Cache: CacheConfig{
			Strategy:           "basic",
			EvictionPolicy:     "lru",
			MaxEntries:         10000,
			MaxMemory:          256 * 1024 * 1024,
			DefaultTTL:         0,
			CleanupInterval:    time.Minute,
			OverflowMaxEntries: 100000,
			OverflowMaxMemory:  1024 * 1024 * 1024,
			PromoteOnAccess:    true,
			EnableFilter:       true,
			PersistInterval:    5 * time.Minute,
		},
		Delta: DeltaConfig{
			Enabled:        true,
			Compression:    true,
			MaxChainLength: 20,
			AutoOptimize:   true,
		},
		Snapshot: SnapshotConfig{
			MaxSnapshots: 10,
			AutoInterval: 0,
			AutoDelta:    true,
			Compression:  true,
		},
		Journal: JournalConfig{
			Enabled:      false,
			SyncPolicy:   "everysec",
			SyncInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			LogFile:       "",
			BufferSize:    1000,
			LogDir:        "logs",
			MaxFileSize:   "100MB",
			MaxFiles:      10,
		},
	}

	// Try to read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("instance.id cannot be empty")
	}
	if c.Instance.DataDir == "" {
		return fmt.Errorf("instance.data_dir cannot be empty")
	}
	if !isValidCacheStrategy(c.Cache.Strategy) {
		return fmt.Errorf("invalid cache strategy: %s", c.Cache.Strategy)
	}
	if !isValidEvictionPolicy(c.Cache.EvictionPolicy) {
		return fmt.Errorf("invalid eviction policy: %s", c.Cache.EvictionPolicy)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative")
	}
	if c.Delta.MaxChainLength < 2 {
		return fmt.Errorf("delta.max_chain_length must be >= 2")
	}
	if c.Snapshot.MaxSnapshots < 0 {
		return fmt.Errorf("snapshot.max_snapshots cannot be negative")
	}
	if c.Journal.Enabled && !isValidSyncPolicy(c.Journal.SyncPolicy) {
		return fmt.Errorf("invalid journal sync policy: %s", c.Journal.SyncPolicy)
	}
	return nil
}

// isValidEvictionPolicy checks if the eviction policy is supported
func isValidEvictionPolicy(policy string) bool {
	validPolicies := map[string]bool{
		"lru":  true, // Least Recently Used
		"lfu":  true, // Least Frequently Used
		"fifo": true, // First In First Out
		"ttl":  true, // Time To Live based
	}
	return validPolicies[policy]
}

// isValidCacheStrategy checks if the cache strategy is supported
func isValidCacheStrategy(strategy string) bool {
	validStrategies := map[string]bool{
		"basic":      true, // Single in-memory cache
		"tiered":     true, // Fast tier with overflow cascade
		"persistent": true, // Cache backed by a durable entry file
	}
	return validStrategies[strategy]
}

// isValidSyncPolicy checks if the journal sync policy is supported
func isValidSyncPolicy(policy string) bool {
	validPolicies := map[string]bool{
		"always":   true, // Sync after every write
		"everysec": true, // Sync once per second
		"no":       true, // Let the OS handle syncing
	}
	return validPolicies[policy]
}
