package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxQueuedBytes is the admission byte budget for queued notifications (16 MiB).
const DefaultMaxQueuedBytes = 1 << 24

// WorkerConfiguration controls the notification worker pool
type WorkerConfiguration struct {
	Threads                int   `toml:"threads"`                  // Concurrent observer executions
	QueueCapacity          int   `toml:"queue_capacity"`           // Max queued tasks, 0 = unbounded
	MaxQueuedBytes         int64 `toml:"max_queued_bytes"`         // Admission backpressure threshold
	ShutdownTimeoutSeconds int   `toml:"shutdown_timeout_seconds"` // Bounded wait for workers on close
}

// ScannerConfiguration controls notification discovery
type ScannerConfiguration struct {
	Enabled     bool `toml:"enabled"`
	IntervalMS  int  `toml:"interval_ms"`  // Full scan period
	WorkerIndex int  `toml:"worker_index"` // This process's partition
	WorkerCount int  `toml:"worker_count"` // Total partitions across the fleet

	MaxAdmitsPerSecond int `toml:"max_admits_per_second"` // 0 = unlimited
}

// StoreConfiguration tunes the pebble cell store. Zero values keep pebble defaults.
type StoreConfiguration struct {
	CacheSizeMB           int64 `toml:"cache_size_mb"`           // Block cache size
	MemTableSizeMB        int64 `toml:"memtable_size_mb"`        // Write buffer size
	L0CompactionThreshold int   `toml:"l0_compaction_threshold"` // L0 files before compaction
	L0StopWrites          int   `toml:"l0_stop_writes"`          // L0 files to pause writes
	SyncCommits           bool  `toml:"sync_commits"`            // fsync every committed transaction
}

// ObserverConfiguration binds a builtin observer to an observed column
type ObserverConfiguration struct {
	Name      string            `toml:"name"`      // Builtin observer name ("log", "rollup")
	Family    string            `toml:"family"`    // Observed column family
	Qualifier string            `toml:"qualifier"` // Observed column qualifier
	Type      string            `toml:"type"`      // "weak" or "strong"
	Rows      []string          `toml:"rows"`      // Optional row glob patterns
	Params    map[string]string `toml:"params"`    // Observer specific parameters
}

// AdminConfiguration for the HTTP admin API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables authentication
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Store      StoreConfiguration      `toml:"store"`
	Worker     WorkerConfiguration     `toml:"worker"`
	Scanner    ScannerConfiguration    `toml:"scanner"`
	Observers  []ObserverConfiguration `toml:"observers"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag    = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag       = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag        = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	WorkerThreadsFlag = flag.Int("worker-threads", 0, "Worker threads (overrides config)")
	AdminPortFlag     = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./ripple-data",

	Store: StoreConfiguration{
		CacheSizeMB:           64,
		MemTableSizeMB:        32,
		L0CompactionThreshold: 4,
		L0StopWrites:          12,
		SyncCommits:           true,
	},

	Worker: WorkerConfiguration{
		Threads:                8,
		QueueCapacity:          0,
		MaxQueuedBytes:         DefaultMaxQueuedBytes,
		ShutdownTimeoutSeconds: 30,
	},

	Scanner: ScannerConfiguration{
		Enabled:     true,
		IntervalMS:  5000,
		WorkerIndex: 0,
		WorkerCount: 1,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *WorkerThreadsFlag != 0 {
		Config.Worker.Threads = *WorkerThreadsFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("ripple")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Store.CacheSizeMB < 0 || Config.Store.MemTableSizeMB < 0 {
		return fmt.Errorf("store cache and memtable sizes must be >= 0")
	}

	if Config.Worker.Threads < 1 {
		return fmt.Errorf("worker threads must be >= 1")
	}

	if Config.Worker.QueueCapacity < 0 {
		return fmt.Errorf("worker queue capacity must be >= 0")
	}

	if Config.Worker.MaxQueuedBytes < 1 {
		return fmt.Errorf("worker max queued bytes must be >= 1")
	}

	if Config.Worker.ShutdownTimeoutSeconds < 1 {
		return fmt.Errorf("worker shutdown timeout must be >= 1 second")
	}

	if Config.Scanner.Enabled {
		if Config.Scanner.IntervalMS < 1 {
			return fmt.Errorf("scanner interval must be >= 1ms")
		}
		if Config.Scanner.WorkerCount < 1 {
			return fmt.Errorf("scanner worker count must be >= 1")
		}
		if Config.Scanner.WorkerIndex < 0 || Config.Scanner.WorkerIndex >= Config.Scanner.WorkerCount {
			return fmt.Errorf("scanner worker index %d out of range [0, %d)", Config.Scanner.WorkerIndex, Config.Scanner.WorkerCount)
		}
		if Config.Scanner.MaxAdmitsPerSecond < 0 {
			return fmt.Errorf("scanner max admits per second must be >= 0")
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	seen := make(map[string]bool, len(Config.Observers))
	for i, o := range Config.Observers {
		if o.Name == "" {
			return fmt.Errorf("observer %d: name is required", i)
		}
		if o.Family == "" || o.Qualifier == "" {
			return fmt.Errorf("observer %q: family and qualifier are required", o.Name)
		}
		switch strings.ToLower(o.Type) {
		case "", "weak", "strong":
		default:
			return fmt.Errorf("observer %q: invalid notification type %q", o.Name, o.Type)
		}
		col := o.Family + ":" + o.Qualifier
		if seen[col] {
			return fmt.Errorf("column %s is observed more than once", col)
		}
		seen[col] = true
	}

	return nil
}

// IsAdminAuthEnabled reports whether admin requests must carry the secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
