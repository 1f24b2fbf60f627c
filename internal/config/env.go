// Package config handles environment-based configuration loading for the
// dispatcher, with an optional YAML overlay file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all settings of a dispatcher process. Values come from
// GRIDCAB_* environment variables, optionally overlaid by a YAML file
// (GRIDCAB_CONFIG_FILE) before validation.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	PeerHost      string // host of the companion dispatcher instance

	// Ports (one endpoint per port, one worker per endpoint)
	PositionPort    int
	AssignPort      int
	RequestPort     int
	DiscoveryPort   int
	ReplicationPort int
	HealthPort      int

	// Grid
	GridMaxX int
	GridMaxY int

	// Cadence
	SnapshotInterval    time.Duration
	ReplicationInterval time.Duration
	ProbeInterval       time.Duration
	ProbeTimeout        time.Duration
	NegotiationTimeout  time.Duration

	// Assignment publisher
	AssignQueueSize int

	// Audit ledger database
	LedgerQueueSize      int
	LedgerFlushBatchSize int
	LedgerFlushInterval  time.Duration
	LedgerRetainRows     int
	LedgerPruneSchedule  string
}

// LoadEnvConfig reads environment variables, applies the optional YAML
// overlay, and returns a validated EnvConfig. Returns an error listing every
// invalid value found.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("GRIDCAB_STATE_DIR", "/var/lib/gridcab")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("GRIDCAB_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.PeerHost = strings.TrimSpace(envStr("GRIDCAB_PEER_HOST", "localhost"))

	// --- Ports (defaults follow the historical wire layout) ---
	cfg.PositionPort = envInt("GRIDCAB_POSITION_PORT", 5555, &errs)
	cfg.AssignPort = envInt("GRIDCAB_ASSIGN_PORT", 5556, &errs)
	cfg.RequestPort = envInt("GRIDCAB_REQUEST_PORT", 5557, &errs)
	cfg.DiscoveryPort = envInt("GRIDCAB_DISCOVERY_PORT", 5560, &errs)
	cfg.ReplicationPort = envInt("GRIDCAB_REPLICATION_PORT", 5561, &errs)
	cfg.HealthPort = envInt("GRIDCAB_HEALTH_PORT", 5562, &errs)

	// --- Grid ---
	cfg.GridMaxX = envInt("GRIDCAB_GRID_MAX_X", 10, &errs)
	cfg.GridMaxY = envInt("GRIDCAB_GRID_MAX_Y", 10, &errs)

	// --- Cadence ---
	cfg.SnapshotInterval = envDuration("GRIDCAB_SNAPSHOT_INTERVAL", 5*time.Second, &errs)
	cfg.ReplicationInterval = envDuration("GRIDCAB_REPLICATION_INTERVAL", 2*time.Second, &errs)
	cfg.ProbeInterval = envDuration("GRIDCAB_PROBE_INTERVAL", 2*time.Second, &errs)
	cfg.ProbeTimeout = envDuration("GRIDCAB_PROBE_TIMEOUT", 2*time.Second, &errs)
	cfg.NegotiationTimeout = envDuration("GRIDCAB_NEGOTIATION_TIMEOUT", 2*time.Second, &errs)

	// --- Assignment publisher ---
	cfg.AssignQueueSize = envInt("GRIDCAB_ASSIGN_QUEUE_SIZE", 256, &errs)

	// --- Audit ledger database ---
	cfg.LedgerQueueSize = envInt("GRIDCAB_LEDGER_QUEUE_SIZE", 8192, &errs)
	cfg.LedgerFlushBatchSize = envInt("GRIDCAB_LEDGER_FLUSH_BATCH_SIZE", 256, &errs)
	cfg.LedgerFlushInterval = envDuration("GRIDCAB_LEDGER_FLUSH_INTERVAL", 5*time.Second, &errs)
	cfg.LedgerRetainRows = envInt("GRIDCAB_LEDGER_RETAIN_ROWS", 100000, &errs)
	cfg.LedgerPruneSchedule = envStr("GRIDCAB_LEDGER_PRUNE_SCHEDULE", "0 4 * * *")

	// --- Optional YAML overlay ---
	if path := os.Getenv("GRIDCAB_CONFIG_FILE"); path != "" {
		if err := applyOverlayFile(cfg, path); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "GRIDCAB_LISTEN_ADDRESS must not be empty")
	}
	if cfg.PeerHost == "" {
		errs = append(errs, "GRIDCAB_PEER_HOST must not be empty")
	}

	validatePort("GRIDCAB_POSITION_PORT", cfg.PositionPort, &errs)
	validatePort("GRIDCAB_ASSIGN_PORT", cfg.AssignPort, &errs)
	validatePort("GRIDCAB_REQUEST_PORT", cfg.RequestPort, &errs)
	validatePort("GRIDCAB_DISCOVERY_PORT", cfg.DiscoveryPort, &errs)
	validatePort("GRIDCAB_REPLICATION_PORT", cfg.ReplicationPort, &errs)
	validatePort("GRIDCAB_HEALTH_PORT", cfg.HealthPort, &errs)

	if cfg.GridMaxX < 0 {
		errs = append(errs, fmt.Sprintf("GRIDCAB_GRID_MAX_X: must be non-negative, got %d", cfg.GridMaxX))
	}
	if cfg.GridMaxY < 0 {
		errs = append(errs, fmt.Sprintf("GRIDCAB_GRID_MAX_Y: must be non-negative, got %d", cfg.GridMaxY))
	}

	validatePositiveDuration("GRIDCAB_SNAPSHOT_INTERVAL", cfg.SnapshotInterval, &errs)
	validatePositiveDuration("GRIDCAB_REPLICATION_INTERVAL", cfg.ReplicationInterval, &errs)
	validatePositiveDuration("GRIDCAB_PROBE_INTERVAL", cfg.ProbeInterval, &errs)
	validatePositiveDuration("GRIDCAB_PROBE_TIMEOUT", cfg.ProbeTimeout, &errs)
	validatePositiveDuration("GRIDCAB_NEGOTIATION_TIMEOUT", cfg.NegotiationTimeout, &errs)

	validatePositive("GRIDCAB_ASSIGN_QUEUE_SIZE", cfg.AssignQueueSize, &errs)
	validatePositive("GRIDCAB_LEDGER_QUEUE_SIZE", cfg.LedgerQueueSize, &errs)
	validatePositive("GRIDCAB_LEDGER_FLUSH_BATCH_SIZE", cfg.LedgerFlushBatchSize, &errs)
	validatePositiveDuration("GRIDCAB_LEDGER_FLUSH_INTERVAL", cfg.LedgerFlushInterval, &errs)
	validatePositive("GRIDCAB_LEDGER_RETAIN_ROWS", cfg.LedgerRetainRows, &errs)
	if _, err := cron.ParseStandard(cfg.LedgerPruneSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("GRIDCAB_LEDGER_PRUNE_SCHEDULE: invalid cron expression %q: %v", cfg.LedgerPruneSchedule, err))
	}
	if cfg.LedgerQueueSize < 2*cfg.LedgerFlushBatchSize {
		errs = append(errs, "GRIDCAB_LEDGER_QUEUE_SIZE must be at least 2x GRIDCAB_LEDGER_FLUSH_BATCH_SIZE")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be a positive duration, got %s", name, value))
	}
}
