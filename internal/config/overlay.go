package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// overlay mirrors EnvConfig with pointer fields so absent YAML keys leave
// the environment-derived value untouched. Durations use Go duration
// strings ("5s", "2m").
type overlay struct {
	StateDir      *string `yaml:"state_dir"`
	ListenAddress *string `yaml:"listen_address"`
	PeerHost      *string `yaml:"peer_host"`

	PositionPort    *int `yaml:"position_port"`
	AssignPort      *int `yaml:"assign_port"`
	RequestPort     *int `yaml:"request_port"`
	DiscoveryPort   *int `yaml:"discovery_port"`
	ReplicationPort *int `yaml:"replication_port"`
	HealthPort      *int `yaml:"health_port"`

	GridMaxX *int `yaml:"grid_max_x"`
	GridMaxY *int `yaml:"grid_max_y"`

	SnapshotInterval    *string `yaml:"snapshot_interval"`
	ReplicationInterval *string `yaml:"replication_interval"`
	ProbeInterval       *string `yaml:"probe_interval"`
	ProbeTimeout        *string `yaml:"probe_timeout"`
	NegotiationTimeout  *string `yaml:"negotiation_timeout"`

	AssignQueueSize *int `yaml:"assign_queue_size"`

	LedgerQueueSize      *int    `yaml:"ledger_queue_size"`
	LedgerFlushBatchSize *int    `yaml:"ledger_flush_batch_size"`
	LedgerFlushInterval  *string `yaml:"ledger_flush_interval"`
	LedgerRetainRows     *int    `yaml:"ledger_retain_rows"`
	LedgerPruneSchedule  *string `yaml:"ledger_prune_schedule"`
}

// applyOverlayFile reads a YAML overlay and applies every present key on top
// of cfg. Called before validation, so overlay values are validated too.
func applyOverlayFile(cfg *EnvConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("GRIDCAB_CONFIG_FILE: %v", err)
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("GRIDCAB_CONFIG_FILE %s: %v", path, err)
	}

	setStr(&cfg.StateDir, o.StateDir)
	setStr(&cfg.ListenAddress, o.ListenAddress)
	setStr(&cfg.PeerHost, o.PeerHost)

	setInt(&cfg.PositionPort, o.PositionPort)
	setInt(&cfg.AssignPort, o.AssignPort)
	setInt(&cfg.RequestPort, o.RequestPort)
	setInt(&cfg.DiscoveryPort, o.DiscoveryPort)
	setInt(&cfg.ReplicationPort, o.ReplicationPort)
	setInt(&cfg.HealthPort, o.HealthPort)

	setInt(&cfg.GridMaxX, o.GridMaxX)
	setInt(&cfg.GridMaxY, o.GridMaxY)

	var derrs []string
	setDuration(&cfg.SnapshotInterval, o.SnapshotInterval, "snapshot_interval", &derrs)
	setDuration(&cfg.ReplicationInterval, o.ReplicationInterval, "replication_interval", &derrs)
	setDuration(&cfg.ProbeInterval, o.ProbeInterval, "probe_interval", &derrs)
	setDuration(&cfg.ProbeTimeout, o.ProbeTimeout, "probe_timeout", &derrs)
	setDuration(&cfg.NegotiationTimeout, o.NegotiationTimeout, "negotiation_timeout", &derrs)
	setDuration(&cfg.LedgerFlushInterval, o.LedgerFlushInterval, "ledger_flush_interval", &derrs)

	setInt(&cfg.AssignQueueSize, o.AssignQueueSize)
	setInt(&cfg.LedgerQueueSize, o.LedgerQueueSize)
	setInt(&cfg.LedgerFlushBatchSize, o.LedgerFlushBatchSize)
	setInt(&cfg.LedgerRetainRows, o.LedgerRetainRows)
	setStr(&cfg.LedgerPruneSchedule, o.LedgerPruneSchedule)

	if len(derrs) > 0 {
		return fmt.Errorf("GRIDCAB_CONFIG_FILE %s: %s", path, derrs[0])
	}
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string, errs *[]string) {
	if src == nil {
		return
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, *src))
		return
	}
	*dst = d
}
