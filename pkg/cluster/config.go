package cluster

import (
	"fmt"
	"time"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// StorageBackend names where cluster state (and, for algorithm=raft, the
// Raft log) persists. Only memory is implemented; the others are named for
// config compatibility and rejected at validation with ferrors.ErrConfig.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageSled   StorageBackend = "sled"
	StorageEtcd   StorageBackend = "etcd"
	StorageConsul StorageBackend = "consul"
	StorageTiKV   StorageBackend = "tikv"
)

// Algorithm selects the Elector implementation.
type Algorithm string

const (
	AlgorithmRaft   Algorithm = "raft"
	AlgorithmPBFT   Algorithm = "pbft"
	AlgorithmSimple Algorithm = "simple"
)

// Config is the subset of cluster configuration keys spec.md §6 names as
// governing core behavior.
type Config struct {
	NodeName           string
	ClusterName        string
	BindAddress        string
	DataDir            string
	StorageBackend     StorageBackend
	ConsensusAlgorithm Algorithm
	IsInitialNode      bool
	BootstrapNodes     []string
	GossipInterval     time.Duration
	HeartbeatInterval  time.Duration
	ElectionTimeout    time.Duration

	MaxMissedHeartbeats int
	SuspicionTimeout    time.Duration
}

// Validate enforces spec.md §6's bounds and cross-field requirements.
func (c Config) Validate() error {
	if c.GossipInterval < 100*time.Millisecond {
		return fmt.Errorf("%w: gossip_interval must be >= 100ms", ferrors.ErrConfig)
	}
	if c.HeartbeatInterval < 100*time.Millisecond {
		return fmt.Errorf("%w: heartbeat_interval must be >= 100ms", ferrors.ErrConfig)
	}
	if c.ElectionTimeout < time.Second {
		return fmt.Errorf("%w: election_timeout must be >= 1s", ferrors.ErrConfig)
	}
	if !c.IsInitialNode && len(c.BootstrapNodes) == 0 {
		return fmt.Errorf("%w: non-initial nodes must have a non-empty bootstrap list", ferrors.ErrConfig)
	}
	switch c.ConsensusAlgorithm {
	case AlgorithmRaft, AlgorithmSimple:
	case AlgorithmPBFT:
		return fmt.Errorf("%w: consensus_algorithm=pbft is not implemented", ferrors.ErrConfig)
	default:
		return fmt.Errorf("%w: unknown consensus_algorithm %q", ferrors.ErrConfig, c.ConsensusAlgorithm)
	}
	switch c.StorageBackend {
	case StorageMemory:
	case StorageSled, StorageEtcd, StorageConsul, StorageTiKV:
		return fmt.Errorf("%w: storage_backend %q is not implemented", ferrors.ErrConfig, c.StorageBackend)
	default:
		return fmt.Errorf("%w: unknown storage_backend %q", ferrors.ErrConfig, c.StorageBackend)
	}
	return nil
}

// withDefaults fills zero-valued tunables with spec.md §5's defaults.
func (c Config) withDefaults() Config {
	if c.GossipInterval == 0 {
		c.GossipInterval = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 10 * time.Second
	}
	if c.MaxMissedHeartbeats == 0 {
		c.MaxMissedHeartbeats = 3
	}
	if c.SuspicionTimeout == 0 {
		c.SuspicionTimeout = 5 * time.Second
	}
	return c
}
