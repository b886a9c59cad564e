package cluster

import (
	"errors"
	"testing"
	"time"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

func validConfig() Config {
	return Config{
		NodeName:           "node-a",
		ClusterName:        "test",
		BindAddress:        "127.0.0.1:7100",
		DataDir:            "/tmp/cluster-test",
		StorageBackend:     StorageMemory,
		ConsensusAlgorithm: AlgorithmSimple,
		IsInitialNode:      true,
		GossipInterval:     5 * time.Second,
		HeartbeatInterval:  time.Second,
		ElectionTimeout:    10 * time.Second,
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsLowGossipInterval(t *testing.T) {
	cfg := validConfig()
	cfg.GossipInterval = 50 * time.Millisecond
	if err := cfg.Validate(); !errors.Is(err, ferrors.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidateRejectsLowElectionTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.ElectionTimeout = 500 * time.Millisecond
	if err := cfg.Validate(); !errors.Is(err, ferrors.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidateRequiresBootstrapForNonInitialNode(t *testing.T) {
	cfg := validConfig()
	cfg.IsInitialNode = false
	cfg.BootstrapNodes = nil
	if err := cfg.Validate(); !errors.Is(err, ferrors.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidateRejectsPBFT(t *testing.T) {
	cfg := validConfig()
	cfg.ConsensusAlgorithm = AlgorithmPBFT
	if err := cfg.Validate(); !errors.Is(err, ferrors.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidateRejectsUnimplementedStorageBackend(t *testing.T) {
	cfg := validConfig()
	cfg.StorageBackend = StorageEtcd
	if err := cfg.Validate(); !errors.Is(err, ferrors.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.GossipInterval != 5*time.Second {
		t.Errorf("gossip default = %v", cfg.GossipInterval)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Errorf("heartbeat default = %v", cfg.HeartbeatInterval)
	}
	if cfg.ElectionTimeout != 10*time.Second {
		t.Errorf("election default = %v", cfg.ElectionTimeout)
	}
	if cfg.MaxMissedHeartbeats != 3 {
		t.Errorf("max missed default = %d", cfg.MaxMissedHeartbeats)
	}
	if cfg.SuspicionTimeout != 5*time.Second {
		t.Errorf("suspicion default = %v", cfg.SuspicionTimeout)
	}
}
