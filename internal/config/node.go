package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type StoreBackend string

const (
	StoreDisk   StoreBackend = "disk"
	StoreBadger StoreBackend = "badger"
)

// UnassignedNodeID is announced by a node that has never completed a handshake.
const UnassignedNodeID int64 = -1

// NodeConfig is the node-local configuration. It is rewritten after every
// handshake so that a restarted node re-announces the id the master gave it.
type NodeConfig struct {
	MasterAddr  string        `yaml:"master_addr"`
	Capacity    int64         `yaml:"capacity"`
	StorageDir  string        `yaml:"storage_dir"`
	Backend     StoreBackend  `yaml:"backend"`
	NodeID      int64         `yaml:"node_id"`
	ConnectWait time.Duration `yaml:"connect_wait"`
}

func DefaultNode() *NodeConfig {
	return &NodeConfig{
		MasterAddr:  "localhost:18980",
		Capacity:    1 << 30,
		StorageDir:  "./parts",
		Backend:     StoreDisk,
		NodeID:      UnassignedNodeID,
		ConnectWait: time.Second,
	}
}

func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read node config: %w", err)
	}

	cfg := DefaultNode()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse node config: %w", err)
	}

	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("capacity must not be negative: %d", cfg.Capacity)
	}
	switch cfg.Backend {
	case StoreDisk, StoreBadger:
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}

	return cfg, nil
}

// SaveNodeConfig writes the config atomically so a crash mid-write never
// leaves a node without its identity.
func SaveNodeConfig(path string, cfg *NodeConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write node config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace node config: %w", err)
	}
	return nil
}
