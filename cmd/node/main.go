package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dfs-lite/internal/agent"
	"dfs-lite/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/node.yaml", "path to the node config file")
	master := flag.String("master", "", "master address, overrides the config file")
	capacity := flag.Int64("capacity", 0, "declared capacity in bytes, overrides the config file")
	flag.Parse()

	cfg, err := loadNodeConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *master != "" {
		cfg.MasterAddr = *master
	}
	if *capacity > 0 {
		cfg.Capacity = *capacity
	}

	store, err := agent.OpenStore(cfg.Backend, cfg.StorageDir)
	if err != nil {
		log.Fatalf("Failed to open part store: %v", err)
	}
	defer store.Close()

	log.Printf("Node storing parts in %s (%s), capacity %d bytes", cfg.StorageDir, cfg.Backend, cfg.Capacity)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = agent.New(cfg, *configPath, store).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Node stopped: %v", err)
	}
	log.Println("Node exited")
}

// loadNodeConfig falls back to defaults on first start. The file is written
// once the master has assigned an id.
func loadNodeConfig(path string) (*config.NodeConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Config file not found: %s, starting as a new node", path)
		return config.DefaultNode(), nil
	}
	return config.LoadNodeConfig(path)
}
