// Package master coordinates the storage nodes: it shards uploads across the
// live nodes, reassembles downloads, deletes parts and keeps the space
// accounting, on top of the node registry and the metadata database.
package master

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"dfs-lite/internal/config"
	"dfs-lite/internal/registry"
	"dfs-lite/internal/storage"
)

type Master struct {
	cfg   config.MasterConfig
	db    *storage.Database
	nodes *registry.Registry

	startTime time.Time
	closeOnce sync.Once
	done      chan struct{}
}

func New(cfg config.MasterConfig, db *storage.Database) *Master {
	return &Master{
		cfg: cfg,
		db:  db,
		nodes: registry.New(db, registry.Options{
			RestartWindow:   cfg.RestartWindow,
			WaitInterval:    cfg.WaitInterval,
			HealthInterval:  cfg.HealthInterval,
			HealthTimeout:   cfg.HealthTimeout,
			ResponseTimeout: cfg.ResponseTimeout,
		}),
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

func (m *Master) Nodes() *registry.Registry {
	return m.nodes
}

func (m *Master) Ready() bool {
	return m.nodes.Ready()
}

func (m *Master) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Start accepts node handshakes on nodeLn, waits out the restart window for
// nodes known from the previous run and then starts the health checks. It
// returns once the master is ready; the listener and the health checks keep
// running until ctx is done.
func (m *Master) Start(ctx context.Context, nodeLn net.Listener) error {
	if err := m.nodes.Recover(); err != nil {
		return err
	}

	go func() {
		if err := m.nodes.Serve(ctx, nodeLn); err != nil {
			log.Printf("Node listener stopped: %v", err)
		}
	}()

	log.Println("Start synchronization period")
	if err := m.nodes.WaitForRestarted(ctx); err != nil {
		return err
	}
	log.Println("End synchronization period")

	go m.nodes.RunHealthChecks(ctx)
	return nil
}

// Close tells every node the master is going away and persists them as
// restart. Done is closed afterwards. Calling Close again does nothing.
func (m *Master) Close(ctx context.Context) {
	m.closeOnce.Do(func() {
		m.nodes.Shutdown(ctx)
		close(m.done)
		log.Println("Master closed")
	})
}

// Done is closed once Close has run, e.g. after a close command.
func (m *Master) Done() <-chan struct{} {
	return m.done
}

// withSession runs fn on n's session while holding its exclusive-use token.
func withSession(ctx context.Context, n *registry.Node, fn func() error) error {
	if err := n.Session.Acquire(ctx); err != nil {
		return err
	}
	defer n.Session.Release()
	return fn()
}
