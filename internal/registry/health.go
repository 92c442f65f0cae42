package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"dfs-lite/internal/storage"
)

// SetCheckFunction replaces the OPEN ping used by health checks. Tests use it
// to fail nodes on demand.
func (r *Registry) SetCheckFunction(fn func(n *Node) error) {
	r.checkFunc = fn
}

func (r *Registry) ping(n *Node) error {
	return n.Session.Ping(r.opts.HealthTimeout)
}

// RunHealthChecks checks every live node once per health interval until ctx
// is done.
func (r *Registry) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HealthInterval)
	defer ticker.Stop()

	log.Printf("Health checks started with interval %v", r.opts.HealthInterval)
	for {
		select {
		case <-ticker.C:
			r.CheckAll()
		case <-ctx.Done():
			log.Println("Health checks stopped")
			return
		}
	}
}

// CheckAll pings every live node in parallel and drops the ones that fail.
// A node whose session is held by a data operation is skipped this round;
// that operation is talking to it anyway.
func (r *Registry) CheckAll() {
	var wg sync.WaitGroup
	for _, n := range r.Snapshot() {
		if !n.Session.TryAcquire() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.checkFunc(n)
			n.Session.Release()
			if err != nil {
				r.Lose(n, err)
			}
		}()
	}
	wg.Wait()
}

// Shutdown sends CLOSE to every live node and persists them as restart, so
// the next master start waits for them. No node can join afterwards.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	nodes := r.nodes
	r.nodes = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.setStatus(storage.StatusRestart)
			if err := r.store.UpdateNodeStatus(n.ID, storage.StatusRestart); err != nil {
				log.Printf("Failed to persist restart status of node %d: %v", n.ID, err)
			}

			if err := n.Session.Acquire(ctx); err != nil {
				n.Session.Close()
				return
			}
			if err := n.Session.SendClose(); err != nil {
				log.Printf("Failed to send CLOSE to node %d: %v", n.ID, err)
			}
		}()
	}
	wg.Wait()
	log.Printf("Sent CLOSE to %d node(s)", len(nodes))
}
