package registry

import (
	"context"
	"log"
	"time"

	"dfs-lite/internal/storage"
)

// Recover loads the nodes that were live when the master last shut down.
// They are not live yet; WaitForRestarted gives them a window to reconnect.
func (r *Registry) Recover() error {
	nodes, err := r.store.ListNodesByStatus(storage.StatusRestart)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, n := range nodes {
		r.pending[n.ID] = struct{}{}
	}
	r.mu.Unlock()
	log.Printf("Waiting for %d restarted node(s)", len(nodes))
	return nil
}

// Pending returns how many recovered nodes have not reconnected yet.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// WaitForRestarted polls until every recovered node has reconnected or the
// restart window runs out. Stragglers are marked lost, nodes that joined
// during the window are promoted to connected and the registry becomes
// ready.
func (r *Registry) WaitForRestarted(ctx context.Context) error {
	deadline := time.Now().Add(r.opts.RestartWindow)
	ticker := time.NewTicker(r.opts.WaitInterval)
	defer ticker.Stop()

	for r.Pending() > 0 && time.Now().Before(deadline) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	stragglers := make([]int64, 0, len(r.pending))
	for id := range r.pending {
		stragglers = append(stragglers, id)
	}
	r.pending = make(map[int64]struct{})

	var promoted []*Node
	for _, n := range r.nodes {
		if n.Status() == storage.StatusNew {
			n.setStatus(storage.StatusConnected)
			promoted = append(promoted, n)
		}
	}
	r.ready.Store(true)
	r.mu.Unlock()

	for _, id := range stragglers {
		if err := r.store.UpdateNodeStatus(id, storage.StatusLost); err != nil {
			log.Printf("Failed to mark node %d lost: %v", id, err)
			continue
		}
		log.Printf("Node %d did not reconnect in time, marked lost", id)
	}
	for _, n := range promoted {
		if err := r.store.UpdateNodeStatus(n.ID, storage.StatusConnected); err != nil {
			log.Printf("Failed to persist status of node %d: %v", n.ID, err)
		}
	}

	log.Printf("Restart window over: %d node(s) live, %d lost", r.Len(), len(stragglers))
	return nil
}
