// Package registry keeps the master's set of live storage nodes. It owns the
// node lifecycle: handshakes, the restart window after a master restart,
// health checks and the final CLOSE on shutdown.
package registry

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dfs-lite/internal/protocol"
	"dfs-lite/internal/storage"

	"golang.org/x/exp/slices"
)

// NodeStore is the part of the metadata store the registry persists to.
type NodeStore interface {
	CreateNode(node *storage.StorageNode) error
	GetNode(id int64) (*storage.StorageNode, error)
	SaveNode(node *storage.StorageNode) error
	UpdateNodeStatus(id int64, status storage.NodeStatus) error
	ListNodesByStatus(status storage.NodeStatus) ([]storage.StorageNode, error)
}

type Options struct {
	RestartWindow   time.Duration
	WaitInterval    time.Duration
	HealthInterval  time.Duration
	HealthTimeout   time.Duration
	ResponseTimeout time.Duration
}

// Node is one live membership: a node id bound to the session opened by its
// handshake. Everything but the status is fixed for the node's lifetime.
type Node struct {
	ID       int64
	Address  string
	Capacity int64
	Session  *protocol.Session

	mu     sync.Mutex
	status storage.NodeStatus
}

func (n *Node) Status() storage.NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Node) setStatus(status storage.NodeStatus) {
	n.mu.Lock()
	n.status = status
	n.mu.Unlock()
}

func (n *Node) record() *storage.StorageNode {
	return &storage.StorageNode{
		ID:           n.ID,
		Address:      n.Address,
		StorageSpace: n.Capacity,
		Status:       n.Status(),
	}
}

type Registry struct {
	store NodeStore
	opts  Options

	// mu guards membership only. No network I/O happens while it is held.
	mu      sync.Mutex
	nodes   []*Node
	pending map[int64]struct{}
	ready   atomic.Bool
	closed  bool

	// persistMu orders a membership change together with the status write
	// that goes with it, so a loss and a rejoin of the same id cannot leave
	// the stored status behind the live set.
	persistMu sync.Mutex

	checkFunc func(n *Node) error
}

func New(store NodeStore, opts Options) *Registry {
	r := &Registry{
		store:   store,
		opts:    opts,
		pending: make(map[int64]struct{}),
	}
	r.checkFunc = r.ping
	return r
}

// Ready reports whether the restart window is over.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// Snapshot returns the live nodes in registry order. The slice is a copy, so
// callers may fan out over it without holding up handshakes.
func (r *Registry) Snapshot() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.nodes)
}

// Get returns the live node with the given id.
func (r *Registry) Get(id int64) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.nodes, func(n *Node) bool { return n.ID == id })
	if i < 0 {
		return nil, false
	}
	return r.nodes[i], true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// add appends n, replacing any older membership of the same id, and stops
// the restart window from waiting for it. The replaced node is returned so
// the caller can close its session outside the lock; promoted reports that
// n joined as new after the window closed and is now connected.
func (r *Registry) add(n *Node) (old *Node, promoted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrRegistryShut
	}

	if r.ready.Load() && n.Status() == storage.StatusNew {
		n.setStatus(storage.StatusConnected)
		promoted = true
	}
	delete(r.pending, n.ID)

	if i := slices.IndexFunc(r.nodes, func(m *Node) bool { return m.ID == n.ID }); i >= 0 {
		old = r.nodes[i]
		r.nodes = slices.Delete(r.nodes, i, i+1)
	}
	r.nodes = append(r.nodes, n)
	return old, promoted, nil
}

// remove drops exactly n. It reports false if n was already gone.
func (r *Registry) remove(n *Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.nodes, n)
	if i < 0 {
		return false
	}
	r.nodes = slices.Delete(r.nodes, i, i+1)
	return true
}

// Lose removes n from the live set, persists it as lost and closes its
// session. The node has to handshake again to come back.
func (r *Registry) Lose(n *Node, cause error) {
	r.persistMu.Lock()
	if !r.remove(n) {
		r.persistMu.Unlock()
		return
	}
	n.setStatus(storage.StatusLost)
	if err := r.store.UpdateNodeStatus(n.ID, storage.StatusLost); err != nil {
		log.Printf("Failed to persist lost status of node %d: %v", n.ID, err)
	}
	r.persistMu.Unlock()

	n.Session.Close()
	log.Printf("Node %d lost: %v", n.ID, cause)
}
