package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"dfs-lite/internal/config"
	"dfs-lite/internal/protocol"
	"dfs-lite/internal/storage"
)

// Serve accepts node connections on ln until ctx is done. Each handshake
// runs on its own goroutine so a slow node never holds up the others.
func (r *Registry) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Printf("Listening for storage nodes on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		go func() {
			if err := r.Handshake(conn); err != nil {
				log.Printf("Handshake with %s failed: %v", conn.RemoteAddr(), err)
				conn.Close()
			}
		}()
	}
}

// Handshake binds conn to a node id and adds the node to the live set. The
// node announces its stored id (or -1), receives the id it is to use from
// now on, then declares its capacity.
func (r *Registry) Handshake(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(r.opts.ResponseTimeout))

	claimed, err := protocol.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("read node id: %w", err)
	}

	if r.isClosed() {
		return ErrRegistryShut
	}

	node := &Node{Address: conn.RemoteAddr().String()}
	if err := r.resolve(node, claimed); err != nil {
		return err
	}

	if err := protocol.WriteInt(conn, node.ID); err != nil {
		return fmt.Errorf("send node id: %w", err)
	}
	capacity, err := protocol.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("read capacity: %w", err)
	}
	if capacity < 0 {
		return fmt.Errorf("%w: %d", ErrBadCapacity, capacity)
	}
	node.Capacity = capacity
	conn.SetDeadline(time.Time{})

	node.Session = protocol.NewSession(conn, r.opts.ResponseTimeout)
	old, err := r.join(node)
	if err != nil {
		return err
	}
	if old != nil {
		log.Printf("Node %d reconnected, dropping its previous session", node.ID)
		old.Session.Close()
	}

	log.Printf("Node %d joined from %s (%s, %d bytes)", node.ID, node.Address, node.Status(), node.Capacity)
	return nil
}

// join persists node and adds it to the live set as one step with respect
// to Lose.
func (r *Registry) join(node *Node) (*Node, error) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if err := r.store.SaveNode(node.record()); err != nil {
		return nil, fmt.Errorf("persist node %d: %w", node.ID, err)
	}

	old, promoted, err := r.add(node)
	if err != nil {
		// shutting down: leave the node to be waited for by the next start
		r.store.UpdateNodeStatus(node.ID, storage.StatusRestart)
		return nil, err
	}
	if promoted {
		if err := r.store.UpdateNodeStatus(node.ID, storage.StatusConnected); err != nil {
			log.Printf("Failed to persist status of node %d: %v", node.ID, err)
		}
	}
	return old, nil
}

// resolve settles the id and initial status of a handshaking node.
func (r *Registry) resolve(node *Node, claimed int64) error {
	status := storage.StatusConnected
	if !r.Ready() {
		status = storage.StatusNew
	}

	if claimed != config.UnassignedNodeID {
		_, err := r.store.GetNode(claimed)
		switch {
		case err == nil:
			node.ID = claimed
			if r.isPending(claimed) {
				status = storage.StatusConnected
			}
			node.setStatus(status)
			return nil
		case errors.Is(err, storage.ErrNodeNotFound):
			log.Printf("Node announced unknown id %d, assigning a new one", claimed)
		default:
			return fmt.Errorf("look up node %d: %w", claimed, err)
		}
	}

	node.setStatus(status)
	row := node.record()
	if err := r.store.CreateNode(row); err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	node.ID = row.ID
	return nil
}

// isPending reports whether id is a node the restart window is waiting for.
func (r *Registry) isPending(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
