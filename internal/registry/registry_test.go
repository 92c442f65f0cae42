package registry

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dfs-lite/internal/agent"
	"dfs-lite/internal/config"
	"dfs-lite/internal/protocol"
	"dfs-lite/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Database) {
	t.Helper()
	db, err := storage.NewDatabase(config.DatabaseSQLite, filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := New(db, Options{
		RestartWindow:   300 * time.Millisecond,
		WaitInterval:    10 * time.Millisecond,
		HealthInterval:  100 * time.Millisecond,
		HealthTimeout:   50 * time.Millisecond,
		ResponseTimeout: time.Second,
	})
	return r, db
}

// join runs a handshake for a node announcing claimed and returns the id it
// was given plus the node's end of the connection.
func join(t *testing.T, r *Registry, claimed, capacity int64) (int64, net.Conn) {
	t.Helper()
	master, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })

	done := make(chan error, 1)
	go func() { done <- r.Handshake(master) }()

	require.NoError(t, protocol.WriteInt(peer, claimed))
	id, err := protocol.ReadInt(peer)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteInt(peer, capacity))
	require.NoError(t, <-done)
	return id, peer
}

// answer echoes OPEN pings on conn and reports every CLOSE on closes.
func answer(conn net.Conn, closes chan<- struct{}) {
	for {
		cmd, err := protocol.ReadString(conn)
		if err != nil {
			return
		}
		switch cmd {
		case protocol.CmdOpen:
			protocol.WriteString(conn, protocol.CmdOpen)
		case protocol.CmdClose:
			if closes != nil {
				closes <- struct{}{}
			}
			return
		}
	}
}

func status(t *testing.T, db *storage.Database, id int64) storage.NodeStatus {
	t.Helper()
	row, err := db.GetNode(id)
	require.NoError(t, err)
	return row.Status
}

func TestHandshakeAssignsID(t *testing.T) {
	r, db := newTestRegistry(t)

	id, _ := join(t, r, config.UnassignedNodeID, 500)
	assert.Positive(t, id)

	n, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(500), n.Capacity)
	assert.Equal(t, storage.StatusNew, n.Status(), "nodes joining before ready are new")

	row, err := db.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, int64(500), row.StorageSpace)
	assert.Equal(t, storage.StatusNew, row.Status)
}

func TestHandshakeUnknownIDGetsFreshOne(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	id, _ := join(t, r, 9999, 10)
	assert.NotEqual(t, int64(9999), id)

	n, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, storage.StatusConnected, n.Status())
}

func TestHandshakeReplacesPreviousSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	id, _ := join(t, r, config.UnassignedNodeID, 10)
	first, _ := r.Get(id)

	again, _ := join(t, r, id, 20)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, r.Len())

	second, ok := r.Get(id)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(20), second.Capacity)
	assert.Error(t, first.Session.Err(), "old session is closed")
}

func TestHandshakeRejectsNegativeCapacity(t *testing.T) {
	r, _ := newTestRegistry(t)

	master, peer := net.Pipe()
	defer peer.Close()
	done := make(chan error, 1)
	go func() { done <- r.Handshake(master) }()

	require.NoError(t, protocol.WriteInt(peer, config.UnassignedNodeID))
	_, err := protocol.ReadInt(peer)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteInt(peer, -5))

	assert.ErrorIs(t, <-done, ErrBadCapacity)
	assert.Zero(t, r.Len())
}

func TestRestartWindow(t *testing.T) {
	r, db := newTestRegistry(t)

	back := &storage.StorageNode{StorageSpace: 100, Status: storage.StatusRestart}
	gone := &storage.StorageNode{StorageSpace: 100, Status: storage.StatusRestart}
	require.NoError(t, db.CreateNode(back))
	require.NoError(t, db.CreateNode(gone))

	require.NoError(t, r.Recover())
	assert.Equal(t, 2, r.Pending())
	assert.False(t, r.Ready())

	id, _ := join(t, r, back.ID, 100)
	assert.Equal(t, back.ID, id)
	freshID, _ := join(t, r, config.UnassignedNodeID, 100)
	assert.Equal(t, 1, r.Pending())

	n, _ := r.Get(back.ID)
	assert.Equal(t, storage.StatusConnected, n.Status(), "a restarted node that returns is connected")

	require.NoError(t, r.WaitForRestarted(context.Background()))
	assert.True(t, r.Ready())
	assert.Zero(t, r.Pending())

	assert.Equal(t, storage.StatusLost, status(t, db, gone.ID))
	assert.Equal(t, storage.StatusConnected, status(t, db, back.ID))
	assert.Equal(t, storage.StatusConnected, status(t, db, freshID), "new nodes are promoted when the window ends")

	_, ok := r.Get(gone.ID)
	assert.False(t, ok)
}

func TestRestartWindowEndsEarly(t *testing.T) {
	r, db := newTestRegistry(t)
	r.opts.RestartWindow = time.Minute

	node := &storage.StorageNode{StorageSpace: 1, Status: storage.StatusRestart}
	require.NoError(t, db.CreateNode(node))
	require.NoError(t, r.Recover())

	done := make(chan error, 1)
	go func() { done <- r.WaitForRestarted(context.Background()) }()

	join(t, r, node.ID, 1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("window did not end once every node was back")
	}
	assert.True(t, r.Ready())
}

func TestCheckAllLosesOnlyFailingNode(t *testing.T) {
	r, db := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	healthy, _ := join(t, r, config.UnassignedNodeID, 10)
	failing, _ := join(t, r, config.UnassignedNodeID, 10)

	r.SetCheckFunction(func(n *Node) error {
		if n.ID == failing {
			return errors.New("no reply")
		}
		return nil
	})
	r.CheckAll()

	_, ok := r.Get(failing)
	assert.False(t, ok)
	assert.Equal(t, storage.StatusLost, status(t, db, failing))

	n, ok := r.Get(healthy)
	require.True(t, ok)
	assert.Equal(t, storage.StatusConnected, n.Status())
	assert.Equal(t, storage.StatusConnected, status(t, db, healthy))
}

// gatedStore holds the first lost-status write until gate is closed.
type gatedStore struct {
	*storage.Database
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (s *gatedStore) UpdateNodeStatus(id int64, st storage.NodeStatus) error {
	if st == storage.StatusLost {
		s.once.Do(func() {
			close(s.entered)
			<-s.gate
		})
	}
	return s.Database.UpdateNodeStatus(id, st)
}

func TestLoseRacingRejoinKeepsConnectedStatus(t *testing.T) {
	_, db := newTestRegistry(t)
	store := &gatedStore{Database: db, entered: make(chan struct{}), gate: make(chan struct{})}
	r := New(store, Options{
		RestartWindow:   10 * time.Millisecond,
		WaitInterval:    5 * time.Millisecond,
		HealthInterval:  time.Hour,
		HealthTimeout:   time.Second,
		ResponseTimeout: time.Second,
	})
	require.NoError(t, r.WaitForRestarted(context.Background()))

	id, _ := join(t, r, config.UnassignedNodeID, 10)
	n, _ := r.Get(id)

	lost := make(chan struct{})
	go func() {
		r.Lose(n, errors.New("no reply"))
		close(lost)
	}()
	<-store.entered

	master, peer := net.Pipe()
	defer peer.Close()
	rejoined := make(chan error, 1)
	go func() { rejoined <- r.Handshake(master) }()
	go func() {
		protocol.WriteInt(peer, id)
		protocol.ReadInt(peer)
		protocol.WriteInt(peer, 10)
	}()

	// let the rejoin run as far as it can while the loss is mid-write
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	<-lost
	require.NoError(t, <-rejoined)

	live, ok := r.Get(id)
	require.True(t, ok)
	assert.NotSame(t, n, live)
	assert.Equal(t, storage.StatusConnected, status(t, db, id))
}

func TestCheckAllPingTimeout(t *testing.T) {
	r, db := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	// one node runs a real agent, the other never answers
	store, err := agent.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ag := agent.New(config.DefaultNode(), "", store)

	alive, aliveConn := join(t, r, config.UnassignedNodeID, 10)
	go ag.Serve(aliveConn)
	silent, _ := join(t, r, config.UnassignedNodeID, 10)

	r.CheckAll()

	assert.Equal(t, 1, r.Len())
	_, ok := r.Get(alive)
	assert.True(t, ok)
	assert.Equal(t, storage.StatusLost, status(t, db, silent))
	assert.Equal(t, storage.StatusConnected, status(t, db, alive))
}

func TestCheckAllSkipsBusyNode(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	id, _ := join(t, r, config.UnassignedNodeID, 10)
	n, _ := r.Get(id)
	require.True(t, n.Session.TryAcquire())

	r.SetCheckFunction(func(*Node) error { return errors.New("should not be called") })
	r.CheckAll()

	_, ok := r.Get(id)
	assert.True(t, ok, "a node held by a data operation is not health checked")
	n.Session.Release()
}

func TestShutdownSendsClose(t *testing.T) {
	r, db := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	closes := make(chan struct{}, 2)
	var ids []int64
	for i := 0; i < 2; i++ {
		id, conn := join(t, r, config.UnassignedNodeID, 10)
		go answer(conn, closes)
		ids = append(ids, id)
	}

	r.Shutdown(context.Background())

	require.Eventually(t, func() bool { return len(closes) == 2 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, r.Len())
	for _, id := range ids {
		assert.Equal(t, storage.StatusRestart, status(t, db, id))
	}

	master, peer := net.Pipe()
	defer peer.Close()
	go func() {
		protocol.WriteInt(peer, config.UnassignedNodeID)
		protocol.ReadInt(peer)
		protocol.WriteInt(peer, 10)
	}()
	assert.ErrorIs(t, r.Handshake(master), ErrRegistryShut)
}

func TestServeAcceptsAgents(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.WaitForRestarted(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx, ln) }()

	cfg := config.DefaultNode()
	cfg.MasterAddr = ln.Addr().String()
	cfg.Capacity = 4096
	cfg.ConnectWait = 10 * time.Millisecond
	store, err := agent.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	go agent.New(cfg, "", store).Run(ctx)

	require.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	n := r.Snapshot()[0]
	assert.Equal(t, int64(4096), n.Capacity)

	r.CheckAll()
	assert.Equal(t, 1, r.Len(), "agent answers pings")

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
