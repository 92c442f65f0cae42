package agent

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"dfs-lite/internal/config"
	"dfs-lite/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	cfg := config.DefaultNode()
	cfg.Capacity = 1000
	cfg.ConnectWait = 10 * time.Millisecond
	return New(cfg, "", store)
}

// serveSession starts a.Serve on one end of a pipe and returns the master's
// session on the other end, plus the Serve result.
func serveSession(t *testing.T, a *Agent) (*protocol.Session, <-chan error) {
	t.Helper()
	master, node := net.Pipe()
	done := make(chan error, 1)
	go func() {
		defer node.Close()
		done <- a.Serve(node)
	}()
	s := protocol.NewSession(master, time.Second)
	t.Cleanup(func() { s.Close() })
	return s, done
}

func TestServePartLifecycle(t *testing.T) {
	a := newTestAgent(t)
	s, _ := serveSession(t, a)

	require.NoError(t, s.Ping(time.Second))
	require.NoError(t, s.Upload("7_0", []byte("first half")))
	require.NoError(t, s.Upload("7_1", []byte("second half")))

	data, err := s.Download("7_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second half"), data)

	names, err := s.Search([]byte("half"))
	require.NoError(t, err)
	assert.Equal(t, []string{"7_0", "7_1"}, names)

	require.NoError(t, s.Delete("7_0"))
	_, err = s.Download("7_0")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	names, err = s.Search([]byte("nothing like this"))
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoError(t, s.Err())
}

func TestServeRefusals(t *testing.T) {
	a := newTestAgent(t)
	s, _ := serveSession(t, a)

	assert.ErrorIs(t, s.Delete("8_0"), protocol.ErrRefused)
	assert.ErrorIs(t, s.Upload("../8_0", []byte("x")), protocol.ErrRefused)
	assert.NoError(t, s.Err(), "refusals keep the session in step")

	require.NoError(t, s.Upload("8_0", []byte{}))
	data, err := s.Download("8_0")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestServeUnknownAndClose(t *testing.T) {
	a := newTestAgent(t)
	master, node := net.Pipe()
	defer master.Close()
	done := make(chan error, 1)
	go func() {
		defer node.Close()
		done <- a.Serve(node)
	}()

	require.NoError(t, protocol.WriteString(master, "format"))
	reply, err := protocol.ReadString(master)
	require.NoError(t, err)
	assert.Equal(t, protocol.ReplyUnknown, reply)

	require.NoError(t, protocol.WriteString(master, protocol.CmdOpen))
	reply, err = protocol.ReadString(master)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdOpen, reply)

	require.NoError(t, protocol.WriteString(master, protocol.CmdClose))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMasterClosed)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after CLOSE")
	}
}

func TestHandshakePersistsAssignedID(t *testing.T) {
	a := newTestAgent(t)
	a.cfgPath = filepath.Join(t.TempDir(), "node.yaml")

	master, node := net.Pipe()
	defer master.Close()
	done := make(chan error, 1)
	go func() {
		defer node.Close()
		done <- a.Handshake(node)
	}()

	announced, err := protocol.ReadInt(master)
	require.NoError(t, err)
	assert.Equal(t, config.UnassignedNodeID, announced)
	require.NoError(t, protocol.WriteInt(master, 12))
	capacity, err := protocol.ReadInt(master)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), capacity)

	require.NoError(t, <-done)
	assert.Equal(t, int64(12), a.NodeID())

	saved, err := config.LoadNodeConfig(a.cfgPath)
	require.NoError(t, err)
	assert.Equal(t, int64(12), saved.NodeID)
	assert.Equal(t, int64(1000), saved.Capacity)
}

func TestRunReconnectsAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a := newTestAgent(t)
	a.cfg.MasterAddr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// first session: assign id 3, then close
	conn, err := ln.Accept()
	require.NoError(t, err)
	id, err := protocol.ReadInt(conn)
	require.NoError(t, err)
	assert.Equal(t, config.UnassignedNodeID, id)
	require.NoError(t, protocol.WriteInt(conn, 3))
	_, err = protocol.ReadInt(conn)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteString(conn, protocol.CmdClose))
	conn.Close()

	// the agent comes back announcing the id it was given
	conn, err = ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	id, err = protocol.ReadInt(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
