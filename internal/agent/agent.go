// Package agent runs on each storage node. It announces itself to the
// master, then answers the master's commands one at a time on that single
// connection, storing parts in a local PartStore.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"dfs-lite/internal/config"
	"dfs-lite/internal/protocol"

	"golang.org/x/time/rate"
)

type Agent struct {
	cfg     *config.NodeConfig
	cfgPath string
	store   PartStore
	limiter *rate.Limiter
	dialer  net.Dialer
}

// New builds an agent. cfgPath is where the node config is rewritten after
// each handshake; empty keeps the id in memory only.
func New(cfg *config.NodeConfig, cfgPath string, store PartStore) *Agent {
	return &Agent{
		cfg:     cfg,
		cfgPath: cfgPath,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(cfg.ConnectWait), 1),
	}
}

func (a *Agent) NodeID() int64 {
	return a.cfg.NodeID
}

// Run repeats the connect, handshake, serve cycle until ctx is done. Any
// failure while talking to the master starts the cycle over on a fresh
// connection.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		err := a.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, ErrMasterClosed):
			log.Printf("Master closed the session, reconnecting")
		case err != nil:
			log.Printf("Connection to master lost: %v", err)
		}
	}
}

func (a *Agent) runOnce(ctx context.Context) error {
	conn, err := a.dialer.DialContext(ctx, "tcp", a.cfg.MasterAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock reads when the agent is stopped
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Printf("Connection established with %s", a.cfg.MasterAddr)

	if err := a.Handshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	return a.Serve(conn)
}

// Handshake announces the stored id, adopts the id the master answers with
// and declares the node's capacity.
func (a *Agent) Handshake(conn net.Conn) error {
	if err := protocol.WriteInt(conn, a.cfg.NodeID); err != nil {
		return err
	}
	id, err := protocol.ReadInt(conn)
	if err != nil {
		return err
	}
	if err := protocol.WriteInt(conn, a.cfg.Capacity); err != nil {
		return err
	}

	if id != a.cfg.NodeID {
		log.Printf("Master assigned node id %d (was %d)", id, a.cfg.NodeID)
	}
	a.cfg.NodeID = id
	if a.cfgPath != "" {
		if err := config.SaveNodeConfig(a.cfgPath, a.cfg); err != nil {
			return err
		}
	}
	return nil
}

// Serve answers commands until the connection fails or the master sends
// CLOSE, in which case ErrMasterClosed is returned.
func (a *Agent) Serve(conn net.Conn) error {
	for {
		cmd, err := protocol.ReadString(conn)
		if err != nil {
			return err
		}

		switch cmd {
		case protocol.CmdOpen:
			err = protocol.WriteString(conn, protocol.CmdOpen)
		case protocol.CmdClose:
			log.Println("Close command received")
			return ErrMasterClosed
		case protocol.CmdUpload:
			err = a.withOK(conn, a.upload)
		case protocol.CmdDownload:
			err = a.withOK(conn, a.download)
		case protocol.CmdDelete:
			err = a.withOK(conn, a.delete)
		case protocol.CmdSearch:
			err = a.withOK(conn, a.search)
		default:
			log.Printf("Unrecognized command %q", cmd)
			err = protocol.WriteString(conn, protocol.ReplyUnknown)
		}
		if err != nil {
			return err
		}
	}
}

func (a *Agent) withOK(conn net.Conn, fn func(net.Conn) error) error {
	if err := protocol.WriteString(conn, protocol.ReplyOK); err != nil {
		return err
	}
	return fn(conn)
}

func reply(conn net.Conn, err error) error {
	if err != nil {
		return protocol.WriteString(conn, protocol.ReplyFail)
	}
	return protocol.WriteString(conn, protocol.ReplyOK)
}

func (a *Agent) upload(conn net.Conn) error {
	name, err := protocol.ReadString(conn)
	if err != nil {
		return err
	}
	if err := validName(name); err != nil {
		log.Printf("Upload refused: %v", err)
		return reply(conn, err)
	}
	if err := reply(conn, nil); err != nil {
		return err
	}

	size, err := protocol.ReadInt(conn)
	if err != nil {
		return err
	}
	if size < 0 {
		return reply(conn, fmt.Errorf("negative part size %d", size))
	}
	if err := reply(conn, nil); err != nil {
		return err
	}

	data, err := protocol.ReadBytes(conn)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		log.Printf("Upload of %s announced %d bytes but carried %d", name, size, len(data))
		return reply(conn, protocol.ErrMalformedFrame)
	}

	err = a.store.Put(name, data)
	if err != nil {
		log.Printf("Failed to store part %s: %v", name, err)
	} else {
		log.Printf("Part %s uploaded (%d bytes)", name, size)
	}
	return reply(conn, err)
}

func (a *Agent) download(conn net.Conn) error {
	name, err := protocol.ReadString(conn)
	if err != nil {
		return err
	}

	data, err := a.store.Get(name)
	if err != nil {
		log.Printf("Download of %s failed: %v", name, err)
		return protocol.WriteInt(conn, protocol.NotFound)
	}
	if err := protocol.WriteInt(conn, int64(len(data))); err != nil {
		return err
	}

	ready, err := protocol.ReadString(conn)
	if err != nil {
		return err
	}
	if ready != protocol.ReplySend {
		return fmt.Errorf("%w: want %s, got %s", protocol.ErrUnexpectedReply, protocol.ReplySend, ready)
	}
	if err := protocol.WriteBytes(conn, data); err != nil {
		return err
	}
	log.Printf("Part %s downloaded", name)
	return nil
}

// delete treats a missing part as the caller's mistake and answers FAIL.
func (a *Agent) delete(conn net.Conn) error {
	name, err := protocol.ReadString(conn)
	if err != nil {
		return err
	}
	err = a.store.Delete(name)
	if err != nil {
		log.Printf("Delete of %s failed: %v", name, err)
	} else {
		log.Printf("Part %s deleted", name)
	}
	return reply(conn, err)
}

func (a *Agent) search(conn net.Conn) error {
	substr, err := protocol.ReadBytes(conn)
	if err != nil {
		return err
	}
	names, err := a.store.Search(substr)
	if err != nil {
		log.Printf("Search failed: %v", err)
	}
	if len(names) == 0 {
		return protocol.WriteString(conn, protocol.ReplyNone)
	}
	return protocol.WriteString(conn, strings.Join(names, ","))
}
