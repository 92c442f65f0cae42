package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Session is the master's end of the one persistent connection it keeps per
// node. A node's socket carries strictly one exchange at a time, so every
// exchange holds the session token for its whole duration. Data operations
// wait for the token; health checks only try it and skip a busy node.
//
// Any transport failure or timeout leaves the stream in an unknown position,
// so the session is closed and every later exchange fails fast. A clean
// refusal from the node (FAIL, NotFound) keeps the session usable.
type Session struct {
	conn    net.Conn
	timeout time.Duration
	token   chan struct{}

	mu     sync.Mutex
	broken error
}

func NewSession(conn net.Conn, timeout time.Duration) *Session {
	s := &Session{
		conn:    conn,
		timeout: timeout,
		token:   make(chan struct{}, 1),
	}
	s.token <- struct{}{}
	return s
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Acquire blocks until the session is free or ctx is done.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case <-s.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the session only if nobody else holds it.
func (s *Session) TryAcquire() bool {
	select {
	case <-s.token:
		return true
	default:
		return false
	}
}

func (s *Session) Release() {
	s.token <- struct{}{}
}

// Err reports why the session was closed, or nil while it is usable.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// Close shuts the connection down. It is safe to call more than once.
func (s *Session) Close() error {
	return s.fail(ErrSessionClosed)
}

func (s *Session) fail(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return nil
	}
	s.broken = cause
	return s.conn.Close()
}

// exchange runs fn against the connection, mapping timeouts to ErrTimeout
// and closing the session on transport errors. Every read and write of fn
// gets its own deadline of timeout.
func (s *Session) exchange(timeout time.Duration, fn func(c net.Conn) error) error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}

	err := fn(&stepConn{Conn: s.conn, timeout: timeout})
	if err == nil || errors.Is(err, ErrRefused) || errors.Is(err, ErrNotFound) {
		return err
	}

	if isTimeout(err) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	s.fail(err)
	return err
}

// stepChunk bounds how much of a payload one write deadline covers.
const stepChunk = 64 << 10

// stepConn renews the deadline before each read and before each chunk of a
// write, so a transfer that keeps moving never runs out of time while a
// single stalled step still does.
type stepConn struct {
	net.Conn
	timeout time.Duration
}

func (c *stepConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *stepConn) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := p[:min(len(p), stepChunk)]
		if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return written, err
		}
		n, err := c.Conn.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func expect(c net.Conn, want string) error {
	got, err := ReadString(c)
	if err != nil {
		return err
	}
	if got == ReplyFail && want != ReplyFail {
		return ErrRefused
	}
	if got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedReply, want, got)
	}
	return nil
}

func command(c net.Conn, cmd string) error {
	if err := WriteString(c, cmd); err != nil {
		return err
	}
	return expect(c, ReplyOK)
}

// Ping sends OPEN and waits for the echo. The caller must hold the token.
func (s *Session) Ping(timeout time.Duration) error {
	return s.exchange(timeout, func(c net.Conn) error {
		if err := WriteString(c, CmdOpen); err != nil {
			return err
		}
		return expect(c, CmdOpen)
	})
}

// Upload stores data on the node under name. The caller must hold the token.
func (s *Session) Upload(name string, data []byte) error {
	return s.exchange(s.timeout, func(c net.Conn) error {
		if err := command(c, CmdUpload); err != nil {
			return err
		}
		if err := WriteString(c, name); err != nil {
			return err
		}
		if err := expect(c, ReplyOK); err != nil {
			return err
		}
		if err := WriteInt(c, int64(len(data))); err != nil {
			return err
		}
		if err := expect(c, ReplyOK); err != nil {
			return err
		}
		if err := WriteBytes(c, data); err != nil {
			return err
		}
		return expect(c, ReplyOK)
	})
}

// Download fetches the part stored under name. The caller must hold the token.
func (s *Session) Download(name string) ([]byte, error) {
	var data []byte
	err := s.exchange(s.timeout, func(c net.Conn) error {
		if err := command(c, CmdDownload); err != nil {
			return err
		}
		if err := WriteString(c, name); err != nil {
			return err
		}
		size, err := ReadInt(c)
		if err != nil {
			return err
		}
		if size == NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if size < 0 {
			return fmt.Errorf("%w: negative length %d", ErrMalformedFrame, size)
		}
		if err := WriteString(c, ReplySend); err != nil {
			return err
		}
		data, err = ReadBytes(c)
		if err != nil {
			return err
		}
		if int64(len(data)) != size {
			return fmt.Errorf("%w: announced %d bytes, received %d", ErrMalformedFrame, size, len(data))
		}
		return nil
	})
	return data, err
}

// Delete removes the part stored under name. The caller must hold the token.
func (s *Session) Delete(name string) error {
	return s.exchange(s.timeout, func(c net.Conn) error {
		if err := command(c, CmdDelete); err != nil {
			return err
		}
		if err := WriteString(c, name); err != nil {
			return err
		}
		return expect(c, ReplyOK)
	})
}

// Search asks the node for the names of parts containing substr. The caller
// must hold the token.
func (s *Session) Search(substr []byte) ([]string, error) {
	var names []string
	err := s.exchange(s.timeout, func(c net.Conn) error {
		if err := command(c, CmdSearch); err != nil {
			return err
		}
		if err := WriteBytes(c, substr); err != nil {
			return err
		}
		reply, err := ReadString(c)
		if err != nil {
			return err
		}
		if reply != ReplyNone && reply != "" {
			names = strings.Split(reply, ",")
		}
		return nil
	})
	return names, err
}

// SendClose tells the node the master is going away. The session is closed
// afterwards regardless of the outcome.
func (s *Session) SendClose() error {
	err := s.exchange(s.timeout, func(c net.Conn) error {
		return WriteString(c, CmdClose)
	})
	s.Close()
	return err
}
