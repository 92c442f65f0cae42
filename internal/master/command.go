package master

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dfs-lite/internal/protocol"
	"dfs-lite/internal/storage"
)

// command is one entry of the command plane. Commands with a parameter are
// acknowledged with OK before the parameter is read.
type command struct {
	param bool
	run   func(ctx context.Context, param string) (string, error)
}

func (m *Master) commands() map[string]command {
	return map[string]command{
		"test":            {run: m.cmdTest},
		"clear_database":  {run: m.cmdClearDatabase},
		"show_nodes":      {run: m.cmdShowNodes},
		"space_available": {run: m.cmdSpaceAvailable},
		"total_space":     {run: m.cmdTotalSpace},
		"show_files":      {run: m.cmdShowFiles},
		"close":           {run: m.cmdClose},
		"upload":          {param: true, run: m.cmdUpload},
		"download":        {param: true, run: m.cmdDownload},
		"delete":          {param: true, run: m.cmdDelete},
		"search":          {param: true, run: m.cmdSearch},
	}
}

// ServeCommands handles command-plane connections on ln one at a time until
// ctx is done or a close command has run. Each connection carries a single
// command; its result text (or error text) is written back before the
// connection is closed.
func (m *Master) ServeCommands(ctx context.Context, ln net.Listener) error {
	go func() {
		select {
		case <-ctx.Done():
		case <-m.done:
		}
		ln.Close()
	}()

	log.Printf("Listening for commands on %s", ln.Addr())
	cmds := m.commands()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || isDone(m.done) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("Command accept error: %v", err)
			continue
		}
		m.handleCommand(ctx, conn, cmds)
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (m *Master) handleCommand(ctx context.Context, conn net.Conn, cmds map[string]command) {
	defer conn.Close()
	timeout := m.cfg.ResponseTimeout

	conn.SetDeadline(time.Now().Add(timeout))
	name, err := protocol.ReadString(conn)
	if err != nil {
		log.Printf("Failed to read command: %v", err)
		return
	}
	cmd, ok := cmds[name]
	if !ok {
		log.Printf("Unrecognized command %q", name)
		return
	}
	log.Printf("%s command received", name)

	var param string
	if cmd.param {
		if err := protocol.WriteString(conn, protocol.ReplyOK); err != nil {
			log.Printf("Command %s: %v", name, err)
			return
		}
		if param, err = protocol.ReadString(conn); err != nil {
			log.Printf("Command %s: failed to read parameter: %v", name, err)
			return
		}
	}

	conn.SetDeadline(time.Time{})
	result, err := cmd.run(ctx, param)
	if err != nil {
		log.Printf("Command %s failed: %v", name, err)
		result = "error: " + err.Error()
	}

	conn.SetDeadline(time.Now().Add(timeout))
	if err := protocol.WriteString(conn, result); err != nil {
		log.Printf("Command %s: failed to send result: %v", name, err)
	}
}

func (m *Master) cmdTest(context.Context, string) (string, error) {
	return "test command received", nil
}

func (m *Master) cmdClearDatabase(context.Context, string) (string, error) {
	if err := m.ClearDatabase(); err != nil {
		return "", err
	}
	return "database cleared", nil
}

func (m *Master) cmdShowNodes(context.Context, string) (string, error) {
	nodes, err := m.ListNodes()
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "no connected nodes", nil
	}
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		lines = append(lines, fmt.Sprintf("node %d %s %s capacity=%d available=%d",
			n.ID, n.Address, n.Status, n.Capacity, n.Available))
	}
	return strings.Join(lines, "\n"), nil
}

func (m *Master) cmdSpaceAvailable(context.Context, string) (string, error) {
	avail, err := m.SpaceAvailable()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(avail, 10), nil
}

func (m *Master) cmdTotalSpace(context.Context, string) (string, error) {
	return strconv.FormatInt(m.TotalSpace(), 10), nil
}

func formatFiles(files []storage.File) string {
	if len(files) == 0 {
		return "no files"
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%d %s %d bytes %s folder=%d",
			f.ID, f.Name, f.Size, f.UploadDate.Format(time.RFC3339), f.FolderID))
	}
	return strings.Join(lines, "\n")
}

func (m *Master) cmdShowFiles(context.Context, string) (string, error) {
	files, err := m.ListFiles(0)
	if err != nil {
		return "", err
	}
	return formatFiles(files), nil
}

func (m *Master) cmdClose(ctx context.Context, _ string) (string, error) {
	m.Close(ctx)
	return "Closing master controller", nil
}

func (m *Master) cmdUpload(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	name := path.Base(strings.ReplaceAll(filePath, `\`, "/"))
	file, err := m.Upload(ctx, name, data, storage.RootFolderID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("File uploaded: %d %s (%d bytes)", file.ID, file.Name, file.Size), nil
}

func parseFileID(param string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(param), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file id %q", param)
	}
	return id, nil
}

func (m *Master) cmdDownload(ctx context.Context, param string) (string, error) {
	id, err := parseFileID(param)
	if err != nil {
		return "", err
	}
	file, data, err := m.Download(ctx, id)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.cfg.DownloadDir, 0755); err != nil {
		return "", err
	}
	dst := filepath.Join(m.cfg.DownloadDir, filepath.Base(file.Name))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("File downloaded: %d to %s (%d bytes)", id, dst, len(data)), nil
}

func (m *Master) cmdDelete(ctx context.Context, param string) (string, error) {
	id, err := parseFileID(param)
	if err != nil {
		return "", err
	}
	if err := m.Delete(ctx, id); err != nil {
		var pf *PartialFailure
		if errors.As(err, &pf) {
			return fmt.Sprintf("File deleted: %d (%s)", id, pf.Error()), nil
		}
		return "", err
	}
	return fmt.Sprintf("File deleted: %d", id), nil
}

func (m *Master) cmdSearch(ctx context.Context, substr string) (string, error) {
	files, err := m.Search(ctx, substr)
	out := formatFiles(files)
	if err != nil {
		var pf *PartialFailure
		if errors.As(err, &pf) {
			return out + "\n" + pf.Error(), nil
		}
		return "", err
	}
	return out, nil
}
