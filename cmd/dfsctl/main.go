// Command dfsctl sends one command to a running master over its loopback
// command plane and prints the reply.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dfs-lite/internal/config"
	"dfs-lite/internal/protocol"

	"github.com/fatih/color"
)

var withParam = map[string]bool{
	"upload":   true,
	"download": true,
	"delete":   true,
	"search":   true,
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: dfsctl [-addr host:port] <command> [argument]\n\n")
	fmt.Fprintf(os.Stderr, "commands:\n")
	fmt.Fprintf(os.Stderr, "  test | show_nodes | show_files | space_available | total_space\n")
	fmt.Fprintf(os.Stderr, "  upload <path> | download <id> | delete <id> | search <text>\n")
	fmt.Fprintf(os.Stderr, "  clear_database | close\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", config.Default().Master.CommandAddr, "master command address")
	timeout := flag.Duration("timeout", time.Minute, "time allowed for the whole command")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	name := args[0]
	if withParam[name] && len(args) < 2 {
		color.Red("%s needs an argument", name)
		os.Exit(2)
	}

	var param string
	if withParam[name] {
		param = strings.Join(args[1:], " ")
		if name == "upload" {
			// the master reads the file itself
			if abs, err := filepath.Abs(param); err == nil {
				param = abs
			}
		}
	}

	reply, err := send(*addr, *timeout, name, param, withParam[name])
	if err != nil {
		color.Red("%s: %v", name, err)
		os.Exit(1)
	}

	if strings.HasPrefix(reply, "error: ") {
		color.Red("%s", reply)
		os.Exit(1)
	}
	fmt.Println(color.GreenString(reply))
}

func send(addr string, timeout time.Duration, name, param string, hasParam bool) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to master: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := protocol.WriteString(conn, name); err != nil {
		return "", err
	}
	if hasParam {
		ack, err := protocol.ReadString(conn)
		if err != nil {
			return "", fmt.Errorf("no reply, unknown command? (%w)", err)
		}
		if ack != protocol.ReplyOK {
			return ack, nil
		}
		if err := protocol.WriteString(conn, param); err != nil {
			return "", err
		}
	}

	reply, err := protocol.ReadString(conn)
	if err != nil {
		return "", fmt.Errorf("no reply, unknown command? (%w)", err)
	}
	return reply, nil
}
