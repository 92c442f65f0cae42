package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dfs-lite/internal/api"
	"dfs-lite/internal/config"
	"dfs-lite/internal/master"
	"dfs-lite/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "configs/master.yaml", "path to the master config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Database.Type == config.DatabaseSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLite.Path), 0755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}
	db, err := storage.NewDatabase(cfg.Database.Type, cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	nodeLn, err := net.Listen("tcp", cfg.Master.NodeListenAddr)
	if err != nil {
		log.Fatalf("Failed to listen for nodes: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := master.New(cfg.Master, db)

	var srv *http.Server
	if cfg.Master.HTTPAddr != "" {
		r := gin.New()
		api.SetupRoutes(r, m)
		srv = startServer(r, cfg.Master.HTTPAddr)
	}

	if err := m.Start(ctx, nodeLn); err != nil {
		log.Fatalf("Failed to start master: %v", err)
	}

	cmdLn, err := net.Listen("tcp", cfg.Master.CommandAddr)
	if err != nil {
		log.Fatalf("Failed to listen for commands: %v", err)
	}
	go func() {
		if err := m.ServeCommands(ctx, cmdLn); err != nil {
			log.Printf("Command listener stopped: %v", err)
		}
	}()
	log.Printf("Master ready, commands on %s", cfg.Master.CommandAddr)

	waitForShutdown(m, srv, cancel)
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Config file not found: %s, using default config", path)
		return config.Default(), nil
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	log.Printf("Loaded config from: %s", path)
	return cfg, nil
}

func startServer(r *gin.Engine, addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Printf("Admin API starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	return srv
}

// waitForShutdown blocks until a signal arrives or a close command has shut
// the master down, then stops the admin API and the listeners.
func waitForShutdown(m *master.Master, srv *http.Server, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down master...")
	case <-m.Done():
		log.Println("Close command received")
	}

	ctx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	m.Close(ctx)

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
	}
	cancel()

	log.Println("Master exited")
}
