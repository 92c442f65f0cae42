package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseType string

const (
	DatabaseMySQL  DatabaseType = "mysql"
	DatabaseSQLite DatabaseType = "sqlite"
)

type Config struct {
	Master   MasterConfig   `yaml:"master"`
	Database DatabaseConfig `yaml:"database"`
}

type MasterConfig struct {
	// NodeListenAddr accepts inbound storage node handshakes.
	NodeListenAddr string `yaml:"node_listen_addr"`
	// CommandAddr is the loopback command plane used by dfsctl.
	CommandAddr string `yaml:"command_addr"`
	// HTTPAddr serves the admin API. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`

	RestartWindow   time.Duration `yaml:"restart_window"`
	WaitInterval    time.Duration `yaml:"wait_interval"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	HealthTimeout   time.Duration `yaml:"health_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	DownloadDir string `yaml:"download_dir"`
}

type DatabaseConfig struct {
	Type   DatabaseType `yaml:"type"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

// LoadConfig reads the master configuration from a YAML file. Fields left
// out of the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the timing relationships the health checker depends on.
func (c *Config) Validate() error {
	m := c.Master
	if m.HealthInterval <= 0 || m.HealthTimeout <= 0 {
		return fmt.Errorf("health_interval and health_timeout must be positive")
	}
	if m.HealthTimeout >= m.HealthInterval {
		return fmt.Errorf("health_timeout (%v) must be below health_interval (%v)", m.HealthTimeout, m.HealthInterval)
	}
	if m.WaitInterval <= 0 {
		return fmt.Errorf("wait_interval must be positive")
	}
	if m.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be positive")
	}
	return nil
}

// GetDatabaseDSN builds the DSN for the configured database type.
func (c *Config) GetDatabaseDSN() string {
	switch c.Database.Type {
	case DatabaseSQLite:
		return c.Database.SQLite.Path
	case DatabaseMySQL:
		mysql := c.Database.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			mysql.User,
			mysql.Password,
			mysql.Host,
			mysql.Port,
			mysql.Database,
			mysql.Charset,
			mysql.ParseTime,
			mysql.Loc,
		)
	default:
		return ""
	}
}

// Default returns the master configuration used when no file is present.
func Default() *Config {
	return &Config{
		Master: MasterConfig{
			NodeListenAddr:  ":18980",
			CommandAddr:     "localhost:18981",
			HTTPAddr:        ":8080",
			RestartWindow:   3 * time.Second,
			WaitInterval:    100 * time.Millisecond,
			HealthInterval:  time.Second,
			HealthTimeout:   800 * time.Millisecond,
			ResponseTimeout: 5 * time.Second,
			DownloadDir:     "./downloads",
		},
		Database: DatabaseConfig{
			Type: DatabaseSQLite,
			SQLite: SQLiteConfig{
				Path: "./data/master.db",
			},
			MySQL: MySQLConfig{
				Host:      "127.0.0.1",
				Port:      3306,
				User:      "root",
				Password:  "password",
				Database:  "dfs",
				Charset:   "utf8mb4",
				ParseTime: true,
				Loc:       "Local",
			},
		},
	}
}
