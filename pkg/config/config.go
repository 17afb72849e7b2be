// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the server configuration. Configuration
// is YAML with ${VAR} environment expansion; every section follows the
// SetDefaults/Validate pipeline.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentcore/pkg/agent"
	"github.com/kadirpekel/agentcore/pkg/session"
)

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Session SessionConfig `yaml:"session"`

	// Agents maps agent names to their engine settings. The map key wins
	// over any name set inside the block.
	Agents map[string]*agent.Config `yaml:"agents"`

	// DefaultAgent names the agent used when a request names none.
	DefaultAgent string `yaml:"default_agent"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SessionTTL bounds how long an idle per-session engine is kept.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// SessionConfig selects and configures the session backend.
type SessionConfig struct {
	// Backend is one of file, redis, sql. Empty disables persistence.
	Backend string `yaml:"backend"`

	File  FileSessionConfig  `yaml:"file"`
	Redis RedisSessionConfig `yaml:"redis"`
	SQL   SQLSessionConfig   `yaml:"sql"`
}

// FileSessionConfig configures the file backend.
type FileSessionConfig struct {
	Root string `yaml:"root"`
}

// RedisSessionConfig configures the Redis backend.
type RedisSessionConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SQLSessionConfig configures the SQL backend.
type SQLSessionConfig struct {
	// Driver is one of postgres, sqlite3, mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// Load reads, expands, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes with ${VAR} expansion.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the zero-config setup: one echo-backed agent named
// "default", no persistence.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields across all sections.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 30 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Agents == nil {
		c.Agents = make(map[string]*agent.Config)
	}
	if len(c.Agents) == 0 {
		c.Agents["default"] = &agent.Config{Name: "default"}
	}
	for name, ac := range c.Agents {
		if ac == nil {
			ac = &agent.Config{}
			c.Agents[name] = ac
		}
		ac.Name = name
		ac.SetDefaults()
	}
	if c.DefaultAgent == "" {
		c.DefaultAgent = "default"
	}
	if c.Session.Backend == "file" && c.Session.File.Root == "" {
		c.Session.File.Root = "./sessions"
	}
	if c.Session.Backend == "sql" && c.Session.SQL.Table == "" {
		c.Session.SQL.Table = session.DefaultSQLTable
	}
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	for name, ac := range c.Agents {
		if err := ac.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
	}
	if _, ok := c.Agents[c.DefaultAgent]; !ok {
		return fmt.Errorf("default agent %q is not configured", c.DefaultAgent)
	}

	switch c.Session.Backend {
	case "", "file":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("redis session backend requires addr")
		}
	case "sql":
		switch c.Session.SQL.Driver {
		case "postgres", "sqlite3", "mysql":
		default:
			return fmt.Errorf("unsupported sql driver %q", c.Session.SQL.Driver)
		}
		if c.Session.SQL.DSN == "" {
			return fmt.Errorf("sql session backend requires dsn")
		}
		if err := session.ValidIdentifier(c.Session.SQL.Table); err != nil {
			return fmt.Errorf("sql session table: %w", err)
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	return nil
}

// ListenAddr renders the host:port pair.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
