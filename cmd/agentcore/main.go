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

// Command agentcore runs the agent execution server.
//
// Usage:
//
//	agentcore serve --config config.yaml
//	agentcore serve
//	agentcore validate --config config.yaml
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	// SQL session backend drivers.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agentcore/pkg/config"
	"github.com/kadirpekel/agentcore/pkg/logger"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/model/echomodel"
	"github.com/kadirpekel/agentcore/pkg/server"
	"github.com/kadirpekel/agentcore/pkg/session"
)

const shutdownTimeout = 10 * time.Second

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("agentcore version %s\n", version)
	return nil
}

// ValidateCmd checks a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate command")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration valid: %d agent(s), listening on %s\n", len(cfg.Agents), cfg.ListenAddr())
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	sessions, cleanup, err := buildSessionService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	tk, err := builtinToolkit()
	if err != nil {
		return fmt.Errorf("failed to build toolkit: %w", err)
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Models:   modelProvider(),
		Toolkit:  tk,
		Sessions: sessions,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Handle shutdown signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Info("Shutting down...")
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Shutdown error", "error", err)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("Starting server",
		"addr", cfg.ListenAddr(),
		"agents", len(cfg.Agents),
		"session_backend", cfg.Session.Backend)
	return srv.Start()
}

// loadConfig loads the config file, or the zero-config default when no file
// is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("Using zero-config mode")
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, nil
}

// modelProvider resolves model backends per agent. The built-in backend is
// the deterministic echo model; deployments embed the server package and
// supply their own provider.
func modelProvider() server.ModelProvider {
	return func(agentName string) model.LLM {
		return echomodel.New(nil)
	}
}

// buildSessionService constructs the persistence backend selected by the
// config. Returns a nil service when persistence is disabled.
func buildSessionService(ctx context.Context, cfg *config.Config) (*session.Service, func(), error) {
	switch cfg.Session.Backend {
	case "":
		return nil, nil, nil

	case "file":
		store, err := session.NewFileStore(cfg.Session.File.Root)
		if err != nil {
			return nil, nil, err
		}
		return session.NewService(store), nil, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		store, err := session.NewRedisStore(client, cfg.Session.Redis.Prefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return session.NewService(store), func() { _ = client.Close() }, nil

	case "sql":
		db, err := sql.Open(cfg.Session.SQL.Driver, cfg.Session.SQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("database ping: %w", err)
		}
		store, err := session.NewSQLStore(db, sqlDialect(cfg.Session.SQL.Driver), cfg.Session.SQL.Table)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return session.NewService(store), func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// sqlDialect maps a database/sql driver name to its store dialect.
func sqlDialect(driver string) session.Dialect {
	switch driver {
	case "sqlite3":
		return session.DialectSQLite
	case "mysql":
		return session.DialectMySQL
	default:
		return session.DialectPostgres
	}
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("agentcore - ReAct agent execution server"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
