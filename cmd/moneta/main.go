// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

// Command moneta serves the currency conversion agent over the A2A protocol.
//
// Usage:
//
//	moneta serve
//	moneta serve --port 10000 --model gpt-4o-mini
//	moneta serve --db moneta.db --task-timeout 2m
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/moneta-ai/moneta/a2a"
	"github.com/moneta-ai/moneta/agent"
	"github.com/moneta-ai/moneta/server"
	"github.com/moneta-ai/moneta/server/task"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the A2A server."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
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
	fmt.Printf("moneta version %s (a2a protocol %s)\n", version, a2a.Version)
	return nil
}

// ServeCmd starts the A2A server.
type ServeCmd struct {
	Host  string `help:"Host to bind to." default:"localhost"`
	Port  int    `help:"Port to listen on." default:"10000"`
	Model string `help:"Chat completion model." default:"gpt-4o-mini"`

	DB          string        `help:"SQLite database path for task persistence (empty = in-memory)." type:"path" placeholder:"PATH"`
	RatesURL    string        `name:"rates-url" help:"Exchange rate API base URL (defaults to the public Frankfurter API)." placeholder:"URL"`
	TaskTimeout time.Duration `name:"task-timeout" help:"Execution bound for one task run." default:"5m"`
	NoPush      bool          `name:"no-push" help:"Disable push notifications."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	runner := agent.New(agent.Config{
		Model: c.Model,
		Rates: agent.NewRateClient(c.RatesURL),
	})

	opts := []server.ManagerOption{
		server.WithOutputModes(agent.SupportedContentTypes...),
		server.WithTaskTimeout(c.TaskTimeout),
	}

	var auth *server.PushNotificationSenderAuth
	if !c.NoPush {
		auth, err = server.NewPushNotificationSenderAuth()
		if err != nil {
			return fmt.Errorf("initialize push notification signing: %w", err)
		}
		opts = append(opts, server.WithNotifier(server.NewNotifier(server.NotifierConfig{Auth: auth})))
	}

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	srv, err := server.NewServer(server.Config{
		AgentCard: agentCard(addr, !c.NoPush),
		Manager:   server.NewManager(store, runner, opts...),
		Auth:      auth,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func (c *ServeCmd) openStore(ctx context.Context) (task.Store, error) {
	if c.DB == "" {
		return task.NewInMemoryStore(), nil
	}

	db, err := gorm.Open(sqlite.Open(c.DB), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	store, err := task.NewDatabaseStore(db)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("migrate task database: %w", err)
	}
	slog.Info("task persistence enabled", "db", c.DB)
	return store, nil
}

func agentCard(addr string, push bool) a2a.AgentCard {
	return a2a.AgentCard{
		Name:        "Currency Agent",
		Description: "Helps with exchange rates for currencies",
		URL:         fmt.Sprintf("http://%s/", addr),
		Version:     "1.0.0",
		Capabilities: a2a.AgentCapabilities{
			Streaming:         true,
			PushNotifications: push,
		},
		DefaultInputModes:  agent.SupportedContentTypes,
		DefaultOutputModes: agent.SupportedContentTypes,
		Skills: []a2a.AgentSkill{{
			ID:          "convert_currency",
			Name:        "Currency Exchange Rates Tool",
			Description: "Helps with exchange values between various currencies",
			Tags:        []string{"currency conversion", "currency exchange"},
			Examples:    []string{"What is exchange rate between USD and GBP?"},
		}},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	// Best effort; OPENAI_API_KEY commonly lives in a local .env file.
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("moneta"),
		kong.Description("A2A currency conversion agent server."),
		kong.UsageOnError(),
	)
	setupLogging(cli.LogLevel)

	if err := kctx.Run(&cli); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
