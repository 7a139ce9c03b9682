package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/vbonduro/minerallens/internal/config"
	"github.com/vbonduro/minerallens/internal/logging"
	"github.com/vbonduro/minerallens/internal/tracing"
)

type Globals struct {
	Config string `name:"config" short:"c" type:"path" help:"YAML config file"`

	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
}

type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the web service"`
	Identify IdentifyCmd `cmd:"" help:"Identify a local image and chat about it"`
}

func main() {
	cli := CLI{}
	cmd := kong.Parse(&cli,
		kong.Name("minerallens"),
		kong.Description("Mineral identification from photos"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cli.Config)
	cmd.FatalIfErrorf(err)
	cmd.FatalIfErrorf(cfg.Validate())

	logger, cleanup := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	defer cleanup()

	shutdown, err := tracing.Init(ctx, tracing.Options{Enabled: cfg.OTelEnabled, Endpoint: cfg.OTelEndpoint}, logger)
	cmd.FatalIfErrorf(err)
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	cli.Globals.ctx = ctx
	cli.Globals.cfg = cfg
	cli.Globals.logger = logger

	if err := cmd.Run(&cli.Globals); err != nil {
		logger.Error("command failed", "command", cmd.Command(), "error", err)
		fmt.Fprintln(os.Stderr, err)
		cleanup()
		os.Exit(1)
	}
}
