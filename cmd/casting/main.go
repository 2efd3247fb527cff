// Command casting ingests casting calls from web pages and chat groups into
// a moderation queue, and serves the operator API.
//
//	casting run                          one ingestion pass (cron)
//	casting serve                        API + scheduled runs + classifier
//	casting classify [--once]            drain the chat classification queue
//	casting sources add|list|activate|deactivate
//	casting candidates list|show|moderate
//	casting cycles [--source ID]
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/hazyhaar/casting/casting"
	"github.com/hazyhaar/casting/dbopen"
	"github.com/hazyhaar/casting/observability"

	_ "modernc.org/sqlite"
)

// CLI is the command tree.
type CLI struct {
	Config   string `help:"YAML config file." type:"path" env:"CASTING_CONFIG"`
	DB       string `help:"SQLite database path." default:"data/casting.db" env:"CASTING_DB"`
	LogLevel string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"CASTING_LOG_LEVEL"`
	Actor    string `help:"Operator name recorded in the audit log." default:"operator" env:"CASTING_ACTOR"`

	Run        RunCmd        `cmd:"" help:"Run one ingestion pass over every active source."`
	Serve      ServeCmd      `cmd:"" help:"Serve the operator API and run ingestion on a schedule."`
	Classify   ClassifyCmd   `cmd:"" help:"Classify queued chat messages."`
	Sources    SourcesCmd    `cmd:"" help:"Manage ingestion sources."`
	Candidates CandidatesCmd `cmd:"" help:"Review the moderation queue."`
	Cycles     CyclesCmd     `cmd:"" help:"Show recent per-source run outcomes."`
}

// app carries what every command needs. The database and service are
// opened on first use.
type app struct {
	ctx    context.Context
	cli    *CLI
	cfg    *fileConfig
	logger *slog.Logger
	out    io.Writer

	db      *sql.DB
	metrics *observability.MetricsManager
	svc     *casting.Service
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("casting"),
		kong.Description("Casting call ingestion pipeline."),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	logger := newLogger(cli.LogLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{
		ctx:    casting.WithActor(ctx, cli.Actor),
		cli:    &cli,
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
	}
	err = kctx.Run(a)
	a.close()
	if err != nil {
		logger.Error("casting: command failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// service opens the database and builds the Service once.
func (a *app) service() (*casting.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	db, err := dbopen.Open(a.cli.DB, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := observability.Init(db); err != nil {
		return nil, err
	}
	a.metrics = observability.NewMetricsManager(db, observability.WithMetricsLogger(a.logger))
	a.svc, err = casting.New(db, &a.cfg.Config, a.logger, casting.WithMetrics(a.metrics))
	return a.svc, err
}

func (a *app) close() {
	if a.metrics != nil {
		a.metrics.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
