// Package main provides silentjack, a silence and dead air detector for a
// live audio input.
//
// Usage:
//
//	silentjack [options] [COMMAND [ARG]...]
//
// COMMAND runs every time the detector fires. The special command "exit"
// makes silentjack exit with status 0 instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"

	"github.com/njh/silentjack/internal/audio"
	"github.com/njh/silentjack/internal/config"
	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/eventlog"
	"github.com/njh/silentjack/internal/metrics"
	"github.com/njh/silentjack/internal/notify"
	"github.com/njh/silentjack/internal/server"
	"github.com/njh/silentjack/internal/trigger"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/update"
	"github.com/njh/silentjack/internal/util"
)

const httpShutdownTimeout = 5 * time.Second

// CLI defines the command-line interface. Flags left unset keep the value
// from the config file.
type CLI struct {
	Connect       []string `short:"c" env:"SILENTJACK_CONNECT" placeholder:"PORT" help:"Input port or device to monitor (repeatable, up to 8)"`
	Name          *string  `short:"n" env:"SILENTJACK_CLIENT_NAME" help:"Name of this client (default 'silentjack')"`
	Level         *float64 `short:"l" env:"SILENTJACK_LEVEL" placeholder:"DB" help:"Silence trigger level in dBFS (default -40, 0 disables)"`
	Period        *int     `short:"p" env:"SILENTJACK_PERIOD" placeholder:"SECS" help:"Period of silence required (default 1 second)"`
	Dynamic       *float64 `short:"d" env:"SILENTJACK_DYNAMIC" placeholder:"DB" help:"No-dynamic trigger level (default disabled)"`
	DynamicPeriod *float64 `short:"P" env:"SILENTJACK_DYNAMIC_PERIOD" placeholder:"SECS" help:"No-dynamic period (default 10 seconds)"`
	Grace         *int     `short:"g" env:"SILENTJACK_GRACE" placeholder:"SECS" help:"Grace period after a fire (default 0 seconds)"`
	Verbose       bool     `short:"v" env:"SILENTJACK_VERBOSE" help:"Enable verbose mode"`
	Quiet         bool     `short:"q" env:"SILENTJACK_QUIET" help:"Enable quiet mode"`
	Reverse       bool     `short:"r" env:"SILENTJACK_REVERSE" help:"Fire on sustained noise and dynamics instead"`

	Config   string  `type:"path" env:"SILENTJACK_CONFIG" help:"Path to a JSON, YAML or TOML config file"`
	Backend  *string `env:"SILENTJACK_BACKEND" placeholder:"NAME" help:"Audio backend: portaudio or capture"`
	Listen   *string `env:"SILENTJACK_LISTEN" placeholder:"ADDR" help:"Serve status, metrics and websocket on this address"`
	EventLog *string `name:"event-log" env:"SILENTJACK_EVENT_LOG" help:"Append detector events to this JSON lines file"`
	Version  bool    `help:"Show version information"`

	Command []string `arg:"" optional:"" passthrough:"" help:"Command to run when the detector fires ('exit' to quit)"`
}

// overrides converts the parsed flags for config.Apply.
func (c *CLI) overrides() *config.Overrides {
	return &config.Overrides{
		Name:                 c.Name,
		Backend:              c.Backend,
		Connect:              c.Connect,
		SilenceThresholdDB:   c.Level,
		SilencePeriod:        c.Period,
		NoDynamicThresholdDB: c.Dynamic,
		NoDynamicPeriod:      c.DynamicPeriod,
		Grace:                c.Grace,
		Reverse:              c.Reverse,
		Verbose:              c.Verbose,
		Quiet:                c.Quiet,
		Listen:               c.Listen,
		EventLog:             c.EventLog,
		Command:              c.Command,
	}
}

func main() {
	var cli CLI
	kong.Parse(&cli, parserOptions()...)

	if cli.Version {
		fmt.Printf("silentjack %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	os.Exit(run(&cli))
}

// parserOptions configures kong. Thresholds are negative dBFS values, so a
// flag argument such as "-l -40" must not be read as another flag.
func parserOptions() []kong.Option {
	return []kong.Option{
		kong.Name("silentjack"),
		kong.Description("Silence and dead air detector"),
		kong.UsageOnError(),
		kong.WithHyphenPrefixedParameters(true),
	}
}

// run wires the detector together and returns the exit status.
func run(cli *CLI) int {
	cfg := config.New(cli.Config)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", cli.Config, "error", err)
		return 1
	}
	if err := cfg.Apply(cli.overrides()); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}
	snap := cfg.Snapshot()
	setupLogging(snap.Verbose, snap.Quiet)

	if cli.Config != "" {
		slog.Info("using config file", "path", cli.Config)
	}

	source := newSource(&snap)

	var observers []engine.Observer

	if snap.EventLogPath != "" {
		logger, err := eventlog.NewLogger(snap.EventLogPath)
		if err != nil {
			slog.Error("failed to open event log", "path", snap.EventLogPath, "error", err)
			return 1
		}
		defer util.SafeCloseFunc(logger, "event log")()
		observers = append(observers, logger)
	}

	notifier := notify.NewNotifier(snap)
	if notifier.Enabled() {
		observers = append(observers, notifier)
		defer notifier.Wait()
	}

	var (
		m   *metrics.Metrics
		hub *server.Hub
	)
	if snap.Listen != "" {
		m = metrics.New(snap.Name)
		hub = server.NewHub()
		observers = append(observers, m, hub)
	}

	opts := []engine.Option{engine.WithName(snap.Name)}
	for _, o := range observers {
		opts = append(opts, engine.WithObserver(o))
	}
	eng := engine.New(snap.DetectorConfig(), source, trigger.NewCommand(snap.Command), opts...)

	var updateObservers []update.Observer
	if snap.Listen != "" {
		updateObservers = append(updateObservers, m, hub)
	}
	updates := update.New(update.Options{
		Repo:     snap.UpdateRepo,
		Current:  Version,
		Interval: snap.UpdateInterval,
	}, updateObservers...)
	updateCtx, stopUpdates := context.WithCancel(context.Background())
	defer stopUpdates()
	go updates.Run(updateCtx)

	if snap.Listen != "" {
		httpServer := NewServer(cfg, eng, hub, m, updates).Start(snap.Listen)
		defer shutdownHTTP(httpServer)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	defer signal.Stop(sigChan)
	go func() {
		if sig, ok := <-sigChan; ok {
			slog.Info("shutting down", "signal", sig.String())
			eng.Shutdown()
		}
	}()

	err := eng.Run(context.Background())
	switch {
	case errors.Is(err, trigger.ErrExit):
		slog.Info("exit requested by trigger")
		return 0
	case err != nil:
		slog.Error("detector failed", "error", err)
		return 1
	}
	return 0
}

// setupLogging installs the default logger. Verbose adds per-tick debug
// lines; quiet hides everything below warnings.
func setupLogging(verbose, quiet bool) {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newSource returns the audio source for the configured backend.
func newSource(snap *config.Snapshot) audio.Source {
	if snap.Backend == types.BackendCapture {
		ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
		if ffmpegPath != "" {
			slog.Debug("FFmpeg found", "path", ffmpegPath)
		}
		return audio.NewCaptureSource(snap.Connect, ffmpegPath)
	}
	return audio.NewPortAudioSource(snap.Connect)
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}
