package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/skywatch/internal/client"
	"github.com/kjstillabower/skywatch/internal/config"
	"github.com/kjstillabower/skywatch/internal/dashboard"
	"github.com/kjstillabower/skywatch/internal/observability"
	"github.com/kjstillabower/skywatch/internal/session"
	"github.com/kjstillabower/skywatch/internal/traffic"
)

const usage = `usage: skywatch [-config path] [-json] <command> [args]

commands:
  login [-email e] [-password p]    sign in (password may come from SKYWATCH_PASSWORD)
  register [-email e] [-password p] create an account
  logout                            forget the stored credential
  status                            show the stored credential
  track <city> <country>            record current weather for a city
  list [-q term] [-n N]             list stored records, newest first
  get <id>                          show one record
  update <id> <city> <country>      point a record at a new location
  delete <id>                       delete a record
  latest <city>                     newest record for a city
  chart [-width N]                  temperature trend of recent records
  serve [-port p]                   run the local dashboard server
`

var errUsage = errors.New("invalid usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("skywatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to a YAML config file (default config/{ENV_NAME}.yaml)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger, err := observability.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	tp, err := observability.SetupTracing(cfg.ServiceName, cfg.ZipkinURL)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = observability.FlushTelemetry(flushCtx, logger, tp)
	}()

	a, err := newApp(cfg, logger, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "skywatch: %v\n", err)
		return 1
	}
	defer a.close()
	a.json = *asJSON

	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "skywatch: unknown command %q\n\n%s", fs.Arg(0), usage)
		return 2
	}
	if err := cmd(ctx, a, fs.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path, true)
	}
	return config.Load()
}

// app holds the wired dependencies one command needs.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *session.Store
	tracker   *traffic.Tracker
	dash      *dashboard.Dashboard
	memcached *session.MemcachedBackend
	stdout    io.Writer
	stderr    io.Writer
	json      bool
	now       func() time.Time
}

func newApp(cfg *config.Config, logger *zap.Logger, stdout, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr, now: time.Now}

	var backend session.Backend
	switch cfg.SessionBackend {
	case "memory":
		backend = session.NewMemoryBackend()
	case "memcached":
		mc := session.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		a.memcached = mc
		backend = mc
		logger.Debug("session backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		fb, err := session.NewFileBackend(cfg.SessionPath)
		if err != nil {
			return nil, err
		}
		backend = fb
		logger.Debug("session backend: file", zap.String("path", fb.Path()))
	}

	store, err := session.New(backend, cfg.SessionKey)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.tracker = &traffic.Tracker{}

	c, err := client.New(cfg.APIURL, store, client.Options{
		Timeout:  cfg.APITimeout,
		Logger:   logger,
		Outcomes: a.tracker,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.dash, err = dashboard.New(c, store, dashboard.Options{RecentLimit: cfg.RecentLimit, Logger: logger})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			a.logger.Warn("memcached close", zap.Error(err))
		}
	}
}

// password returns the flag value, then SKYWATCH_PASSWORD.
func password(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("SKYWATCH_PASSWORD")
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
