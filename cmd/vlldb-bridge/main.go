//go:build unix

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rexliu/vlldb/pkg/bridge"
	"github.com/rexliu/vlldb/pkg/config"
	"github.com/rexliu/vlldb/pkg/engine"
	"github.com/rexliu/vlldb/pkg/engine/local"
	"github.com/rexliu/vlldb/pkg/ipc"
	"github.com/rexliu/vlldb/pkg/logging"
	"github.com/rexliu/vlldb/pkg/metrics"
	"github.com/rexliu/vlldb/pkg/storage/sqlite"
	"github.com/rexliu/vlldb/pkg/vcs/git"
)

func main() {
	profile := flag.String("profile", "", "Path to profile directory (optional)")
	socket := flag.String("socket", "", "Serve on this unix socket instead of stdio")
	flag.Parse()

	logger := logging.New("vlldb-bridge")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	cfg, err := loadProfile(profileDir)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if err := logger.Configure(profileDir, cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger.Printf("starting bridge with profile %q", cfg.ProfileName)

	opts := bridge.Options{
		PollInterval:  cfg.Bridge.PollInterval(),
		MaxFrame:      cfg.Bridge.MaxFrameBytes,
		SkipMalformed: cfg.Bridge.SkipMalformed,
		Logger:        logger,
		Revision:      launchRevision(logger),
	}

	if cfg.Journal.Enabled {
		store, err := sqlite.Open(config.ResolvePath(profileDir, cfg.Journal.DBPath))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		opts.Journal = store
	}

	if cfg.Metrics.Listen != "" {
		m := metrics.New()
		opts.Metrics = m
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Printf("metrics: %v", err)
			}
		}()
	}

	socketPath := socketOverride
	if socketPath == "" && cfg.IPC.SocketPath != "" && profileDir != "" {
		socketPath = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}
	if socketPath == "" {
		eng := local.New()
		defer eng.Close()
		err := bridge.New(eng, os.Stdin, os.Stdout, opts).Run(ctx)
		return ignoreCancel(err)
	}
	return serveSocket(ctx, socketPath, newLocalEngine, opts, logger)
}

// sessionEngine is an engine owned by a single editor session.
type sessionEngine interface {
	engine.Engine
	Close() error
}

func newLocalEngine() sessionEngine { return local.New() }

// serveSocket runs one bridge session per accepted connection, one at a time.
// Each session gets its own engine, closed when the editor disconnects, so
// processes and events never outlive the session that launched them.
func serveSocket(ctx context.Context, socketPath string, newEngine func() sessionEngine, opts bridge.Options, logger *logging.Logger) error {
	srv := ipc.NewServer(logger)
	if err := srv.Listen(socketPath); err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}
	defer func() {
		srv.Stop()
		ipc.CleanupSocket(socketPath)
	}()
	logger.Printf("bridge ready; socket at %s", socketPath)

	err := srv.Serve(ctx, func(ctx context.Context, conn net.Conn) error {
		eng := newEngine()
		defer func() {
			if err := eng.Close(); err != nil {
				logger.Printf("close engine: %v", err)
			}
		}()
		return ignoreCancel(bridge.New(eng, conn, conn, opts).Run(ctx))
	})
	logger.Println("shutting down")
	return err
}

// loadProfile reads the profile config, falling back to defaults. Without a
// profile directory nothing is written to disk.
func loadProfile(dir string) (*config.ProfileConfig, error) {
	if dir == "" {
		cfg := config.DefaultProfile("default")
		cfg.Journal.Enabled = false
		cfg.Logging.FilePath = ""
		return cfg, nil
	}
	cfg, err := config.LoadProfile(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		return config.DefaultProfile(filepath.Base(dir)), nil
	}
	return cfg, err
}

func launchRevision(logger *logging.Logger) bridge.RevisionFunc {
	return func(ctx context.Context, dir string) string {
		if dir == "" {
			dir = "."
		}
		status, err := git.Revision(ctx, dir, true)
		if err != nil {
			logger.Printf("revision of %s: %v", dir, err)
			return ""
		}
		return status.String()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
