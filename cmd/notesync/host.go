package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/aretw0/lifecycle"

	"github.com/astromechza/notesync/pkg/config"
	"github.com/astromechza/notesync/pkg/loop"
	"github.com/astromechza/notesync/pkg/note"
	"github.com/astromechza/notesync/pkg/replica"
	"github.com/astromechza/notesync/pkg/surface"
)

const (
	surfaceFileName = "sticky.txt"
	shutdownTimeout = 5 * time.Second
)

// host is one replica process: the store, the two loops, the visible surface and
// the engine, wired together. serve and peer only differ in the transport they run.
type host struct {
	cfg     config.Config
	logger  *slog.Logger
	store   note.Store
	engine  *replica.Engine
	ui      *loop.Loop
	surface *surface.FileSurface
	binding *replica.Binding
}

func openStore(cfg config.Config, logger *slog.Logger) (note.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return note.OpenSQLiteStore(filepath.Join(cfg.DataDir, note.SQLiteFileName), cfg.Retention, logger)
	default:
		return note.NewFileStore(cfg.DataDir, logger)
	}
}

func openHost(cfg config.Config, logger *slog.Logger) (*host, error) {
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := replica.New(store,
		replica.WithLogger(logger),
		replica.WithHeartbeat(cfg.Heartbeat),
		replica.WithMaxMessageSize(cfg.MaxMessageSize),
		replica.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
	ui := loop.New("ui", 64)
	surf, err := surface.NewFileSurface(filepath.Join(cfg.DataDir, surfaceFileName), ui, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &host{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		engine:  engine,
		ui:      ui,
		surface: surf,
		binding: replica.Bind(engine, surf, ui, cfg.Debounce, logger),
	}, nil
}

// spawn runs fn under lifecycle supervision. Errors are logged by the caller's
// handler; a panic is reported the same way instead of killing the process.
func spawn(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context) error, onErr func(error)) {
	wg.Add(1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer wg.Done()
		if err := fn(ctx); err != nil {
			onErr(err)
			return err
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		slog.Error("goroutine failed", "name", name, "err", err)
	}))
}

// run serves the replica with transport until SIGINT or SIGTERM. A transport failure
// only costs us sync: the note stays editable and is still saved locally.
func (h *host) run(transportName string, transport func(ctx context.Context) error) error {
	defer h.store.Close()

	netCtx, cancelNet := context.WithCancel(context.Background())
	defer cancelNet()
	uiCtx, cancelUI := context.WithCancel(context.Background())
	defer cancelUI()
	transportCtx, cancelTransport := context.WithCancel(context.Background())
	defer cancelTransport()

	fatal := make(chan error, 1)
	wg := new(sync.WaitGroup)

	spawn(netCtx, wg, "engine", h.engine.Run, func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	spawn(uiCtx, wg, "ui", h.ui.Run, func(err error) {
		h.logger.Error("ui loop failed", "err", err)
	})
	spawn(uiCtx, wg, "surface", h.surface.Watch, func(err error) {
		h.logger.Error("surface watcher failed, local edits will not be noticed", "err", err)
	})

	loadCtx, cancelLoad := context.WithTimeout(netCtx, shutdownTimeout)
	if err := h.binding.Load(loadCtx); err != nil {
		h.logger.Warn("failed to load note into surface", "err", err)
	}
	cancelLoad()
	h.logger.Info("editing note", "path", h.surface.Path(), "store", h.cfg.Store, "data-dir", h.cfg.DataDir)

	spawn(transportCtx, wg, transportName, transport, func(err error) {
		h.logger.Error("sync unavailable", "transport", transportName, "err", err)
	})

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)

	var runErr error
	select {
	case sig := <-exit:
		h.logger.Info("Signal caught", "sig", sig)
	case runErr = <-fatal:
		h.logger.Error("engine stopped", "err", runErr)
	}

	if runErr == nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := h.binding.Close(shutdownCtx); err != nil {
			h.logger.Error("failed to flush pending edit", "err", err)
		}
	}
	cancelTransport()
	cancelUI()
	cancelNet()
	wg.Wait()
	return runErr
}
