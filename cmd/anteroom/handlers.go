// handlers.go implements the command handlers: shared runtime setup plus the
// repl, serve, and exec run functions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/internal/config"
	"github.com/anteroomhq/anteroom/internal/observability"
	"github.com/anteroomhq/anteroom/internal/repl"
	"github.com/anteroomhq/anteroom/internal/runtime"
	"github.com/anteroomhq/anteroom/internal/storage"
	"github.com/anteroomhq/anteroom/internal/web"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// execTokenCap bounds the accumulated model output in exec mode.
const execTokenCap = 10 * 1024 * 1024

// Exec mode exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitTimeout   = 124
	exitCancelled = 130
)

// app bundles the shared pieces every command builds: config, logger,
// runtime, and the optional persistence store.
type app struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	store      storage.Store
	rt         *runtime.Runtime
	traceDown  func(context.Context) error
}

// setup loads config and constructs the runtime. persist=false skips the
// SQLite store, used by exec mode.
func setup(ctx context.Context, configPath string, persist bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Log)
	metrics := observability.NewMetrics(nil)
	_, traceDown := observability.NewTracer(cfg.Trace)

	var store storage.Store
	if persist {
		s, err := storage.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = s
	}

	rt, err := runtime.New(ctx, cfg, store, logger, metrics)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		store:      store,
		rt:         rt,
		traceDown:  traceDown,
	}
	go a.watchSafety(ctx)
	return a, nil
}

// watchSafety hot-reloads the safety section on config file changes.
func (a *app) watchSafety(ctx context.Context) {
	if a.configPath == "" {
		return
	}
	if err := config.WatchSafety(ctx, a.configPath, a.rt.Gate(), a.logger); err != nil {
		a.logger.Debug("safety watch unavailable", "error", err)
	}
}

func (a *app) close() {
	a.rt.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.traceDown != nil {
		shutCtx, cancelFn := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancelFn()
		_ = a.traceDown(shutCtx)
	}
}

func runRepl(ctx context.Context, configPath, conversation string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	return repl.New(a.rt, conversation, a.logger).Run(ctx)
}

func runServe(ctx context.Context, configPath, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	if addr == "" {
		addr = a.cfg.Web.Addr
	}
	srv := web.NewServer(a.rt, time.Duration(a.cfg.Web.ApprovalTimeout)*time.Second, a.logger)
	return srv.ListenAndServe(ctx, addr)
}

// runExec runs one prompt without an approval channel: gated tool calls are
// denied and hard-blocked commands never execute. The process exit code
// reports the outcome.
func runExec(ctx context.Context, configPath, prompt string, timeout time.Duration) error {
	a, err := setup(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	tok := cancel.NewToken()
	stopSignals := cancel.WatchSignals(tok)
	defer stopSignals()

	var timedOut atomic.Bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			tok.Cancel()
		})
		defer timer.Stop()
	}

	conv := a.rt.Conversation("exec")
	sub := conv.Subscribe("exec")
	defer conv.Unsubscribe(sub)

	turn, err := a.rt.StartTurn(ctx, conv, prompt, runtime.TurnOptions{Token: tok})
	if err != nil {
		return err
	}

	failed := false
	written := 0
	render := func(ev models.AgentEvent) {
		switch ev.Kind {
		case models.EventToken:
			if ev.AgentID != "root" || written >= execTokenCap {
				return
			}
			written += len(ev.Token)
			fmt.Print(ev.Token)
		case models.EventError:
			failed = true
			fmt.Fprintf(os.Stderr, "\nerror (%s): %s\n", ev.ErrCode, ev.Message)
		}
	}

	drained := false
	for !drained {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				drained = true
				break
			}
			render(ev)
		case <-turn.Done:
			for !drained {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						drained = true
					} else {
						render(ev)
					}
				default:
					drained = true
				}
			}
		}
	}
	fmt.Println()

	switch {
	case timedOut.Load():
		os.Exit(exitTimeout)
	case tok.Cancelled():
		os.Exit(exitCancelled)
	case failed:
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
	return nil
}
