package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/config"
	"github.com/goliatone/go-dunning/engine"
	"github.com/goliatone/go-dunning/notify"
	"github.com/goliatone/go-dunning/store"
)

const sentryFlushTimeout = 2 * time.Second

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg     *config.Config
	logger  dunning.Logger
	store   *store.PostgresStore
	engine  *engine.Engine
	closers []func()
}

func newApp(ctx context.Context, g *Globals) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: newLogger(cfg.Log, os.Stderr)}
	if err := a.initSentry(); err != nil {
		return nil, err
	}

	if cfg.Database.DSN == "" {
		a.Close()
		return nil, dunning.NewError(dunning.ErrValidation, "database.dsn is required", nil, nil)
	}
	pool, err := store.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.store = store.NewPostgresStore(pool)

	if cfg.Database.Migrate {
		if err := a.store.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	executor, err := a.newExecutor()
	if err != nil {
		a.Close()
		return nil, err
	}

	opts, err := engineOptions(cfg.Engine, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine, err = engine.New(a.store, executor, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initSentry() error {
	if a.cfg.Sentry.DSN == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              a.cfg.Sentry.DSN,
		Environment:      a.cfg.Sentry.Environment,
		TracesSampleRate: a.cfg.Sentry.TracesSampleRate,
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	a.closers = append(a.closers, func() { sentry.Flush(sentryFlushTimeout) })
	return nil
}

// reportError logs err and forwards it to sentry when configured.
func (a *app) reportError(err error) {
	if err == nil {
		return
	}
	a.logger.Error("dunning error: %v (code=%s)", err, dunning.ErrorCode(err))
	if a.cfg.Sentry.DSN != "" {
		sentry.CaptureException(err)
	}
}

// newExecutor publishes actions to the broker when amqp.url is set and
// otherwise only logs them.
func (a *app) newExecutor() (dunning.ActionExecutor, error) {
	var delivery dunning.ActionExecutor
	if a.cfg.AMQP.URL == "" {
		a.logger.Warn("amqp.url not set, actions are logged and not delivered")
		delivery = notify.NewLogExecutor(a.logger)
	} else {
		conn, err := notify.Dial(a.cfg.AMQP.URL, a.cfg.AMQP.RoutingPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := conn.Close(); err != nil {
				a.logger.Warn("amqp close: %v", err)
			}
		})
		publisher, err := notify.NewAMQPExecutor(conn.Channel(),
			notify.WithExchange(a.cfg.AMQP.Exchange),
			notify.WithRoutingPrefix(a.cfg.AMQP.RoutingPrefix),
			notify.WithAMQPLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
		delivery = notify.NewCircuitBreaker(publisher, a.cfg.AMQP.BreakerThreshold, a.cfg.AMQP.BreakerReset)
	}

	registry := notify.NewRegistry()
	for _, kind := range dunning.ActionKinds() {
		if err := registry.Register(kind, delivery); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newLogger(cfg config.LogConfig, out io.Writer) dunning.Logger {
	if cfg.Format == "console" {
		return dunning.NewFmtLogger(out)
	}
	return dunning.NewJSONLogger(out, cfg.Level)
}

func engineOptions(cfg config.EngineConfig, logger dunning.Logger) ([]engine.Option, error) {
	policy, err := engine.PolicyByName(cfg.ExhaustionPolicy)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithExhaustionPolicy(policy),
		engine.WithActionTimeout(cfg.ActionTimeout),
	}
	if cfg.Backoff == "exponential" {
		opts = append(opts, engine.WithBackoff(engine.ExponentialBackoff(cfg.BackoffMax)))
	}
	return opts, nil
}
