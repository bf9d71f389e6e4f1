package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "FinFeat/internal/middleware"
	"FinFeat/internal/service/broadcast"
	"FinFeat/pkg/config"
	xhttp "FinFeat/pkg/http"
	pkgkafka "FinFeat/pkg/kafka"
	applogger "FinFeat/pkg/logger"
	"FinFeat/pkg/queue"
)

// App encapsulates the service lifecycle: HTTP API, run stream, job queue
// workers and the build-request consumer. Infrastructure clients are closed by
// the DI cleanup, not here.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	hub        *broadcast.Hub
	jobs       *queue.RedisQueue
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	throttle   *mid.RebuildThrottle
}

// New creates a new App. jobs, consumer, kh and throttle may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	hub *broadcast.Hub,
	jobs *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	throttle *mid.RebuildThrottle,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		httpServer: httpServer,
		hub:        hub,
		jobs:       jobs,
		consumer:   consumer,
		kh:         kh,
		throttle:   throttle,
	}
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.hub != nil {
		go a.hub.Run()
	}

	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return err
		}
		a.l.Info("job queue started", applogger.Int("workers", a.cfg.Queue.Workers))
	}

	if a.consumer != nil && a.kh != nil {
		if a.throttle != nil {
			a.throttle.Start(runCtx)
		}
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then background work.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.throttle != nil {
		if n := a.throttle.Pending(); n > 0 {
			a.l.Warn("discarding parked rebuild requests", applogger.Int("pending", n))
		}
		a.throttle.Stop()
	}

	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.hub != nil {
		if err := a.hub.Stop(ctx); err != nil {
			a.l.Warn("run stream stop error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
