package bootstrap

import (
	"context"
	"os"

	"pilot_server/adapter/in/worker"
	"pilot_server/config"
	"pilot_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs the background schedulers: the QA recheck loop and the
// subscription renewal sweep.
type Worker struct {
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
	zlog   zerolog.Logger

	qaScheduler         *worker.QARecheckScheduler
	watchRenewScheduler *worker.WatchRenewScheduler
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if cfg.SchedulerEnabled {
		w.qaScheduler = worker.NewQARecheckScheduler(deps.Pipeline, cfg.QARecheckInterval)
		w.watchRenewScheduler = worker.NewWatchRenewScheduler(deps.Watch, cfg.WatchRenewInterval)
		logger.Info("Schedulers configured (qa recheck: %v, watch renew: %v)",
			cfg.QARecheckInterval, cfg.WatchRenewInterval)
	} else {
		logger.Warn("Schedulers disabled via SCHEDULER_ENABLED=false")
	}

	return w, cleanup, nil
}

// Start launches the schedulers and blocks until Stop is called.
func (w *Worker) Start() {
	if w.qaScheduler != nil {
		w.qaScheduler.Start()
		w.zlog.Info().Msg("Started QA Recheck Scheduler")
	}
	if w.watchRenewScheduler != nil {
		w.watchRenewScheduler.Start()
		w.zlog.Info().Msg("Started Watch Renew Scheduler")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.qaScheduler != nil {
		w.qaScheduler.Stop()
	}
	if w.watchRenewScheduler != nil {
		w.watchRenewScheduler.Stop()
	}
}

// Dependencies exposes the wired graph, mainly for tests.
func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
