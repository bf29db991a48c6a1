package worker

import (
	"context"
	"time"

	"pilot_server/core/port/in"
	"pilot_server/pkg/logger"
)

// WatchRenewScheduler keeps provider subscriptions alive. Gmail watches
// expire after seven days and Graph subscriptions after roughly three; the
// renewal threshold lives in the watch service, this loop only sets the
// cadence.
type WatchRenewScheduler struct {
	watch    in.WatchService
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	log      *logger.Logger
}

// NewWatchRenewScheduler creates a new watch renew scheduler.
func NewWatchRenewScheduler(watch in.WatchService, interval time.Duration) *WatchRenewScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &WatchRenewScheduler{
		watch:    watch,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.WithField("component", "watch_renew_scheduler"),
	}
}

// Start starts the scheduler loop. Connections without a live subscription
// are set up once on startup before the renewal cadence begins.
func (s *WatchRenewScheduler) Start() {
	s.log.Info("starting with interval %v", s.interval)
	go s.run()
}

// Stop stops the scheduler.
func (s *WatchRenewScheduler) Stop() {
	s.log.Info("stopping")
	s.cancel()
}

func (s *WatchRenewScheduler) run() {
	s.setupAll()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("stopped")
			return
		case <-ticker.C:
			s.renewExpiring()
		}
	}
}

func (s *WatchRenewScheduler) setupAll() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	if err := s.watch.SetupAllConnections(ctx); err != nil {
		s.log.WithError(err).Error("initial watch setup failed")
	}
}

func (s *WatchRenewScheduler) renewExpiring() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	if err := s.watch.RenewExpiring(ctx); err != nil {
		s.log.WithError(err).Error("watch renewal sweep failed")
	}
}
