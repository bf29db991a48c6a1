// Package worker contains the background schedulers.
package worker

import (
	"context"
	"time"

	"pilot_server/core/port/in"
	"pilot_server/pkg/logger"
)

// QARecheckScheduler periodically runs one QA recheck batch. Batches are
// bounded, so a backlog drains across consecutive ticks.
type QARecheckScheduler struct {
	pipeline in.PipelineService
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	log      *logger.Logger
}

// NewQARecheckScheduler creates a new QA recheck scheduler.
func NewQARecheckScheduler(pipeline in.PipelineService, interval time.Duration) *QARecheckScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &QARecheckScheduler{
		pipeline: pipeline,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.WithField("component", "qa_recheck_scheduler"),
	}
}

// Start starts the scheduler loop.
func (s *QARecheckScheduler) Start() {
	s.log.Info("starting with interval %v", s.interval)
	go s.run()
}

// Stop stops the scheduler.
func (s *QARecheckScheduler) Stop() {
	s.log.Info("stopping")
	s.cancel()
}

func (s *QARecheckScheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runBatch()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("stopped")
			return
		case <-ticker.C:
			s.runBatch()
		}
	}
}

func (s *QARecheckScheduler) runBatch() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	report, err := s.pipeline.RunQARecheck(ctx)
	if err != nil {
		s.log.WithError(err).Error("qa recheck batch failed")
		return
	}

	if report.Scanned > 0 {
		s.log.WithFields(map[string]any{
			"scanned":   report.Scanned,
			"evaluated": report.Evaluated,
			"skipped":   report.Skipped,
			"routed":    report.Routed,
		}).Info("qa recheck batch completed")
	}
}
