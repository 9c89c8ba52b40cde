// Package scheduler runs the deadline sweep: it closes overdue requests
// (when configured to) and expires the pending bids left on them.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/coverage-consortium/internal/config"
	"github.com/iliyamo/coverage-consortium/internal/metrics"
	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

// Engine is the subset of the service the sweep drives.
type Engine interface {
	OverdueRequests(ctx context.Context, afterID uint64, limit int) ([]uint64, error)
	GetRequest(ctx context.Context, requestID uint64) (*model.Request, error)
	Finalizable(ctx context.Context, requestID uint64) (bool, error)
	CloseRequest(ctx context.Context, actor service.Actor, requestID uint64) (*model.Request, error)
	ExpireBids(ctx context.Context, actor service.Actor, requestID uint64) (int, error)
}

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Closed  int
	Expired int
	Failed  int
	Spared  int
}

// Scheduler sweeps overdue requests every Interval.
type Scheduler struct {
	engine  Engine
	cfg     config.SchedulerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	// last id of the previous batch; reset once a batch comes back short
	cursor atomic.Uint64
}

func New(engine Engine, cfg config.SchedulerConfig, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	return &Scheduler{engine: engine, cfg: cfg, logger: logger.Named("scheduler"), metrics: m}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Bool("auto_close", s.cfg.AutoClose))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep handles one batch of overdue requests.  A failure on one request
// is logged and counted; it does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	ids, err := s.engine.OverdueRequests(ctx, s.cursor.Load(), s.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}
	if len(ids) < s.cfg.BatchSize {
		s.cursor.Store(0)
	} else {
		s.cursor.Store(ids[len(ids)-1])
	}
	var closed, expired, failed, spared atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, id := range ids {
		g.Go(func() error {
			o, n, err := s.settle(gctx, id)
			switch o {
			case outcomeClosed:
				closed.Add(1)
			case outcomeSpared:
				spared.Add(1)
			}
			expired.Add(int64(n))
			if err != nil {
				failed.Add(1)
				s.logger.Warn("settle overdue request", zap.Uint64("request_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Scanned: len(ids),
		Closed:  int(closed.Load()),
		Expired: int(expired.Load()),
		Failed:  int(failed.Load()),
		Spared:  int(spared.Load()),
	}
	if res.Scanned > 0 {
		s.logger.Info("sweep done",
			zap.Int("scanned", res.Scanned),
			zap.Int("closed", res.Closed),
			zap.Int("expired", res.Expired),
			zap.Int("failed", res.Failed),
			zap.Int("spared", res.Spared))
	}
	return res, ctx.Err()
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeClosed
	outcomeSpared
)

// settle closes one overdue request when auto-close is on and expires its
// leftover pending bids.  A consortium_formed request whose draft could be
// finalized as it stands is left open; ExpireBids keeps its draft bids.
func (s *Scheduler) settle(ctx context.Context, id uint64) (out outcome, expired int, err error) {
	sys := service.SystemActor()
	if s.cfg.AutoClose {
		req, err := s.engine.GetRequest(ctx, id)
		if err != nil {
			return outcomeNone, 0, err
		}
		spare := false
		if req.Status == model.RequestConsortiumFormed {
			if spare, err = s.engine.Finalizable(ctx, id); err != nil {
				return outcomeNone, 0, err
			}
		}
		switch {
		case spare:
			out = outcomeSpared
		case !req.Status.Terminal():
			_, err := s.engine.CloseRequest(ctx, sys, id)
			s.metrics.SchedulerAction("close", err)
			switch {
			case err == nil:
				out = outcomeClosed
			case lostRace(err):
				// finalized or closed by someone else since the read
			default:
				return outcomeNone, 0, err
			}
		}
	}
	expired, err = s.engine.ExpireBids(ctx, sys, id)
	s.metrics.SchedulerAction("expire", err)
	return out, expired, err
}

func lostRace(err error) bool {
	return errors.Is(err, service.ErrIllegalTransition) || errors.Is(err, service.ErrRequestClosed)
}
