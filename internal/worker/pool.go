package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/internal/metrics"
	"github.com/kiranshivaraju/tutoreval/internal/queue"
	"golang.org/x/sync/errgroup"
)

const (
	claimErrorBackoff = time.Second
	cleanupTimeout    = 5 * time.Second
)

// PoolConfig sizes the pool and its maintenance loop.
type PoolConfig struct {
	// Name prefixes worker ids; defaults to the hostname.
	Name        string
	Concurrency int
	ClaimWait   time.Duration
	// StaleAfter returns in-flight tasks older than this to pending. Zero disables recovery.
	StaleAfter time.Duration
	// JobDeadline fails open jobs older than this. Zero disables it.
	JobDeadline time.Duration
	// MaintenanceInterval is how often recovery and deadline checks run.
	MaintenanceInterval time.Duration
}

// Pool runs Concurrency workers, each claiming one task at a time.
type Pool struct {
	queue   queue.Distributor
	exec    *Executor
	tracker *jobs.Tracker
	cfg     PoolConfig
	logger  *slog.Logger
}

func NewPool(q queue.Distributor, exec *Executor, tracker *jobs.Tracker, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = 2 * time.Second
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Minute
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
		if cfg.Name == "" {
			cfg.Name = "worker"
		}
	}
	return &Pool{queue: q, exec: exec, tracker: tracker, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. In-progress tasks finish before it returns.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := fmt.Sprintf("%s-%d", p.cfg.Name, i)
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	if p.cfg.StaleAfter > 0 || p.cfg.JobDeadline > 0 {
		g.Go(func() error {
			p.maintain(ctx)
			return nil
		})
	}
	p.logger.Info("worker pool started", "workers", p.cfg.Concurrency, "name", p.cfg.Name)
	err := g.Wait()
	p.logger.Info("worker pool stopped", "name", p.cfg.Name)
	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		d, err := p.queue.Claim(ctx, workerID, p.cfg.ClaimWait)
		switch {
		case err == nil:
			p.Handle(ctx, workerID, d)
		case errors.Is(err, queue.ErrEmpty):
		case ctx.Err() != nil:
			return
		default:
			p.logger.Error("claim failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimErrorBackoff):
			}
		}
	}
}

// Handle processes one claimed delivery and settles it on the queue.
func (p *Pool) Handle(ctx context.Context, workerID string, d *queue.Delivery) {
	task := d.Task
	log := p.logger.With("worker_id", workerID, "job_id", task.JobID, "case_id", task.Case.ID, "attempt", d.Attempt)

	terminal, cancelled, err := p.tracker.Terminal(ctx, task.JobID, task.TenantID)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		log.Warn("dropping task for unknown job")
		p.ack(ctx, d, log)
		return
	case err != nil:
		log.Error("loading job state", "error", err)
		p.requeue(ctx, d, log)
		return
	case terminal:
		metrics.TasksProcessedTotal.WithLabelValues("", metrics.OutcomeSkipped).Inc()
		p.ack(ctx, d, log)
		return
	case cancelled:
		metrics.TasksProcessedTotal.WithLabelValues("", metrics.OutcomeSkipped).Inc()
		if err := p.tracker.RecordSkipped(ctx, task.JobID, task.Case.ID); err != nil {
			log.Error("recording skipped task", "error", err)
			p.requeue(ctx, d, log)
			return
		}
		p.ack(ctx, d, log)
		return
	case d.Expired:
		metrics.TasksProcessedTotal.WithLabelValues("", metrics.OutcomeExpired).Inc()
		if err := p.tracker.RecordExpired(ctx, task.JobID, task.Case.ID); err != nil {
			log.Error("recording expired task", "error", err)
			p.requeue(ctx, d, log)
			return
		}
		p.ack(ctx, d, log)
		return
	}

	if _, err := p.tracker.MarkStarted(ctx, task.JobID); err != nil {
		log.Warn("marking job started", "error", err)
	}

	if _, err := p.exec.Process(ctx, task); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown during evaluation; returning task")
		} else {
			metrics.TasksProcessedTotal.WithLabelValues("", metrics.OutcomeStoreError).Inc()
			log.Error("processing task", "error", err)
		}
		p.requeue(ctx, d, log)
		return
	}
	p.ack(ctx, d, log)
}

func (p *Pool) ack(ctx context.Context, d *queue.Delivery, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.queue.Ack(ctx, d); err != nil {
		log.Warn("ack failed", "error", err)
	}
}

func (p *Pool) requeue(ctx context.Context, d *queue.Delivery, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err := p.queue.Requeue(ctx, d)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrMaxDeliveries):
		log.Error("task exceeded max deliveries; moved to dead list")
	default:
		log.Error("requeue failed", "error", err)
	}
}

func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance recovers stale in-flight tasks and fails jobs past their deadline.
func (p *Pool) RunMaintenance(ctx context.Context) {
	if p.cfg.StaleAfter > 0 {
		n, err := p.queue.RecoverStale(ctx, p.cfg.StaleAfter)
		if err != nil {
			p.logger.Error("recovering stale tasks", "error", err)
		} else if n > 0 {
			p.logger.Warn("recovered stale tasks", "count", n)
		}
	}
	if p.cfg.JobDeadline > 0 {
		if _, err := p.tracker.FailStale(ctx, p.cfg.JobDeadline); err != nil {
			p.logger.Error("failing stale jobs", "error", err)
		}
	}
}
