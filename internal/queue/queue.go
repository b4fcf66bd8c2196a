// Package queue hands evaluation tasks from the job manager to workers.
//
// Delivery is at-least-once. A claimed task stays in flight until it is
// acked or requeued; tasks whose deadline passed before the claim are
// returned with Expired set and must not be executed.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

var (
	// ErrEmpty is returned by Claim when no task became available within the wait.
	ErrEmpty = errors.New("queue empty")
	// ErrMaxDeliveries is returned by Requeue once a task has used up its attempts.
	ErrMaxDeliveries = errors.New("max deliveries exceeded")
	// ErrUnknownDelivery is returned when acking or requeueing a delivery the queue no longer tracks.
	ErrUnknownDelivery = errors.New("unknown delivery")
)

// Distributor is the task handoff used by the job manager and the worker pool.
type Distributor interface {
	Enqueue(ctx context.Context, task models.Task, deadline time.Time) error
	Claim(ctx context.Context, workerID string, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Requeue(ctx context.Context, d *Delivery) error
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Delivery is one claim of a task by a worker.
type Delivery struct {
	ID       string      `json:"id"`
	Task     models.Task `json:"task"`
	Deadline time.Time   `json:"deadline"`
	// Attempt counts claims, starting at 1.
	Attempt   int       `json:"attempt"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
	Expired   bool      `json:"-"`
}

type Stats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
	Dead     int64 `json:"dead"`
}
