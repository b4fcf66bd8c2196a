package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// MemoryQueue is an in-process Distributor for synchronous runs and tests.
type MemoryQueue struct {
	mu            sync.Mutex
	pending       []*Delivery
	inflight      map[string]*Delivery
	dead          int64
	maxDeliveries int
	// ready is closed and replaced whenever a task becomes claimable.
	ready chan struct{}
	now   func() time.Time
}

var _ Distributor = (*MemoryQueue)(nil)

func NewMemoryQueue(maxDeliveries int) *MemoryQueue {
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	return &MemoryQueue{
		inflight:      make(map[string]*Delivery),
		maxDeliveries: maxDeliveries,
		ready:         make(chan struct{}),
		now:           time.Now,
	}
}

// SetClock overrides the queue's time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

func (q *MemoryQueue) signal() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task models.Task, deadline time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &Delivery{ID: uuid.NewString(), Task: task, Deadline: deadline.UTC()})
	q.signal()
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, workerID string, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			d := q.pending[0]
			q.pending = q.pending[1:]
			now := q.now().UTC()
			d.Attempt++
			d.ClaimedBy = workerID
			d.ClaimedAt = now
			q.inflight[d.ID] = d
			q.mu.Unlock()

			out := *d
			out.Expired = !d.Deadline.IsZero() && now.After(d.Deadline)
			return &out, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrEmpty
		case <-ready:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[d.ID]; !ok {
		return ErrUnknownDelivery
	}
	delete(q.inflight, d.ID)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	held, ok := q.inflight[d.ID]
	if !ok {
		return ErrUnknownDelivery
	}
	delete(q.inflight, d.ID)
	if held.Attempt >= q.maxDeliveries {
		q.dead++
		return ErrMaxDeliveries
	}
	q.pending = append(q.pending, held)
	q.signal()
	return nil
}

func (q *MemoryQueue) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-olderThan)
	var recovered []*Delivery
	for id, d := range q.inflight {
		if !d.ClaimedAt.After(cutoff) {
			delete(q.inflight, id)
			recovered = append(recovered, d)
		}
	}
	if len(recovered) > 0 {
		q.pending = append(recovered, q.pending...)
		q.signal()
	}
	return len(recovered), nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: int64(len(q.pending)), InFlight: int64(len(q.inflight)), Dead: q.dead}, nil
}
