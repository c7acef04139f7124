package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Delivery is one job message taken off the queue.
type Delivery struct {
	JobID   string
	Attempt int

	Ack func() error
	// DeadLetter rejects the message without requeue.
	DeadLetter func() error
	// Retry parks the job for a later attempt and acks this delivery.
	Retry func(attempt int, delay time.Duration) error
}

// Handler processes one job.
type Handler func(ctx context.Context, jobID string) error

type Pool struct {
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	Handle      Handler
}

// Run fans deliveries out to Concurrency workers until ctx is done or
// deliveries is closed, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context, deliveries <-chan Delivery) {
	n := p.Concurrency
	if n <= 0 {
		n = 1
	}
	jobs := make(chan Delivery, n*2)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.process(ctx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Printf("[Worker] delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, d Delivery) {
	if d.JobID == "" {
		log.Printf("[Worker] worker=%d bad message", workerID)
		_ = d.DeadLetter()
		return
	}

	start := time.Now()
	err := p.Handle(ctx, d.JobID)
	if err == nil {
		if err := d.Ack(); err != nil {
			log.Printf("[Worker] worker=%d ack failed job=%s err=%v", workerID, d.JobID, err)
		}
		if cost := time.Since(start); cost > 2*time.Second {
			log.Printf("[Worker] job_timing job=%s total=%s", d.JobID, cost)
		}
		return
	}

	log.Printf("[Worker] worker=%d job %s failed attempt=%d cost=%s err=%v", workerID, d.JobID, d.Attempt, time.Since(start), err)
	if d.Attempt < p.MaxAttempts && d.Retry != nil {
		rerr := d.Retry(d.Attempt+1, p.RetryDelay)
		if rerr == nil {
			return
		}
		log.Printf("[Worker] retry publish failed job=%s err=%v", d.JobID, rerr)
	}
	_ = d.DeadLetter()
}
