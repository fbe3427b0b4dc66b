package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WriteFunc performs the physical write of one job
type WriteFunc func(ctx context.Context, payload []byte) error

// Queue serialises print jobs. At most one job executes at a time, jobs run
// in enqueue order, and a failed job never blocks the ones behind it.
type Queue struct {
	write  WriteFunc
	notify func(Job)

	mu       sync.Mutex
	jobs     []*Job
	pending  []*Job
	printing bool
	lastID   int64

	currentCancel context.CancelFunc
	currentDone   chan struct{}

	wg sync.WaitGroup
}

// NewQueue creates a queue. notify is called after every status change and may be nil.
func NewQueue(write WriteFunc, notify func(Job)) *Queue {
	if notify == nil {
		notify = func(Job) {}
	}
	return &Queue{
		write:  write,
		notify: notify,
	}
}

// Enqueue adds a pending job and starts the processor if it is idle.
// It returns immediately without waiting for the write.
func (q *Queue) Enqueue(payload []byte) Job {
	now := time.Now()

	q.mu.Lock()
	id := now.UnixNano()
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id

	data := make([]byte, len(payload))
	copy(data, payload)

	job := &Job{
		ID:        fmt.Sprintf("job_%d", id),
		Payload:   data,
		Size:      len(data),
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs = append(q.jobs, job)
	q.pending = append(q.pending, job)

	start := !q.printing
	if start {
		q.printing = true
		q.wg.Add(1)
	}
	snapshot := job.detached()
	q.mu.Unlock()

	q.notify(snapshot)

	if start {
		go q.process()
	}
	return snapshot
}

// process drains the pending list; exactly one runs at a time
func (q *Queue) process() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.printing = false
			q.mu.Unlock()
			return
		}

		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		job.Status = JobPrinting
		job.UpdatedAt = time.Now()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		q.currentCancel = cancel
		q.currentDone = done
		snapshot := job.detached()
		q.mu.Unlock()

		q.notify(snapshot)
		log.Debug().Str("job", job.ID).Int("bytes", job.Size).Msg("printing job")

		err := q.safeWrite(ctx, job.Payload)
		cancel()

		q.mu.Lock()
		if err != nil {
			job.Status = JobFailed
			job.Error = err.Error()
		} else {
			job.Status = JobCompleted
		}
		job.UpdatedAt = time.Now()
		q.currentCancel = nil
		q.currentDone = nil
		snapshot = job.detached()
		q.mu.Unlock()

		close(done)

		if err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("print job failed")
		} else {
			log.Info().Str("job", job.ID).Msg("print job completed")
		}
		q.notify(snapshot)
	}
}

func (q *Queue) safeWrite(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("write panicked: %v", r)
		}
	}()
	return q.write(ctx, payload)
}

// CancelCurrent cancels the context of the executing job, if any
func (q *Queue) CancelCurrent() {
	q.mu.Lock()
	cancel := q.currentCancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// WaitCurrent blocks until the executing job, if any, has finished or ctx ends
func (q *Queue) WaitCurrent(ctx context.Context) error {
	q.mu.Lock()
	done := q.currentDone
	q.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the queue is idle
func (q *Queue) Wait() {
	q.wg.Wait()
}

// WaitIdle is Wait bounded by ctx
func (q *Queue) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Printing reports whether a job is executing
func (q *Queue) Printing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentDone != nil
}

// GetJob returns a copy of the job with the given id
func (q *Queue) GetJob(jobID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == jobID {
			return job.detached(), true
		}
	}
	return Job{}, false
}

// GetAllJobs returns copies of every job in enqueue order
func (q *Queue) GetAllJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, len(q.jobs))
	for i, job := range q.jobs {
		jobs[i] = job.detached()
	}
	return jobs
}

// ClearCompleted drops finished jobs from the history
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if !job.Done() {
			filtered = append(filtered, job)
		}
	}
	removed := len(q.jobs) - len(filtered)
	q.jobs = filtered
	return removed
}
