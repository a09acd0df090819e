// Package persist runs durable side effects off the room's critical path.
//
// Room state never waits on storage: callers Submit a job and move on. A full
// queue drops the job, a failing job is logged, and neither outcome is reported
// back to the submitter.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrQueueClosed = errors.New("persistence queue is closed")

// Config tunes the queue
type Config struct {
	Capacity   int           `json:"capacity"`
	Workers    int           `json:"workers"`
	JobTimeout time.Duration `json:"job_timeout"`
}

// DefaultConfig uses one worker so writes reach the store in submission order
func DefaultConfig() Config {
	return Config{
		Capacity:   1024,
		Workers:    1,
		JobTimeout: 5 * time.Second,
	}
}

// JobFunc performs one storage side effect
type JobFunc func(ctx context.Context) error

type job struct {
	name   string
	fields logrus.Fields
	run    JobFunc
}

// Submitter accepts storage jobs without blocking the caller
type Submitter interface {
	Submit(name string, fields logrus.Fields, fn JobFunc) bool
}

// Queue is a bounded fire-and-forget job queue
type Queue struct {
	cfg  Config
	jobs chan job
	log  *logrus.Entry

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool

	wg        sync.WaitGroup
	onFailure func(name string)
}

var _ Submitter = (*Queue)(nil)

// New starts the worker goroutines
func New(cfg Config, logger *logrus.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	q := &Queue{
		cfg:  cfg,
		jobs: make(chan job, cfg.Capacity),
		log:  logger.WithField("component", "persist"),
	}
	q.idle = sync.NewCond(&q.mu)

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// OnFailure registers a callback invoked for every failed or dropped job
func (q *Queue) OnFailure(fn func(name string)) {
	q.mu.Lock()
	q.onFailure = fn
	q.mu.Unlock()
}

// Submit enqueues fn without blocking. It returns false when the job was dropped.
func (q *Queue) Submit(name string, fields logrus.Fields, fn JobFunc) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.WithFields(fields).WithField("job", name).Warn("persistence queue closed, dropping job")
		return false
	}

	select {
	case q.jobs <- job{name: name, fields: fields, run: fn}:
		q.pending++
		q.mu.Unlock()
		return true
	default:
		hook := q.onFailure
		q.mu.Unlock()
		q.log.WithFields(fields).WithField("job", name).Error("persistence queue full, dropping job")
		if hook != nil {
			hook(name)
		}
		return false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.execute(j)
	}
}

func (q *Queue) execute(j job) {
	defer q.done()
	defer func() {
		if r := recover(); r != nil {
			q.log.WithFields(j.fields).WithField("job", j.name).Errorf("persistence job panicked: %v", r)
			q.fail(j.name)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	if err := j.run(ctx); err != nil {
		q.log.WithFields(j.fields).WithField("job", j.name).WithError(err).Error("storage failure")
		q.fail(j.name)
	}
}

func (q *Queue) fail(name string) {
	q.mu.Lock()
	hook := q.onFailure
	q.mu.Unlock()
	if hook != nil {
		hook(name)
	}
}

func (q *Queue) done() {
	q.mu.Lock()
	q.pending--
	if q.pending == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}

// Wait blocks until every accepted job has run, including jobs submitted while waiting
func (q *Queue) Wait() {
	q.mu.Lock()
	for q.pending > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Len reports jobs accepted but not yet finished
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close stops accepting jobs and drains what is already queued
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
