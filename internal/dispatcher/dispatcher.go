// Package dispatcher runs tile jobs on an elastic pool of worker goroutines.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mapview/internal/metrics"
	"mapview/internal/tile"
)

const (
	DefaultMaxWorkers  = 8
	DefaultIdleTimeout = 30 * time.Second
)

// Job is a unit of work for one tile.
type Job interface {
	// Tile is the tile the job loads. A nil tile opts out of duplicate
	// suppression.
	Tile() *tile.Tile
	// Run does the work. ctx is cancelled when the dispatcher closes.
	Run(ctx context.Context)
}

type Options struct {
	MaxWorkers  int
	IdleTimeout time.Duration
	// LIFO serves the most recently added job first.
	LIFO bool
}

type Stats struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Queued  int `json:"queued"`
}

// Dispatcher keeps between one and MaxWorkers goroutines working through a
// single job queue. The first worker lives until Close; the others exit after
// IdleTimeout without work.
type Dispatcher struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	queue   []Job
	queued  map[string]struct{}
	workers int
	idle    int
	nextID  int
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options, log *zap.Logger) *Dispatcher {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:   opts,
		log:    log,
		queued: make(map[string]struct{}),
		wake:   make(chan struct{}, opts.MaxWorkers),
		ctx:    ctx,
		cancel: cancel,
	}

	d.mu.Lock()
	d.startWorker(true)
	d.mu.Unlock()

	log.Info("Job dispatcher started",
		zap.Int("max_workers", opts.MaxWorkers),
		zap.Duration("idle_timeout", opts.IdleTimeout),
		zap.Bool("lifo", opts.LIFO),
	)
	return d
}

// AddJob queues job unless a queued job already targets the same tile. It
// reports whether the job was queued.
func (d *Dispatcher) AddJob(job Job) bool {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return false
	}

	key := jobKey(job)
	if key != "" {
		if _, dup := d.queued[key]; dup {
			d.mu.Unlock()
			metrics.DispatcherJobs.WithLabelValues(metrics.JobDropped).Inc()
			return false
		}
		d.queued[key] = struct{}{}
	}
	d.queue = append(d.queue, job)
	metrics.DispatcherQueueLength.Set(float64(len(d.queue)))
	metrics.DispatcherJobs.WithLabelValues(metrics.JobQueued).Inc()

	if d.idle == 0 && d.workers < d.opts.MaxWorkers {
		d.startWorker(false)
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// CancelOutstandingJobs drops every job that has not started yet. Running
// jobs are left alone.
func (d *Dispatcher) CancelOutstandingJobs() {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.dropQueue()
	if n > 0 {
		d.log.Debug("Cancelled outstanding jobs", zap.Int("count", n))
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Workers: d.workers, Idle: d.idle, Queued: len(d.queue)}
}

// Close stops accepting jobs, drops the queue, cancels running jobs' context
// and waits for all workers to exit.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.dropQueue()
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.log.Info("Job dispatcher stopped")
	return nil
}

// dropQueue empties the queue. Callers hold d.mu.
func (d *Dispatcher) dropQueue() int {
	n := len(d.queue)
	clear(d.queue)
	d.queue = d.queue[:0]
	clear(d.queued)
	metrics.DispatcherQueueLength.Set(0)
	metrics.DispatcherJobs.WithLabelValues(metrics.JobCancelled).Add(float64(n))
	return n
}

// startWorker launches a worker goroutine. Callers hold d.mu.
func (d *Dispatcher) startWorker(first bool) {
	d.workers++
	d.nextID++
	metrics.DispatcherWorkers.Set(float64(d.workers))

	d.wg.Add(1)
	go d.work(d.nextID, first)
}

// next pops a job according to the queue discipline. Callers hold d.mu.
func (d *Dispatcher) next() (Job, bool) {
	n := len(d.queue)
	if n == 0 {
		return nil, false
	}

	var job Job
	if d.opts.LIFO {
		job = d.queue[n-1]
		d.queue[n-1] = nil
		d.queue = d.queue[:n-1]
	} else {
		job = d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
	}
	if key := jobKey(job); key != "" {
		delete(d.queued, key)
	}
	metrics.DispatcherQueueLength.Set(float64(len(d.queue)))
	return job, true
}

func (d *Dispatcher) work(id int, first bool) {
	defer d.wg.Done()

	log := d.log.With(zap.Int("worker", id))
	log.Debug("Worker started", zap.Bool("first", first))

	var timer *time.Timer
	if !first {
		timer = time.NewTimer(d.opts.IdleTimeout)
		defer timer.Stop()
	}

	for {
		d.mu.Lock()
		if job, ok := d.next(); ok {
			d.mu.Unlock()
			d.run(log, job)
			continue
		}
		if d.closed {
			d.exit()
			d.mu.Unlock()
			return
		}
		d.idle++
		d.mu.Unlock()

		expired := false
		if first {
			select {
			case <-d.wake:
			case <-d.ctx.Done():
			}
		} else {
			timer.Reset(d.opts.IdleTimeout)
			select {
			case <-d.wake:
			case <-d.ctx.Done():
			case <-timer.C:
				expired = true
			}
			timer.Stop()
		}

		d.mu.Lock()
		d.idle--
		if expired && len(d.queue) == 0 {
			d.exit()
			d.mu.Unlock()
			log.Debug("Worker idle timeout")
			return
		}
		d.mu.Unlock()
	}
}

// exit accounts for a leaving worker. Callers hold d.mu.
func (d *Dispatcher) exit() {
	d.workers--
	metrics.DispatcherWorkers.Set(float64(d.workers))
}

func (d *Dispatcher) run(log *zap.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatcherJobs.WithLabelValues(metrics.JobPanicked).Inc()
			log.Error("Job panicked",
				zap.String("job", describe(job)),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
	}()

	job.Run(d.ctx)
	metrics.DispatcherJobs.WithLabelValues(metrics.JobExecuted).Inc()
}

func jobKey(job Job) string {
	if t := job.Tile(); t != nil {
		return t.Key()
	}
	return ""
}

func describe(job Job) string {
	if t := job.Tile(); t != nil {
		return t.String()
	}
	return fmt.Sprintf("%T", job)
}
