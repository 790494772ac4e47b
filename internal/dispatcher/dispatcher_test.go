package dispatcher

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mapview/internal/tile"
	"mapview/internal/tilesource"
)

type funcJob struct {
	tile *tile.Tile
	fn   func(ctx context.Context)
}

func (j funcJob) Tile() *tile.Tile        { return j.tile }
func (j funcJob) Run(ctx context.Context) { j.fn(ctx) }

func testTile(x int) *tile.Tile {
	src := &tilesource.Source{Name: "test", URL: "http://h/{z}/{x}/{y}.png", MaxZoom: 18, TileSize: 256, TileType: "png"}
	return tile.New(src, x, 0, 10)
}

func newDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	d := New(opts, zaptest.NewLogger(t))
	t.Cleanup(func() { d.Close() })
	eventually(t, func() bool { return d.Stats().Idle == 1 })
	return d
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// blocker occupies one worker until release is closed.
func blocker(started chan<- struct{}, release <-chan struct{}) funcJob {
	return funcJob{fn: func(ctx context.Context) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
	}}
}

func TestAddJobSuppressesDuplicates(t *testing.T) {
	d := newDispatcher(t, Options{MaxWorkers: 1})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.AddJob(blocker(started, release))
	<-started

	tl := testTile(1)
	var runs sync.WaitGroup
	runs.Add(1)
	job := funcJob{tile: tl, fn: func(context.Context) { runs.Done() }}

	if !d.AddJob(job) {
		t.Fatal("first job for a tile should be queued")
	}
	if d.AddJob(job) {
		t.Error("second job for the same tile should be dropped")
	}
	if d.AddJob(funcJob{tile: testTile(1), fn: func(context.Context) {}}) {
		t.Error("a different tile value with the same key should be dropped")
	}
	if got := d.Stats().Queued; got != 1 {
		t.Errorf("Queued = %d, want 1", got)
	}

	close(release)
	runs.Wait()
}

func TestNilTileJobsAreNotDeduplicated(t *testing.T) {
	d := newDispatcher(t, Options{MaxWorkers: 1})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.AddJob(blocker(started, release))
	<-started

	noop := funcJob{fn: func(context.Context) {}}
	for range 3 {
		if !d.AddJob(noop) {
			t.Fatal("jobs without a tile must always be queued")
		}
	}
	if got := d.Stats().Queued; got != 3 {
		t.Errorf("Queued = %d, want 3", got)
	}
	close(release)
}

func TestRequeueAfterStart(t *testing.T) {
	d := newDispatcher(t, Options{MaxWorkers: 1})
	tl := testTile(7)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	first := blocker(started, release)
	first.tile = tl

	d.AddJob(first)
	<-started
	if !d.AddJob(funcJob{tile: tl, fn: func(context.Context) {}}) {
		t.Error("a running job must not block a new job for its tile")
	}
	close(release)
}

func TestCancelOutstandingJobs(t *testing.T) {
	d := newDispatcher(t, Options{MaxWorkers: 1})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.AddJob(blocker(started, release))
	<-started

	var mu sync.Mutex
	ran := 0
	for i := range 5 {
		d.AddJob(funcJob{tile: testTile(i), fn: func(context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		}})
	}

	d.CancelOutstandingJobs()
	if got := d.Stats().Queued; got != 0 {
		t.Fatalf("Queued after cancel = %d, want 0", got)
	}

	// The running job is unaffected and finishes normally.
	close(release)
	eventually(t, func() bool { return d.Stats().Idle == 1 })

	mu.Lock()
	defer mu.Unlock()
	if ran != 0 {
		t.Errorf("%d cancelled jobs ran", ran)
	}

	// Cancelled keys can be queued again.
	if !d.AddJob(funcJob{tile: testTile(0), fn: func(context.Context) {}}) {
		t.Error("job rejected after cancel")
	}
}

func TestWorkersGrowAndShrink(t *testing.T) {
	d := newDispatcher(t, Options{MaxWorkers: 3, IdleTimeout: 50 * time.Millisecond})
	started := make(chan struct{}, 4)
	release := make(chan struct{})

	for i := 1; i <= 3; i++ {
		d.AddJob(blocker(started, release))
		<-started
		if got := d.Stats().Workers; got != i {
			t.Fatalf("after %d busy jobs: Workers = %d", i, got)
		}
	}
	eventually(t, func() bool { s := d.Stats(); return s.Workers == 3 && s.Idle == 0 })

	// At the ceiling further jobs wait in the queue.
	d.AddJob(funcJob{fn: func(context.Context) {}})
	if s := d.Stats(); s.Workers != 3 || s.Queued != 1 {
		t.Errorf("at ceiling: %+v", s)
	}

	close(release)
	// Extra workers time out; the first one stays.
	eventually(t, func() bool { s := d.Stats(); return s.Workers == 1 && s.Queued == 0 })
	time.Sleep(120 * time.Millisecond)
	if got := d.Stats().Workers; got != 1 {
		t.Errorf("Workers = %d, the first worker must never time out", got)
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	d := newDispatcher(t, Options{MaxWorkers: 1})

	d.AddJob(funcJob{fn: func(context.Context) { panic("boom") }})

	done := make(chan struct{})
	d.AddJob(funcJob{fn: func(context.Context) { close(done) }})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job after a panic did not run")
	}
	if got := d.Stats().Workers; got != 1 {
		t.Errorf("Workers = %d, want 1", got)
	}
}

func runOrder(t *testing.T, lifo bool) []int {
	d := newDispatcher(t, Options{MaxWorkers: 1, LIFO: lifo})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.AddJob(blocker(started, release))
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		d.AddJob(funcJob{tile: testTile(i), fn: func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}})
	}
	close(release)
	wg.Wait()
	return order
}

func TestQueueDiscipline(t *testing.T) {
	if got := runOrder(t, false); !slices.Equal(got, []int{1, 2, 3, 4}) {
		t.Errorf("FIFO order = %v", got)
	}
	if got := runOrder(t, true); !slices.Equal(got, []int{4, 3, 2, 1}) {
		t.Errorf("LIFO order = %v", got)
	}
}

func TestClose(t *testing.T) {
	d := New(Options{MaxWorkers: 2}, zaptest.NewLogger(t))

	started := make(chan struct{}, 1)
	cancelled := make(chan struct{})
	d.AddJob(funcJob{fn: func(ctx context.Context) {
		started <- struct{}{}
		<-ctx.Done()
		close(cancelled)
	}})
	<-started

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Error("running job's context was not cancelled")
	}
	if s := d.Stats(); s.Workers != 0 {
		t.Errorf("Workers after Close = %d", s.Workers)
	}
	if d.AddJob(funcJob{fn: func(context.Context) {}}) {
		t.Error("AddJob after Close should be rejected")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
