package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/storecache/internal/logging"
)

type fakeHandle struct {
	n      int
	closed atomic.Bool
}

type fakeFactory struct {
	mu     sync.Mutex
	opened int
	fail   error
	all    []*fakeHandle
}

func (f *fakeFactory) open(ctx context.Context) (*fakeHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.opened++
	h := &fakeHandle{n: f.opened}
	f.all = append(f.all, h)
	return h, nil
}

func (f *fakeFactory) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func closeFake(h *fakeHandle) error {
	h.closed.Store(true)
	return nil
}

func newTestPool(t *testing.T, min, max int) (*Pool[*fakeHandle], *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	p, err := New(context.Background(), Config{MinConnections: min, MaxConnections: max}, f.open,
		WithCloser(closeFake), WithLogger[*fakeHandle](logging.Discard()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(p.Close)
	return p, f
}

func TestNew_WarmsMinConnections(t *testing.T) {
	p, f := newTestPool(t, 2, 5)
	if f.count() != 2 {
		t.Fatalf("expected 2 eager connections, got %d", f.count())
	}
	st := p.Stats()
	if st.Idle != 2 || st.Active != 0 || st.Total != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestNew_WarmFailureClosesOpened(t *testing.T) {
	errDown := errors.New("db down")
	calls := 0
	var first *fakeHandle
	factory := func(context.Context) (*fakeHandle, error) {
		calls++
		if calls == 2 {
			return nil, errDown
		}
		first = &fakeHandle{n: calls}
		return first, nil
	}
	_, err := New(context.Background(), Config{MinConnections: 3, MaxConnections: 3}, factory,
		WithCloser(closeFake), WithLogger[*fakeHandle](logging.Discard()))
	if !errors.Is(err, errDown) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if !first.closed.Load() {
		t.Fatal("connection opened before the failure should be closed")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MinConnections: 20, MaxConnections: 0}.withDefaults()
	if cfg.MaxConnections != DefaultMaxConnections || cfg.MinConnections != DefaultMaxConnections {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestAcquire_ReusesIdleAndGrowsLazily(t *testing.T) {
	ctx := context.Background()
	p, f := newTestPool(t, 1, 3)

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if f.count() != 1 || c1.State() != StateActive {
		t.Fatalf("expected the warm connection, opened=%d state=%s", f.count(), c1.State())
	}
	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if f.count() != 2 {
		t.Fatalf("expected lazy creation, opened=%d", f.count())
	}
	if c1.ID == c2.ID {
		t.Fatal("connections must have distinct IDs")
	}

	p.Release(c1)
	if c1.State() != StateIdle {
		t.Fatalf("released connection should be idle, got %s", c1.State())
	}
	c3, _ := p.Acquire(ctx)
	if c3 != c1 {
		t.Fatal("expected the idle connection to be reused")
	}
	p.Release(c2)
	p.Release(c3)
	if st := p.Stats(); st.Idle != 2 || st.Active != 0 || st.Created != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestAcquire_FactoryFailurePropagates(t *testing.T) {
	p, f := newTestPool(t, 0, 2)
	errDown := errors.New("connection refused")
	f.setFail(errDown)

	if _, err := p.Acquire(context.Background()); !errors.Is(err, errDown) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if st := p.Stats(); st.Total != 0 || st.Active != 0 {
		t.Fatalf("failed creation must free its slot, got %+v", st)
	}
}

func TestWithConnection_BoundsConcurrency(t *testing.T) {
	p, _ := newTestPool(t, 1, 2)
	ctx := context.Background()

	var current, peak atomic.Int32
	gate := make(chan struct{})
	entered := make(chan struct{}, 3)

	op := func(ctx context.Context, h *fakeHandle) (int, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		entered <- struct{}{}
		<-gate
		current.Add(-1)
		return h.n, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := WithConnection(ctx, p, op); err != nil {
				t.Errorf("WithConnection failed: %v", err)
			}
		}()
	}

	<-entered
	<-entered
	select {
	case <-entered:
		t.Fatal("third operation ran before a connection was released")
	case <-time.After(50 * time.Millisecond):
	}
	if st := p.Stats(); st.Waiters != 1 || st.Active != 2 {
		t.Fatalf("expected one waiter and two active, got %+v", st)
	}

	gate <- struct{}{}
	<-entered
	close(gate)
	wg.Wait()

	if peak.Load() != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", peak.Load())
	}
	if st := p.Stats(); st.Total > 2 || st.Active != 0 || st.Waits != 1 {
		t.Fatalf("unexpected final stats %+v", st)
	}
}

func TestRelease_HandsOffInFIFOOrder(t *testing.T) {
	p, _ := newTestPool(t, 1, 1)
	ctx := context.Background()

	held, _ := p.Acquire(ctx)

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			order <- i
			p.Release(c)
		}(i)
		waitFor(t, func() bool { return p.Stats().Waiters == i+1 })
	}

	p.Release(held)
	wg.Wait()
	close(order)

	want := 0
	for got := range order {
		if got != want {
			t.Fatalf("waiters served out of order: got %d, want %d", got, want)
		}
		want++
	}
}

func TestAcquire_ContextCancelWhileWaiting(t *testing.T) {
	p, _ := newTestPool(t, 1, 1)
	held, _ := p.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if st := p.Stats(); st.Waiters != 0 {
		t.Fatalf("cancelled waiter must leave the queue, got %+v", st)
	}

	p.Release(held)
	c, err := p.Acquire(context.Background())
	if err != nil || c != held {
		t.Fatalf("expected the released connection, got %v, %v", c, err)
	}
	p.Release(c)
}

func TestDiscard_FreesSlotForWaiter(t *testing.T) {
	p, f := newTestPool(t, 1, 1)
	ctx := context.Background()
	broken, _ := p.Acquire(ctx)

	got := make(chan *Conn[*fakeHandle], 1)
	go func() {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
		}
		got <- c
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })

	p.Discard(broken)
	c := <-got
	if c == nil || c == broken {
		t.Fatal("waiter should receive a freshly opened connection")
	}
	if !broken.Handle.closed.Load() || broken.State() != StateClosed {
		t.Fatal("discarded handle should be destroyed")
	}
	if f.count() != 2 {
		t.Fatalf("expected a replacement to be opened, got %d", f.count())
	}

	p.Release(broken)
	if st := p.Stats(); st.Active != 1 {
		t.Fatalf("releasing a discarded connection must not change counts, got %+v", st)
	}
	p.Release(c)
}

func TestWithConnection_ReleasesOnErrorAndPanic(t *testing.T) {
	p, _ := newTestPool(t, 1, 1)
	ctx := context.Background()
	errOp := errors.New("query failed")

	_, err := WithConnection(ctx, p, func(context.Context, *fakeHandle) (string, error) {
		return "", errOp
	})
	if !errors.Is(err, errOp) {
		t.Fatalf("expected op error, got %v", err)
	}
	if st := p.Stats(); st.Active != 0 || st.Idle != 1 {
		t.Fatalf("connection not released after error: %+v", st)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		WithConnection(ctx, p, func(context.Context, *fakeHandle) (string, error) {
			panic("boom")
		})
	}()
	if st := p.Stats(); st.Active != 0 || st.Idle != 1 {
		t.Fatalf("connection not released after panic: %+v", st)
	}
}

func TestClose_FailsWaitersAndDestroysHandles(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), Config{MinConnections: 2, MaxConnections: 2}, f.open,
		WithCloser(closeFake), WithLogger[*fakeHandle](logging.Discard()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	a, _ := p.Acquire(ctx)
	b, _ := p.Acquire(ctx)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errs <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })

	p.Close()
	if err := <-errs; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for waiter, got %v", err)
	}
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}

	p.Release(a)
	p.Discard(b)
	for _, h := range f.all {
		if !h.closed.Load() {
			t.Fatalf("handle %d not destroyed", h.n)
		}
	}
	p.Close()
}

func TestWarm_RestoresMinimum(t *testing.T) {
	p, f := newTestPool(t, 2, 4)
	ctx := context.Background()

	c, _ := p.Acquire(ctx)
	p.Discard(c)
	if st := p.Stats(); st.Total != 1 {
		t.Fatalf("expected 1 connection after discard, got %+v", st)
	}
	if n := p.Warm(ctx); n != 1 {
		t.Fatalf("expected 1 connection opened, got %d", n)
	}
	if st := p.Stats(); st.Idle != 2 || f.count() != 3 {
		t.Fatalf("unexpected stats after warm %+v (opened %d)", st, f.count())
	}
	if n := p.Warm(ctx); n != 0 {
		t.Fatalf("pool already at minimum, opened %d", n)
	}
}

func TestStartWarmer(t *testing.T) {
	p, _ := newTestPool(t, 1, 2)
	c, _ := p.Acquire(context.Background())
	p.Discard(c)

	p.StartWarmer(5 * time.Millisecond)
	waitFor(t, func() bool { return p.Stats().Idle == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
