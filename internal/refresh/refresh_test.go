package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/devpulse/internal/adapters/mq/queue"
	"github.com/okian/devpulse/internal/adapters/mq/worker"
	"github.com/okian/devpulse/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// gatedCompute counts calls and blocks each one until the gate is opened.
type gatedCompute struct {
	calls atomic.Int64
	gate  chan struct{}
	err   error
}

func (g *gatedCompute) compute(ctx context.Context, scope string) (int, error) {
	n := g.calls.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if g.err != nil {
		return 0, g.err
	}
	return int(n), nil
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestColdStartSingleFlight(t *testing.T) {
	Convey("Given a cold cache and a slow compute", t, func() {
		g := &gatedCompute{gate: make(chan struct{})}
		c := New(NewCache[int](), g.compute)
		ctx := context.Background()

		Convey("When many callers ask for the same scope at once", func() {
			const callers = 50
			var wg sync.WaitGroup
			results := make(chan View[int], callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					v, err := c.Get(ctx, "demo")
					if err == nil {
						results <- v
					}
				}()
			}
			So(eventually(func() bool { return g.calls.Load() == 1 }), ShouldBeTrue)
			time.Sleep(20 * time.Millisecond)
			close(g.gate)
			wg.Wait()
			close(results)

			Convey("Then exactly one computation ran and everyone got its result", func() {
				So(g.calls.Load(), ShouldEqual, 1)
				count := 0
				for v := range results {
					So(v.Value, ShouldEqual, 1)
					So(v.Stale, ShouldBeFalse)
					count++
				}
				So(count, ShouldEqual, callers)
			})
		})
	})
}

func TestStaleServing(t *testing.T) {
	Convey("Given a cached value", t, func() {
		clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		g := &gatedCompute{gate: make(chan struct{})}
		close(g.gate)
		c := New(NewCache[int](), g.compute, WithTTL(15*time.Minute), WithClock(clk.Now))
		ctx := context.Background()

		first, err := c.Get(ctx, "demo")
		So(err, ShouldBeNil)
		So(first.Value, ShouldEqual, 1)

		Convey("When read within the TTL", func() {
			clk.Advance(10 * time.Minute)
			v, err := c.Get(ctx, "demo")

			Convey("Then it is fresh and nothing recomputes", func() {
				So(err, ShouldBeNil)
				So(v.Stale, ShouldBeFalse)
				So(g.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When read after the TTL by several callers", func() {
			g.gate = make(chan struct{})
			clk.Advance(16 * time.Minute)
			for i := 0; i < 5; i++ {
				v, err := c.Get(ctx, "demo")
				So(err, ShouldBeNil)
				So(v.Stale, ShouldBeTrue)
				So(v.Refreshing, ShouldBeTrue)
				So(v.Value, ShouldEqual, 1)
			}

			Convey("Then one background recompute replaces the value", func() {
				So(eventually(func() bool { return g.calls.Load() == 2 }), ShouldBeTrue)
				close(g.gate)
				So(eventually(func() bool { return !c.InFlight("demo") }), ShouldBeTrue)
				v, err := c.Get(ctx, "demo")
				So(err, ShouldBeNil)
				So(v.Stale, ShouldBeFalse)
				So(v.Value, ShouldEqual, 2)
				So(g.calls.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestForcedRefresh(t *testing.T) {
	Convey("Given a recompute in flight", t, func() {
		g := &gatedCompute{gate: make(chan struct{})}
		c := New(NewCache[int](), g.compute)
		ctx := context.Background()

		a, err := c.Refresh(ctx, "demo")
		So(err, ShouldBeNil)
		So(a.Joined, ShouldBeFalse)

		Convey("When refresh is forced again", func() {
			b, err := c.Refresh(ctx, "demo")

			Convey("Then it joins the running task", func() {
				So(err, ShouldBeNil)
				So(b.Joined, ShouldBeTrue)
				So(b.TaskID, ShouldEqual, a.TaskID)
				close(g.gate)
				task, ok := c.Task("demo")
				if ok {
					<-task.Done()
				}
				So(eventually(func() bool { _, ok := c.Peek("demo"); return ok }), ShouldBeTrue)
				So(g.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the scope is deleted mid-flight", func() {
			task, ok := c.Task("demo")
			So(ok, ShouldBeTrue)
			c.Delete("demo")
			close(g.gate)

			Convey("Then the waiter is cancelled and nothing is cached", func() {
				_, err := task.Wait(ctx)
				So(errors.Is(err, ErrCancelled), ShouldBeTrue)
				time.Sleep(10 * time.Millisecond)
				_, cached := c.Peek("demo")
				So(cached, ShouldBeFalse)
			})
		})

		Convey("When the coordinator shuts down", func() {
			task, _ := c.Task("demo")
			So(c.Shutdown(ctx), ShouldBeNil)

			Convey("Then waiters are released and new work is refused", func() {
				_, err := task.Wait(ctx)
				So(errors.Is(err, ErrCancelled), ShouldBeTrue)
				_, err = c.Refresh(ctx, "other")
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestRefreshWait(t *testing.T) {
	Convey("Given a compute that fails as soon as it runs", t, func() {
		g := &gatedCompute{gate: make(chan struct{}), err: errors.New("provider down")}
		close(g.gate)
		c := New(NewCache[int](), g.compute)
		ctx := context.Background()

		Convey("Then the waiter gets the task's own error", func() {
			_, err := c.RefreshWait(ctx, "demo")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "provider down")
			So(c.InFlight("demo"), ShouldBeFalse)
		})

		Convey("Then a later success is returned once it lands", func() {
			_, _ = c.RefreshWait(ctx, "demo")
			g.err = nil
			v, err := c.RefreshWait(ctx, "demo")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 2)
		})
	})

	Convey("Given a recompute in flight", t, func() {
		g := &gatedCompute{gate: make(chan struct{})}
		c := New(NewCache[int](), g.compute)
		ctx := context.Background()
		a, err := c.Refresh(ctx, "demo")
		So(err, ShouldBeNil)

		Convey("When a waiter joins and the task completes", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				close(g.gate)
			}()
			v, err := c.RefreshWait(ctx, "demo")

			Convey("Then it receives the joined task's value", func() {
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 1)
				So(g.calls.Load(), ShouldEqual, 1)
				So(a.Joined, ShouldBeFalse)
			})
		})
	})

	Convey("Given a closed coordinator", t, func() {
		c := New(NewCache[int](), (&gatedCompute{gate: make(chan struct{})}).compute)
		So(c.Shutdown(context.Background()), ShouldBeNil)

		_, err := c.RefreshWait(context.Background(), "demo")
		So(errors.Is(err, ErrClosed), ShouldBeTrue)
	})
}

func TestComputeFailure(t *testing.T) {
	Convey("Given a compute that fails", t, func() {
		g := &gatedCompute{gate: make(chan struct{}), err: errors.New("provider down")}
		close(g.gate)
		c := New(NewCache[int](), g.compute)

		_, err := c.Get(context.Background(), "demo")

		Convey("Then the cold caller sees the error and nothing is cached", func() {
			So(err, ShouldNotBeNil)
			_, ok := c.Peek("demo")
			So(ok, ShouldBeFalse)
		})

		Convey("Then the next call retries", func() {
			g.err = nil
			v, err := c.Get(context.Background(), "demo")
			So(err, ShouldBeNil)
			So(v.Value, ShouldEqual, 2)
		})
	})
}

func TestWorkerPoolSubmission(t *testing.T) {
	Convey("Given recomputes running on the worker pool", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		pool := worker.NewPool(2, q)
		pool.Start(context.Background())
		defer func() { _ = pool.Shutdown(context.Background()) }()

		g := &gatedCompute{gate: make(chan struct{})}
		close(g.gate)
		c := New(NewCache[int](), g.compute, WithSubmitter(q))

		v, err := c.Get(context.Background(), "demo")
		So(err, ShouldBeNil)
		So(v.Value, ShouldEqual, 1)

		So(c.Sweep(context.Background(), []string{"demo", "other"}), ShouldEqual, 1)
		So(eventually(func() bool { _, ok := c.Peek("other"); return ok }), ShouldBeTrue)
	})
}
