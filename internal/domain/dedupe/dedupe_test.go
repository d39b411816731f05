package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/devpulse/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()
			So(d, ShouldNotBeNil)
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When recording events", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("A new id is recorded", func() {
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("A repeated id is reported as seen", func() {
				d.SeenAndRecord(ctx, "event-1")
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("An unrecorded id can be recorded again", func() {
				d.SeenAndRecord(ctx, "event-1")
				d.Unrecord(ctx, "event-1")
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "event-1"), ShouldBeFalse)
			})

			Convey("Unrecording an unknown id is a no-op", func() {
				d.Unrecord(ctx, "missing")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the deduper is bounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, id := range []string{"a", "b", "c", "d"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}

			Convey("The oldest id is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			})
		})

		Convey("When the deduper is unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("e-%d", i))
			}
			So(d.Size(), ShouldEqual, 1000)
			So(d.SeenAndRecord(ctx, "e-0"), ShouldBeTrue)
		})

		Convey("When many goroutines race on the same ids", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			var fresh atomic.Int64
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						if !d.SeenAndRecord(ctx, fmt.Sprintf("e-%d", i)) {
							fresh.Add(1)
						}
					}
				}()
			}
			wg.Wait()

			Convey("Each id is recorded exactly once", func() {
				So(fresh.Load(), ShouldEqual, 100)
				So(d.Size(), ShouldEqual, 100)
			})
		})
	})
}
