package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/evalsync/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When a key is claimed for the first time", func() {
			seen := d.SeenAndRecord(ctx, "ana_silva_2024-03-01")

			Convey("Then it is reported as new and recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same key is claimed twice", func() {
			d.SeenAndRecord(ctx, "k")
			seen := d.SeenAndRecord(ctx, "k")

			Convey("Then the second claim loses", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When seeded with existing keys", func() {
			d.Seed(ctx, "a", "b", "a")

			Convey("Then seeded keys are already claimed", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "c"), ShouldBeFalse)
			})
		})

		Convey("When a claim is released", func() {
			d.SeenAndRecord(ctx, "k")
			d.Unrecord(ctx, "k")
			d.Unrecord(ctx, "missing")

			Convey("Then the key can be claimed again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "k"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))

		Convey("When more keys than the bound are claimed", func() {
			d.SeenAndRecord(ctx, "first")
			d.SeenAndRecord(ctx, "second")
			d.SeenAndRecord(ctx, "third")

			Convey("Then the oldest claim is evicted", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "third"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "first"), ShouldBeFalse)
			})
		})
	})

	Convey("Given concurrent claimers of one key", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, "shared") {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one wins", func() {
			So(winners.Load(), ShouldEqual, 1)
		})
	})
}

func TestGuard(t *testing.T) {
	Convey("Given a guard", t, func() {
		g := dedupe.NewGuard()
		ctx := context.Background()

		Convey("When the same key is acquired concurrently", func() {
			var active, maxActive atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := g.Acquire(ctx, "evaluation-1")
					if err != nil {
						return
					}
					n := active.Add(1)
					for {
						m := maxActive.Load()
						if n <= m || maxActive.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					active.Add(-1)
					release()
				}()
			}
			wg.Wait()

			Convey("Then the critical sections never overlap", func() {
				So(maxActive.Load(), ShouldEqual, 1)
				So(g.InFlight(), ShouldEqual, 0)
			})
		})

		Convey("When different keys are acquired", func() {
			var releases []func()
			for i := 0; i < 3; i++ {
				release, err := g.Acquire(ctx, fmt.Sprintf("k%d", i))
				So(err, ShouldBeNil)
				releases = append(releases, release)
			}

			Convey("Then all are held at once", func() {
				So(g.InFlight(), ShouldEqual, 3)
				for _, r := range releases {
					r()
					r()
				}
				So(g.InFlight(), ShouldEqual, 0)
			})
		})

		Convey("When the context expires while waiting", func() {
			release, err := g.Acquire(ctx, "busy")
			So(err, ShouldBeNil)
			defer release()

			waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err = g.Acquire(waitCtx, "busy")

			Convey("Then the wait is abandoned", func() {
				So(err, ShouldEqual, context.DeadlineExceeded)
			})
		})
	})
}
