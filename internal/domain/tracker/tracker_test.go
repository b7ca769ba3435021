package tracker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/internal/clock"
	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/internal/domain/tracker"
	"github.com/okian/wordchain/pkg/logger"
)

var start = time.UnixMilli(1_700_000_000_000).UTC()

func newTracker(t *testing.T) (*tracker.Tracker, *clock.Fake, *repository.MemoryStore) {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	store := repository.NewMemoryStore()
	clk := clock.NewFake(start)
	tr := tracker.New(store, tracker.WithClock(clk.Now), tracker.WithWindow(10*time.Second))
	return tr, clk, store
}

func TestApplyIncrement(t *testing.T) {
	ctx := context.Background()

	Convey("Given region KR registered with score 0", t, func() {
		tr, clk, _ := newTracker(t)
		created, err := tr.Register(ctx, "KR")
		So(err, ShouldBeNil)
		So(created, ShouldBeTrue)

		Convey("When 5 is applied", func() {
			So(tr.ApplyIncrement(ctx, "KR", 5), ShouldBeNil)

			Convey("Then it is moving with score 5 immediately", func() {
				row, err := tr.Standing(ctx, "KR")
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, 5)
				So(row.Moving, ShouldBeTrue)
			})

			Convey("And 11 seconds pass with no further calls", func() {
				clk.Advance(11 * time.Second)

				Convey("Then it is idle and the score is still 5", func() {
					row, err := tr.Standing(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Score, ShouldEqual, 5)
					So(row.Moving, ShouldBeFalse)
				})
			})

			Convey("And exactly the window passes", func() {
				clk.Advance(10 * time.Second)

				Convey("Then it is no longer moving", func() {
					row, err := tr.Standing(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Moving, ShouldBeFalse)
				})
			})

			Convey("And a second increment arrives at 5s", func() {
				clk.Advance(5 * time.Second)
				So(tr.ApplyIncrement(ctx, "KR", 2), ShouldBeNil)

				Convey("Then it is still moving at 10s", func() {
					clk.Advance(5 * time.Second)
					row, err := tr.Standing(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Moving, ShouldBeTrue)
					So(row.Score, ShouldEqual, 7)
				})

				Convey("Then it is still moving just before 15s", func() {
					clk.Advance(10*time.Second - time.Millisecond)
					row, err := tr.Standing(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Moving, ShouldBeTrue)
				})

				Convey("Then it stops moving at 15s", func() {
					clk.Advance(10 * time.Second)
					row, err := tr.Standing(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Moving, ShouldBeFalse)
				})
			})

			Convey("And it is read twice without increments", func() {
				first, err := tr.Standing(ctx, "KR")
				So(err, ShouldBeNil)
				second, err := tr.Standing(ctx, "KR")
				So(err, ShouldBeNil)

				Convey("Then both reads are identical", func() {
					So(second, ShouldResemble, first)
				})
			})
		})

		Convey("When a negative delta is applied", func() {
			So(tr.ApplyIncrement(ctx, "KR", -3), ShouldBeNil)

			Convey("Then the score goes below zero", func() {
				row, err := tr.Standing(ctx, "KR")
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, -3)
				So(row.Moving, ShouldBeTrue)
			})
		})

		Convey("When the region is given with surrounding spaces", func() {
			So(tr.ApplyIncrement(ctx, "  KR ", 1), ShouldBeNil)

			Convey("Then it resolves to the same region", func() {
				row, err := tr.Standing(ctx, "KR")
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, 1)
			})
		})
	})

	Convey("Given no registered regions", t, func() {
		tr, _, store := newTracker(t)

		Convey("When incrementing an unknown region", func() {
			err := tr.ApplyIncrement(ctx, "XX", 5)

			Convey("Then it fails with region not found and creates nothing", func() {
				So(errors.Is(err, model.ErrRegionNotFound), ShouldBeTrue)
				n, err := store.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
				_, err = tr.Standing(ctx, "XX")
				So(errors.Is(err, model.ErrRegionNotFound), ShouldBeTrue)
			})
		})

		Convey("When the region is empty", func() {
			err := tr.ApplyIncrement(ctx, "   ", 5)
			So(errors.Is(err, model.ErrInvalidRegion), ShouldBeTrue)
		})

		Convey("When the region is too long", func() {
			_, err := tr.Register(ctx, strings.Repeat("가", 65))
			So(errors.Is(err, model.ErrInvalidRegion), ShouldBeTrue)

			created, err := tr.Register(ctx, strings.Repeat("가", 64))
			So(err, ShouldBeNil)
			So(created, ShouldBeTrue)
		})
	})
}

func TestApplyIncrementConcurrent(t *testing.T) {
	ctx := context.Background()

	Convey("Given a region with an initial score", t, func() {
		tr, _, _ := newTracker(t)
		_, err := tr.Register(ctx, "KR")
		So(err, ShouldBeNil)
		So(tr.ApplyIncrement(ctx, "KR", 100), ShouldBeNil)

		Convey("When many increments race", func() {
			const n = 200
			var wg sync.WaitGroup
			errs := make(chan error, n)
			var want int64 = 100
			for i := 0; i < n; i++ {
				d := int64(i%7 - 3)
				want += d
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- tr.ApplyIncrement(ctx, "KR", d)
				}()
			}
			wg.Wait()
			close(errs)

			Convey("Then the final score is the initial plus every delta", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
				row, err := tr.Standing(ctx, "KR")
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, want)
			})
		})
	})
}

func TestRegisterAndLeaderboard(t *testing.T) {
	ctx := context.Background()

	Convey("Given several regions", t, func() {
		tr, clk, _ := newTracker(t)
		for _, r := range []string{"US", "KR", "JP"} {
			_, err := tr.Register(ctx, r)
			So(err, ShouldBeNil)
		}

		Convey("When a region is registered twice", func() {
			created, err := tr.Register(ctx, "KR")

			Convey("Then the second call is a successful no-op", func() {
				So(err, ShouldBeNil)
				So(created, ShouldBeFalse)
			})
		})

		Convey("When scores are applied at different times", func() {
			So(tr.ApplyIncrement(ctx, "KR", 4), ShouldBeNil)
			clk.Advance(6 * time.Second)
			So(tr.ApplyIncrement(ctx, "JP", 9), ShouldBeNil)
			clk.Advance(5 * time.Second)

			Convey("Then the leaderboard is ordered with derived moving flags", func() {
				board, err := tr.Leaderboard(ctx)
				So(err, ShouldBeNil)
				So(len(board), ShouldEqual, 3)
				So(board[0].Region, ShouldEqual, "JP")
				So(board[0].Moving, ShouldBeTrue)
				So(board[1].Region, ShouldEqual, "KR")
				So(board[1].Moving, ShouldBeFalse)
				So(board[2].Region, ShouldEqual, "US")
				So(board[2].Moving, ShouldBeFalse)
			})

			Convey("Then Counts reports registered and moving regions", func() {
				registered, moving, err := tr.Counts(ctx)
				So(err, ShouldBeNil)
				So(registered, ShouldEqual, 3)
				So(moving, ShouldEqual, 1)
			})
		})
	})
}

type failingStore struct {
	*repository.MemoryStore
	err error
}

func (f failingStore) Increment(context.Context, string, int64, time.Time, time.Duration) (model.RegionScore, error) {
	return model.RegionScore{}, f.err
}

func (f failingStore) List(context.Context) ([]model.RegionScore, error) {
	return nil, f.err
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store that cannot commit", t, func() {
		So(logger.Init(), ShouldBeNil)
		cause := errors.New("disk full")
		err := errors.Join(model.ErrPersistence, cause)
		tr := tracker.New(failingStore{MemoryStore: repository.NewMemoryStore(), err: err})

		Convey("Then ApplyIncrement propagates the persistence error", func() {
			got := tr.ApplyIncrement(ctx, "KR", 1)
			So(errors.Is(got, model.ErrPersistence), ShouldBeTrue)
			So(errors.Is(got, cause), ShouldBeTrue)
		})

		Convey("Then Leaderboard propagates it too", func() {
			_, got := tr.Leaderboard(ctx)
			So(errors.Is(got, model.ErrPersistence), ShouldBeTrue)
		})
	})
}

func TestOptions(t *testing.T) {
	Convey("Given tracker options", t, func() {
		So(logger.Init(), ShouldBeNil)
		store := repository.NewMemoryStore()

		Convey("When defaults are used", func() {
			tr := tracker.New(store)
			So(tr.Window(), ShouldEqual, model.DefaultMovingWindow)
		})

		Convey("When invalid values are passed", func() {
			tr := tracker.New(store, tracker.WithWindow(0), tracker.WithClock(nil), tracker.WithMaxRegionLength(-1), tracker.WithLogger(nil))
			So(tr.Window(), ShouldEqual, model.DefaultMovingWindow)
			So(tr.Now().IsZero(), ShouldBeFalse)
		})

		Convey("When a custom window is set", func() {
			tr := tracker.New(store, tracker.WithWindow(time.Minute), tracker.WithMaxRegionLength(2))
			So(tr.Window(), ShouldEqual, time.Minute)
			_, err := tr.NormalizeRegion("KOR")
			So(errors.Is(err, model.ErrInvalidRegion), ShouldBeTrue)
		})
	})
}
