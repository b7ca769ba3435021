// Package storetest holds the behaviour every repository.Store must satisfy.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/internal/domain/model"
)

// Factory returns a fresh, empty store. It is called once per leaf scenario.
type Factory func(t *testing.T) repository.Store

const window = 10 * time.Second

// T0 is a millisecond aligned base time so every backend round-trips it exactly.
var T0 = time.UnixMilli(1_700_000_000_000).UTC()

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := newStore(t)
		Reset(func() { _ = s.Close() })

		Convey("When a region is registered", func() {
			created, err := s.Register(ctx, "KR", T0)
			So(err, ShouldBeNil)

			Convey("Then it starts idle at zero", func() {
				So(created, ShouldBeTrue)
				row, err := s.Get(ctx, "KR")
				So(err, ShouldBeNil)
				So(row.Region, ShouldEqual, "KR")
				So(row.Score, ShouldEqual, 0)
				So(row.Moving, ShouldBeFalse)
				So(row.LastIncrementAt.IsZero(), ShouldBeTrue)
			})

			Convey("Then registering again is a no-op", func() {
				created, err := s.Register(ctx, "KR", T0.Add(time.Second))
				So(err, ShouldBeNil)
				So(created, ShouldBeFalse)
				n, err := s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When incrementing an unknown region", func() {
			_, err := s.Increment(ctx, "XX", 5, T0, window)

			Convey("Then it fails with region not found and creates nothing", func() {
				So(errors.Is(err, model.ErrRegionNotFound), ShouldBeTrue)
				_, getErr := s.Get(ctx, "XX")
				So(errors.Is(getErr, model.ErrRegionNotFound), ShouldBeTrue)
				n, err := s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
				sum, err := s.ClearSummary(ctx)
				So(err, ShouldBeNil)
				So(sum.Total(), ShouldEqual, 0)
			})
		})

		Convey("When a registered region is incremented", func() {
			_, err := s.Register(ctx, "KR", T0)
			So(err, ShouldBeNil)
			row, err := s.Increment(ctx, "KR", 5, T0.Add(time.Second), window)
			So(err, ShouldBeNil)

			Convey("Then the score and moving flag are stored together", func() {
				So(row.Score, ShouldEqual, 5)
				So(row.Moving, ShouldBeTrue)
				So(row.LastIncrementAt.Equal(T0.Add(time.Second)), ShouldBeTrue)

				got, err := s.Get(ctx, "KR")
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 5)
				So(got.Moving, ShouldBeTrue)
			})

			Convey("Then one pending clear job is scheduled", func() {
				sum, err := s.ClearSummary(ctx)
				So(err, ShouldBeNil)
				So(sum.Pending, ShouldEqual, 1)
				So(sum.Total(), ShouldEqual, 1)
			})

			Convey("Then a negative delta lowers the score", func() {
				row, err := s.Increment(ctx, "KR", -8, T0.Add(2*time.Second), window)
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, -3)
			})

			Convey("Then an older increment does not move lastIncrementAt backwards", func() {
				row, err := s.Increment(ctx, "KR", 1, T0, window)
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, 6)
				So(row.LastIncrementAt.Equal(T0.Add(time.Second)), ShouldBeTrue)
			})

			Convey("Then an increment past the int64 range is rejected and nothing changes", func() {
				_, err := s.Increment(ctx, "KR", math.MaxInt64, T0.Add(2*time.Second), window)
				So(errors.Is(err, model.ErrInvalidDelta), ShouldBeTrue)

				got, err := s.Get(ctx, "KR")
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 5)
				So(got.LastIncrementAt.Equal(T0.Add(time.Second)), ShouldBeTrue)
			})

			Convey("Then a second increment reschedules the same job", func() {
				_, err := s.Increment(ctx, "KR", 1, T0.Add(5*time.Second), window)
				So(err, ShouldBeNil)
				sum, err := s.ClearSummary(ctx)
				So(err, ShouldBeNil)
				So(sum.Total(), ShouldEqual, 1)

				jobs, err := s.ClaimDueClears(ctx, T0.Add(11*time.Second), time.Minute, 10)
				So(err, ShouldBeNil)
				So(jobs, ShouldBeEmpty)

				jobs, err = s.ClaimDueClears(ctx, T0.Add(15*time.Second), time.Minute, 10)
				So(err, ShouldBeNil)
				So(len(jobs), ShouldEqual, 1)
				So(jobs[0].IncrementAt.Equal(T0.Add(5*time.Second)), ShouldBeTrue)
			})
		})

		Convey("When many increments race on one region", func() {
			_, err := s.Register(ctx, "KR", T0)
			So(err, ShouldBeNil)

			const n = 40
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				sum  int64
				errs []error
			)
			for i := 1; i <= n; i++ {
				wg.Add(1)
				go func(d int64) {
					defer wg.Done()
					_, err := s.Increment(ctx, "KR", d, T0.Add(time.Duration(d)*time.Millisecond), window)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					sum += d
				}(int64(i))
			}
			wg.Wait()

			Convey("Then no update is lost", func() {
				So(errs, ShouldBeEmpty)
				row, err := s.Get(ctx, "KR")
				So(err, ShouldBeNil)
				So(row.Score, ShouldEqual, sum)
				So(row.LastIncrementAt.Equal(T0.Add(n*time.Millisecond)), ShouldBeTrue)
			})
		})

		Convey("When several regions have scores", func() {
			for _, r := range []string{"US", "KR", "JP", "BR"} {
				_, err := s.Register(ctx, r, T0)
				So(err, ShouldBeNil)
			}
			_, err := s.Increment(ctx, "KR", 10, T0, window)
			So(err, ShouldBeNil)
			_, err = s.Increment(ctx, "JP", 10, T0.Add(time.Second), window)
			So(err, ShouldBeNil)
			_, err = s.Increment(ctx, "US", 3, T0.Add(20*time.Second), window)
			So(err, ShouldBeNil)

			Convey("Then List orders by score desc then region asc", func() {
				rows, err := s.List(ctx)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 4)
				order := []string{rows[0].Region, rows[1].Region, rows[2].Region, rows[3].Region}
				So(order, ShouldResemble, []string{"JP", "KR", "US", "BR"})
			})

			Convey("Then CountActiveSince counts recent regions", func() {
				n, err := s.CountActiveSince(ctx, T0.Add(500*time.Millisecond))
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				n, err = s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 4)
			})
		})

		Convey("When a clear job comes due", func() {
			_, err := s.Register(ctx, "KR", T0)
			So(err, ShouldBeNil)
			_, err = s.Increment(ctx, "KR", 5, T0, window)
			So(err, ShouldBeNil)

			Convey("Then it is not claimable before its due time", func() {
				jobs, err := s.ClaimDueClears(ctx, T0.Add(9*time.Second), time.Minute, 10)
				So(err, ShouldBeNil)
				So(jobs, ShouldBeEmpty)
			})

			Convey("Then claiming leases it once", func() {
				jobs, err := s.ClaimDueClears(ctx, T0.Add(window), time.Minute, 10)
				So(err, ShouldBeNil)
				So(len(jobs), ShouldEqual, 1)
				So(jobs[0].Region, ShouldEqual, "KR")
				So(jobs[0].Status, ShouldEqual, model.ClearProcessing)
				So(jobs[0].AttemptCount, ShouldEqual, 1)
				So(jobs[0].DueAt.Equal(T0.Add(window)), ShouldBeTrue)

				again, err := s.ClaimDueClears(ctx, T0.Add(window+time.Second), time.Minute, 10)
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)

				Convey("And an expired lease makes it claimable again", func() {
					again, err := s.ClaimDueClears(ctx, T0.Add(window+2*time.Minute), time.Minute, 10)
					So(err, ShouldBeNil)
					So(len(again), ShouldEqual, 1)
					So(again[0].AttemptCount, ShouldEqual, 2)
				})

				Convey("And completing it clears the stored flag and removes the job", func() {
					outcome, err := s.CompleteClear(ctx, jobs[0])
					So(err, ShouldBeNil)
					So(outcome, ShouldEqual, model.ClearApplied)

					row, err := s.Get(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Moving, ShouldBeFalse)
					So(row.Score, ShouldEqual, 5)

					sum, err := s.ClearSummary(ctx)
					So(err, ShouldBeNil)
					So(sum.Total(), ShouldEqual, 0)
				})

				Convey("And a newer increment supersedes it", func() {
					_, err := s.Increment(ctx, "KR", 1, T0.Add(window+500*time.Millisecond), window)
					So(err, ShouldBeNil)

					outcome, err := s.CompleteClear(ctx, jobs[0])
					So(err, ShouldBeNil)
					So(outcome, ShouldEqual, model.ClearSuperseded)

					row, err := s.Get(ctx, "KR")
					So(err, ShouldBeNil)
					So(row.Moving, ShouldBeTrue)

					sum, err := s.ClearSummary(ctx)
					So(err, ShouldBeNil)
					So(sum.Pending, ShouldEqual, 1)
				})

				Convey("And a failed attempt is retried later", func() {
					next := T0.Add(window + 5*time.Second)
					So(s.RetryClear(ctx, jobs[0], "boom", next, false), ShouldBeNil)

					sum, err := s.ClearSummary(ctx)
					So(err, ShouldBeNil)
					So(sum.Failed, ShouldEqual, 1)

					early, err := s.ClaimDueClears(ctx, next.Add(-time.Millisecond), time.Minute, 10)
					So(err, ShouldBeNil)
					So(early, ShouldBeEmpty)

					retried, err := s.ClaimDueClears(ctx, next, time.Minute, 10)
					So(err, ShouldBeNil)
					So(len(retried), ShouldEqual, 1)
					So(retried[0].AttemptCount, ShouldEqual, 2)
					So(retried[0].LastError, ShouldEqual, "boom")
				})

				Convey("And an exhausted job is dead-lettered", func() {
					So(s.RetryClear(ctx, jobs[0], "boom", T0.Add(window), true), ShouldBeNil)

					sum, err := s.ClearSummary(ctx)
					So(err, ShouldBeNil)
					So(sum.Dead, ShouldEqual, 1)

					none, err := s.ClaimDueClears(ctx, T0.Add(time.Hour), time.Minute, 10)
					So(err, ShouldBeNil)
					So(none, ShouldBeEmpty)

					Convey("And a later increment revives it", func() {
						_, err := s.Increment(ctx, "KR", 1, T0.Add(time.Hour), window)
						So(err, ShouldBeNil)
						sum, err := s.ClearSummary(ctx)
						So(err, ShouldBeNil)
						So(sum.Pending, ShouldEqual, 1)
						So(sum.Dead, ShouldEqual, 0)
					})
				})
			})
		})

		Convey("When many jobs are due", func() {
			for _, r := range []string{"A", "B", "C"} {
				_, err := s.Register(ctx, r, T0)
				So(err, ShouldBeNil)
				_, err = s.Increment(ctx, r, 1, T0, window)
				So(err, ShouldBeNil)
			}

			Convey("Then the claim honours the limit", func() {
				jobs, err := s.ClaimDueClears(ctx, T0.Add(window), time.Minute, 2)
				So(err, ShouldBeNil)
				So(len(jobs), ShouldEqual, 2)

				rest, err := s.ClaimDueClears(ctx, T0.Add(window), time.Minute, 2)
				So(err, ShouldBeNil)
				So(len(rest), ShouldEqual, 1)
			})
		})
	})
}
