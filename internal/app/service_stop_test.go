package service_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wordchain/internal/adapters/repository"
	service "github.com/okian/wordchain/internal/app"
	"github.com/okian/wordchain/internal/clock"
	"github.com/okian/wordchain/internal/domain/model"
)

// slowClearStore delays every CompleteClear so workers are still draining
// when Stop runs.
type slowClearStore struct {
	repository.Store
	delay time.Duration
}

func (s slowClearStore) CompleteClear(ctx context.Context, job model.ClearJob) (model.ClearOutcome, error) {
	time.Sleep(s.delay)
	return s.Store.CompleteClear(ctx, job)
}

func TestService_StopWhileDraining(t *testing.T) {
	Convey("Given a service refreshing gauges every millisecond with a slow clear job in flight", t, func() {
		ctx := context.Background()
		clk := clock.NewFake(t0)
		store := slowClearStore{Store: repository.NewMemoryStore(), delay: 100 * time.Millisecond}
		svc := service.New(
			service.WithStore(store),
			service.WithClock(clk.Now),
			service.WithWorkerCount(1),
			service.WithSweepInterval(time.Hour),
			service.WithStatsRefresh(time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)

		_, err := svc.Register(ctx, "KR")
		So(err, ShouldBeNil)
		So(svc.ApplyIncrement(ctx, "KR", 5), ShouldBeNil)
		clk.Advance(11 * time.Second)
		_, err = svc.SweepOnce(ctx)
		So(err, ShouldBeNil)

		Convey("When the service is stopped", func() {
			done := make(chan error, 1)
			go func() { done <- svc.Stop(ctx) }()

			Convey("Then Stop returns once the job has drained", func() {
				select {
				case err := <-done:
					So(err, ShouldBeNil)
				case <-time.After(3 * time.Second):
					t.Fatal("Stop blocked while the gauge refresher was running")
				}

				raw, err := store.Get(ctx, "KR")
				So(err, ShouldBeNil)
				So(raw.Score, ShouldEqual, 5)
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
			})
		})
	})
}
