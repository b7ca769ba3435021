package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wordchain/internal/adapters/http/api"
	"github.com/okian/wordchain/internal/adapters/repository"
	"github.com/okian/wordchain/internal/clock"
	"github.com/okian/wordchain/internal/domain/dedupe"
	"github.com/okian/wordchain/internal/domain/model"
	"github.com/okian/wordchain/internal/domain/tracker"
	"github.com/okian/wordchain/internal/domain/types"
	"github.com/okian/wordchain/internal/domain/words"
	"github.com/okian/wordchain/pkg/logger"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats(context.Context) map[string]any {
	return m.stats
}

// failingScores returns err from every call.
type failingScores struct {
	err error
}

func (f failingScores) ApplyIncrement(context.Context, string, int64) error { return f.err }
func (f failingScores) Register(context.Context, string) (bool, error) { return false, f.err }
func (f failingScores) Leaderboard(context.Context) ([]model.RegionScore, error) {
	return nil, f.err
}

// slowScores applies increments after delay and then returns err.
type slowScores struct {
	failingScores
	delay time.Duration
	calls *atomic.Int32
}

func (s slowScores) ApplyIncrement(context.Context, string, int64) error {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.err
}

// concurrentAddScore sends two keyed addScore requests, the second one while
// the first is still being applied, and returns both status codes.
func concurrentAddScore(f fixture, key string) (first, second int) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		first = f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":1}`, api.IdempotencyKeyHeader, key).Code
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		second = f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":1}`, api.IdempotencyKeyHeader, key).Code
	}()
	wg.Wait()
	return first, second
}

type fixture struct {
	mux   *http.ServeMux
	clock *clock.Fake
	store *repository.MemoryStore
}

func newFixture(scores api.Scores) fixture {
	So(logger.Init(), ShouldBeNil)
	clk := clock.NewFake(t0)
	store := repository.NewMemoryStore()
	if scores == nil {
		scores = tracker.New(store, tracker.WithClock(clk.Now))
	}
	dict, err := words.NewMemory([]words.Entry{
		{Word: "사과", Definition: "apple"},
		{Word: "과자", Definition: "snack"},
		{Word: "자동차", Definition: "car"},
	}, words.WithIntn(func(int) int { return 0 }))
	So(err, ShouldBeNil)

	server := api.NewServer(api.Dependencies{
		Scores:  scores,
		Words:   dict,
		Deduper: dedupe.NewInMemoryDeduper(),
		Stats:   &mockStatsProvider{stats: map[string]any{"regions": 1}},
	})
	mux := http.NewServeMux()
	server.Register(mux)
	return fixture{mux: mux, clock: clk, store: store}
}

func (f fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) types.ErrorResponse {
	var resp types.ErrorResponse
	So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
	return resp
}

func leaderboard(f fixture) types.LeaderboardResponse {
	w := f.do(http.MethodGet, "/api/getLeaderboard", "")
	So(w.Code, ShouldEqual, http.StatusOK)
	var resp types.LeaderboardResponse
	So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
	return resp
}

func TestScoreEndpoints(t *testing.T) {
	Convey("Given an API server over the memory store", t, func() {
		f := newFixture(nil)

		Convey("When a region is registered and scored", func() {
			So(f.do(http.MethodPost, "/api/registerRegion", `{"region":"KR"}`).Code, ShouldEqual, http.StatusOK)
			w := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":5}`)

			Convey("Then addScore acknowledges with an empty object", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{}`)
			})

			Convey("Then the leaderboard shows it moving", func() {
				resp := leaderboard(f)
				So(resp.Leaderboard, ShouldResemble, []types.LeaderboardEntry{{Region: "KR", Score: 5, Moving: true}})
			})

			Convey("Then it stops moving after the window", func() {
				f.clock.Advance(11 * time.Second)
				resp := leaderboard(f)
				So(resp.Leaderboard, ShouldResemble, []types.LeaderboardEntry{{Region: "KR", Score: 5, Moving: false}})
			})
		})

		Convey("When the same idempotency key is sent twice", func() {
			So(f.do(http.MethodPost, "/api/registerRegion", `{"region":"KR"}`).Code, ShouldEqual, http.StatusOK)
			first := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":3}`, api.IdempotencyKeyHeader, "k1")
			second := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":3}`, api.IdempotencyKeyHeader, "k1")

			Convey("Then the increment is applied once", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Code, ShouldEqual, http.StatusOK)
				So(leaderboard(f).Leaderboard[0].Score, ShouldEqual, 3)
			})
		})

		Convey("When a keyed request fails", func() {
			w := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":3}`, api.IdempotencyKeyHeader, "k2")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(f.do(http.MethodPost, "/api/registerRegion", `{"region":"KR"}`).Code, ShouldEqual, http.StatusOK)
			retry := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":3}`, api.IdempotencyKeyHeader, "k2")

			Convey("Then the key can be retried", func() {
				So(retry.Code, ShouldEqual, http.StatusOK)
				So(leaderboard(f).Leaderboard[0].Score, ShouldEqual, 3)
			})
		})

		Convey("When scoring an unknown region", func() {
			w := f.do(http.MethodPost, "/api/addScore", `{"region":"XX","increasement":1}`)

			Convey("Then it is a 404 and nothing is created", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeError(w).Code, ShouldEqual, "region_not_found")
				So(leaderboard(f).Leaderboard, ShouldBeEmpty)
			})
		})

		Convey("When an increment would overflow the score", func() {
			So(f.do(http.MethodPost, "/api/registerRegion", `{"region":"KR"}`).Code, ShouldEqual, http.StatusOK)
			So(f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":9223372036854775807}`).Code, ShouldEqual, http.StatusOK)
			w := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":1}`)

			Convey("Then it is a 400 and the score is kept", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(w).Code, ShouldEqual, "bad_request")
				So(leaderboard(f).Leaderboard[0].Score, ShouldEqual, int64(9223372036854775807))
			})
		})

		Convey("When the body is invalid", func() {
			cases := []string{
				``,
				`not json`,
				`{"region":"KR"}`,
				`{"region":"KR","increasement":1.5}`,
				`{"region":"KR","increasement":"5"}`,
				`{"region":"  ","increasement":1}`,
			}

			Convey("Then every case is a 400", func() {
				for _, body := range cases {
					w := f.do(http.MethodPost, "/api/addScore", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(decodeError(w).Code, ShouldEqual, "bad_request")
				}
			})
		})

		Convey("When the wrong method is used", func() {
			w := f.do(http.MethodGet, "/api/addScore", "")

			Convey("Then it is a 405", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodPost)
				So(decodeError(w).Code, ShouldEqual, "method_not_allowed")
			})
		})

		Convey("When registering twice", func() {
			first := f.do(http.MethodPost, "/api/registerRegion", `{"region":"KR"}`)
			second := f.do(http.MethodPost, "/api/registerRegion", `{"region":"KR"}`)

			Convey("Then both succeed and one region exists", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Code, ShouldEqual, http.StatusOK)
				So(len(leaderboard(f).Leaderboard), ShouldEqual, 1)
			})
		})

		Convey("When several regions are scored", func() {
			for _, r := range []string{"KR", "JP", "US"} {
				So(f.do(http.MethodPost, "/api/registerRegion", `{"region":"`+r+`"}`).Code, ShouldEqual, http.StatusOK)
			}
			So(f.do(http.MethodPost, "/api/addScore", `{"region":"JP","increasement":7}`).Code, ShouldEqual, http.StatusOK)
			So(f.do(http.MethodPost, "/api/addScore", `{"region":"US","increasement":7}`).Code, ShouldEqual, http.StatusOK)
			So(f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":-2}`).Code, ShouldEqual, http.StatusOK)

			Convey("Then the leaderboard is ordered by score, then region", func() {
				rows := leaderboard(f).Leaderboard
				So(len(rows), ShouldEqual, 3)
				So(rows[0].Region, ShouldEqual, "JP")
				So(rows[1].Region, ShouldEqual, "US")
				So(rows[2].Region, ShouldEqual, "KR")
				So(rows[2].Score, ShouldEqual, -2)
			})
		})
	})

	Convey("Given a failing score backend", t, func() {
		Convey("When the store reports a conflict", func() {
			f := newFixture(failingScores{err: model.ErrConcurrencyConflict})
			w := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":1}`)

			Convey("Then it is a 409", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decodeError(w).Code, ShouldEqual, "conflict")
			})
		})

		Convey("When the store fails", func() {
			f := newFixture(failingScores{err: errors.Join(model.ErrPersistence, errors.New("disk I/O error"))})
			w := f.do(http.MethodGet, "/api/getLeaderboard", "")

			Convey("Then it is a 500 without the driver detail", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				resp := decodeError(w)
				So(resp.Code, ShouldEqual, "internal_error")
				So(resp.Message, ShouldNotContainSubstring, "disk")
			})
		})
	})
}

func TestAddScoreIdempotencyInFlight(t *testing.T) {
	Convey("Given a score backend that is slow to apply", t, func() {
		calls := &atomic.Int32{}

		Convey("When a duplicate arrives while the original is failing", func() {
			f := newFixture(slowScores{
				failingScores: failingScores{err: errors.Join(model.ErrPersistence, errors.New("disk I/O error"))},
				delay:         200 * time.Millisecond,
				calls:         calls,
			})
			first, second := concurrentAddScore(f, "k1")

			Convey("Then neither request is acknowledged", func() {
				So(first, ShouldEqual, http.StatusInternalServerError)
				So(second, ShouldEqual, http.StatusInternalServerError)
				So(calls.Load(), ShouldEqual, 1)
			})

			Convey("Then the key stays free for a later retry", func() {
				f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":1}`, api.IdempotencyKeyHeader, "k1")
				So(calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When a duplicate arrives while the original succeeds", func() {
			f := newFixture(slowScores{delay: 200 * time.Millisecond, calls: calls})
			first, second := concurrentAddScore(f, "k2")

			Convey("Then both are acknowledged and the increment runs once", func() {
				So(first, ShouldEqual, http.StatusOK)
				So(second, ShouldEqual, http.StatusOK)
				So(calls.Load(), ShouldEqual, 1)
			})

			Convey("Then a later duplicate is not applied", func() {
				w := f.do(http.MethodPost, "/api/addScore", `{"region":"KR","increasement":1}`, api.IdempotencyKeyHeader, "k2")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(calls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestWordEndpoints(t *testing.T) {
	Convey("Given an API server with a small dictionary", t, func() {
		f := newFixture(nil)

		Convey("When checking a known word", func() {
			w := f.do(http.MethodPost, "/api/isExistWord", `{"word":"사-과"}`)

			Convey("Then it exists with its meaning", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp types.IsExistWordResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp, ShouldResemble, types.IsExistWordResponse{ExistWord: true, Mean: "apple"})
			})
		})

		Convey("When checking an unknown word", func() {
			w := f.do(http.MethodPost, "/api/isExistWord", `{"word":"바나나"}`)

			Convey("Then it does not exist", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"existWord":false}`)
			})
		})

		Convey("When checking an empty word", func() {
			w := f.do(http.MethodPost, "/api/isExistWord", `{"word":""}`)

			Convey("Then it is a 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When asking for the next word", func() {
			w := f.do(http.MethodPost, "/api/getNewWord", `{"endWith":"사과","usedWords":["사과"]}`)

			Convey("Then a word starting with the last letter is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp types.GetNewWordResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Found, ShouldBeTrue)
				So(resp.NewWord, ShouldEqual, "과자")
				So(resp.Definition, ShouldEqual, "snack")
			})
		})

		Convey("When every continuation is used", func() {
			w := f.do(http.MethodPost, "/api/getNewWord", `{"endWith":"사과","usedWords":["과자"]}`)

			Convey("Then nothing is found", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp types.GetNewWordResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Found, ShouldBeFalse)
				So(resp.Messages, ShouldHaveLength, 1)
				So(resp.Messages[0], ShouldNotBeEmpty)
				So(w.Body.String(), ShouldContainSubstring, `"messages":["`)
			})
		})

		Convey("When asking for a start word", func() {
			w := f.do(http.MethodGet, "/api/getStartWord", "")

			Convey("Then a word that can be continued is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp types.StartWordResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp, ShouldResemble, types.StartWordResponse{StartWord: "과자", Definition: "snack"})
			})
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		f := newFixture(nil)

		Convey("When scraping /healthz", func() {
			f.do(http.MethodPost, "/api/isExistWord", `{"word":"사과"}`)
			w := f.do(http.MethodGet, "/healthz", "")

			Convey("Then the custom registry is served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "wordchain_regions_http_requests_total")
			})
		})

		Convey("When reading /stats", func() {
			w := f.do(http.MethodGet, "/stats", "")

			Convey("Then provider stats are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"regions":1}`)
			})
		})

		Convey("When a request carries an id", func() {
			w := f.do(http.MethodGet, "/stats", "", api.RequestIDHeader, "req-1")

			Convey("Then it is echoed back", func() {
				So(w.Header().Get(api.RequestIDHeader), ShouldEqual, "req-1")
			})
		})

		Convey("When a request has no id", func() {
			w := f.do(http.MethodGet, "/stats", "")

			Convey("Then one is generated", func() {
				So(len(w.Header().Get(api.RequestIDHeader)), ShouldEqual, 36)
			})
		})
	})
}
