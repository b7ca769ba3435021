package types_test

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wordchain/internal/domain/types"
)

func TestAddScoreRequest(t *testing.T) {
	Convey("Given addScore bodies", t, func() {
		Convey("When the increment is an integer", func() {
			var req types.AddScoreRequest
			err := json.Unmarshal([]byte(`{"region":"KR","increasement":5}`), &req)

			Convey("Then it decodes", func() {
				So(err, ShouldBeNil)
				So(req.Region, ShouldEqual, "KR")
				So(req.Increasement, ShouldNotBeNil)
				So(*req.Increasement, ShouldEqual, 5)
			})
		})

		Convey("When the increment is missing", func() {
			var req types.AddScoreRequest
			err := json.Unmarshal([]byte(`{"region":"KR"}`), &req)

			Convey("Then it is left nil", func() {
				So(err, ShouldBeNil)
				So(req.Increasement, ShouldBeNil)
			})
		})

		Convey("When the increment has a fraction", func() {
			var req types.AddScoreRequest
			err := json.Unmarshal([]byte(`{"region":"KR","increasement":1.5}`), &req)

			Convey("Then decoding fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestResponseShapes(t *testing.T) {
	Convey("Given response values", t, func() {
		Convey("When a leaderboard is encoded", func() {
			b, err := json.Marshal(types.LeaderboardResponse{
				Leaderboard: []types.LeaderboardEntry{{Region: "KR", Score: 5, Moving: true}},
			})

			Convey("Then it uses the public field names", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"leaderboard":[{"region":"KR","score":5,"moving":true}]}`)
			})
		})

		Convey("When optional word fields are empty", func() {
			b, err := json.Marshal(types.GetNewWordResponse{Found: false, Messages: []string{"no word"}})

			Convey("Then they are omitted", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"found":false,"messages":["no word"]}`)
			})
		})

		Convey("When the acknowledgement is encoded", func() {
			b, err := json.Marshal(types.Empty{})

			Convey("Then it is an empty object", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{}`)
			})
		})
	})
}
