package clock

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFake(t *testing.T) {
	Convey("Given a fake clock", t, func() {
		start := time.Unix(1_700_000_000, 0)
		c := NewFake(start)

		Convey("Then it does not move on its own", func() {
			So(c.Now().Equal(start), ShouldBeTrue)
		})

		Convey("When advanced", func() {
			c.Advance(11 * time.Second)
			So(c.Now().Equal(start.Add(11*time.Second)), ShouldBeTrue)
		})

		Convey("When set", func() {
			c.Set(start.Add(time.Hour))
			So(c.Now().Equal(start.Add(time.Hour)), ShouldBeTrue)
		})
	})
}
