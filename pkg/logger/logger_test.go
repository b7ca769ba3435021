package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize text logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	if err := Init(WithFormat("json")); err != nil {
		t.Fatalf("failed to initialize json logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	if err := Init(WithFormat("xml")); err == nil {
		t.Fatal("expected error for unknown format")
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()
}

func TestLoggerOutput(t *testing.T) {
	convey.Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		convey.So(Init(WithFormat(FormatJSON), WithOutput(&buf)), convey.ShouldBeNil)
		ctx := context.Background()

		convey.Convey("When logging with fields", func() {
			Get().Named("tracker").Info(ctx, "increment applied",
				String("region", "KR"),
				Int64("delta", 5),
				Bool("moving", true),
				Error(errors.New("boom")),
			)

			convey.Convey("Then the record carries every field", func() {
				var rec map[string]any
				convey.So(json.Unmarshal(buf.Bytes(), &rec), convey.ShouldBeNil)
				convey.So(rec["msg"], convey.ShouldEqual, "increment applied")
				convey.So(rec["component"], convey.ShouldEqual, "tracker")
				convey.So(rec["region"], convey.ShouldEqual, "KR")
				convey.So(rec["delta"], convey.ShouldEqual, float64(5))
				convey.So(rec["moving"], convey.ShouldEqual, true)
				convey.So(rec["error"], convey.ShouldEqual, "boom")
				convey.So(rec["source"], convey.ShouldContainSubstring, "logger_test.go:")
			})
		})

		convey.Convey("When a named logger is named again", func() {
			Get().Named("service").With(String("store", "memory")).Named("tracker").Info(ctx, "nested")

			convey.Convey("Then one dotted component is written", func() {
				out := buf.String()
				convey.So(strings.Count(out, `"component"`), convey.ShouldEqual, 1)
				var rec map[string]any
				convey.So(json.Unmarshal(buf.Bytes(), &rec), convey.ShouldBeNil)
				convey.So(rec["component"], convey.ShouldEqual, "service.tracker")
				convey.So(rec["store"], convey.ShouldEqual, "memory")
			})
		})

		convey.Convey("When the level is raised to warn", func() {
			convey.So(SetLevelString("warn"), convey.ShouldBeNil)
			Get().Info(ctx, "hidden")
			Get().Warn(ctx, "shown")

			convey.Convey("Then only warn records are written", func() {
				out := buf.String()
				convey.So(strings.Contains(out, "hidden"), convey.ShouldBeFalse)
				convey.So(out, convey.ShouldContainSubstring, "shown")
			})
		})

		convey.Convey("When a child logger is built with fields", func() {
			Get().With(String("request_id", "abc")).Info(ctx, "handled")

			convey.Convey("Then the bound field is present", func() {
				convey.So(buf.String(), convey.ShouldContainSubstring, `"request_id":"abc"`)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "", "warn", "warning", "error", " INFO "} {
		if err := SetLevelString(lvl); err != nil {
			t.Errorf("SetLevelString(%q) returned %v", lvl, err)
		}
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
