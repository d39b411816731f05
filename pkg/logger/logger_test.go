package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
			So(Sync(), ShouldBeNil)
		})

		Convey("When initialized with a nil writer", func() {
			So(InitWithWriter(nil, false), ShouldNotBeNil)
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter(&buf, true), ShouldBeNil)
		ctx := context.Background()

		Convey("Fields are rendered as attributes", func() {
			Named("refresh").Info(ctx, "recompute finished",
				Scope("team-a"),
				Int("events", 12),
				Duration("took", 150*time.Millisecond),
				Bool("partial", true),
			)

			var line map[string]any
			So(json.Unmarshal(buf.Bytes(), &line), ShouldBeNil)
			So(line["msg"], ShouldEqual, "recompute finished")
			So(line["component"], ShouldEqual, "refresh")
			So(line["scope"], ShouldEqual, "team-a")
			So(line["events"], ShouldEqual, float64(12))
			So(line["partial"], ShouldEqual, true)
			So(line["source"], ShouldContainSubstring, "logger_test.go")
		})

		Convey("With attaches fields to every line", func() {
			l := Get().With(String("repo", "org/api"))
			l.Warn(ctx, "partial fetch", Error(errors.New("timeout")))
			So(buf.String(), ShouldContainSubstring, `"repo":"org/api"`)
			So(buf.String(), ShouldContainSubstring, "timeout")
		})

		Convey("Levels below the threshold are dropped", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			Get().Info(ctx, "hidden")
			Get().Debug(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)
			Get().Error(ctx, "shown")
			So(strings.Count(buf.String(), "\n"), ShouldEqual, 1)
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(Init(), ShouldBeNil)
		for _, lvl := range []string{"debug", "INFO", "", "warning", "warn", "error"} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
	})
}
