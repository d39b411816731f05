package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/devpulse/internal/adapters/http/api"
	app "github.com/okian/devpulse/internal/app"
	"github.com/okian/devpulse/internal/config"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the devpulse root command", t, func() {
		root := newRootCommand()

		convey.Convey("Then it exposes the subcommands", func() {
			names := map[string]bool{}
			for _, c := range root.Commands() {
				names[c.Name()] = true
			}
			convey.So(names["serve"], convey.ShouldBeTrue)
			convey.So(names["compute"], convey.ShouldBeTrue)
			convey.So(names["scopes"], convey.ShouldBeTrue)
		})

		convey.Convey("When the configuration is invalid", func() {
			t.Setenv("DEVPULSE_WORKER_COUNT", "0")

			convey.Convey("Then every subcommand fails before running", func() {
				_, err := execute("scopes")
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestConfigFromEnvironment(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		t.Setenv("DEVPULSE_ADDR", ":8088")
		t.Setenv("DEVPULSE_QUEUE_SIZE", "64")
		t.Setenv("DEVPULSE_WORKER_COUNT", "2")

		convey.Convey("Then configuration picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8088")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
		})
	})
}

func TestScopesCommand(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		out, err := execute("scopes")
		convey.So(err, convey.ShouldBeNil)

		var scopes map[string][]string
		convey.So(json.Unmarshal([]byte(out), &scopes), convey.ShouldBeNil)
		convey.So(scopes["demo"], convey.ShouldResemble, []string{"demo/api", "demo/web"})
	})
}

func TestComputeCommand(t *testing.T) {
	convey.Convey("Given the synthetic source", t, func() {
		convey.Convey("When computing a configured scope", func() {
			out, err := execute("compute", "--scope", "demo")

			convey.Convey("Then the snapshot is printed as JSON", func() {
				convey.So(err, convey.ShouldBeNil)
				var snap model.MetricSnapshot
				convey.So(json.Unmarshal([]byte(out), &snap), convey.ShouldBeNil)
				convey.So(snap.Scope, convey.ShouldEqual, "demo")
				convey.So(snap.Timestamp.IsZero(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the scope is unknown", func() {
			_, err := execute("compute", "--scope", "nope")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the scope flag is missing", func() {
			_, err := execute("compute")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestServiceWiring(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		convey.So(logger.InitWithWriter(io.Discard, false), convey.ShouldBeNil)
		cfg := config.New()
		cfg.RefreshInterval = 0
		svc := app.New(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop(context.Background())

		convey.Convey("Then the API registers against it", func() {
			mux := http.NewServeMux()
			convey.So(func() {
				api.NewServer(svc, cfg.MaxLeaderboardLimit).Register(ctx, mux)
			}, convey.ShouldNotPanic)
		})

		convey.Convey("Then service metrics update without panicking", func() {
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then the metrics updater stops with its context", func() {
			short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			defer stop()
			convey.So(func() { startServiceMetricsUpdater(short, svc) }, convey.ShouldNotPanic)
		})
	})
}
