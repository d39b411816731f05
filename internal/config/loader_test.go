package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/devpulse/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 5)
			convey.So(cfg.Scopes, convey.ShouldContainKey, "demo")
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DEVPULSE_ADDR", ":8080")
			_ = os.Setenv("DEVPULSE_WORKER_COUNT", "8")
			_ = os.Setenv("DEVPULSE_CACHE_TTL", "5m")
			_ = os.Setenv("DEVPULSE_ANOMALY_Z_THRESHOLD", "3")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 8)
			convey.So(cfg.CacheTTL, convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.AnomalyZThreshold, convey.ShouldEqual, 3.0)
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
worker_count: 3
fetch_timeout: 10s
scopes:
  platform:
    - org/api
    - org/worker
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DEVPULSE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
			convey.So(cfg.FetchTimeout, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Scopes, convey.ShouldHaveLength, 1)
			convey.So(cfg.Scopes["platform"], convey.ShouldResemble, []string{"org/api", "org/worker"})

			convey.Convey("And environment variables override the file", func() {
				_ = os.Setenv("DEVPULSE_WORKER_COUNT", "7")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 7)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			})
		})

		convey.Convey("When loading config with invalid YAML", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DEVPULSE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("DEVPULSE_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When a value fails validation", func() {
			_ = os.Setenv("DEVPULSE_WORKER_COUNT", "0")

			cfg, err := config.Load(ctx)

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a numeric value does not parse", func() {
			_ = os.Setenv("DEVPULSE_WORKER_COUNT", "many")

			cfg, err := config.Load(ctx)

			convey.So(cfg, convey.ShouldBeNil)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"DEVPULSE_CONFIG",
		"DEVPULSE_ADDR",
		"DEVPULSE_WORKER_COUNT",
		"DEVPULSE_CACHE_TTL",
		"DEVPULSE_ANOMALY_Z_THRESHOLD",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "devpulse-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
