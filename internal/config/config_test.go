package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/devpulse/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have the documented defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 5)
			convey.So(cfg.CacheTTL, convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.FetchTimeout, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.FailureLookback, convey.ShouldEqual, 14*24*time.Hour)
			convey.So(cfg.AnomalyZThreshold, convey.ShouldEqual, 2.5)
			convey.So(cfg.AnomalyContamination, convey.ShouldEqual, 0.1)
			convey.So(cfg.PredictorMinSamples, convey.ShouldEqual, 50)
			convey.So(cfg.RetrainInterval, convey.ShouldEqual, 7*24*time.Hour)
			convey.So(cfg.ForecastHorizon, convey.ShouldEqual, 14)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with invalid settings", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":          func(c *config.Config) { c.Addr = "" },
			"no workers":          func(c *config.Config) { c.WorkerCount = 0 },
			"zero ttl":            func(c *config.Config) { c.CacheTTL = 0 },
			"short window":        func(c *config.Config) { c.WindowDays = 3 },
			"late night out":      func(c *config.Config) { c.LateNightStart = 24 },
			"contamination":       func(c *config.Config) { c.AnomalyContamination = 0.6 },
			"tiny training set":   func(c *config.Config) { c.PredictorMinSamples = 2 },
			"scope without repos": func(c *config.Config) { c.Scopes = map[string][]string{"x": nil} },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			_ = name
		}
	})
}
