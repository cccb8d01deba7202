package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/internal/config"
	"github.com/okian/evalsync/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When loading configuration from the environment", func() {
			t.Setenv("EVALSYNC_ADDR", ":8080")
			t.Setenv("EVALSYNC_INTAKE_QUEUE_SIZE", "1000")
			t.Setenv("EVALSYNC_INTAKE_WORKER_COUNT", "4")

			convey.Convey("Then the overrides are applied", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.IntakeQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.IntakeWorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the configuration is invalid", func() {
			t.Setenv("EVALSYNC_LOCAL_BACKEND", "indexeddb")

			convey.Convey("Then loading fails", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When initializing logging with a file", func() {
			cfg := config.New()
			cfg.LogFormat = "json"
			cfg.LogFile = filepath.Join(t.TempDir(), "evalsync.log")
			cfg.LogLevel = "verbose"

			convey.Convey("Then an unknown level falls back and the file is written", func() {
				convey.So(initLogging(cfg), convey.ShouldBeNil)
				logger.Get().Info(context.Background(), "ready")
				convey.So(logger.Sync(), convey.ShouldBeNil)

				data, err := os.ReadFile(cfg.LogFile)
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(data), convey.ShouldContainSubstring, `"msg":"ready"`)
			})

			convey.Reset(func() {
				_ = logger.Init()
			})
		})

		convey.Convey("When the log format is unknown", func() {
			cfg := config.New()
			cfg.LogFormat = "xml"

			convey.Convey("Then logging fails to initialize", func() {
				convey.So(initLogging(cfg), convey.ShouldNotBeNil)
			})

			convey.Reset(func() {
				_ = logger.Init()
			})
		})
	})
}

func TestOpenStores(t *testing.T) {
	convey.Convey("Given backend selections", t, func() {
		ctx := context.Background()

		convey.Convey("When both backends are in memory", func() {
			st, err := openStores(ctx, config.New())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then memory stores are returned", func() {
				_, remoteOK := st.remote.(*remote.MemoryStore)
				_, localOK := st.local.(*localstore.MemoryStore)
				convey.So(remoteOK, convey.ShouldBeTrue)
				convey.So(localOK, convey.ShouldBeTrue)
				convey.So(st.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the local backend is sqlite", func() {
			cfg := config.New()
			cfg.LocalBackend = config.BackendSQLite
			cfg.LocalDBPath = filepath.Join(t.TempDir(), "local.db")
			st, err := openStores(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the database file is created", func() {
				_, ok := st.local.(*localstore.SQLiteStore)
				convey.So(ok, convey.ShouldBeTrue)
				_, statErr := os.Stat(cfg.LocalDBPath)
				convey.So(statErr, convey.ShouldBeNil)
				convey.So(st.Close(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the remote backend is redis", func() {
			cfg := config.New()
			cfg.RemoteBackend = config.BackendRedis
			cfg.RedisAddr = "127.0.0.1:1"
			st, err := openStores(ctx, cfg)

			convey.Convey("Then opening succeeds without a reachable server", func() {
				convey.So(err, convey.ShouldBeNil)
				_, ok := st.remote.(*remote.RedisStore)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(st.Close(), convey.ShouldBeNil)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given the wired application", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cfg := config.New()
		st, err := openStores(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = st.Close() }()

		svc, err := newService(cfg, st, logger.Get())
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop(context.Background())

		srv := newHTTPServer(ctx, cfg, svc, logger.Get())
		ts := httptest.NewServer(srv.Handler)
		defer ts.Close()

		convey.So(srv.Addr, convey.ShouldEqual, cfg.Addr)
		convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)

		convey.Convey("Then the health endpoint answers", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the API document is served", func() {
			resp, err := http.Get(ts.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			convey.So(string(body), convey.ShouldContainSubstring, "openapi:")
		})

		convey.Convey("Then the evaluation list starts empty", func() {
			resp, err := http.Get(ts.URL + "/api/evaluations")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		convey.Convey("When the system updater runs until cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.Convey("Then it returns without panicking", func() {
				convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When the service updater samples stats", func() {
			cfg := config.New()
			st, err := openStores(context.Background(), cfg)
			convey.So(err, convey.ShouldBeNil)
			svc, err := newService(cfg, st, logger.Get())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then it does not panic", func() {
				convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)
				_ = st.Close()
			})
		})
	})
}
