// Command spidercore runs one crawler-core spider process end to end:
// it wires the concrete NSQ/Redis/Prometheus adapters into
// internal/lifecycle.Controller, seeds the scheduler from SPIDER_SEED_URLS,
// and always exposes the admin HTTP surface described in SPEC_FULL.md
// §4.13 (its JWT check is enabled only when a public key is configured).
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/deepcrawl/spidercore/internal/adminapi"
	"github.com/deepcrawl/spidercore/internal/admission"
	"github.com/deepcrawl/spidercore/internal/auth"
	"github.com/deepcrawl/spidercore/internal/config"
	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/dataflow"
	_ "github.com/deepcrawl/spidercore/internal/dataflow/memorysink"
	"github.com/deepcrawl/spidercore/internal/dispatch"
	"github.com/deepcrawl/spidercore/internal/health"
	"github.com/deepcrawl/spidercore/internal/lifecycle"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/metrics"
	"github.com/deepcrawl/spidercore/internal/model"
	"github.com/deepcrawl/spidercore/internal/mqbus"
	"github.com/deepcrawl/spidercore/internal/proxypool"
	"github.com/deepcrawl/spidercore/internal/schedulerstore"
	"github.com/deepcrawl/spidercore/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

// appLifetime is the concrete contracts.ApplicationLifetime: a
// close-once stop channel, mirroring the teacher's signal.Notify + stop
// channel graceful-shutdown idiom (cmd/worker, cmd/ingest).
type appLifetime struct {
	once sync.Once
	stop chan struct{}
}

func newAppLifetime() *appLifetime {
	return &appLifetime{stop: make(chan struct{})}
}

func (l *appLifetime) StopApplication() {
	l.once.Do(func() { close(l.stop) })
}

func (l *appLifetime) Stopping() <-chan struct{} {
	return l.stop
}

var _ contracts.ApplicationLifetime = (*appLifetime)(nil)

// seedSupplier admits a fixed list of seed URLs once, read from
// SPIDER_SEED_URLS (comma-separated). A real deployment is expected to
// register its own contracts.RequestSupplier; this one exists so the
// process can run standalone.
type seedSupplier struct {
	owner string
	urls  []string
}

func (s *seedSupplier) Requests(ctx context.Context) ([]*model.Request, error) {
	reqs := make([]*model.Request, 0, len(s.urls))
	for _, u := range s.urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		sum := sha256.Sum256([]byte(u))
		reqs = append(reqs, &model.Request{
			Hash:           hex.EncodeToString(sum[:]),
			RequestUri:     u,
			Owner:          s.owner,
			DownloaderType: model.DefaultDownloaderType,
			Policy:         model.PolicyChained,
		})
	}
	return reqs, nil
}

var _ contracts.RequestSupplier = (*seedSupplier)(nil)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New(cfg.AppName)

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	spiderID := os.Getenv("SPIDER_ID")
	spiderName := os.Getenv("SPIDER_NAME")
	if spiderName == "" {
		spiderName = spiderID
	}

	bus := mqbus.New(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.LookupHTTPAddr, logger)
	defer bus.Close()

	scheduler, err := schedulerstore.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to connect scheduler store")
	}
	defer scheduler.Close()

	var proxies contracts.ProxyPool
	if cfg.Spider.UseProxy {
		proxies = proxypool.New(strings.Split(os.Getenv("PROXY_ADDRS"), ","), cfg.Proxy.RateLimit, cfg.Proxy.Burst)
	} else {
		proxies = proxypool.New(nil, cfg.Proxy.RateLimit, cfg.Proxy.Burst)
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	stats := metrics.New(logger)

	bus.StartBacklogMonitor(ctx, stats)

	stage, err := dataflow.Build(cfg.Spider.Storage, nil)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to build data-flow pipeline")
	}
	pipeline := dataflow.NewRunner(logger, stage)

	lifetime := newAppLifetime()

	var seedURLs []string
	if raw := os.Getenv("SPIDER_SEED_URLS"); raw != "" {
		seedURLs = strings.Split(raw, ",")
	}

	components := map[string]health.Pinger{
		"scheduler": scheduler,
		"bus":       bus,
	}

	var auditLog admission.AuditLog
	var replayer adminapi.RequestReplayer
	if cfg.Audit.Enabled {
		audit, err := schedulerstore.ConnectPgAudit(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("failed to connect admission audit log")
		}
		defer audit.Close()
		auditLog = audit
		replayer = audit
		components["audit"] = audit
	}

	controller := &lifecycle.Controller{
		Identity:  func() (string, string) { return spiderID, spiderName },
		Suppliers: []contracts.RequestSupplier{&seedSupplier{owner: spiderID, urls: seedURLs}},
		Pipeline:  pipeline,
		Scheduler: scheduler,
		Bus:       bus,
		Proxies:   proxies,
		Stats:     stats,
		Lifetime:  lifetime,
		Audit:     auditLog,
		AdmissionCfg: lifecycle.AdmissionConfig{
			RetriedTimes: cfg.Spider.RetriedTimes,
			Depth:        cfg.Spider.Depth,
		},
		DispatchCfg: dispatch.Config{
			Speed:               cfg.Spider.Speed,
			RequestedQueueCount: cfg.Spider.RequestedQueueCount,
			EmptySleepTime:      cfg.Spider.EmptySleepTime,
			UseProxy:            cfg.Spider.UseProxy,
		},
		RequestTimeout: cfg.Spider.RequestTimeout,
		Logger:         logger,
	}

	var validator *auth.JWTValidator
	if cfg.Admin.JWTPublicKeyPath != "" {
		keyPEM, err := os.ReadFile(cfg.Admin.JWTPublicKeyPath)
		if err != nil {
			logger.Plain().WithError(err).Fatal("failed to read admin JWT public key")
		}
		validator, err = auth.NewJWTValidator(string(keyPEM), cfg.Admin.JWTIssuer, cfg.Admin.JWTAudience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("failed to initialize admin JWT validator")
		}
	}

	admin := &adminapi.Server{
		Bus:        bus,
		Scheduler:  scheduler,
		Replay:     replayer,
		Validator:  validator,
		Components: components,
		Registry:   reg,
		Logger:     logger,
	}
	adminSrv := &http.Server{Addr: cfg.Admin.HTTPPort, Handler: admin.Handler()}
	go func() {
		logger.Plain().WithField("addr", adminSrv.Addr).Info("admin HTTP server starting")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("admin HTTP server failed")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-stop:
			cancel()
		case <-lifetime.Stopping():
			cancel()
		}
	}()

	reason, err := controller.Run(runCtx)
	if err != nil {
		logger.WithSpider(spiderID).WithError(err).Fatal("spider run failed")
	}
	logger.WithSpider(spiderID).WithField("reason", string(reason)).Info("spider stopped")

	_ = adminSrv.Shutdown(context.Background())
}
