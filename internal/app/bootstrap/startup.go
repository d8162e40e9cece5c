// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/stratavault/internal/app/store/audit"
	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/events"
	"github.com/dalemusser/stratavault/internal/app/system/lifecycle"
	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"github.com/dalemusser/stratavault/internal/app/system/namespace"
	"github.com/dalemusser/stratavault/internal/app/system/notify"
	"github.com/dalemusser/stratavault/internal/app/system/placement"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/app/system/tasks"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// services are the engine components shared by the HTTP handlers and the
// background jobs. Startup builds them; BuildHandler and Shutdown use them.
type services struct {
	metrics   *metrics.Metrics
	hub       *events.Hub
	publisher events.Publisher
	ledger    *quota.Ledger
	access    *sharing.Resolver
	namespace *namespace.Manager
	lifecycle *lifecycle.Engine
	placement *placement.Service
	audit     *auditlog.Logger
	runner    *tasks.Runner

	stopBroker context.CancelFunc
	brokerDone chan struct{}
}

// svc is the global services instance, used by BuildHandler and Shutdown.
var svc *services

// Startup runs once after DB connections and schema setup are complete,
// but before the HTTP handler is built and requests are served.
//
// It applies the timeout configuration, builds the engine components, starts
// the live-event relay when Redis is configured, and starts the maintenance
// jobs. Returning an error aborts startup.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{
		Ping:  appCfg.TimeoutPing,
		Short: appCfg.TimeoutShort,
		Long:  appCfg.TimeoutLong,
		Batch: appCfg.TimeoutBatch,
	})

	s, err := newServices(appCfg, deps, logger)
	if err != nil {
		return err
	}
	svc = s

	startBroker(s, appCfg, deps, logger)
	startTaskRunner(s, appCfg, logger)
	return nil
}

func newServices(appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*services, error) {
	if deps.Content == nil {
		return nil, errors.New("content storage is not configured")
	}
	db := deps.MongoDatabase

	var m *metrics.Metrics
	if appCfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
	}

	hub := events.NewHub(m, logger)
	var pub events.Publisher = hub

	var notifier sharing.Notifier
	if deps.Mailer != nil {
		notifier = notify.NewShareNotifier(deps.Mailer, appCfg.MailFromName, appCfg.BaseURL)
	}

	s := &services{metrics: m, hub: hub}
	s.audit = auditlog.New(audit.New(db), logger, auditlog.Config{
		Admin:   appCfg.AuditLogAdmin,
		Sharing: appCfg.AuditLogSharing,
	})
	if deps.Redis != nil {
		pub = events.NewRedisBroker(deps.Redis, appCfg.RedisChannel, hub, logger)
	}
	s.publisher = pub

	s.ledger = quota.New(db, m, logger)
	s.access = sharing.New(db, notifier, pub, m, logger)
	s.namespace = namespace.New(db, s.access, pub, logger)
	s.lifecycle = lifecycle.New(db, s.access, s.ledger, deps.Content, pub, m, logger)
	s.placement = placement.New(db, deps.Content, s.access, s.ledger, placement.Policy{
		MaxSize:           appCfg.MaxUploadSize,
		AllowedTypes:      appCfg.AllowedMediaTypes,
		BlockedExtensions: appCfg.BlockedExtensions,
	}, pub, m, logger)

	return s, nil
}

// startBroker relays live events through Redis until Shutdown.
func startBroker(s *services, appCfg AppConfig, deps DBDeps, logger *zap.Logger) {
	broker, ok := s.publisher.(*events.RedisBroker)
	if !ok {
		logger.Info("live events are local to this instance (no redis_url)")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBroker = cancel
	s.brokerDone = make(chan struct{})
	go func() {
		defer close(s.brokerDone)
		if err := broker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("live event relay stopped", zap.Error(err))
		}
	}()
}

// startTaskRunner registers and starts the maintenance jobs.
func startTaskRunner(s *services, appCfg AppConfig, logger *zap.Logger) {
	s.runner = tasks.New(logger, s.metrics)

	if appCfg.TrashRetention > 0 {
		s.runner.Register(withBatchTimeout(tasks.TrashSweepJob(s.lifecycle, appCfg.TrashRetention, appCfg.TrashSweepInterval, logger)))
	} else {
		logger.Info("trash retention disabled; trashed items are kept until emptied")
	}
	s.runner.Register(withBatchTimeout(tasks.GrantReaperJob(s.access, appCfg.GrantReapInterval)))
	s.runner.Register(withBatchTimeout(tasks.QuotaReconcileJob(s.ledger, appCfg.QuotaReconcileInterval, logger)))

	s.runner.Start()
}

// withBatchTimeout bounds each run of job by the batch timeout.
func withBatchTimeout(job tasks.Job) tasks.Job {
	run := job.Run
	job.Run = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeouts.Batch())
		defer cancel()
		return run(ctx)
	}
	return job
}
