// Command server runs the blood bank operations core: eligibility, events,
// registrations, inventory, separation, and fulfillment behind one HTTP
// API. Backends are chosen by configuration: Postgres when a DSN is set,
// in-memory otherwise; Kafka for notifications when brokers are set, an
// in-process recorder otherwise.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"hemobank/internal/audit"
	auditstore "hemobank/internal/audit/store"
	"hemobank/internal/eligibility"
	"hemobank/internal/event"
	"hemobank/internal/fulfillment"
	httpapi "hemobank/internal/http"
	"hemobank/internal/inventory"
	"hemobank/internal/notification"
	"hemobank/internal/platform/config"
	"hemobank/internal/platform/httpserver"
	"hemobank/internal/platform/logger"
	"hemobank/internal/platform/metrics"
	"hemobank/internal/platform/middleware"
	"hemobank/internal/platform/redis"
	"hemobank/internal/registration"
	"hemobank/internal/reporting"
	"hemobank/internal/separation"
	"hemobank/pkg/platform/circuit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		db  *sql.DB
		err error

		profileStore   eligibility.Store
		eventStore     event.Store
		regStore       registration.Store
		unitStore      inventory.UnitStore
		componentStore inventory.ComponentStore
		requestStore   fulfillment.Store
		auditStore     audit.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err = sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pgUnits := inventory.NewPostgresUnitStore(db)
		profileStore = eligibility.NewPostgresStore(db)
		eventStore = event.NewPostgresStore(db)
		regStore = registration.NewPostgresStore(db)
		unitStore = pgUnits
		componentStore = inventory.NewPostgresComponentStore(db, pgUnits)
		requestStore = fulfillment.NewPostgresStore(db)
		auditStore = auditstore.NewPostgresStore(db)
		log.Info("using postgres stores")
	} else {
		memUnits, memComponents := inventory.NewInMemoryStores()
		profileStore = eligibility.NewInMemoryStore()
		eventStore = event.NewInMemoryStore()
		regStore = registration.NewInMemoryStore()
		unitStore = memUnits
		componentStore = memComponents
		requestStore = fulfillment.NewInMemoryStore()
		auditStore = auditstore.NewInMemoryStore()
		log.Info("using in-memory stores")
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	dispatcher := notification.NewAsyncDispatcher(256, log)
	var sink notification.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := notification.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaSink.Close()
		// A flapping broker must not lose events: behind the breaker they
		// land in the in-memory recorder instead.
		breaker := circuit.New("kafka-notifications", circuit.WithFailureThreshold(5))
		sink = notification.NewFallbackSink(kafkaSink, notification.NewMemorySink(), breaker, log)
		log.Info("notifications publishing to kafka", "topic", cfg.Kafka.Topic)
	} else {
		sink = notification.NewMemorySink()
		log.Info("notifications recorded in memory, no brokers configured")
	}
	if len(cfg.Alerts.EmailRecipients) > 0 {
		emailSink := notification.NewEmailAlertSink(cfg.Alerts.EmailRecipients, notification.NewLogOutbox(log))
		sink = notification.NewFanoutSink(sink, emailSink)
		log.Info("low stock alerts mailed to operators", "recipients", len(cfg.Alerts.EmailRecipients))
	}
	worker := notification.NewWorker(sink, dispatcher.Inbox(), log)

	auditor := audit.NewPublisher(auditStore)

	eligSvc := eligibility.NewService(profileStore,
		eligibility.WithAuditor(auditor),
		eligibility.WithMetrics(m),
		eligibility.WithLogger(log),
		eligibility.WithOpTimeout(cfg.Policy.OpTimeout),
		eligibility.WithCompleteAfterDonations(cfg.Policy.CompleteAfterDonations),
	)
	eventSvc := event.NewService(eventStore,
		event.WithAuditor(auditor),
		event.WithLogger(log),
		event.WithOpTimeout(cfg.Policy.OpTimeout),
	)
	regSvc := registration.NewService(regStore, eligSvc, eventSvc,
		registration.WithDispatcher(dispatcher),
		registration.WithMetrics(m),
		registration.WithLogger(log),
		registration.WithOpTimeout(cfg.Policy.OpTimeout),
	)
	eventSvc.SetRegistrationLedger(regSvc)

	invSvc := inventory.NewService(unitStore, componentStore,
		inventory.WithRegistrations(regSvc),
		inventory.WithAuditor(auditor),
		inventory.WithDispatcher(dispatcher),
		inventory.WithMetrics(m),
		inventory.WithLogger(log),
		inventory.WithOpTimeout(cfg.Policy.OpTimeout),
		inventory.WithIntakePolicy(inventory.IntakePolicy{
			MinVolumeML: cfg.Policy.MinUnitVolumeML,
			MaxVolumeML: cfg.Policy.MaxUnitVolumeML,
		}),
		inventory.WithStockBand(inventory.StockBand{
			LowML:      cfg.Policy.LowStockML,
			CriticalML: cfg.Policy.CriticalStockML,
		}),
	)
	engine := separation.NewEngine(invSvc, componentStore,
		separation.WithAuditor(auditor),
		separation.WithMetrics(m),
		separation.WithLogger(log),
		separation.WithOpTimeout(cfg.Policy.OpTimeout),
	)
	fulfillSvc := fulfillment.NewService(requestStore, componentStore, invSvc,
		fulfillment.WithLocker(redisClient),
		fulfillment.WithAuditor(auditor),
		fulfillment.WithDispatcher(dispatcher),
		fulfillment.WithMetrics(m),
		fulfillment.WithLogger(log),
		fulfillment.WithOpTimeout(cfg.Policy.OpTimeout),
		fulfillment.WithWaitingPayment(cfg.Policy.AllowWaitingPayment),
	)
	reportSvc := reporting.NewService(invSvc, fulfillSvc)

	var limiter func(http.Handler) http.Handler
	if cfg.RateLimit.Limit > 0 {
		var counter middleware.Counter
		if redisClient != nil {
			counter = middleware.NewRedisCounter(redisClient)
		} else {
			counter = middleware.NewMemoryCounter()
		}
		limiter = middleware.RateLimit(cfg.RateLimit.Limit, cfg.RateLimit.Window, counter, log)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Eligibility: httpapi.NewEligibilityHandler(eligSvc),
		Events:      httpapi.NewEventHandler(eventSvc),
		Regs:        httpapi.NewRegistrationHandler(regSvc),
		Inventory:   httpapi.NewInventoryHandler(invSvc, engine),
		Fulfillment: httpapi.NewFulfillmentHandler(fulfillSvc),
		Reporting:   httpapi.NewReportingHandler(reportSvc),
		Validator:   middleware.NewHMACValidator(cfg.JWTSigningKey),
		Logger:      log,
		Limiter:     limiter,
		Health: func() error {
			if db != nil {
				if err := db.Ping(); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Health(context.Background())
			}
			return nil
		},
	})
	server := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
