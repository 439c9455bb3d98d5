package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"

	"unievent-ticketing/internal/analytics"
	"unievent-ticketing/internal/auth"
	"unievent-ticketing/internal/config"
	"unievent-ticketing/internal/database/migrations"
	"unievent-ticketing/internal/kafka"
	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/metrics"
	"unievent-ticketing/internal/notify"
	"unievent-ticketing/internal/payment"
	"unievent-ticketing/internal/payment/momo"
	"unievent-ticketing/internal/payment/stripepay"
	"unievent-ticketing/internal/sse"
	"unievent-ticketing/internal/tickets/db"
	"unievent-ticketing/internal/tickets/qr"
	ticketredis "unievent-ticketing/internal/tickets/redis"
	tickets "unievent-ticketing/internal/tickets/service"
	"unievent-ticketing/internal/tickets/ticket_api"
)

// gateway is what the service and the callback route need from a provider.
type gateway interface {
	payment.Gateway
	payment.CallbackParser
}

func openDatabase(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// migrate runs on its own connection because closing the migrator closes
// the handle it was given.
func migrate(cfg config.DatabaseConfig, log *logger.Logger) error {
	if !cfg.AutoMigrate {
		log.Info("DATABASE", "Auto-migration disabled")
		return nil
	}
	sqldb, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(sqldb, migrations.MigrateOptions{
		MigrationsDir: cfg.MigrationsDir,
		AutoMigrate:   true,
	}, log)
	defer runner.Close()
	return runner.Up()
}

func newGateway(cfg config.PaymentConfig, log *logger.Logger) (gateway, error) {
	switch cfg.Provider {
	case "momo":
		return momo.New(momo.Config{
			Endpoint:    cfg.MomoEndpoint,
			PartnerCode: cfg.MomoPartnerCode,
			AccessKey:   cfg.MomoAccessKey,
			SecretKey:   cfg.MomoSecretKey,
			IPNURL:      cfg.MomoIPNURL,
			RedirectURL: cfg.RedirectURL,
		}, &http.Client{Timeout: cfg.Timeout}, log), nil
	case "stripe":
		gw, err := stripepay.New(stripepay.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.Currency,
			RedirectURL:   cfg.RedirectURL,
		}, nil, log)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		log.Warn("PAYMENT", "No payment provider configured, paid events cannot be booked")
		return nil, nil
	}
}

func newAuthenticator(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (auth.Authenticator, error) {
	switch cfg.Mode {
	case "oidc":
		return auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuer)
	case "jwt":
		return auth.NewJWTAuthenticator(cfg.JWTSecret)
	default:
		log.Warn("AUTH", "Header authentication enabled, do not use in production")
		return auth.HeaderAuthenticator{}, nil
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.Log.Dir, cfg.Log.Level)
	defer log.Close()

	log.Info("APP", "Starting Ticketing Service initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(cfg.Database, log); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}
	bunDB, err := openDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	store := db.New(bunDB, cfg.Database.TxAttempts)

	activity := sse.NewActivityEmitter()
	var sink notify.Sink = notify.NewLogSink(log)
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		sink = notify.NewKafkaSink(producer)
		log.Info("KAFKA", "Kafka producer initialized successfully")
	}
	dispatcher := notify.NewDispatcher(notify.Fanout{sink, activity}, log)

	gw, err := newGateway(cfg.Payment, log)
	if err != nil {
		log.Fatal("PAYMENT", err.Error())
	}
	// A nil interface keeps "no provider" distinguishable inside the service.
	var svcGateway tickets.PaymentGateway
	var callbacks payment.CallbackParser
	if gw != nil {
		svcGateway, callbacks = gw, gw
	}

	service := tickets.NewTicketService(store, svcGateway, dispatcher, qr.NewGenerator(cfg.Ticketing.QRSecret), log, tickets.Config{
		CodePrefix:        cfg.Ticketing.CodePrefix,
		PaymentTimeout:    cfg.Payment.Timeout,
		RedirectURL:       cfg.Payment.RedirectURL,
		CheckInWindow:     cfg.Ticketing.CheckInWindow,
		PendingPaymentTTL: cfg.Ticketing.PendingPaymentTTL,
		SweepBatchSize:    cfg.Ticketing.SweepBatchSize,
		ReminderLead:      cfg.Ticketing.ReminderLead,
	})

	if cfg.Redis.Enabled {
		redisClient, err := ticketredis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("REDIS", err.Error())
		}
		defer redisClient.Close()
		service.WithLocker(ticketredis.NewRedis(redisClient, cfg.Redis.LockTTL, cfg.Redis.LockWait, log))
	}

	authn, err := newAuthenticator(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	handler := ticket_api.NewHandler(service, callbacks, log).
		WithAnalytics(analytics.NewService(bunDB)).
		WithActivity(activity)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(ticket_api.RequestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())
	handler.RegisterPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authn, log))
		handler.RegisterRoutes(r)
	})
	log.Info("ROUTER", "Ticketing routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Ticketing Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return service.RunSweeper(gctx, cfg.Ticketing.SweepInterval)
	})
	g.Go(func() error {
		return service.RunReminders(gctx, cfg.Ticketing.ReminderHour)
	})
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicPaymentResults, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Start(gctx, handler.HandlePaymentResult)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("APP", err.Error())
	}
	dispatcher.Wait()
	log.Info("APP", "Ticketing Service shutdown complete")
}
