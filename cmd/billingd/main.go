package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aigensolutions/billingcore/internal/db"
	"github.com/aigensolutions/billingcore/pkg/billing"
	"github.com/aigensolutions/billingcore/pkg/config"
	"github.com/aigensolutions/billingcore/pkg/httpserver"
	"github.com/aigensolutions/billingcore/pkg/ledger"
	"github.com/aigensolutions/billingcore/pkg/logger"
	"github.com/aigensolutions/billingcore/pkg/pg"
	"github.com/aigensolutions/billingcore/pkg/plan"
	"github.com/aigensolutions/billingcore/pkg/redis"
	"github.com/aigensolutions/billingcore/pkg/retry"
	"github.com/aigensolutions/billingcore/pkg/subscription"
	"github.com/aigensolutions/billingcore/pkg/trial"
	"github.com/aigensolutions/billingcore/pkg/webhookguard"
)

// Stripe caps webhook payloads well below this; larger bodies are rejected
// before signature verification.
const maxWebhookBody = int64(64 << 10)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"billingd"`
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("billingd terminated", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var appCfg appConfig
	config.MustLoad(&appCfg)
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	var stripeCfg billing.StripeConfig
	config.MustLoad(&stripeCfg)
	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Environment, appCfg.ServiceName),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, db.Migrations, db.MigrationsDir, log); err != nil {
		return err
	}

	guardOpts := []webhookguard.Option{webhookguard.WithLogger(log)}
	healthChecks := make([]func(context.Context) error, 0, 3)

	dbTracker := retry.NewHealthTracker(0, 0)
	healthChecks = append(healthChecks, pg.Healthcheck(pool, dbTracker))

	if redisCfg.ConnectionURL != "" {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		guardOpts = append(guardOpts, webhookguard.WithRedis(client))
		healthChecks = append(healthChecks, redis.Healthcheck(client))
	}

	stripeTracker := retry.NewHealthTracker(0, 0)
	gateway, err := billing.NewStripeGateway(stripeCfg, billing.WithHealthTracker(stripeTracker))
	if err != nil {
		return err
	}
	healthChecks = append(healthChecks, func(context.Context) error {
		if stripeTracker.State() == retry.StateDown {
			return errors.New("billing provider degraded")
		}
		return nil
	})

	credits := ledger.NewService(ledger.NewPgStore(pool), ledger.WithLogger(log))
	catalog := plan.NewCatalog(plan.NewPgStore(pool))
	users := trial.NewPgUserStore(pool)

	svc := subscription.NewService(
		subscription.NewPgStore(pool),
		credits,
		catalog,
		gateway,
		users,
		subscription.WithLogger(log),
		subscription.WithNotifier(subscription.NewLogNotifier(log)),
	)
	guard := webhookguard.New(pool, guardOpts...)
	processor := subscription.NewProcessor(svc, guard, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Post("/webhooks/stripe", stripeWebhookHandler(gateway, processor, log))
	router.Get("/health", httpserver.HealthCheckHandler(ctx, log, healthChecks...))

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))
	return srv.Run(ctx, router)
}

func stripeWebhookHandler(gateway *billing.StripeGateway, processor *subscription.Processor, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unable to read request body", http.StatusBadRequest)
			return
		}

		event, err := gateway.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		if err := processor.HandleEvent(r.Context(), event); err != nil {
			log.ErrorContext(r.Context(), "webhook processing failed",
				slog.String("event_id", event.ID),
				slog.String("event_type", string(event.Type)),
				logger.Error(err),
			)
			http.Error(w, "event processing failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
