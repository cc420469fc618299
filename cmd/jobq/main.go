// Command jobq runs the job queue worker together with the inbound event endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobq/pkg/clientip"
	"github.com/dmitrymomot/jobq/pkg/config"
	"github.com/dmitrymomot/jobq/pkg/environment"
	"github.com/dmitrymomot/jobq/pkg/httpserver"
	"github.com/dmitrymomot/jobq/pkg/idempotency"
	"github.com/dmitrymomot/jobq/pkg/ingest"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/mongo"
	"github.com/dmitrymomot/jobq/pkg/pg"
	"github.com/dmitrymomot/jobq/pkg/pgstore"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/ratelimiter"
	"github.com/dmitrymomot/jobq/pkg/redis"
	"github.com/dmitrymomot/jobq/pkg/requestid"
	"github.com/dmitrymomot/jobq/pkg/secrets"
)

const serviceName = "jobq"

type appConfig struct {
	Env                 string        `env:"APP_ENV" envDefault:"development"`
	RateLimitsFile      string        `env:"RATE_LIMITS_FILE"`
	MaintenanceInterval time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"10m"`
	HealthTimeout       time.Duration `env:"HEALTH_TIMEOUT" envDefault:"3s"`
	RedisEnabled        bool          `env:"REDIS_ENABLED" envDefault:"false"`
	MongoEnabled        bool          `env:"MONGODB_ENABLED" envDefault:"false"`

	Log    logger.Config
	Queue  queue.Config
	PG     pg.Config
	HTTP   httpserver.Config
	Ingest ingest.Config
}

// backends enable the optional stores only when switched on, so their
// required variables are not demanded otherwise
type redisConfig struct {
	Redis redis.Config
}

type mongoConfig struct {
	Mongo mongo.Config
}

func main() {
	if err := run(); err != nil {
		slog.Error("jobq stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	env := environment.Parse(cfg.Env)
	logOpts, err := cfg.Log.Options()
	if err != nil {
		return err
	}
	log := logger.New(append([]logger.Option{
		logger.WithEnvironment(env, serviceName),
		logger.WithContextExtractors(
			queue.LogExtractor,
			requestid.LoggerExtractor(),
			clientip.LoggerExtractor(),
		),
	}, logOpts...)...)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.PG.AutoMigrate {
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg.PG, log); err != nil {
			return err
		}
	}

	store, err := pgstore.New(pool)
	if err != nil {
		return err
	}

	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	var (
		rateStore  ratelimiter.Store = store
		claimStore idempotency.Store = store
	)
	if cfg.RedisEnabled {
		var rc redisConfig
		if err := config.Load(&rc); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, rc.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		if rateStore, err = redis.NewRateLimitStore(client, rc.Redis.KeyPrefix); err != nil {
			return err
		}
		if claimStore, err = redis.NewClaimStore(client, rc.Redis.KeyPrefix); err != nil {
			return err
		}
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		log.InfoContext(ctx, "rate limits and event claims stored in redis")
	}

	queueOpts := append(cfg.Queue.Options(), queue.WithLogger(log))
	if cfg.MongoEnabled {
		var mc mongoConfig
		if err := config.Load(&mc); err != nil {
			return err
		}
		db, err := mongo.NewWithDatabase(ctx, mc.Mongo)
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(dctx)
		}()

		dlq, err := mongo.NewDeadLetterStore(ctx, db, "")
		if err != nil {
			return err
		}
		queueOpts = append(queueOpts, queue.WithDeadLetterStore(dlq))
		checks = append(checks, httpserver.Check{Name: "mongodb", Fn: mongo.Healthcheck(db.Client())})
		log.InfoContext(ctx, "dead letters stored in mongodb")
	}

	q, err := queue.New(store, queueOpts...)
	if err != nil {
		return err
	}

	limits := ratelimiter.Limits{}
	var window time.Duration
	if cfg.RateLimitsFile != "" {
		f, err := ratelimiter.LoadLimits(cfg.RateLimitsFile)
		if err != nil {
			return err
		}
		limits, window = f.Limits, f.Window
	}
	startLimiter, err := ratelimiter.NewPriorityLimiter(rateStore, limits, window)
	if err != nil {
		return err
	}

	registry := queue.NewRegistry()
	for _, source := range cfg.Ingest.Sources {
		registry.MustRegister(ingest.HookPrefix+source, inboundHandler(log, source))
	}

	executor, err := queue.NewExecutor(q, registry,
		queue.WithRateLimiter(startLimiter),
		queue.WithExecutorLogger(log))
	if err != nil {
		return err
	}

	ingestHandler, err := newIngest(cfg.Ingest, q, claimStore, rateStore, log)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Get("/health/live", httpserver.LivenessHandler())
	router.Get("/health/ready", httpserver.ReadinessHandler(log, cfg.HealthTimeout, checks...))
	router.Mount("/", ingestHandler.Routes())

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, router) })
	if registry.Len() > 0 {
		worker, err := queue.NewWorker(executor, append(cfg.Queue.WorkerOptions(), queue.WithWorkerLogger(log))...)
		if err != nil {
			return err
		}
		g.Go(worker.Run(ctx))
	} else {
		log.WarnContext(ctx, "no inbound sources configured, worker disabled")
	}
	g.Go(func() error { return maintain(ctx, log, q, store, cfg.MaintenanceInterval, cfg.Queue.Retention) })

	log.InfoContext(ctx, "jobq started", slog.String("addr", cfg.HTTP.Addr), slog.Int("hooks", registry.Len()))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("jobq stopped")
	return nil
}

func newIngest(cfg ingest.Config, q *queue.Queue, claims idempotency.Store, rates ratelimiter.Store, log *slog.Logger) (*ingest.Handler, error) {
	master, err := secrets.ParseKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}

	claimer, err := idempotency.New(claims,
		idempotency.WithProcessingTTL(cfg.ClaimTTL),
		idempotency.WithRetention(cfg.ClaimRetention),
		idempotency.WithLogger(log))
	if err != nil {
		return nil, err
	}

	senderLimiter, err := ratelimiter.NewWindow(rates, cfg.LimiterConfig())
	if err != nil {
		return nil, err
	}

	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	return ingest.New(q, claimer, senderLimiter, master, append(opts, ingest.WithLogger(log))...)
}

// inboundHandler records accepted events. Applications embedding the queue
// register their own handlers for the same hooks.
func inboundHandler(log *slog.Logger, source string) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, args json.RawMessage) error {
		log.InfoContext(ctx, "inbound event processed",
			logger.Source(source),
			slog.Int("size", len(args)))
		return nil
	})
}

// maintain drops finished jobs past retention and expired limiter and claim rows
func maintain(ctx context.Context, log *slog.Logger, q *queue.Queue, store *pgstore.Store, interval, retention time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := time.Now()
		if retention > 0 {
			purged, err := q.Purge(ctx, now.Add(-retention))
			if err != nil {
				log.ErrorContext(ctx, "failed to purge jobs", logger.Error(err))
			} else if purged > 0 {
				log.InfoContext(ctx, "purged finished jobs", slog.Int64("count", purged))
			}
		}

		pruned, err := store.Prune(ctx, now)
		if err != nil {
			log.ErrorContext(ctx, "failed to prune expired rows", logger.Error(err))
			continue
		}
		log.DebugContext(ctx, "pruned expired rows",
			slog.Int64("rate_limits", pruned.RateLimits),
			slog.Int64("claims", pruned.Claims))
	}
}
