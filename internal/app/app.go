// Package app builds the shared object graph for the server, tracking and
// worker binaries from configuration: datastore, token resolution, dirty
// tracking, dispatch, archive and locks.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/engagement-tracker/internal/api"
	"github.com/ignite/engagement-tracker/internal/cache"
	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/migrations"
	"github.com/ignite/engagement-tracker/internal/pkg/distlock"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/pkg/ratelimit"
	"github.com/ignite/engagement-tracker/internal/repository/dynamo"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/repository/postgres"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
	"github.com/ignite/engagement-tracker/internal/storage"
	"github.com/ignite/engagement-tracker/internal/tracking"
	"github.com/ignite/engagement-tracker/internal/worker"
	"github.com/redis/go-redis/v9"
)

var log = logger.With("app")

// dirtyQueue is what the recorder marks and the refresher drains.
type dirtyQueue interface {
	worker.DirtyQueue
	api.Backlog
}

type campaignStore interface {
	analytics.Repository
	worker.CampaignLister
	cache.CampaignLiveness
}

// App is the wired service graph. Build it with New and release it with
// Close.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *redis.Client

	Tokens    engagement.TokenResolver
	Events    engagement.EventStore
	Recorder  *engagement.Recorder
	Analytics *analytics.Service

	dirty     dirtyQueue
	campaigns campaignStore
	locks     func(string) distlock.DistLock

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
}

// ConfigureLogging applies the logging section to the default logger.
func ConfigureLogging(c config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(c.Level))
	logger.SetRedactPII(!c.ShowPII)
}

// New connects every configured backend. On error, whatever was opened is
// closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Redis.Enabled() {
		opts, perr := redis.ParseURL(cfg.Redis.URL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		a.Redis = redis.NewClient(opts)
		if perr := a.Redis.Ping(ctx).Err(); perr != nil {
			return nil, fmt.Errorf("redis ping: %w", perr)
		}
		log.Info("connected to redis")
	}

	switch cfg.Storage.Backend {
	case "postgres":
		a.DB, err = postgres.NewDB(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err = migrations.Up(a.DB); err != nil {
				return nil, err
			}
		}
		repo := postgres.NewAnalyticsRepo(a.DB)
		a.Events = postgres.NewEventRepo(a.DB)
		a.campaigns = repo
	case "memory":
		store := memory.New()
		a.Events = store
		a.campaigns = store
		a.Tokens = store
		a.dirty = memoryDirty{store}
		log.Warn("using in-memory storage; data is lost on restart")
	}

	if err = a.buildTokens(ctx); err != nil {
		return nil, err
	}

	if a.Redis != nil {
		a.dirty = cache.NewDirtySet(a.Redis, cfg.Analytics.DirtyKey)
	} else if a.dirty == nil {
		// Without Redis the marks stay in this process; the periodic sweep
		// covers campaigns recorded by other instances.
		a.dirty = memoryDirty{memory.New()}
	}
	a.locks = distlock.Factory(a.Redis, a.DB, cfg.Analytics.LockTTL())

	a.Recorder = engagement.NewRecorder(a.Tokens, a.Events,
		engagement.WithTimeout(cfg.Tracking.RecordTimeout()),
		engagement.WithDirtyMarker(a.dirty),
	)

	var opts []analytics.Option
	archiver, err := a.buildArchiver(ctx)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, analytics.WithArchiver(archiver))
	}
	a.Analytics = analytics.NewService(a.campaigns, opts...)
	return a, nil
}

func (a *App) buildTokens(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Tokens.Backend {
	case "postgres":
		a.Tokens = postgres.NewTokenRepo(a.DB)
	case "dynamodb":
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			return err
		}
		a.Tokens = dynamo.NewTokenRepo(dynamodb.NewFromConfig(awsCfg), cfg.Tokens.DynamoDBTable)
		log.Info("resolving tokens from dynamodb", "table", cfg.Tokens.DynamoDBTable)
	case "memory":
		// set with the memory store
	}
	if a.Redis != nil {
		a.Tokens = cache.NewCachedResolver(a.Tokens, a.Redis, cfg.Tokens.CacheTTL(), cfg.Tokens.NegativeCacheTTL(),
			cache.WithLivenessCheck(a.campaigns))
	}
	return nil
}

func (a *App) buildArchiver(ctx context.Context) (analytics.Archiver, error) {
	cfg := a.Config.Analytics
	switch {
	case cfg.S3Bucket != "":
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("archiving analytics to s3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return storage.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
	case cfg.ArchiveLocalPath != "":
		return storage.NewLocalArchiver(cfg.ArchiveLocalPath)
	default:
		return nil, nil
	}
}

// TrackingHandler builds the tracking edge around d.
func (a *App) TrackingHandler(d tracking.Dispatcher) (*tracking.Handler, error) {
	trusted, err := tracking.ParseTrustedProxies(a.Config.Tracking.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return tracking.NewHandler(d, tracking.WithTrustedProxies(trusted)), nil
}

// AWS loads the AWS config once, on first use.
func (a *App) AWS(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		c := a.Config.AWS
		a.awsCfg, a.awsErr = storage.LoadAWSConfig(ctx, storage.AWSOptions{
			Region:          c.Region,
			Profile:         c.GetProfile(),
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			Endpoint:        c.Endpoint,
		})
	})
	return a.awsCfg, a.awsErr
}

// Dispatcher returns the capture dispatcher for the tracking routes: the
// recorder itself, or an SQS publisher, behind a bounded async pool.
func (a *App) Dispatcher(ctx context.Context) (*tracking.AsyncDispatcher, error) {
	t := a.Config.Tracking
	run := tracking.RunFunc(a.Recorder.Record)
	if t.Dispatch == "sqs" {
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		run = tracking.NewPublisher(sqs.NewFromConfig(awsCfg), t.SQSQueueURL).Publish
		log.Info("tracking captures go to sqs", "queue", t.SQSQueueURL)
	}
	return tracking.NewAsyncDispatcher(run, t.MaxInflight, t.RecordTimeout()), nil
}

// Consumer returns the SQS consumer that feeds the recorder.
func (a *App) Consumer(ctx context.Context) (*tracking.Consumer, error) {
	t := a.Config.Tracking
	if t.SQSQueueURL == "" {
		return nil, errors.New("tracking.sqs_queue_url is not configured")
	}
	awsCfg, err := a.AWS(ctx)
	if err != nil {
		return nil, err
	}
	return tracking.NewConsumer(sqs.NewFromConfig(awsCfg), t.SQSQueueURL, a.Recorder), nil
}

// Refresher returns the background analytics refresher.
func (a *App) Refresher() *worker.AnalyticsRefresher {
	c := a.Config.Analytics
	opts := []worker.RefresherOption{
		worker.WithInterval(c.RefreshInterval()),
		worker.WithBatchSize(c.BatchSize),
	}
	if c.SweepInterval() > 0 {
		opts = append(opts, worker.WithSweep(a.campaigns, c.SweepInterval()))
	}
	return worker.NewAnalyticsRefresher(a.dirty, a.Analytics, a.locks, opts...)
}

// HealthChecker returns the checker for /health routes.
func (a *App) HealthChecker() *api.HealthChecker {
	return api.NewHealthChecker(a.DB, a.Redis, a.dirty)
}

// APIRoutes returns router options for the JSON API plus health. The rate
// limiter's idle visitors are swept until ctx is done.
func (a *App) APIRoutes(ctx context.Context) api.RouterOptions {
	c := a.Config.API
	limiter := ratelimit.NewLimiter(c.RateLimit, c.Burst)
	go limiter.Run(time.Minute, ctx.Done())
	return api.RouterOptions{
		Analytics:      api.NewAnalyticsHandlers(a.Analytics),
		Events:         api.NewEventsHandler(a.Recorder),
		Health:         a.HealthChecker(),
		APIKey:         c.APIKey,
		AllowedOrigins: c.AllowedOrigins,
		Limiter:        limiter,
	}
}

// Close releases every connection the App opened.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// memoryDirty adapts the memory store's dirty set to dirtyQueue.
type memoryDirty struct{ *memory.Store }

func (m memoryDirty) Len(ctx context.Context) (int64, error) { return m.DirtyLen(ctx) }

// DefaultConfigPath is read when CONFIG_PATH is unset.
const DefaultConfigPath = "config/config.yaml"

// LoadConfig loads CONFIG_PATH (or the default path when it exists) with env
// overrides and applies the logging section.
func LoadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	ConfigureLogging(cfg.Logging)
	return cfg, nil
}

// Fatal logs at ERROR and exits.
func Fatal(msg string, fields ...interface{}) {
	logger.Error(msg, fields...)
	os.Exit(1)
}
