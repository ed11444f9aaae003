// Package app wires configuration into a ready pipeline service. It is
// shared by cmd/server and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/conversion-sync/internal/adplatform"
	"github.com/ignite/conversion-sync/internal/awsutil"
	"github.com/ignite/conversion-sync/internal/config"
	"github.com/ignite/conversion-sync/internal/notify"
	"github.com/ignite/conversion-sync/internal/pkg/distlock"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
	"github.com/ignite/conversion-sync/internal/repository/postgres"
	"github.com/ignite/conversion-sync/internal/secrets"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
	"github.com/ignite/conversion-sync/internal/snowflake"
	"github.com/ignite/conversion-sync/internal/storage"
)

// App owns the long-lived clients behind the pipeline service.
type App struct {
	Pipeline  *pipeline.Service
	Snowflake *snowflake.Client
	DB        *sql.DB
	Redis     *redis.Client

	awsCfg    *aws.Config
	awsLoaded bool
}

// New connects every configured backend and builds the service. Optional
// backends (Postgres, Redis, S3, SQS) are skipped when unconfigured.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{}

	sf, err := snowflake.NewClient(cfg.Snowflake)
	if err != nil {
		return nil, err
	}
	a.Snowflake = sf
	if cfg.Snowflake.Enabled {
		if err := pingWarehouse(ctx, sf); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.connectDB(ctx, cfg.Database); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectRedis(ctx, cfg.Redis); err != nil {
		a.Close()
		return nil, err
	}

	sp, err := a.secretsProvider(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Source:  sf,
		Handles: adplatform.NewProvider(sp, cfg.AdPlatform),
	}

	switch {
	case a.Redis != nil:
		deps.Locks = distlock.NewFactory(a.Redis, nil, cfg.Redis.LockTTL())
	case a.DB != nil:
		deps.Locks = distlock.NewFactory(nil, a.DB, cfg.Redis.LockTTL())
	default:
		logger.Warn("app: no redis or database configured, runs are not locked")
	}

	switch cfg.RunStore.Type {
	case "postgres":
		if a.DB == nil {
			logger.Warn("app: run_store is postgres but no database is configured, run history disabled")
			break
		}
		deps.Store = postgres.NewRunRepo(a.DB)
	case "dynamodb":
		awsCfg, err := a.aws(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Store = storage.NewRunTableFromConfig(awsCfg, cfg.RunStore.Table)
	}

	if cfg.Archive.Bucket != "" {
		awsCfg, err := a.aws(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Archiver = storage.NewArchiveFromConfig(awsCfg, cfg.Archive.Bucket, cfg.Archive.Prefix)
	}
	if cfg.Notify.QueueURL != "" {
		awsCfg, err := a.aws(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Notifier = notify.NewPublisherFromConfig(awsCfg, cfg.Notify.QueueURL)
	}

	svcCfg := cfg.Pipeline.ServiceConfig()
	svcCfg.LockTTL = cfg.Redis.LockTTL()
	a.Pipeline = pipeline.NewService(deps, svcCfg)
	logger.Info("app: pipeline ready",
		"run_store", cfg.RunStore.Type,
		"archive", cfg.Archive.Bucket != "",
		"notify", cfg.Notify.QueueURL != "",
		"secrets", cfg.Secrets.Provider,
	)
	return a, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func pingWarehouse(ctx context.Context, p pinger) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping snowflake: %w", err)
	}
	logger.Info("app: connected to snowflake")
	return nil
}

func (a *App) connectDB(ctx context.Context, cfg config.DatabaseConfig) error {
	if cfg.URL == "" {
		return nil
	}
	dbURL := cfg.URL
	if !strings.Contains(dbURL, "connect_timeout") {
		sep := "?"
		if strings.Contains(dbURL, "?") {
			sep = "&"
		}
		dbURL += sep + "connect_timeout=5"
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.DB = db
	logger.Info("app: connected to database")
	return nil
}

func (a *App) connectRedis(ctx context.Context, cfg config.RedisConfig) error {
	if cfg.Addr == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Addr)
	if err != nil {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Redis = client
	logger.Info("app: connected to redis", "addr", opts.Addr)
	return nil
}

func (a *App) secretsProvider(ctx context.Context, cfg *config.Config) (secrets.Provider, error) {
	if cfg.Secrets.Provider == "aws" {
		awsCfg, err := a.aws(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return secrets.NewSecretsManagerFromConfig(awsCfg, cfg.Secrets.SecretID), nil
	}
	return secrets.Env{Path: cfg.Secrets.EnvFile}, nil
}

// aws loads the shared AWS config once.
func (a *App) aws(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	if a.awsLoaded {
		return *a.awsCfg, nil
	}
	awsCfg, err := awsutil.LoadConfig(ctx, awsutil.Options{
		Region:          cfg.Region,
		Profile:         cfg.GetProfile(),
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Endpoint:        cfg.Endpoint,
	})
	if err != nil {
		return aws.Config{}, err
	}
	a.awsCfg, a.awsLoaded = &awsCfg, true
	return awsCfg, nil
}

// Close releases every client. It is safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Snowflake != nil {
		errs = append(errs, a.Snowflake.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
