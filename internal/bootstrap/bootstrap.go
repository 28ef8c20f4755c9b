// Package bootstrap 初始化服务端和命令行共用的依赖
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitfantasy/nimo-ipd/internal/config"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/service"
	"github.com/bitfantasy/nimo-ipd/internal/sse"
	"github.com/bitfantasy/nimo-ipd/internal/storage"
)

// App 已初始化的依赖
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	Queue    events.Queue
	Hub      *sse.Hub
	Repos    *repository.Repositories
	Services *service.Services
}

// New 按配置初始化全部依赖
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := InitDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	app := &App{Config: cfg, Logger: log, DB: db}

	switch cfg.Queue.Driver {
	case "redis":
		app.Redis = InitRedis(cfg.Redis)
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.Queue = events.NewRedisQueue(app.Redis, cfg.Queue.Key)
	default:
		app.Queue = events.NewMemoryQueue(cfg.Queue.Buffer)
	}

	var archiver storage.Archiver
	if cfg.MinIO.Enabled {
		a, err := storage.NewMinIOArchiver(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to init minio: %w", err)
		}
		if err := a.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
		archiver = a
	}

	scorer, err := engine.NewScorer(cfg.Risk.Scoring())
	if err != nil {
		return nil, err
	}

	app.Hub = sse.NewHub(log.Named("sse"))
	app.Repos = repository.NewRepositories(db)
	app.Services = service.NewServices(app.Repos, app.Queue, archiver, scorer, service.Options{
		OpTimeout:          cfg.Engine.OpTimeout,
		AppendRetries:      cfg.Engine.AppendRetries,
		ResolveConcurrency: cfg.Engine.ResolveConcurrency,
		Notifier:           app.Hub,
	}, log)
	return app, nil
}

// Close 释放连接
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// InitLogger 创建 zap 日志
func InitLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

// InitDatabase 连接数据库，driver 为 sqlite 时使用单连接
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

// Migrate 建表及索引
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(entity.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// InitRedis 创建 redis 客户端
func InitRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
