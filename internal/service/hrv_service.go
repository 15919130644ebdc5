package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"myhealth-hrv/common/database"
	rediscommon "myhealth-hrv/common/redis"
	"myhealth-hrv/internal/compliance"
	"myhealth-hrv/internal/config"
	"myhealth-hrv/internal/events"
	"myhealth-hrv/internal/hrv"
	"myhealth-hrv/internal/metrics"
	"myhealth-hrv/internal/models"
	"myhealth-hrv/internal/outlier"
	"myhealth-hrv/internal/pipeline"
	"myhealth-hrv/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HRVService HRV 批处理 + 充足率计算服务
type HRVService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client

	rawRepo     *repository.RawSampleRepository
	cleanedRepo *repository.CleanedSampleRepository
	indexRepo   *repository.HRVIndexRepository

	runner     *pipeline.Runner
	backfill   *pipeline.Backfill
	scheduler  *Scheduler
	calculator *compliance.Calculator

	metrics       *metrics.Metrics
	registry      *prometheus.Registry
	metricsServer *http.Server
}

// NewHRVService 创建服务（连接数据库，按需连接 Redis）
func NewHRVService(cfg *config.Config, logger *zap.Logger) (*HRVService, error) {
	ctx := context.Background()

	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Redis 仅用于充足率缓存和周期事件
	var redisClient *redis.Client
	if cfg.Compliance.CacheEnabled || cfg.Events.Enabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			db.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	return newHRVService(cfg, logger, db, redisClient), nil
}

// newHRVService 组装各组件（不建立连接）
func newHRVService(cfg *config.Config, logger *zap.Logger, db *sql.DB, redisClient *redis.Client) *HRVService {
	loc := cfg.Location()

	rawRepo := repository.NewRawSampleRepository(db, logger)
	cleanedRepo := repository.NewCleanedSampleRepository(db, logger)
	indexRepo := repository.NewHRVIndexRepository(db, logger)

	hrvOpts := hrv.DefaultOptions()
	hrvOpts.SamplingRate = cfg.Pipeline.SamplingRate
	hrvOpts.MinFrequencyRRs = cfg.Pipeline.MinFrequencyRRs

	runner := pipeline.NewRunner(rawRepo, cleanedRepo, indexRepo, pipeline.Options{
		Workers: cfg.Pipeline.Workers,
		Outlier: outlier.Options{Sigma: cfg.Pipeline.OutlierSigma},
		HRV:     hrvOpts,
	}, logger)

	registry := metrics.NewRegistry()
	m := metrics.NewMetrics(registry)
	runner.AddObserver(m)
	if cfg.Events.Enabled && redisClient != nil {
		runner.AddObserver(events.NewPublisher(redisClient, cfg.Events.Stream, cfg.Events.MaxLen, logger))
	}

	var cache compliance.KVStore
	if cfg.Compliance.CacheEnabled && redisClient != nil {
		cache = compliance.NewRedisKVStore(redisClient)
	}
	calculator := compliance.NewCalculator(rawRepo, cache, compliance.Options{
		Location:             loc,
		DefaultBucketMinutes: cfg.Compliance.BucketMinutes,
		CacheTTL:             cfg.Compliance.CacheTTL,
	}, logger)

	return &HRVService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		rawRepo:     rawRepo,
		cleanedRepo: cleanedRepo,
		indexRepo:   indexRepo,
		runner:      runner,
		backfill:    pipeline.NewBackfill(runner, indexRepo, rawRepo, cfg.Window(), loc, logger),
		scheduler:   NewScheduler(runner, cfg.Pipeline.Interval, cfg.Window(), loc, logger),
		calculator:  calculator,
		metrics:     m,
		registry:    registry,
	}
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *HRVService) Start(ctx context.Context) error {
	s.logger.Info("Starting HRV service",
		zap.Int("workers", s.config.Pipeline.Workers),
		zap.Int("utc_offset_hours", s.config.Pipeline.UTCOffsetHours),
		zap.Bool("events_enabled", s.config.Events.Enabled),
		zap.Bool("compliance_cache_enabled", s.config.Compliance.CacheEnabled),
	)

	if s.config.Metrics.Addr != "" {
		s.startMetricsServer()
	}

	return s.scheduler.Run(ctx)
}

func (s *HRVService) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.metricsServer = &http.Server{
		Addr:              s.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", s.config.Metrics.Addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop 停止服务并释放连接
func (s *HRVService) Stop(ctx context.Context) error {
	var err error

	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, s.metricsServer.Shutdown(shutdownCtx))
	}
	if s.redisClient != nil {
		err = multierr.Append(err, rediscommon.Close(s.redisClient))
	}
	if s.db != nil {
		err = multierr.Append(err, database.Close(s.db))
	}

	snap := s.metrics.GetSnapshot()
	s.logger.Info("HRV service stopped",
		zap.Int64("cycles", snap.CyclesRun),
		zap.Int64("subjects_written", snap.SubjectsWritten),
		zap.Int64("subjects_failed", snap.SubjectsFailed),
		zap.Int64("outliers_corrected", snap.OutliersCorrected),
	)
	return err
}

// Migrate 创建表结构
func (s *HRVService) Migrate(ctx context.Context) error {
	return repository.EnsureSchema(ctx, s.db, s.logger)
}

// RunOnce 处理 at 之前最近一个完整窗口；windowStart 非零时处理以它为起点的窗口
func (s *HRVService) RunOnce(ctx context.Context, at time.Time, windowStart time.Time) (pipeline.CycleSummary, error) {
	w := hrv.LatestCompleted(at, s.config.Window(), s.config.Location())
	if !windowStart.IsZero() {
		w = hrv.NewWindow(hrv.Floor(windowStart, s.config.Window(), s.config.Location()), s.config.Window())
	}
	return s.runner.RunWindow(ctx, w)
}

// Indices 查询某受试者在 [from, to) 内的 HRV 指标行，窗口时间转换到参考时区
func (s *HRVService) Indices(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.HRVIndexRow, error) {
	if !subject.Valid() {
		return nil, fmt.Errorf("invalid subject %q: username and date of birth are required", subject)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("invalid range: %s is not after %s", to, from)
	}

	rows, err := s.indexRepo.ListRange(ctx, subject, from, to)
	if err != nil {
		return nil, err
	}
	loc := s.config.Location()
	for i := range rows {
		rows[i].WindowStart = rows[i].WindowStart.In(loc)
		rows[i].WindowEnd = rows[i].WindowEnd.In(loc)
	}
	return rows, nil
}

// Backfill 历史重算驱动
func (s *HRVService) Backfill() *pipeline.Backfill {
	return s.backfill
}

// Compliance 充足率计算器
func (s *HRVService) Compliance() *compliance.Calculator {
	return s.calculator
}

// RawSamples 原始采样仓库（import 命令写入）
func (s *HRVService) RawSamples() *repository.RawSampleRepository {
	return s.rawRepo
}

// Metrics 周期指标
func (s *HRVService) Metrics() *metrics.Metrics {
	return s.metrics
}

// Config 服务配置
func (s *HRVService) Config() *config.Config {
	return s.config
}
