package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"myhealth-hrv/common/config"
)

// Config HRV / 充足率计算服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig

	// HRV 批处理配置（异常值过滤 + HRV 指标计算）
	Pipeline struct {
		UTCOffsetHours  int           // 参考时区（固定偏移），默认 +9
		WindowMinutes   int           // 单个计算窗口长度（分钟），默认 5
		Interval        time.Duration // 调度周期，默认 5 分钟
		Workers         int           // 每个周期的并发 subject 数，默认 4
		SamplingRate    float64       // 频域分析假定采样率（Hz），默认 4
		OutlierSigma    float64       // 异常值阈值（标准差倍数），默认 3
		MinFrequencyRRs int           // 频域分析最少 RR 数，默认 10
	}

	// 充足率（覆盖率）计算配置
	Compliance struct {
		BucketMinutes int           // 默认桶大小（分钟），默认 1
		CacheEnabled  bool          // 是否启用 Redis 缓存
		CacheTTL      time.Duration // 缓存 TTL，默认 300 秒
	}

	// 周期结果事件（Redis Streams）
	Events struct {
		Enabled bool
		Stream  string // 如 "hrv:cycle:events"
		MaxLen  int64
	}

	Metrics struct {
		Addr string // Prometheus 监听地址，空字符串表示关闭
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值，环境变量覆盖
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "myhealth",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Pipeline.UTCOffsetHours = getEnvInt("HRV_UTC_OFFSET_HOURS", 9)
	cfg.Pipeline.WindowMinutes = getEnvInt("HRV_WINDOW_MINUTES", 5)
	cfg.Pipeline.Interval = time.Duration(getEnvInt("HRV_INTERVAL_SECONDS", 300)) * time.Second
	cfg.Pipeline.Workers = getEnvInt("HRV_WORKERS", 4)
	cfg.Pipeline.SamplingRate = getEnvFloat("HRV_SAMPLING_RATE", 4.0)
	cfg.Pipeline.OutlierSigma = getEnvFloat("HRV_OUTLIER_SIGMA", 3.0)
	cfg.Pipeline.MinFrequencyRRs = getEnvInt("HRV_MIN_FREQUENCY_RRS", 10)

	cfg.Compliance.BucketMinutes = getEnvInt("COMPLIANCE_BUCKET_MINUTES", 1)
	cfg.Compliance.CacheEnabled = getEnv("COMPLIANCE_CACHE_ENABLED", "true") == "true"
	cfg.Compliance.CacheTTL = time.Duration(getEnvInt("COMPLIANCE_CACHE_TTL_SECONDS", 300)) * time.Second

	cfg.Events.Enabled = getEnv("EVENTS_ENABLED", "true") == "true"
	cfg.Events.Stream = getEnv("EVENTS_STREAM", "hrv:cycle:events")
	cfg.Events.MaxLen = int64(getEnvInt("EVENTS_MAX_LEN", 10000))

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9102")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if c.Pipeline.UTCOffsetHours < -12 || c.Pipeline.UTCOffsetHours > 14 {
		return fmt.Errorf("invalid HRV_UTC_OFFSET_HOURS: %d", c.Pipeline.UTCOffsetHours)
	}
	if c.Pipeline.WindowMinutes <= 0 {
		return fmt.Errorf("invalid HRV_WINDOW_MINUTES: %d", c.Pipeline.WindowMinutes)
	}
	if c.Pipeline.Interval <= 0 {
		return fmt.Errorf("invalid HRV_INTERVAL_SECONDS: %s", c.Pipeline.Interval)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("invalid HRV_WORKERS: %d", c.Pipeline.Workers)
	}
	if c.Pipeline.SamplingRate <= 0 {
		return fmt.Errorf("invalid HRV_SAMPLING_RATE: %v", c.Pipeline.SamplingRate)
	}
	if c.Compliance.BucketMinutes <= 0 {
		return fmt.Errorf("invalid COMPLIANCE_BUCKET_MINUTES: %d", c.Compliance.BucketMinutes)
	}
	return nil
}

// Location 参考时区（固定偏移，不依赖系统 tzdata）
func (c *Config) Location() *time.Location {
	offset := c.Pipeline.UTCOffsetHours
	return time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*3600)
}

// Window 单个计算窗口长度
func (c *Config) Window() time.Duration {
	return time.Duration(c.Pipeline.WindowMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}
