package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"myhealth-hrv/internal/models"

	"go.uber.org/zap"
)

// TimestampSource 按受试者和时间范围查询去重后的采样时间戳 [from, to)
type TimestampSource interface {
	DistinctTimestamps(ctx context.Context, subject Subject, from, to time.Time) ([]time.Time, error)
}

// Options 充足率计算参数（显式传入，不使用全局时区）
type Options struct {
	Location             *time.Location // 参考时区（UTC+9）
	DefaultBucketMinutes int
	CacheTTL             time.Duration
}

// Calculator 充足率（覆盖率）计算器
type Calculator struct {
	source TimestampSource
	cache  KVStore // 可为 nil
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewCalculator 创建充足率计算器，cache 为 nil 时不缓存。
// 只缓存最后一天时段已经结束的查询，包含今天未结束时段的结果每次重新计算。
func NewCalculator(source TimestampSource, cache KVStore, opts Options, logger *zap.Logger) *Calculator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultBucketMinutes <= 0 {
		opts.DefaultBucketMinutes = 1
	}
	return &Calculator{
		source: source,
		cache:  cache,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Calculate 计算指定期间、时段内有数据的桶所占比例
//
// 分母 = 天数 × floor(每日分钟数 / 桶大小)，分母为 0 时充足率为 0。
// 每天按本地时间 [start_time, end_time) 取数，同一桶内多个时间戳只计一次。
func (c *Calculator) Calculate(ctx context.Context, subject Subject, q Query) (models.ComplianceResult, error) {
	res, err := c.CalculateDaily(ctx, subject, q)
	if err != nil {
		return models.ComplianceResult{}, err
	}
	res.Daily = nil
	return res, nil
}

// CalculateDaily 与 Calculate 相同，另外返回每日明细
func (c *Calculator) CalculateDaily(ctx context.Context, subject Subject, q Query) (models.ComplianceResult, error) {
	if err := subject.Validate(); err != nil {
		return models.ComplianceResult{}, err
	}
	p, err := buildPlan(q, c.opts.Location, c.opts.DefaultBucketMinutes)
	if err != nil {
		return models.ComplianceResult{}, err
	}

	denominator := p.denominator()
	if denominator == 0 {
		return models.ComplianceResult{Rate: 0, Numerator: 0, Denominator: 0}, nil
	}

	// 最后一天的时段尚未结束时数据还会增加，不读也不写缓存
	key := ""
	if _, lastEnd := p.window(p.days[len(p.days)-1]); !lastEnd.After(c.now()) {
		key = c.cacheKey(subject, q, p)
	}
	if cached, ok := c.getCached(ctx, key); ok {
		return cached, nil
	}

	res := models.ComplianceResult{
		Denominator: denominator,
		Daily:       make([]models.DailyCompliance, 0, len(p.days)),
	}
	for _, day := range p.days {
		from, to := p.window(day)
		timestamps, err := c.source.DistinctTimestamps(ctx, subject, from, to)
		if err != nil {
			return models.ComplianceResult{}, fmt.Errorf("failed to query timestamps for %s on %s: %w",
				subject, day.Format(models.DateLayout), err)
		}

		buckets := make(map[int]struct{})
		for _, ts := range timestamps {
			if idx, ok := p.bucketIndex(day, ts.In(c.opts.Location)); ok {
				buckets[idx] = struct{}{}
			}
		}

		res.Numerator += len(buckets)
		res.Daily = append(res.Daily, models.DailyCompliance{
			Date:        day.Format(models.DateLayout),
			Numerator:   len(buckets),
			Denominator: p.dailyBuckets,
			Rate:        rate(len(buckets), p.dailyBuckets),
		})
	}
	res.Rate = rate(res.Numerator, res.Denominator)

	c.logger.Debug("Calculated compliance rate",
		zap.String("subject", subject.String()),
		zap.String("start_date", q.StartDate),
		zap.String("end_date", q.EndDate),
		zap.Int("numerator", res.Numerator),
		zap.Int("denominator", res.Denominator),
		zap.Float64("rate", res.Rate),
	)

	c.setCached(ctx, key, res)
	return res, nil
}

// DashboardStats 管理端概览：今天、昨天、最近 7 天和每日明细（最近的日期在前）
type DashboardStats struct {
	Subject   string                   `json:"subject"`
	Today     float64                  `json:"compliance_rate_today"`
	Yesterday float64                  `json:"compliance_rate_yesterday"`
	Last7Days float64                  `json:"compliance_rate_7days"`
	Daily     []models.DailyCompliance `json:"daily_compliance"`
}

// Dashboard 以 today（本地日期）为基准计算概览
func (c *Calculator) Dashboard(ctx context.Context, subject Subject, today time.Time, startTime, endTime string) (DashboardStats, error) {
	local := today.In(c.opts.Location)
	sixDaysAgo := local.AddDate(0, 0, -6)

	res, err := c.CalculateDaily(ctx, subject, Query{
		StartDate: sixDaysAgo.Format(models.DateLayout),
		EndDate:   local.Format(models.DateLayout),
		StartTime: startTime,
		EndTime:   endTime,
	})
	if err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{
		Subject:   subject.String(),
		Last7Days: res.Rate,
	}
	n := len(res.Daily)
	if n > 0 {
		stats.Today = res.Daily[n-1].Rate
	}
	if n > 1 {
		stats.Yesterday = res.Daily[n-2].Rate
	}
	for i := n - 1; i >= 0; i-- {
		stats.Daily = append(stats.Daily, res.Daily[i])
	}
	return stats, nil
}

func rate(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*100*100) / 100
}

func (c *Calculator) cacheKey(subject Subject, q Query, p plan) string {
	return fmt.Sprintf("compliance:%s:%s:%s:%02d%02d-%02d%02d:%d",
		subject, q.StartDate, q.EndDate,
		p.start.hour, p.start.minute, p.end.hour, p.end.minute, p.bucketMinutes)
}

func (c *Calculator) getCached(ctx context.Context, key string) (models.ComplianceResult, bool) {
	if c.cache == nil || key == "" {
		return models.ComplianceResult{}, false
	}
	val, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("Failed to read compliance cache", zap.String("key", key), zap.Error(err))
		}
		return models.ComplianceResult{}, false
	}
	var res models.ComplianceResult
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		c.logger.Warn("Discarding malformed compliance cache entry", zap.String("key", key), zap.Error(err))
		return models.ComplianceResult{}, false
	}
	return res, true
}

func (c *Calculator) setCached(ctx context.Context, key string, res models.ComplianceResult) {
	if c.cache == nil || key == "" || c.opts.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("Failed to marshal compliance result", zap.Error(err))
		return
	}
	if err := c.cache.Set(ctx, key, string(data), c.opts.CacheTTL); err != nil {
		c.logger.Warn("Failed to write compliance cache", zap.String("key", key), zap.Error(err))
	}
}
