package service

import (
	"context"
	"time"

	"myhealth-hrv/internal/hrv"
	"myhealth-hrv/internal/pipeline"

	"go.uber.org/zap"
)

// settleDelay 窗口结束后稍等片刻再处理，给迟到的采样留出时间
const settleDelay = 10 * time.Second

// maxCatchUpWindows 单次 tick 最多补处理的窗口数（1 小时）
const maxCatchUpWindows = 12

// WindowRunner 处理一个窗口（*pipeline.Runner 实现）
type WindowRunner interface {
	RunLive(ctx context.Context, w hrv.Window) (pipeline.CycleSummary, error)
}

// Scheduler 每个周期处理最近一个完整的窗口
// 上一次成功之后被跳过的窗口（失败或停机）会在下次 tick 时补上，最多 maxCatchUpWindows 个
type Scheduler struct {
	runner   WindowRunner
	interval time.Duration
	length   time.Duration
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time

	// lastDone 该起点及之前的窗口都已成功处理
	lastDone time.Time
}

// NewScheduler 创建调度器
func NewScheduler(runner WindowRunner, interval, length time.Duration, loc *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		length:   length,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Run 阻塞运行直到 ctx 取消；启动时立即执行一次
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting HRV scheduler",
		zap.Duration("interval", s.interval),
		zap.Duration("window", s.length),
		zap.String("timezone", s.loc.String()),
	)

	s.tick(ctx)

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.untilNext())
		}
	}
}

// untilNext 到下一个对齐的 tick 的等待时间
func (s *Scheduler) untilNext() time.Duration {
	now := s.now()
	next := hrv.Floor(now, s.interval, s.loc).Add(s.interval).Add(settleDelay)
	if d := next.Sub(now); d > 0 {
		return d
	}
	return s.interval
}

// pending 需要处理的窗口，按时间顺序
func (s *Scheduler) pending() []hrv.Window {
	latest := hrv.LatestCompleted(s.now(), s.length, s.loc)
	if s.lastDone.IsZero() {
		return []hrv.Window{latest}
	}
	if !latest.Start.After(s.lastDone) {
		return nil
	}

	from := s.lastDone.Add(s.length)
	if earliest := latest.Start.Add(-time.Duration(maxCatchUpWindows-1) * s.length); from.Before(earliest) {
		s.logger.Warn("Scheduler fell behind, older windows left for backfill",
			zap.Time("skipped_from", from),
			zap.Time("skipped_to", earliest),
		)
		from = earliest
	}
	return hrv.Split(from, latest.End, s.length, s.loc)
}

// tick 处理所有待处理窗口
// 周期失败或有受试者失败时，lastDone 停在该窗口之前，下次 tick 从它重试；
// 已写入的受试者在重试时由已有行检查跳过。之后的窗口照常处理。
func (s *Scheduler) tick(ctx context.Context) {
	held := false
	for _, w := range s.pending() {
		if ctx.Err() != nil {
			return
		}
		summary, err := s.runner.RunLive(ctx, w)
		if (err != nil || summary.Failed > 0) && !held {
			s.lastDone = w.Start.Add(-s.length)
			held = true
		}
		if err != nil {
			s.logger.Error("HRV cycle failed",
				zap.Time("window_start", w.Start),
				zap.Error(err),
			)
			return
		}
		if summary.Failed > 0 {
			s.logger.Warn("HRV cycle had failed subjects, window will be retried",
				zap.Time("window_start", w.Start),
				zap.Int("error_count", summary.Failed),
			)
			continue
		}
		if !held {
			s.lastDone = w.Start
		}
	}
}
