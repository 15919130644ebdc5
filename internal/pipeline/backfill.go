package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"myhealth-hrv/internal/hrv"
	"myhealth-hrv/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNoData 原始表为空，没有可重算的范围
var ErrNoData = errors.New("no raw samples to backfill")

// BackfillSummary 一次重算的汇总
type BackfillSummary struct {
	From      time.Time
	To        time.Time
	Deleted   int64
	Windows   int
	Written   int
	Sparse    int
	Failed    int
	Corrected int
	Err       error
}

// Backfill 历史区间重算：先删除区间内的指标行，再逐个 5 分钟窗口重放
type Backfill struct {
	runner *Runner
	index  IndexStore
	ranger DataRanger
	length time.Duration
	loc    *time.Location
	logger *zap.Logger
}

// NewBackfill 创建重算驱动
func NewBackfill(runner *Runner, index IndexStore, ranger DataRanger, length time.Duration, loc *time.Location, logger *zap.Logger) *Backfill {
	return &Backfill{
		runner: runner,
		index:  index,
		ranger: ranger,
		length: length,
		loc:    loc,
		logger: logger,
	}
}

// Run 重算 [from, to)，两端按窗口长度对齐
func (b *Backfill) Run(ctx context.Context, from, to time.Time) (BackfillSummary, error) {
	windows := hrv.Split(from, to, b.length, b.loc)
	summary := BackfillSummary{Windows: len(windows)}
	if len(windows) == 0 {
		return summary, nil
	}
	summary.From = windows[0].Start
	summary.To = windows[len(windows)-1].End

	deleted, err := b.index.DeleteRange(ctx, summary.From, summary.To)
	if err != nil {
		return summary, fmt.Errorf("failed to clear hrv rows before backfill: %w", err)
	}
	summary.Deleted = deleted

	b.logger.Info("Starting backfill",
		zap.Time("from", summary.From),
		zap.Time("to", summary.To),
		zap.Int("windows", len(windows)),
		zap.Int64("deleted", deleted),
	)

	for _, w := range windows {
		cycle, err := b.runner.run(ctx, w, ModeBackfill)
		if err != nil {
			return summary, fmt.Errorf("backfill stopped at %s: %w", w, err)
		}
		summary.Written += cycle.Written
		summary.Sparse += cycle.Sparse
		summary.Failed += cycle.Failed
		summary.Corrected += cycle.Corrected
		summary.Err = multierr.Append(summary.Err, cycle.Err)
	}

	b.logger.Info("Backfill completed",
		zap.Time("from", summary.From),
		zap.Time("to", summary.To),
		zap.Int("windows", summary.Windows),
		zap.Int("success_count", summary.Written),
		zap.Int("error_count", summary.Failed),
	)
	return summary, nil
}

// RunDay 重算参考时区的一个自然日（YYYY-MM-DD）
func (b *Backfill) RunDay(ctx context.Context, date string) (BackfillSummary, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, b.loc)
	if err != nil {
		return BackfillSummary{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return b.Run(ctx, day, day.AddDate(0, 0, 1))
}

// RunAll 重算原始数据覆盖的全部区间
func (b *Backfill) RunAll(ctx context.Context) (BackfillSummary, error) {
	first, last, ok, err := b.ranger.DataRange(ctx)
	if err != nil {
		return BackfillSummary{}, err
	}
	if !ok {
		return BackfillSummary{}, ErrNoData
	}
	// last 所在窗口也要包含
	return b.Run(ctx, first, last.Add(time.Nanosecond))
}
