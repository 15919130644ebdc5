package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"myhealth-hrv/internal/hrv"
	"myhealth-hrv/internal/models"
	"myhealth-hrv/internal/outlier"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Status 单个受试者在一个窗口内的处理结果
type Status string

const (
	StatusWritten             Status = "written"
	StatusSkippedExisting     Status = "skipped_existing"
	StatusSkippedInsufficient Status = "skipped_insufficient"
	StatusFailed              Status = "failed"
)

// 运行模式
const (
	ModeLive     = "live"
	ModeBackfill = "backfill"
	ModeManual   = "manual"
)

// SubjectOutcome 单个受试者的结果，跳过是正常结果而不是错误
type SubjectOutcome struct {
	Subject   models.SubjectKey
	Status    Status
	Cleaned   int64
	Corrected int
	Err       error
}

// CycleSummary 一个窗口（一个周期）的汇总
type CycleSummary struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Subjects    int           `json:"subjects"`
	Written     int           `json:"written"`
	Existing    int           `json:"skipped_existing"`
	Sparse      int           `json:"skipped_insufficient"`
	Failed      int           `json:"failed"`
	Cleaned     int64         `json:"cleaned"`
	Corrected   int           `json:"corrected"`
	Duration    time.Duration `json:"duration_ns"`
	Errors      []string      `json:"errors,omitempty"`

	Outcomes []SubjectOutcome `json:"-"`
	// Err 各受试者错误的合并（multierr），nil 表示全部成功
	Err error `json:"-"`
}

// Options 周期运行参数
type Options struct {
	Workers int
	Outlier outlier.Options
	HRV     hrv.Options
}

// Runner 对一个窗口依次执行清洗和指标计算，受试者之间并发
type Runner struct {
	raw       RawStore
	index     IndexStore
	clean     *CleanStage
	indexer   *IndexStage
	opts      Options
	observers []CycleObserver
	logger    *zap.Logger
}

// NewRunner 创建周期运行器
func NewRunner(raw RawStore, cleaned CleanedStore, index IndexStore, opts Options, logger *zap.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Runner{
		raw:     raw,
		index:   index,
		clean:   NewCleanStage(raw, cleaned, opts.Outlier, logger),
		indexer: NewIndexStage(cleaned, index, opts.HRV, logger),
		opts:    opts,
		logger:  logger,
	}
}

// AddObserver 注册周期完成回调
func (r *Runner) AddObserver(o CycleObserver) {
	r.observers = append(r.observers, o)
}

// RunWindow 处理一个窗口（手动触发）
func (r *Runner) RunWindow(ctx context.Context, w hrv.Window) (CycleSummary, error) {
	return r.run(ctx, w, ModeManual)
}

// RunLive 处理一个窗口（定时调度）
func (r *Runner) RunLive(ctx context.Context, w hrv.Window) (CycleSummary, error) {
	return r.run(ctx, w, ModeLive)
}

// run 返回的 error 只表示整个周期无法进行（读取受试者列表失败或被取消），
// 单个受试者的失败记录在 CycleSummary.Err 中
func (r *Runner) run(ctx context.Context, w hrv.Window, mode string) (CycleSummary, error) {
	started := time.Now()
	summary := CycleSummary{
		RunID:       uuid.New().String(),
		Mode:        mode,
		WindowStart: w.Start,
		WindowEnd:   w.End,
	}

	subjects, err := r.raw.ListSubjectsInWindow(ctx, w.Start, w.End)
	if err != nil {
		return summary, fmt.Errorf("failed to list subjects for window %s: %w", w, err)
	}
	summary.Subjects = len(subjects)

	existing, err := r.index.ExistingSubjects(ctx, w.Start, subjects)
	if err != nil {
		return summary, fmt.Errorf("failed to load existing hrv rows for window %s: %w", w, err)
	}

	outcomes := r.fanOut(ctx, w, subjects, existing)

	for _, o := range outcomes {
		summary.Cleaned += o.Cleaned
		summary.Corrected += o.Corrected
		switch o.Status {
		case StatusWritten:
			summary.Written++
		case StatusSkippedExisting:
			summary.Existing++
		case StatusSkippedInsufficient:
			summary.Sparse++
		case StatusFailed:
			summary.Failed++
			summary.Err = multierr.Append(summary.Err, fmt.Errorf("%s: %w", o.Subject, o.Err))
		}
	}
	for _, e := range multierr.Errors(summary.Err) {
		summary.Errors = append(summary.Errors, e.Error())
	}
	summary.Outcomes = outcomes
	summary.Duration = time.Since(started)

	logFields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.String("mode", mode),
		zap.Time("window_start", w.Start),
		zap.Int("subjects", summary.Subjects),
		zap.Int("success_count", summary.Written),
		zap.Int("skipped_existing", summary.Existing),
		zap.Int("skipped_insufficient", summary.Sparse),
		zap.Int("error_count", summary.Failed),
		zap.Int("corrected", summary.Corrected),
		zap.Duration("duration", summary.Duration),
	}
	if summary.Err != nil {
		r.logger.Error("HRV cycle completed with failures", append(logFields, zap.Error(summary.Err))...)
	} else {
		r.logger.Info("HRV cycle completed", logFields...)
	}

	for _, o := range r.observers {
		o.ObserveCycle(ctx, summary)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// fanOut 按受试者分发到 Workers 个 goroutine，结果顺序与 subjects 一致
// 取消后未开始的受试者不再处理，也不计入结果
func (r *Runner) fanOut(ctx context.Context, w hrv.Window, subjects []models.SubjectKey, existing map[string]struct{}) []SubjectOutcome {
	results := make([]*SubjectOutcome, len(subjects))
	jobs := make(chan int)

	workers := r.opts.Workers
	if workers > len(subjects) {
		workers = len(subjects)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				subject := subjects[idx]
				_, indexed := existing[subject.String()]
				out := r.processSubject(ctx, subject, w, indexed)
				results[idx] = &out
			}
		}()
	}

feed:
	for i := range subjects {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	outcomes := make([]SubjectOutcome, 0, len(subjects))
	for _, o := range results {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes
}

func (r *Runner) processSubject(ctx context.Context, subject models.SubjectKey, w hrv.Window, indexed bool) SubjectOutcome {
	out := SubjectOutcome{Subject: subject}

	cleanRes, err := r.clean.Run(ctx, subject, w)
	if err != nil {
		r.logger.Error("Failed to clean samples",
			zap.String("subject", subject.String()),
			zap.Time("window_start", w.Start),
			zap.Error(err),
		)
		out.Status = StatusFailed
		out.Err = err
		return out
	}
	out.Cleaned = cleanRes.Inserted
	out.Corrected = cleanRes.Corrected

	if indexed {
		out.Status = StatusSkippedExisting
		return out
	}

	status, err := r.indexer.Run(ctx, subject, w)
	if err != nil {
		r.logger.Error("Failed to compute HRV indices",
			zap.String("subject", subject.String()),
			zap.Time("window_start", w.Start),
			zap.Error(err),
		)
		out.Err = err
	}
	out.Status = status
	return out
}
