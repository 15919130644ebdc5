package pipeline

import (
	"context"
	"fmt"

	"myhealth-hrv/internal/hrv"
	"myhealth-hrv/internal/models"
	"myhealth-hrv/internal/outlier"

	"go.uber.org/zap"
)

// CleanResult 清洗阶段结果
type CleanResult struct {
	Raw       int   // 窗口内原始采样数
	Inserted  int64 // 新写入的清洗行数
	Corrected int   // 新写入行中被修正的数量
}

// CleanStage 异常值过滤 + 幂等写入
type CleanStage struct {
	raw     RawStore
	cleaned CleanedStore
	opts    outlier.Options
	logger  *zap.Logger
}

// NewCleanStage 创建清洗阶段
func NewCleanStage(raw RawStore, cleaned CleanedStore, opts outlier.Options, logger *zap.Logger) *CleanStage {
	return &CleanStage{
		raw:     raw,
		cleaned: cleaned,
		opts:    opts,
		logger:  logger,
	}
}

// Run 处理一个受试者的一个窗口
// 统计量基于窗口内全部原始采样计算，只写入尚未清洗过的 (device_id, datetime)
func (s *CleanStage) Run(ctx context.Context, subject models.SubjectKey, w hrv.Window) (CleanResult, error) {
	raw, err := s.raw.ListWindow(ctx, subject, w.Start, w.End)
	if err != nil {
		return CleanResult{}, fmt.Errorf("failed to load raw samples: %w", err)
	}
	res := CleanResult{Raw: len(raw)}
	if len(raw) == 0 {
		return res, nil
	}

	existing, err := s.cleaned.ExistingKeys(ctx, subject, w.Start, w.End)
	if err != nil {
		return res, fmt.Errorf("failed to load cleaned keys: %w", err)
	}

	cleaned := outlier.FilterSubject(raw, s.opts)
	pending := make([]models.CleanedSample, 0, len(cleaned))
	for _, c := range cleaned {
		key := c.Key()
		if _, ok := existing[key]; ok {
			continue
		}
		// 设备重传的重复时间戳只保留第一条
		existing[key] = struct{}{}
		pending = append(pending, c)
	}
	if len(pending) == 0 {
		return res, nil
	}

	inserted, err := s.cleaned.InsertBatch(ctx, pending)
	if err != nil {
		return res, fmt.Errorf("failed to store cleaned samples: %w", err)
	}
	res.Inserted = inserted
	res.Corrected = outlier.CountCorrected(pending)

	if res.Corrected > 0 {
		s.logger.Debug("Corrected outlier samples",
			zap.String("subject", subject.String()),
			zap.Time("window_start", w.Start),
			zap.Int("corrected", res.Corrected),
		)
	}
	return res, nil
}

// IndexStage HRV 指标计算 + 写入
type IndexStage struct {
	cleaned CleanedStore
	index   IndexStore
	opts    hrv.Options
	logger  *zap.Logger
}

// NewIndexStage 创建指标阶段
func NewIndexStage(cleaned CleanedStore, index IndexStore, opts hrv.Options, logger *zap.Logger) *IndexStage {
	return &IndexStage{
		cleaned: cleaned,
		index:   index,
		opts:    opts,
		logger:  logger,
	}
}

// Run 计算并写入一行指标，数据不足时返回 StatusSkippedInsufficient
func (s *IndexStage) Run(ctx context.Context, subject models.SubjectKey, w hrv.Window) (Status, error) {
	samples, err := s.cleaned.ListWindow(ctx, subject, w.Start, w.End)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to load cleaned samples: %w", err)
	}

	indices, ok := hrv.Compute(samples, s.opts)
	if !ok {
		s.logger.Debug("Insufficient data for HRV indices",
			zap.String("subject", subject.String()),
			zap.Time("window_start", w.Start),
			zap.Int("data_count", indices.DataCount),
		)
		return StatusSkippedInsufficient, nil
	}
	if indices.SpectralErr != nil {
		s.logger.Warn("Spectral analysis failed, frequency-domain indices omitted",
			zap.String("subject", subject.String()),
			zap.Time("window_start", w.Start),
			zap.Error(indices.SpectralErr),
		)
	}

	inserted, err := s.index.Insert(ctx, indices.ToRow(subject, w))
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to store hrv row: %w", err)
	}
	if !inserted {
		// 并发写入者先完成
		return StatusSkippedExisting, nil
	}
	return StatusWritten, nil
}
