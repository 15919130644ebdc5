package pipeline

import (
	"context"
	"time"

	"myhealth-hrv/internal/models"
)

// RawStore 原始采样读取接口（*repository.RawSampleRepository 实现）
type RawStore interface {
	ListSubjectsInWindow(ctx context.Context, from, to time.Time) ([]models.SubjectKey, error)
	ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.RawSample, error)
}

// CleanedStore 清洗数据读写接口（*repository.CleanedSampleRepository 实现）
type CleanedStore interface {
	ExistingKeys(ctx context.Context, subject models.SubjectKey, from, to time.Time) (map[models.SampleKey]struct{}, error)
	InsertBatch(ctx context.Context, samples []models.CleanedSample) (int64, error)
	ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.CleanedSample, error)
}

// IndexStore HRV 指标读写接口（*repository.HRVIndexRepository 实现）
type IndexStore interface {
	ExistingSubjects(ctx context.Context, windowStart time.Time, subjects []models.SubjectKey) (map[string]struct{}, error)
	Insert(ctx context.Context, row models.HRVIndexRow) (bool, error)
	DeleteRange(ctx context.Context, from, to time.Time) (int64, error)
}

// DataRanger 原始数据时间范围（backfill 全量重算时使用）
type DataRanger interface {
	DataRange(ctx context.Context) (first, last time.Time, ok bool, err error)
}

// CycleObserver 周期完成后的回调（指标、事件发布）
type CycleObserver interface {
	ObserveCycle(ctx context.Context, summary CycleSummary)
}
