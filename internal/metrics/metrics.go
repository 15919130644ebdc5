package metrics

import (
	"context"
	"sync"
	"time"

	"myhealth-hrv/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hrv"

// Metrics HRV 周期监控指标
// 内存计数用于日志和 run-once 输出，同时写入 Prometheus
type Metrics struct {
	mu sync.RWMutex

	// 周期统计
	CyclesRun    int64 // 完成的周期数
	CyclesFailed int64 // 含失败受试者的周期数

	// 受试者统计
	SubjectsWritten     int64
	SubjectsExisting    int64
	SubjectsSparse      int64
	SubjectsFailed      int64
	OutliersCorrected   int64
	CleanedSamples      int64
	TotalCycleTime      time.Duration
	LastCycleTime       time.Time
	LastCycleWindowFrom time.Time

	StartTime time.Time

	cycles    *prometheus.CounterVec
	subjects  *prometheus.CounterVec
	duration  prometheus.Histogram
	corrected prometheus.Counter
}

// Snapshot 指标快照（不含 Prometheus 采集器）
type Snapshot struct {
	CyclesRun           int64
	CyclesFailed        int64
	SubjectsWritten     int64
	SubjectsExisting    int64
	SubjectsSparse      int64
	SubjectsFailed      int64
	OutliersCorrected   int64
	CleanedSamples      int64
	TotalCycleTime      time.Duration
	LastCycleTime       time.Time
	LastCycleWindowFrom time.Time
	StartTime           time.Time
}

// NewRegistry 带 Go 运行时和进程采集器的 Prometheus registry
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics 创建指标并注册到 reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StartTime: time.Now(),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "The total number of completed HRV cycles",
		}, []string{"mode"}),
		subjects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subjects_total",
			Help:      "Per-subject outcomes of HRV cycles",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one HRV cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		corrected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outliers_corrected_total",
			Help:      "The total number of cleaned samples replaced by the group mean",
		}),
	}
}

// ObserveCycle 记录一个周期的结果（实现 pipeline.CycleObserver）
func (m *Metrics) ObserveCycle(ctx context.Context, s pipeline.CycleSummary) {
	m.mu.Lock()
	m.CyclesRun++
	if s.Failed > 0 {
		m.CyclesFailed++
	}
	m.SubjectsWritten += int64(s.Written)
	m.SubjectsExisting += int64(s.Existing)
	m.SubjectsSparse += int64(s.Sparse)
	m.SubjectsFailed += int64(s.Failed)
	m.OutliersCorrected += int64(s.Corrected)
	m.CleanedSamples += s.Cleaned
	m.TotalCycleTime += s.Duration
	m.LastCycleTime = time.Now()
	m.LastCycleWindowFrom = s.WindowStart
	m.mu.Unlock()

	m.cycles.WithLabelValues(s.Mode).Inc()
	m.subjects.WithLabelValues(string(pipeline.StatusWritten)).Add(float64(s.Written))
	m.subjects.WithLabelValues(string(pipeline.StatusSkippedExisting)).Add(float64(s.Existing))
	m.subjects.WithLabelValues(string(pipeline.StatusSkippedInsufficient)).Add(float64(s.Sparse))
	m.subjects.WithLabelValues(string(pipeline.StatusFailed)).Add(float64(s.Failed))
	m.corrected.Add(float64(s.Corrected))
	m.duration.Observe(s.Duration.Seconds())
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		CyclesRun:           m.CyclesRun,
		CyclesFailed:        m.CyclesFailed,
		SubjectsWritten:     m.SubjectsWritten,
		SubjectsExisting:    m.SubjectsExisting,
		SubjectsSparse:      m.SubjectsSparse,
		SubjectsFailed:      m.SubjectsFailed,
		OutliersCorrected:   m.OutliersCorrected,
		CleanedSamples:      m.CleanedSamples,
		TotalCycleTime:      m.TotalCycleTime,
		LastCycleTime:       m.LastCycleTime,
		LastCycleWindowFrom: m.LastCycleWindowFrom,
		StartTime:           m.StartTime,
	}
}
