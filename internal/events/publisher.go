package events

import (
	"context"
	"time"

	rediscommon "myhealth-hrv/common/redis"
	"myhealth-hrv/internal/pipeline"

	"go.uber.org/zap"
)

// EventTypeCycleCompleted 周期完成事件类型
const EventTypeCycleCompleted = "hrv.cycle.completed"

// CycleEvent 发布到 Redis Streams 的周期事件
type CycleEvent struct {
	EventType   string    `json:"event_type"`
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Subjects    int       `json:"subjects"`
	Written     int       `json:"written"`
	Existing    int       `json:"skipped_existing"`
	Sparse      int       `json:"skipped_insufficient"`
	Failed      int       `json:"failed"`
	Corrected   int       `json:"corrected"`
	DurationMS  int64     `json:"duration_ms"`
	Errors      []string  `json:"errors,omitempty"`
}

// NewCycleEvent 由周期汇总生成事件
func NewCycleEvent(s pipeline.CycleSummary) CycleEvent {
	return CycleEvent{
		EventType:   EventTypeCycleCompleted,
		RunID:       s.RunID,
		Mode:        s.Mode,
		WindowStart: s.WindowStart,
		WindowEnd:   s.WindowEnd,
		Subjects:    s.Subjects,
		Written:     s.Written,
		Existing:    s.Existing,
		Sparse:      s.Sparse,
		Failed:      s.Failed,
		Corrected:   s.Corrected,
		DurationMS:  s.Duration.Milliseconds(),
		Errors:      s.Errors,
	}
}

// Publisher 周期事件发布器（实现 pipeline.CycleObserver）
type Publisher struct {
	client rediscommon.StreamAdder
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewPublisher 创建事件发布器
func NewPublisher(client rediscommon.StreamAdder, stream string, maxLen int64, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// ObserveCycle 发布失败只记录日志，不影响周期本身
func (p *Publisher) ObserveCycle(ctx context.Context, s pipeline.CycleSummary) {
	// 周期被取消时仍然发布已完成部分的结果
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	id, err := rediscommon.PublishJSONToStream(pubCtx, p.client, p.stream, p.maxLen, NewCycleEvent(s))
	if err != nil {
		p.logger.Warn("Failed to publish cycle event",
			zap.String("stream", p.stream),
			zap.String("run_id", s.RunID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("Published cycle event",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("run_id", s.RunID),
	)
}
