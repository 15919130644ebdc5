package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"myhealth-hrv/internal/pipeline"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1700000000000-0", nil)
}

func TestPublisher_ObserveCycle(t *testing.T) {
	stream := &fakeStream{}
	p := NewPublisher(stream, "hrv:cycle:events", 1000, zap.NewNop())

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p.ObserveCycle(context.Background(), pipeline.CycleSummary{
		RunID:       "run-1",
		Mode:        pipeline.ModeLive,
		WindowStart: start,
		WindowEnd:   start.Add(5 * time.Minute),
		Subjects:    3,
		Written:     2,
		Failed:      1,
		Duration:    1500 * time.Millisecond,
		Errors:      []string{"bob_1985-07-12: boom"},
	})

	require.Len(t, stream.args, 1)
	args := stream.args[0]
	assert.Equal(t, "hrv:cycle:events", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]interface{})
	require.True(t, ok)
	var event CycleEvent
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &event))
	assert.Equal(t, EventTypeCycleCompleted, event.EventType)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, 2, event.Written)
	assert.Equal(t, 1, event.Failed)
	assert.Equal(t, int64(1500), event.DurationMS)
	assert.Equal(t, []string{"bob_1985-07-12: boom"}, event.Errors)
}

func TestPublisher_ErrorIsSwallowed(t *testing.T) {
	stream := &fakeStream{err: errors.New("READONLY")}
	p := NewPublisher(stream, "hrv:cycle:events", 0, zap.NewNop())

	assert.NotPanics(t, func() {
		p.ObserveCycle(context.Background(), pipeline.CycleSummary{RunID: "run-2"})
	})
	require.Len(t, stream.args, 1)
	assert.Zero(t, stream.args[0].MaxLen)
}

func TestPublisher_PublishesAfterCancel(t *testing.T) {
	stream := &fakeStream{}
	p := NewPublisher(stream, "s", 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.ObserveCycle(ctx, pipeline.CycleSummary{RunID: "run-3"})
	assert.Len(t, stream.args, 1)
}
