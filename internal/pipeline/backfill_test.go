package pipeline

import (
	"context"
	"testing"
	"time"

	"myhealth-hrv/internal/hrv"
	"myhealth-hrv/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBackfill(f *fixture) *Backfill {
	return NewBackfill(f.runner, f.index, f.raw, 5*time.Minute, jst, zap.NewNop())
}

func TestBackfill_RecomputesRange(t *testing.T) {
	f := newFixture(2)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, jst)
	f.raw.add(series(alice, day.Add(9*time.Hour), steadyHR(10), rrSeries)...)
	f.raw.add(series(alice, day.Add(9*time.Hour+5*time.Minute), steadyHR(10), rrSeries)...)

	// 旧的计算结果，backfill 应先删除再重算
	stale := models.HRVIndexRow{
		SubjectKey:  alice,
		WindowStart: day.Add(9 * time.Hour),
		WindowEnd:   day.Add(9*time.Hour + 5*time.Minute),
		RMSSD:       models.Float64Ptr(999),
		DataCount:   1,
	}
	_, err := f.index.Insert(context.Background(), stale)
	require.NoError(t, err)

	summary, err := newBackfill(f).Run(context.Background(), day.Add(9*time.Hour+time.Minute), day.Add(9*time.Hour+8*time.Minute))
	require.NoError(t, err)
	assert.True(t, summary.From.Equal(day.Add(9*time.Hour)))
	assert.True(t, summary.To.Equal(day.Add(9*time.Hour+10*time.Minute)))
	assert.Equal(t, int64(1), summary.Deleted)
	assert.Equal(t, 2, summary.Windows)
	assert.Equal(t, 2, summary.Written)
	assert.NoError(t, summary.Err)

	row, ok := f.index.get(alice, day.Add(9*time.Hour))
	require.True(t, ok)
	assert.Equal(t, 13.8, *row.RMSSD)
	assert.Equal(t, 10, row.DataCount)
}

func TestBackfill_LeavesRowsOutsideRange(t *testing.T) {
	f := newFixture(1)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, jst)
	outside := models.HRVIndexRow{
		SubjectKey:  bob,
		WindowStart: day.Add(-5 * time.Minute),
		WindowEnd:   day,
		DataCount:   3,
	}
	_, err := f.index.Insert(context.Background(), outside)
	require.NoError(t, err)

	summary, err := newBackfill(f).RunDay(context.Background(), "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, 288, summary.Windows)
	assert.Zero(t, summary.Deleted)

	_, ok := f.index.get(bob, day.Add(-5*time.Minute))
	assert.True(t, ok)
}

func TestBackfill_RunDayInvalidDate(t *testing.T) {
	f := newFixture(1)
	_, err := newBackfill(f).RunDay(context.Background(), "03/01/2025")
	assert.Error(t, err)
}

func TestBackfill_EmptyRange(t *testing.T) {
	f := newFixture(1)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, jst)
	summary, err := newBackfill(f).Run(context.Background(), at, at)
	require.NoError(t, err)
	assert.Zero(t, summary.Windows)
}

func TestBackfill_RunAll(t *testing.T) {
	f := newFixture(2)
	_, err := newBackfill(f).RunAll(context.Background())
	assert.ErrorIs(t, err, ErrNoData)

	start := time.Date(2025, 3, 1, 9, 2, 0, 0, jst)
	f.raw.add(series(alice, start, steadyHR(10), rrSeries)...)

	summary, err := newBackfill(f).RunAll(context.Background())
	require.NoError(t, err)
	// 09:02:00 - 09:03:30 落在一个窗口内
	assert.Equal(t, 1, summary.Windows)
	assert.Equal(t, 1, summary.Written)
	_, ok := f.index.get(alice, hrv.Floor(start, 5*time.Minute, jst))
	assert.True(t, ok)
}

func TestBackfill_CancelledStops(t *testing.T) {
	f := newFixture(1)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, jst)
	f.raw.add(series(alice, day.Add(9*time.Hour), steadyHR(10), rrSeries)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBackfill(f).RunDay(ctx, "2025-03-01")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.index.count())
}
