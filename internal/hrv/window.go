package hrv

import (
	"fmt"
	"time"
)

// Window 半开时间窗口 [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow 以 start 为起点、长度为 length 的窗口
func NewWindow(start time.Time, length time.Duration) Window {
	return Window{Start: start, End: start.Add(length)}
}

// String 便于日志输出
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Floor 将 t 向下对齐到 length 的整数倍（在 loc 时区内对齐）
func Floor(t time.Time, length time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)
	return midnight.Add(elapsed - elapsed%length)
}

// Ceil 将 t 向上对齐到 length 的整数倍
func Ceil(t time.Time, length time.Duration, loc *time.Location) time.Time {
	f := Floor(t, length, loc)
	if f.Equal(t) {
		return f
	}
	return f.Add(length)
}

// LatestCompleted 当前时刻之前最近一个完整窗口
func LatestCompleted(now time.Time, length time.Duration, loc *time.Location) Window {
	end := Floor(now, length, loc)
	return Window{Start: end.Add(-length), End: end}
}

// Split 将 [from, to) 按 length 切分为连续窗口（from/to 先对齐）
func Split(from, to time.Time, length time.Duration, loc *time.Location) []Window {
	start := Floor(from, length, loc)
	end := Ceil(to, length, loc)

	var windows []Window
	for cur := start; cur.Before(end); cur = cur.Add(length) {
		windows = append(windows, NewWindow(cur, length))
	}
	return windows
}
