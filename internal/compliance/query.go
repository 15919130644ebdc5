package compliance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"myhealth-hrv/internal/models"
)

var (
	// ErrInvalidClock 时刻格式错误（应为 HH:MM，允许 24:00 作为结束时刻）
	ErrInvalidClock = errors.New("invalid clock time")
	// ErrInvalidRange 日期或时刻范围错误
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidSubject 受试者标识不完整
	ErrInvalidSubject = errors.New("invalid subject")
)

// Query 充足率查询条件
type Query struct {
	StartDate     string // YYYY-MM-DD，包含
	EndDate       string // YYYY-MM-DD，包含
	StartTime     string // HH:MM，包含
	EndTime       string // HH:MM，不包含；"24:00" 表示次日零点
	BucketMinutes int    // 桶大小（分钟），0 表示使用默认值
}

// clock 一天中的时刻（分钟）
type clock struct {
	hour   int
	minute int
}

func (c clock) minutes() int {
	return c.hour*60 + c.minute
}

func parseClock(s string, allowMidnightEnd bool) (clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if m < 0 || m > 59 || h < 0 || h > 24 {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if h == 24 && (m != 0 || !allowMidnightEnd) {
		return clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return clock{hour: h, minute: m}, nil
}

// plan 解析后的查询
type plan struct {
	days          []time.Time // 每天的本地零点
	start         clock
	end           clock
	bucketMinutes int
	dailyBuckets  int
}

func (p plan) denominator() int {
	return len(p.days) * p.dailyBuckets
}

// window 某天的本地时间窗口 [start, end)
// end 为 24:00 时 time.Date 会自动进位到次日零点
func (p plan) window(day time.Time) (time.Time, time.Time) {
	loc := day.Location()
	from := time.Date(day.Year(), day.Month(), day.Day(), p.start.hour, p.start.minute, 0, 0, loc)
	to := time.Date(day.Year(), day.Month(), day.Day(), p.end.hour, p.end.minute, 0, 0, loc)
	return from, to
}

// bucketIndex 时间戳在当天窗口内的桶序号
func (p plan) bucketIndex(day, ts time.Time) (int, bool) {
	from, to := p.window(day)
	if ts.Before(from) || !ts.Before(to) {
		return 0, false
	}
	elapsed := int(ts.Sub(from) / time.Minute)
	idx := elapsed / p.bucketMinutes
	// 末尾不足一个桶的部分不计入分母，也不计入分子
	if idx >= p.dailyBuckets {
		return 0, false
	}
	return idx, true
}

func buildPlan(q Query, loc *time.Location, defaultBucket int) (plan, error) {
	startDate, err := time.ParseInLocation(models.DateLayout, q.StartDate, loc)
	if err != nil {
		return plan{}, fmt.Errorf("%w: start date %q", ErrInvalidRange, q.StartDate)
	}
	endDate, err := time.ParseInLocation(models.DateLayout, q.EndDate, loc)
	if err != nil {
		return plan{}, fmt.Errorf("%w: end date %q", ErrInvalidRange, q.EndDate)
	}
	if endDate.Before(startDate) {
		return plan{}, fmt.Errorf("%w: end date %s before start date %s", ErrInvalidRange, q.EndDate, q.StartDate)
	}

	start, err := parseClock(q.StartTime, false)
	if err != nil {
		return plan{}, err
	}
	end, err := parseClock(q.EndTime, true)
	if err != nil {
		return plan{}, err
	}
	if end.minutes() < start.minutes() {
		return plan{}, fmt.Errorf("%w: end time %s before start time %s", ErrInvalidRange, q.EndTime, q.StartTime)
	}

	bucket := q.BucketMinutes
	if bucket == 0 {
		bucket = defaultBucket
	}
	if bucket <= 0 {
		return plan{}, fmt.Errorf("%w: bucket size %d", ErrInvalidRange, bucket)
	}

	p := plan{
		start:         start,
		end:           end,
		bucketMinutes: bucket,
		dailyBuckets:  (end.minutes() - start.minutes()) / bucket,
	}
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		p.days = append(p.days, d)
	}
	return p, nil
}
