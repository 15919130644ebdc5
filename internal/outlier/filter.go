package outlier

import (
	"math"

	"myhealth-hrv/internal/models"
)

// Options 异常值过滤参数
type Options struct {
	Sigma float64 // 偏离阈值（标准差倍数）
}

// DefaultOptions 默认 3 倍标准差
func DefaultOptions() Options {
	return Options{Sigma: 3}
}

// Filter 对一个时间窗口内的原始采样做异常值修正，每条原始采样产出一条清洗采样
//
// 每个 subject 独立处理；HR 与 RR 分别统计，只有正值参与统计，
// 0 或负值视为缺失并输出为 nil。某个值与同组其余正值的均值相差超过
// Sigma 倍（其余正值的样本标准差）时判定为异常，替换为同组全部正值
// 均值的四舍五入（银行家舍入）结果，并保留原值。
// 同组正值少于 3 个时无法判定，不做修正。
// 其余正值的标准差按不低于 1 计，[60,60,60,500] 与 [60,60,61,500] 中的 500 同样被修正。
// subject 标识不完整的采样被丢弃。
func Filter(samples []models.RawSample, opts Options) []models.CleanedSample {
	if len(samples) == 0 {
		return nil
	}

	var order []models.SubjectKey
	groups := make(map[models.SubjectKey][]models.RawSample)
	for _, s := range samples {
		if !s.SubjectKey.Valid() {
			continue
		}
		if _, ok := groups[s.SubjectKey]; !ok {
			order = append(order, s.SubjectKey)
		}
		groups[s.SubjectKey] = append(groups[s.SubjectKey], s)
	}

	out := make([]models.CleanedSample, 0, len(samples))
	for _, key := range order {
		out = append(out, FilterSubject(groups[key], opts)...)
	}
	return out
}

// FilterSubject 处理单个 subject 的采样（调用方保证同一 subject）
func FilterSubject(samples []models.RawSample, opts Options) []models.CleanedSample {
	hrValues := make([]float64, 0, len(samples))
	rrValues := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.HeartRate > 0 {
			hrValues = append(hrValues, float64(s.HeartRate))
		}
		if s.RRInterval != nil && *s.RRInterval > 0 {
			rrValues = append(rrValues, float64(*s.RRInterval))
		}
	}

	hrStats := newGroupStats(hrValues)
	rrStats := newGroupStats(rrValues)

	out := make([]models.CleanedSample, 0, len(samples))
	for _, s := range samples {
		c := models.CleanedSample{
			SubjectKey: s.SubjectKey,
			DeviceID:   s.DeviceID,
			Timestamp:  s.Timestamp,
		}

		if s.HeartRate > 0 {
			c.HeartRate = models.IntPtr(s.HeartRate)
			if hrStats.isOutlier(float64(s.HeartRate), opts.Sigma) {
				c.IsCorrected = true
				c.OriginalHR = models.IntPtr(s.HeartRate)
				c.HeartRate = models.IntPtr(hrStats.replacement())
			}
		}

		if s.RRInterval != nil && *s.RRInterval > 0 {
			rr := *s.RRInterval
			c.RRInterval = models.IntPtr(rr)
			if rrStats.isOutlier(float64(rr), opts.Sigma) {
				c.IsCorrected = true
				c.OriginalRR = models.IntPtr(rr)
				c.RRInterval = models.IntPtr(rrStats.replacement())
			}
		}

		out = append(out, c)
	}
	return out
}

// CountCorrected 统计被修正的采样数
func CountCorrected(samples []models.CleanedSample) int {
	n := 0
	for _, s := range samples {
		if s.IsCorrected {
			n++
		}
	}
	return n
}

// groupStats 一组正值的统计量
// 留一法：对第 j 个值，其余 n-1 个值的均值与方差可由整体中心化平方和 O(1) 得到
type groupStats struct {
	n    int
	mean float64
	ss   float64 // Σ(v - mean)²
}

func newGroupStats(values []float64) groupStats {
	g := groupStats{n: len(values)}
	if g.n == 0 {
		return g
	}
	for _, v := range values {
		g.mean += v
	}
	g.mean /= float64(g.n)
	for _, v := range values {
		d := v - g.mean
		g.ss += d * d
	}
	return g
}

// minSpread 判定用标准差的下限（HR、RR 均为整数，取一个单位）
// 其余值完全相同时标准差为 0，下限保证与它们相差超过 Sigma 个单位的值仍被判定为异常
const minSpread = 1.0

func (g groupStats) isOutlier(v, sigma float64) bool {
	if g.n < 3 {
		return false
	}
	n := float64(g.n)
	c := v - g.mean

	// 其余值的样本方差（ddof=1），标准差不低于 minSpread
	othersSS := math.Max(g.ss-c*c*n/(n-1), 0)
	othersStd := math.Max(math.Sqrt(othersSS/(n-2)), minSpread)

	// v 与其余值均值的偏差
	deviation := math.Abs(c) * n / (n - 1)
	return deviation > sigma*othersStd
}

func (g groupStats) replacement() int {
	return int(math.RoundToEven(g.mean))
}
