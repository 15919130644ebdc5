package hrv

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean 算术平均，空切片返回 false
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return stat.Mean(values, nil), true
}

// SampleStdDev 样本标准差（ddof=1），少于 2 个值返回 false
func SampleStdDev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	return stat.StdDev(values, nil), true
}

// RMSSD 相邻 RR 差值的均方根
func RMSSD(rr []float64) (float64, bool) {
	if len(rr) < 2 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(rr)-1)), true
}

// SDNN NN 间期的样本标准差
func SDNN(rr []float64) (float64, bool) {
	return SampleStdDev(rr)
}

// Round 四舍五入到指定小数位
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundPtr(v float64, places int) *float64 {
	r := Round(v, places)
	return &r
}
