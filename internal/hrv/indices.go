package hrv

import (
	"sort"

	"myhealth-hrv/internal/models"
)

// 频带定义（Hz），下界包含、上界不包含
const (
	LFLow  = 0.04
	LFHigh = 0.15
	HFLow  = 0.15
	HFHigh = 0.4

	// 95% 参考范围系数
	referenceRangeZ = 1.96
)

// Options HRV 计算参数
type Options struct {
	SamplingRate    float64 // 频域分析假定采样率（Hz）
	MaxSegment      int     // Welch 分段最大长度
	MinSamples      int     // 写入一行所需的最少清洗采样数
	MinFrequencyRRs int     // 频域分析所需的最少 RR 数
}

// DefaultOptions 默认参数：4 Hz、256 点分段、至少 2 个采样、至少 10 个 RR
func DefaultOptions() Options {
	return Options{
		SamplingRate:    4.0,
		MaxSegment:      256,
		MinSamples:      2,
		MinFrequencyRRs: 10,
	}
}

// Indices 单个窗口的 HRV 指标，nil 表示无法计算
type Indices struct {
	MeanHR    *float64
	SDHR      *float64
	HRUpper   *float64
	HRLower   *float64
	MeanRR    *float64
	RMSSD     *float64
	SDNN      *float64
	HFPower   *float64
	LFPower   *float64
	LFHFRatio *float64
	DataCount int

	// SpectralErr 频域分析失败时非空，时域指标不受影响
	SpectralErr error
}

// Compute 由一个窗口的清洗数据计算 HRV 指标
// 采样数不足 MinSamples 时返回 false（正常跳过，不是错误）
func Compute(samples []models.CleanedSample, opts Options) (Indices, bool) {
	if len(samples) < opts.MinSamples || len(samples) < 2 {
		return Indices{DataCount: len(samples)}, false
	}

	ordered := make([]models.CleanedSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	hrValues := make([]float64, 0, len(ordered))
	rrValues := make([]float64, 0, len(ordered))
	for _, s := range ordered {
		if s.HeartRate != nil {
			hrValues = append(hrValues, float64(*s.HeartRate))
		}
		if s.RRInterval != nil {
			rrValues = append(rrValues, float64(*s.RRInterval))
		}
	}

	idx := Indices{DataCount: len(ordered)}

	// HR 统计
	meanHR, okMean := Mean(hrValues)
	sdHR, okSD := SampleStdDev(hrValues)
	if okMean {
		idx.MeanHR = roundPtr(meanHR, 1)
	}
	if okSD {
		idx.SDHR = roundPtr(sdHR, 1)
	}
	if okMean && okSD {
		idx.HRUpper = roundPtr(meanHR+referenceRangeZ*sdHR, 1)
		idx.HRLower = roundPtr(meanHR-referenceRangeZ*sdHR, 1)
	}

	// RR 统计
	if meanRR, ok := Mean(rrValues); ok {
		idx.MeanRR = roundPtr(meanRR, 1)
	}

	if len(rrValues) < 2 {
		return idx, true
	}

	// 时域
	if v, ok := RMSSD(rrValues); ok {
		idx.RMSSD = roundPtr(v, 1)
	}
	if v, ok := SDNN(rrValues); ok {
		idx.SDNN = roundPtr(v, 1)
	}

	// 频域（数据足够时）
	if len(rrValues) >= opts.MinFrequencyRRs {
		hf, lf, ratio, err := FrequencyDomain(rrValues, opts)
		if err != nil {
			idx.SpectralErr = err
		} else {
			idx.HFPower = roundPtr(hf, 1)
			idx.LFPower = roundPtr(lf, 1)
			if ratio != nil {
				idx.LFHFRatio = roundPtr(*ratio, 2)
			}
		}
	}

	return idx, true
}

// FrequencyDomain 计算 HF / LF 功率和 LF/HF 比值
// HF 功率为 0 时比值为 nil
func FrequencyDomain(rr []float64, opts Options) (hf, lf float64, ratio *float64, err error) {
	nperseg := len(rr)
	if opts.MaxSegment > 0 && nperseg > opts.MaxSegment {
		nperseg = opts.MaxSegment
	}

	spec, err := WelchPSD(rr, opts.SamplingRate, nperseg)
	if err != nil {
		return 0, 0, nil, err
	}

	hf = spec.BandPower(HFLow, HFHigh)
	lf = spec.BandPower(LFLow, LFHigh)
	if hf > 0 {
		r := lf / hf
		ratio = &r
	}
	return hf, lf, ratio, nil
}

// ToRow 组装 HRVIndexRow
func (i Indices) ToRow(subject models.SubjectKey, window Window) models.HRVIndexRow {
	return models.HRVIndexRow{
		SubjectKey:  subject,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		MeanHR:      i.MeanHR,
		SDHR:        i.SDHR,
		HRUpper:     i.HRUpper,
		HRLower:     i.HRLower,
		MeanRR:      i.MeanRR,
		RMSSD:       i.RMSSD,
		SDNN:        i.SDNN,
		HFPower:     i.HFPower,
		LFPower:     i.LFPower,
		LFHFRatio:   i.LFHFRatio,
		DataCount:   i.DataCount,
	}
}
