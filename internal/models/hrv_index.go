package models

import "time"

// HRVIndexRow 5 分钟窗口的 HRV 指标（polar_heart_rate_index_5）
// (subject, window_start) 唯一，创建后不再修改
type HRVIndexRow struct {
	SubjectKey
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// HR 统计
	MeanHR  *float64 `json:"mean_hr,omitempty"`
	SDHR    *float64 `json:"sd_hr,omitempty"`
	HRUpper *float64 `json:"hr_upper,omitempty"` // mean + 1.96*SD（95% 参考范围）
	HRLower *float64 `json:"hr_lower,omitempty"` // mean - 1.96*SD

	// RR / HRV 指标
	MeanRR    *float64 `json:"mean_rr,omitempty"`
	RMSSD     *float64 `json:"rmssd,omitempty"`
	SDNN      *float64 `json:"sdnn,omitempty"`
	HFPower   *float64 `json:"hf_power,omitempty"`
	LFPower   *float64 `json:"lf_power,omitempty"`
	LFHFRatio *float64 `json:"lf_hf_ratio,omitempty"`

	DataCount int `json:"data_count"`
}

// ComplianceResult 充足率计算结果（不落库）
type ComplianceResult struct {
	Rate        float64           `json:"rate"` // 0-100，保留两位小数
	Numerator   int               `json:"numerator"`
	Denominator int               `json:"denominator"`
	Daily       []DailyCompliance `json:"daily,omitempty"`
}

// DailyCompliance 单日充足率
type DailyCompliance struct {
	Date        string  `json:"date"`
	Rate        float64 `json:"rate"`
	Numerator   int     `json:"numerator"`
	Denominator int     `json:"denominator"`
}
