package models

import (
	"fmt"
	"time"
)

// DateLayout 生年月日等日历日期的格式
const DateLayout = "2006-01-02"

// SubjectKey 受试者标识（用户名 + 生年月日）
// 历史上用户名会被复用，因此必须与生年月日组合才能唯一确定一个人
type SubjectKey struct {
	Username    string `json:"username"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD
}

// String 复合标识，如 "alice_1990-01-30"
func (k SubjectKey) String() string {
	return fmt.Sprintf("%s_%s", k.Username, k.DateOfBirth)
}

// Valid 两个字段都非空才是有效标识
func (k SubjectKey) Valid() bool {
	return k.Username != "" && k.DateOfBirth != ""
}

// RawSample 原始心率 / RR 采样（polar_heart_rate）
// 同一时间戳可能出现多条（设备重传）
type RawSample struct {
	SubjectKey
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	HeartRate  int       `json:"hr"`           // bpm，0 或负数视为缺失
	RRInterval *int      `json:"rr,omitempty"` // ms，可选
}

// CleanedSample 异常值处理后的 NN 采样（polar_heart_rate_nn）
type CleanedSample struct {
	SubjectKey
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	HeartRate   *int      `json:"hr,omitempty"`
	RRInterval  *int      `json:"rr,omitempty"`
	IsCorrected bool      `json:"is_corrected"`
	OriginalHR  *int      `json:"original_hr,omitempty"` // 仅被修正时保存原值
	OriginalRR  *int      `json:"original_rr,omitempty"`
}

// SampleKey 清洗数据的幂等键
type SampleKey struct {
	DeviceID  string
	Timestamp int64 // UnixNano，避免 time.Time 的 Location 影响 map 比较
}

// Key 返回幂等键
func (s CleanedSample) Key() SampleKey {
	return SampleKey{DeviceID: s.DeviceID, Timestamp: s.Timestamp.UnixNano()}
}

// Key 返回幂等键
func (s RawSample) Key() SampleKey {
	return SampleKey{DeviceID: s.DeviceID, Timestamp: s.Timestamp.UnixNano()}
}

// IntPtr 返回 int 指针
func IntPtr(v int) *int {
	return &v
}

// Float64Ptr 返回 float64 指针
func Float64Ptr(v float64) *float64 {
	return &v
}
