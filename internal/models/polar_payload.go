package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedSample 无法转换为 RawSample 的采样
var ErrMalformedSample = errors.New("malformed sample")

// PolarPayload Polar 推送数据的单条记录
//
// 示例:
//
//	{"hr": 75, "rr": 800, "timestamp": 1678886400000, "deviceId": "00:22:D0:8A:47:7A",
//	 "username": "john", "dateofbirth": "1993-01-30"}
type PolarPayload struct {
	HR          json.RawMessage `json:"hr"`
	RR          json.RawMessage `json:"rr"`
	Timestamp   json.RawMessage `json:"timestamp"` // 毫秒时间戳
	DeviceID    string          `json:"deviceId"`
	Username    string          `json:"username"`
	DateOfBirth string          `json:"dateofbirth"`
}

// ToRawSample 边界校验，把推送记录转换为 RawSample
func (p PolarPayload) ToRawSample() (RawSample, error) {
	var missing []string
	if isNull(p.HR) {
		missing = append(missing, "hr")
	}
	if isNull(p.Timestamp) {
		missing = append(missing, "timestamp")
	}
	if p.DeviceID == "" {
		missing = append(missing, "deviceId")
	}
	if p.Username == "" {
		missing = append(missing, "username")
	}
	if p.DateOfBirth == "" {
		missing = append(missing, "dateofbirth")
	}
	if len(missing) > 0 {
		return RawSample{}, fmt.Errorf("%w: missing required fields: %v", ErrMalformedSample, missing)
	}

	ts, err := parseNumber(p.Timestamp)
	if err != nil || ts <= 0 || ts > math.MaxInt64 {
		return RawSample{}, fmt.Errorf("%w: invalid timestamp: %s", ErrMalformedSample, string(p.Timestamp))
	}
	tsMillis := int64(ts)

	dob, err := time.Parse(DateLayout, p.DateOfBirth)
	if err != nil {
		return RawSample{}, fmt.Errorf("%w: invalid dateofbirth %q, expected YYYY-MM-DD", ErrMalformedSample, p.DateOfBirth)
	}

	hr, err := parseNumber(p.HR)
	if err != nil || hr < 0 || hr > 300 {
		return RawSample{}, fmt.Errorf("%w: invalid heart rate value: %s", ErrMalformedSample, string(p.HR))
	}

	sample := RawSample{
		SubjectKey: SubjectKey{Username: p.Username, DateOfBirth: dob.Format(DateLayout)},
		DeviceID:   p.DeviceID,
		Timestamp:  time.UnixMilli(tsMillis).UTC(),
		HeartRate:  int(hr),
	}

	if !isNull(p.RR) {
		rr, err := parseNumber(p.RR)
		if err != nil || rr < 0 || rr > math.MaxInt32 {
			return RawSample{}, fmt.Errorf("%w: invalid RR interval value: %s", ErrMalformedSample, string(p.RR))
		}
		sample.RRInterval = IntPtr(int(rr))
	}

	return sample, nil
}

// DecodePolarBatch 解析单个对象或对象数组
// 返回成功转换的采样以及每条失败记录的错误（失败记录不影响其余记录）
func DecodePolarBatch(body []byte) ([]RawSample, []error, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrMalformedSample)
	}

	var payloads []PolarPayload
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, nil, fmt.Errorf("%w: invalid JSON format: %v", ErrMalformedSample, err)
		}
		if len(payloads) == 0 {
			return nil, nil, fmt.Errorf("%w: empty array", ErrMalformedSample)
		}
	} else {
		var single PolarPayload
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, nil, fmt.Errorf("%w: invalid JSON format: %v", ErrMalformedSample, err)
		}
		payloads = []PolarPayload{single}
	}

	samples := make([]RawSample, 0, len(payloads))
	var itemErrs []error
	for idx, p := range payloads {
		s, err := p.ToRawSample()
		if err != nil {
			itemErrs = append(itemErrs, fmt.Errorf("item %d: %w", idx, err))
			continue
		}
		samples = append(samples, s)
	}
	return samples, itemErrs, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// parseNumber 只接受 JSON 数字，字符串等类型视为格式错误
func parseNumber(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
