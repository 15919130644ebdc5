package report

import (
	"time"

	"myhealth-hrv/internal/models"
)

// HRVSheetName 工作表名称
const HRVSheetName = "HRV Index"

// HRVHeader 表头
var HRVHeader = []string{
	"Subject",
	"Window Start",
	"Window End",
	"Mean HR",
	"SD HR",
	"HR Upper",
	"HR Lower",
	"Mean RR",
	"RMSSD",
	"SDNN",
	"HF Power",
	"LF Power",
	"LF/HF",
	"Data Count",
}

// GenerateHRVIndexExcel 生成 HRV 指标报表，时间按 loc 显示，缺失值留空
func GenerateHRVIndexExcel(rows []models.HRVIndexRow, loc *time.Location) ([]byte, error) {
	widths := []float64{28, 18, 18, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 12}
	f, err := newSheetFile(HRVSheetName, HRVHeader, widths)
	if err != nil {
		return nil, err
	}

	for i, r := range rows {
		values := []interface{}{
			r.SubjectKey.String(),
			r.WindowStart.In(loc).Format("2006-01-02 15:04"),
			r.WindowEnd.In(loc).Format("2006-01-02 15:04"),
			cellValue(r.MeanHR),
			cellValue(r.SDHR),
			cellValue(r.HRUpper),
			cellValue(r.HRLower),
			cellValue(r.MeanRR),
			cellValue(r.RMSSD),
			cellValue(r.SDNN),
			cellValue(r.HFPower),
			cellValue(r.LFPower),
			cellValue(r.LFHFRatio),
			r.DataCount,
		}
		if err := writeRow(f, HRVSheetName, i+2, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	return finishSheetFile(f, HRVSheetName)
}

func cellValue(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
