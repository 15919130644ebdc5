package report

import (
	"fmt"

	"myhealth-hrv/internal/models"

	"github.com/xuri/excelize/v2"
)

// ComplianceSheetName 工作表名称
const ComplianceSheetName = "Compliance"

// ComplianceHeader 表头
var ComplianceHeader = []string{
	"Subject",
	"Date",
	"Covered Buckets",
	"Total Buckets",
	"Rate (%)",
}

// SubjectCompliance 单个受试者的充足率结果（含每日明细）
type SubjectCompliance struct {
	Subject string                  `json:"subject"`
	Result  models.ComplianceResult `json:"result"`
}

// GenerateComplianceExcel 生成充足率报表
// 每个受试者先写每日明细，再写一行合计（Date 列为 "Total"）
func GenerateComplianceExcel(items []SubjectCompliance) ([]byte, error) {
	f, err := newSheetFile(ComplianceSheetName, ComplianceHeader, []float64{28, 14, 16, 14, 10})
	if err != nil {
		return nil, err
	}

	totalStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create total style: %w", err)
	}

	row := 2
	for _, item := range items {
		for _, day := range item.Result.Daily {
			values := []interface{}{item.Subject, day.Date, day.Numerator, day.Denominator, day.Rate}
			if err := writeRow(f, ComplianceSheetName, row, values); err != nil {
				f.Close()
				return nil, err
			}
			row++
		}

		values := []interface{}{item.Subject, "Total", item.Result.Numerator, item.Result.Denominator, item.Result.Rate}
		if err := writeRow(f, ComplianceSheetName, row, values); err != nil {
			f.Close()
			return nil, err
		}
		first, _ := excelize.CoordinatesToCellName(1, row)
		last, _ := excelize.CoordinatesToCellName(len(ComplianceHeader), row)
		if err := f.SetCellStyle(ComplianceSheetName, first, last, totalStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set total style: %w", err)
		}
		row++
	}

	return finishSheetFile(f, ComplianceSheetName)
}
