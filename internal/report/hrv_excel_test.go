package report

import (
	"bytes"
	"testing"
	"time"

	"myhealth-hrv/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestGenerateHRVIndexExcel(t *testing.T) {
	jst := time.FixedZone("UTC+9", 9*3600)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.HRVIndexRow{
		{
			SubjectKey:  models.SubjectKey{Username: "alice", DateOfBirth: "1990-01-30"},
			WindowStart: start,
			WindowEnd:   start.Add(5 * time.Minute),
			MeanHR:      models.Float64Ptr(72.4),
			RMSSD:       models.Float64Ptr(13.8),
			DataCount:   30,
		},
	}

	data, err := GenerateHRVIndexExcel(rows, jst)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{HRVSheetName}, f.GetSheetList())

	got, err := f.GetRows(HRVSheetName)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, HRVHeader, got[0])
	assert.Equal(t, "alice_1990-01-30", got[1][0])
	assert.Equal(t, "2025-03-01 09:00", got[1][1])
	assert.Equal(t, "2025-03-01 09:05", got[1][2])
	assert.Equal(t, "72.4", got[1][3])
	assert.Equal(t, "", got[1][4])
	assert.Equal(t, "13.8", got[1][8])
	assert.Equal(t, "30", got[1][13])
}
