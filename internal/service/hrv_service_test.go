package service

import (
	"context"
	"testing"
	"time"

	"myhealth-hrv/internal/compliance"
	"myhealth-hrv/internal/config"
	"myhealth-hrv/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Setenv("COMPLIANCE_CACHE_ENABLED", "false")
	t.Setenv("EVENTS_ENABLED", "false")
	t.Setenv("METRICS_ADDR", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Metrics.Addr = ""
	return cfg
}

func TestHRVService_RunOnceEmptyWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := testConfig(t)
	svc := newHRVService(cfg, zap.NewNop(), db, nil)

	at := time.Date(2025, 3, 1, 9, 7, 0, 0, cfg.Location())
	mock.ExpectQuery(`SELECT DISTINCT username, date_of_birth FROM polar_heart_rate`).
		WithArgs(time.Date(2025, 3, 1, 9, 0, 0, 0, cfg.Location()), time.Date(2025, 3, 1, 9, 5, 0, 0, cfg.Location())).
		WillReturnRows(sqlmock.NewRows([]string{"username", "date_of_birth"}))

	summary, err := svc.RunOnce(context.Background(), at, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, summary.Subjects)
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().CyclesRun)

	mock.ExpectClose()
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHRVService_RunOnceExplicitWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := testConfig(t)
	svc := newHRVService(cfg, zap.NewNop(), db, nil)

	start := time.Date(2025, 3, 1, 6, 3, 0, 0, cfg.Location())
	mock.ExpectQuery(`SELECT DISTINCT username`).
		WithArgs(time.Date(2025, 3, 1, 6, 0, 0, 0, cfg.Location()), time.Date(2025, 3, 1, 6, 5, 0, 0, cfg.Location())).
		WillReturnRows(sqlmock.NewRows([]string{"username", "date_of_birth"}))

	summary, err := svc.RunOnce(context.Background(), time.Now(), start)
	require.NoError(t, err)
	assert.True(t, summary.WindowStart.Equal(time.Date(2025, 3, 1, 6, 0, 0, 0, cfg.Location())))

	mock.ExpectClose()
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHRVService_ComplianceUsesRawRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := testConfig(t)
	svc := newHRVService(cfg, zap.NewNop(), db, nil)

	loc := cfg.Location()
	mock.ExpectQuery(`SELECT DISTINCT datetime FROM intraday_heart_rate`).
		WithArgs("ABC123", time.Date(2025, 3, 1, 9, 0, 0, 0, loc), time.Date(2025, 3, 1, 9, 2, 0, 0, loc)).
		WillReturnRows(sqlmock.NewRows([]string{"datetime"}).AddRow(time.Date(2025, 3, 1, 0, 0, 30, 0, time.UTC)))

	res, err := svc.Compliance().Calculate(context.Background(), compliance.DeviceAccount("ABC123"), compliance.Query{
		StartDate: "2025-03-01", EndDate: "2025-03-01", StartTime: "09:00", EndTime: "09:02",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Numerator)
	assert.Equal(t, 50.0, res.Rate)

	mock.ExpectClose()
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHRVService_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	svc := newHRVService(testConfig(t), zap.NewNop(), db, nil)

	mock.ExpectBegin()
	mock.MatchExpectationsInOrder(true)
	for i := 0; i < 8; i++ {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, svc.Migrate(context.Background()))

	mock.ExpectClose()
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHRVService_Indices(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := testConfig(t)
	svc := newHRVService(cfg, zap.NewNop(), db, nil)

	loc := cfg.Location()
	alice := models.SubjectKey{Username: "alice", DateOfBirth: "1990-01-30"}
	from := time.Date(2025, 3, 1, 9, 0, 0, 0, loc)
	to := time.Date(2025, 3, 1, 10, 0, 0, 0, loc)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT datetime_start, datetime_end`).
		WithArgs("alice", "1990-01-30", from, to).
		WillReturnRows(sqlmock.NewRows([]string{
			"datetime_start", "datetime_end",
			"rmssd", "sdnn", "hf_power", "lf_power", "lf_hf_ratio",
			"mean_hr", "sd_hr", "hr_upper", "hr_lower", "mean_rr", "data_count",
		}).AddRow(start, start.Add(5*time.Minute), 13.8, 8.1, 0.0, 0.0, nil, 75.2, 1.2, 77.6, 72.8, 801.0, 10))

	rows, err := svc.Indices(context.Background(), alice, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-01 09:00", rows[0].WindowStart.Format("2006-01-02 15:04"))
	assert.Equal(t, alice, rows[0].SubjectKey)
	assert.Equal(t, 13.8, *rows[0].RMSSD)

	// 参数错误不访问数据库
	_, err = svc.Indices(context.Background(), models.SubjectKey{Username: "alice"}, from, to)
	assert.Error(t, err)
	_, err = svc.Indices(context.Background(), alice, to, from)
	assert.Error(t, err)

	mock.ExpectClose()
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
