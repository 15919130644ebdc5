package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"myhealth-hrv/internal/compliance"
	"myhealth-hrv/internal/models"

	"go.uber.org/zap"
)

// RawSampleRepository 原始采样仓库（polar_heart_rate / intraday_heart_rate）
// 原始表只追加，本服务只读；import 命令除外
type RawSampleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRawSampleRepository 创建原始采样仓库
func NewRawSampleRepository(db *sql.DB, logger *zap.Logger) *RawSampleRepository {
	return &RawSampleRepository{
		db:     db,
		logger: logger,
	}
}

// ListSubjectsInWindow 窗口 [from, to) 内有数据的受试者
func (r *RawSampleRepository) ListSubjectsInWindow(ctx context.Context, from, to time.Time) ([]models.SubjectKey, error) {
	query := `
		SELECT DISTINCT username, date_of_birth
		FROM polar_heart_rate
		WHERE datetime >= $1 AND datetime < $2
		  AND username IS NOT NULL AND username <> ''
		  AND date_of_birth IS NOT NULL
		ORDER BY username, date_of_birth
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.SubjectKey
	for rows.Next() {
		var (
			username string
			dob      time.Time
		)
		if err := rows.Scan(&username, &dob); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, models.SubjectKey{
			Username:    username,
			DateOfBirth: dob.Format(models.DateLayout),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subjects: %w", err)
	}
	return subjects, nil
}

// ListWindow 某受试者在 [from, to) 内的原始采样，按时间排序
func (r *RawSampleRepository) ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.RawSample, error) {
	query := `
		SELECT device_id, datetime, hr, rr
		FROM polar_heart_rate
		WHERE username = $1 AND date_of_birth = $2
		  AND datetime >= $3 AND datetime < $4
		ORDER BY datetime, id
	`

	rows, err := r.db.QueryContext(ctx, query, subject.Username, subject.DateOfBirth, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw samples for %s: %w", subject, err)
	}
	defer rows.Close()

	var samples []models.RawSample
	for rows.Next() {
		var (
			s  models.RawSample
			rr sql.NullInt64
		)
		if err := rows.Scan(&s.DeviceID, &s.Timestamp, &s.HeartRate, &rr); err != nil {
			return nil, fmt.Errorf("failed to scan raw sample: %w", err)
		}
		s.SubjectKey = subject
		if rr.Valid {
			s.RRInterval = models.IntPtr(int(rr.Int64))
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw samples: %w", err)
	}
	return samples, nil
}

// DistinctTimestamps 充足率计算用：受试者在 [from, to) 内去重后的采样时间
// 设备账号查 intraday_heart_rate，用户名 + 生年月日查 polar_heart_rate
func (r *RawSampleRepository) DistinctTimestamps(ctx context.Context, subject compliance.Subject, from, to time.Time) ([]time.Time, error) {
	var (
		query string
		args  []interface{}
	)
	switch subject.Kind {
	case compliance.KindDeviceAccount:
		query = `
			SELECT DISTINCT datetime
			FROM intraday_heart_rate
			WHERE fitbit_user_id = $1
			  AND datetime >= $2 AND datetime < $3
			ORDER BY datetime
		`
		args = []interface{}{subject.AccountID, from, to}
	case compliance.KindProfile:
		query = `
			SELECT DISTINCT datetime
			FROM polar_heart_rate
			WHERE username = $1 AND date_of_birth = $2
			  AND datetime >= $3 AND datetime < $4
			ORDER BY datetime
		`
		args = []interface{}{subject.Profile.Username, subject.Profile.DateOfBirth, from, to}
	default:
		return nil, fmt.Errorf("unsupported subject kind: %d", subject.Kind)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timestamps: %w", err)
	}
	return out, nil
}

// DataRange 原始数据的最早和最晚时间，表为空时 ok 为 false
func (r *RawSampleRepository) DataRange(ctx context.Context) (first, last time.Time, ok bool, err error) {
	query := `SELECT MIN(datetime), MAX(datetime) FROM polar_heart_rate`

	var minTS, maxTS sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&minTS, &maxTS); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to query data range: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return minTS.Time, maxTS.Time, true, nil
}

// InsertBatch 批量写入原始采样（import 命令），单个事务
func (r *RawSampleRepository) InsertBatch(ctx context.Context, samples []models.RawSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO polar_heart_rate (device_id, datetime, hr, rr, username, date_of_birth)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, s := range samples {
		var rr interface{}
		if s.RRInterval != nil {
			rr = *s.RRInterval
		}
		if _, err := stmt.ExecContext(ctx, s.DeviceID, s.Timestamp, s.HeartRate, rr, s.Username, s.DateOfBirth); err != nil {
			return 0, fmt.Errorf("failed to insert raw sample (device=%s, ts=%s): %w",
				s.DeviceID, s.Timestamp.Format(time.RFC3339), err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit raw samples: %w", err)
	}

	r.logger.Info("Raw samples imported", zap.Int64("count", inserted))
	return inserted, nil
}
