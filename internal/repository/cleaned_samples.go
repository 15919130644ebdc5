package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"myhealth-hrv/internal/models"

	"go.uber.org/zap"
)

// CleanedSampleRepository 清洗数据仓库（polar_heart_rate_nn）
type CleanedSampleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCleanedSampleRepository 创建清洗数据仓库
func NewCleanedSampleRepository(db *sql.DB, logger *zap.Logger) *CleanedSampleRepository {
	return &CleanedSampleRepository{
		db:     db,
		logger: logger,
	}
}

// ExistingKeys 窗口内已经写入的 (device_id, datetime)
func (r *CleanedSampleRepository) ExistingKeys(ctx context.Context, subject models.SubjectKey, from, to time.Time) (map[models.SampleKey]struct{}, error) {
	query := `
		SELECT device_id, datetime
		FROM polar_heart_rate_nn
		WHERE username = $1 AND date_of_birth = $2
		  AND datetime >= $3 AND datetime < $4
	`

	rows, err := r.db.QueryContext(ctx, query, subject.Username, subject.DateOfBirth, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing cleaned samples: %w", err)
	}
	defer rows.Close()

	keys := make(map[models.SampleKey]struct{})
	for rows.Next() {
		var (
			deviceID string
			ts       time.Time
		)
		if err := rows.Scan(&deviceID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan cleaned sample key: %w", err)
		}
		keys[models.SampleKey{DeviceID: deviceID, Timestamp: ts.UnixNano()}] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cleaned sample keys: %w", err)
	}
	return keys, nil
}

// InsertBatch 单个事务内写入一个受试者的清洗数据
// 唯一键冲突的行跳过（ON CONFLICT DO NOTHING），返回实际写入行数
func (r *CleanedSampleRepository) InsertBatch(ctx context.Context, samples []models.CleanedSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO polar_heart_rate_nn (
			device_id, datetime, hr, rr, username, date_of_birth,
			is_corrected, original_hr, original_rr
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (username, date_of_birth, device_id, datetime) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, s := range samples {
		res, err := stmt.ExecContext(ctx,
			s.DeviceID,
			s.Timestamp,
			nullableInt(s.HeartRate),
			nullableInt(s.RRInterval),
			s.Username,
			s.DateOfBirth,
			s.IsCorrected,
			nullableInt(s.OriginalHR),
			nullableInt(s.OriginalRR),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert cleaned sample (device=%s, ts=%s): %w",
				s.DeviceID, s.Timestamp.Format(time.RFC3339), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleaned samples: %w", err)
	}
	return inserted, nil
}

// ListWindow 某受试者在 [from, to) 内的清洗数据，按时间排序
func (r *CleanedSampleRepository) ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.CleanedSample, error) {
	query := `
		SELECT device_id, datetime, hr, rr, is_corrected, original_hr, original_rr
		FROM polar_heart_rate_nn
		WHERE username = $1 AND date_of_birth = $2
		  AND datetime >= $3 AND datetime < $4
		ORDER BY datetime, device_id
	`

	rows, err := r.db.QueryContext(ctx, query, subject.Username, subject.DateOfBirth, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleaned samples for %s: %w", subject, err)
	}
	defer rows.Close()

	var samples []models.CleanedSample
	for rows.Next() {
		var (
			s                      models.CleanedSample
			hr, rr, origHR, origRR sql.NullInt64
		)
		if err := rows.Scan(&s.DeviceID, &s.Timestamp, &hr, &rr, &s.IsCorrected, &origHR, &origRR); err != nil {
			return nil, fmt.Errorf("failed to scan cleaned sample: %w", err)
		}
		s.SubjectKey = subject
		s.HeartRate = intFromNull(hr)
		s.RRInterval = intFromNull(rr)
		s.OriginalHR = intFromNull(origHR)
		s.OriginalRR = intFromNull(origRR)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cleaned samples: %w", err)
	}
	return samples, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return models.IntPtr(int(v.Int64))
}
