package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"myhealth-hrv/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// HRVIndexRepository HRV 指标仓库（polar_heart_rate_index_5）
// 行一旦写入不再修改，重算只能通过 DeleteRange + 重放
type HRVIndexRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHRVIndexRepository 创建 HRV 指标仓库
func NewHRVIndexRepository(db *sql.DB, logger *zap.Logger) *HRVIndexRepository {
	return &HRVIndexRepository{
		db:     db,
		logger: logger,
	}
}

// ExistingSubjects 在 windowStart 已有指标行的受试者（键为 SubjectKey.String()）
func (r *HRVIndexRepository) ExistingSubjects(ctx context.Context, windowStart time.Time, subjects []models.SubjectKey) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(subjects) == 0 {
		return existing, nil
	}

	usernames := make([]string, 0, len(subjects))
	for _, s := range subjects {
		usernames = append(usernames, s.Username)
	}

	query := `
		SELECT username, date_of_birth
		FROM polar_heart_rate_index_5
		WHERE datetime_start = $1 AND username = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, windowStart, pq.Array(usernames))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing hrv rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			username string
			dob      time.Time
		)
		if err := rows.Scan(&username, &dob); err != nil {
			return nil, fmt.Errorf("failed to scan hrv row key: %w", err)
		}
		key := models.SubjectKey{Username: username, DateOfBirth: dob.Format(models.DateLayout)}
		existing[key.String()] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hrv row keys: %w", err)
	}
	return existing, nil
}

// Insert 写入一行指标，已存在时跳过；返回是否实际写入
func (r *HRVIndexRepository) Insert(ctx context.Context, row models.HRVIndexRow) (bool, error) {
	query := `
		INSERT INTO polar_heart_rate_index_5 (
			username, date_of_birth, datetime_start, datetime_end,
			rmssd, sdnn, hf_power, lf_power, lf_hf_ratio,
			mean_hr, sd_hr, hr_upper, hr_lower, mean_rr,
			data_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (username, date_of_birth, datetime_start) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		row.Username,
		row.DateOfBirth,
		row.WindowStart,
		row.WindowEnd,
		nullableFloat(row.RMSSD),
		nullableFloat(row.SDNN),
		nullableFloat(row.HFPower),
		nullableFloat(row.LFPower),
		nullableFloat(row.LFHFRatio),
		nullableFloat(row.MeanHR),
		nullableFloat(row.SDHR),
		nullableFloat(row.HRUpper),
		nullableFloat(row.HRLower),
		nullableFloat(row.MeanRR),
		row.DataCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert hrv row for %s: %w", row.SubjectKey, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListRange 某受试者在 [from, to) 内的指标行，按窗口起点排序
func (r *HRVIndexRepository) ListRange(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.HRVIndexRow, error) {
	query := `
		SELECT datetime_start, datetime_end,
			rmssd, sdnn, hf_power, lf_power, lf_hf_ratio,
			mean_hr, sd_hr, hr_upper, hr_lower, mean_rr,
			data_count
		FROM polar_heart_rate_index_5
		WHERE username = $1 AND date_of_birth = $2
		  AND datetime_start >= $3 AND datetime_start < $4
		ORDER BY datetime_start
	`

	rows, err := r.db.QueryContext(ctx, query, subject.Username, subject.DateOfBirth, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query hrv rows for %s: %w", subject, err)
	}
	defer rows.Close()

	var out []models.HRVIndexRow
	for rows.Next() {
		var (
			row                                   models.HRVIndexRow
			rmssd, sdnn, hf, lf, ratio            sql.NullFloat64
			meanHR, sdHR, hrUpper, hrLower, meanR sql.NullFloat64
		)
		if err := rows.Scan(&row.WindowStart, &row.WindowEnd,
			&rmssd, &sdnn, &hf, &lf, &ratio,
			&meanHR, &sdHR, &hrUpper, &hrLower, &meanR,
			&row.DataCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hrv row: %w", err)
		}
		row.SubjectKey = subject
		row.RMSSD = floatFromNull(rmssd)
		row.SDNN = floatFromNull(sdnn)
		row.HFPower = floatFromNull(hf)
		row.LFPower = floatFromNull(lf)
		row.LFHFRatio = floatFromNull(ratio)
		row.MeanHR = floatFromNull(meanHR)
		row.SDHR = floatFromNull(sdHR)
		row.HRUpper = floatFromNull(hrUpper)
		row.HRLower = floatFromNull(hrLower)
		row.MeanRR = floatFromNull(meanR)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hrv rows: %w", err)
	}
	return out, nil
}

// DeleteRange 删除 [from, to) 内的全部指标行（backfill 重算前调用）
func (r *HRVIndexRepository) DeleteRange(ctx context.Context, from, to time.Time) (int64, error) {
	query := `
		DELETE FROM polar_heart_rate_index_5
		WHERE datetime_start >= $1 AND datetime_start < $2
	`

	res, err := r.db.ExecContext(ctx, query, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to delete hrv rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	r.logger.Info("Deleted hrv rows for recompute",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int64("deleted", n),
	)
	return n, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float64Ptr(v.Float64)
}
