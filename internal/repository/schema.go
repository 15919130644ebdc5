package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schemaStatements 建表语句（幂等），唯一约束保证重复处理不产生重复行
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS polar_heart_rate (
		id            BIGSERIAL PRIMARY KEY,
		device_id     VARCHAR(255) NOT NULL,
		datetime      TIMESTAMPTZ  NOT NULL,
		hr            INTEGER      NOT NULL,
		rr            INTEGER,
		username      VARCHAR(150),
		date_of_birth DATE,
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polar_hr_subject_datetime
		ON polar_heart_rate (username, date_of_birth, datetime)`,
	`CREATE INDEX IF NOT EXISTS idx_polar_hr_datetime
		ON polar_heart_rate (datetime)`,

	`CREATE TABLE IF NOT EXISTS intraday_heart_rate (
		id             BIGSERIAL PRIMARY KEY,
		fitbit_user_id VARCHAR(255) NOT NULL,
		datetime       TIMESTAMPTZ  NOT NULL,
		heart_rate     INTEGER      NOT NULL,
		created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		UNIQUE (fitbit_user_id, datetime)
	)`,

	`CREATE TABLE IF NOT EXISTS polar_heart_rate_nn (
		id            BIGSERIAL PRIMARY KEY,
		device_id     VARCHAR(255) NOT NULL,
		datetime      TIMESTAMPTZ  NOT NULL,
		hr            INTEGER,
		rr            INTEGER,
		username      VARCHAR(150) NOT NULL,
		date_of_birth DATE         NOT NULL,
		is_corrected  BOOLEAN      NOT NULL DEFAULT FALSE,
		original_hr   INTEGER,
		original_rr   INTEGER,
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		UNIQUE (username, date_of_birth, device_id, datetime)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polar_nn_subject_datetime
		ON polar_heart_rate_nn (username, date_of_birth, datetime)`,

	`CREATE TABLE IF NOT EXISTS polar_heart_rate_index_5 (
		id             BIGSERIAL PRIMARY KEY,
		username       VARCHAR(150) NOT NULL,
		date_of_birth  DATE         NOT NULL,
		datetime_start TIMESTAMPTZ  NOT NULL,
		datetime_end   TIMESTAMPTZ  NOT NULL,
		rmssd          DOUBLE PRECISION,
		sdnn           DOUBLE PRECISION,
		hf_power       DOUBLE PRECISION,
		lf_power       DOUBLE PRECISION,
		lf_hf_ratio    DOUBLE PRECISION,
		mean_hr        DOUBLE PRECISION,
		sd_hr          DOUBLE PRECISION,
		hr_upper       DOUBLE PRECISION,
		hr_lower       DOUBLE PRECISION,
		mean_rr        DOUBLE PRECISION,
		data_count     INTEGER      NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		UNIQUE (username, date_of_birth, datetime_start)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polar_index5_start
		ON polar_heart_rate_index_5 (datetime_start)`,
}

// EnsureSchema 创建所需的表和索引（已存在则跳过）
func EnsureSchema(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	logger.Info("Schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}
