package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

type PolicyRepository struct {
	db *sqlx.DB
}

func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetSnapshot возвращает неизменяемый снимок текущей сетки тарифов отмены.
// Машина состояний работает со снимком на момент операции.
func (r *PolicyRepository) GetSnapshot(ctx context.Context) (*models.PolicySnapshot, error) {
	var snap models.PolicySnapshot
	err := r.db.GetContext(ctx, &snap, `
		SELECT version, updated_at FROM cancellation_policy_versions
		ORDER BY version DESC LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.ErrCodeConfiguration, "сетка тарифов отмены не настроена")
	}
	if err != nil {
		return nil, fmt.Errorf("policy repository: get snapshot %w", err)
	}

	err = r.db.SelectContext(ctx, &snap.Tiers, `
		SELECT hours_threshold, refund_percent FROM cancellation_policy_tiers
		WHERE version = $1
		ORDER BY hours_threshold DESC
	`, snap.Version)
	if err != nil {
		return nil, fmt.Errorf("policy repository: get tiers %w", err)
	}
	return &snap, nil
}

// ReplaceTiers сохраняет новую версию сетки тарифов. Старые версии остаются
// для истории; действующей считается версия с максимальным номером.
func (r *PolicyRepository) ReplaceTiers(ctx context.Context, tiers []models.CancellationPolicyTier) (*models.PolicySnapshot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var snap models.PolicySnapshot
	err = tx.GetContext(ctx, &snap, `
		INSERT INTO cancellation_policy_versions (version)
		SELECT COALESCE(MAX(version), 0) + 1 FROM cancellation_policy_versions
		RETURNING version, updated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("policy repository: new version %w", err)
	}

	for _, tier := range tiers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cancellation_policy_tiers (version, hours_threshold, refund_percent)
			VALUES ($1, $2, $3)
		`, snap.Version, tier.HoursThreshold, tier.RefundPercent)
		if err != nil {
			return nil, fmt.Errorf("policy repository: insert tier %w", err)
		}
	}
	snap.Tiers = tiers
	return &snap, tx.Commit()
}

// GetReliabilityConfig возвращает пороги надёжности.
func (r *PolicyRepository) GetReliabilityConfig(ctx context.Context) (*models.ReliabilityConfig, error) {
	var cfg models.ReliabilityConfig
	err := r.db.GetContext(ctx, &cfg, `
		SELECT warning_threshold, suspension_threshold, time_window_days, updated_at
		FROM reliability_config LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.ErrCodeConfiguration, "пороги надёжности не настроены")
	}
	if err != nil {
		return nil, fmt.Errorf("policy repository: get reliability config %w", err)
	}
	return &cfg, nil
}

// UpdateReliabilityConfig обновляет пороги надёжности.
func (r *PolicyRepository) UpdateReliabilityConfig(ctx context.Context, cfg *models.ReliabilityConfig) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reliability_config
		SET warning_threshold = $1, suspension_threshold = $2, time_window_days = $3, updated_at = NOW()
	`, cfg.WarningThreshold, cfg.SuspensionThreshold, cfg.TimeWindowDays)
	if err != nil {
		return fmt.Errorf("policy repository: update reliability config %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO reliability_config (warning_threshold, suspension_threshold, time_window_days)
			VALUES ($1, $2, $3)
		`, cfg.WarningThreshold, cfg.SuspensionThreshold, cfg.TimeWindowDays)
		if err != nil {
			return fmt.Errorf("policy repository: insert reliability config %w", err)
		}
	}
	return nil
}
