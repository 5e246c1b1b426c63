package service

import (
	"context"

	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
	"github.com/uslugihub/booking-backend/internal/policy"
)

// PolicyRepository описывает хранилище конфигурации политик.
type PolicyRepository interface {
	GetSnapshot(ctx context.Context) (*models.PolicySnapshot, error)
	ReplaceTiers(ctx context.Context, tiers []models.CancellationPolicyTier) (*models.PolicySnapshot, error)
	GetReliabilityConfig(ctx context.Context) (*models.ReliabilityConfig, error)
	UpdateReliabilityConfig(ctx context.Context, cfg *models.ReliabilityConfig) error
}

// PolicyService обслуживает административную конфигурацию политик.
type PolicyService struct {
	repo PolicyRepository
}

func NewPolicyService(repo PolicyRepository) *PolicyService {
	return &PolicyService{repo: repo}
}

// GetTiers возвращает действующий снимок сетки тарифов отмены.
func (s *PolicyService) GetTiers(ctx context.Context) (*models.PolicySnapshot, error) {
	return s.repo.GetSnapshot(ctx)
}

// UpdateTiers валидирует и сохраняет новую версию сетки тарифов.
func (s *PolicyService) UpdateTiers(ctx context.Context, tiers []models.CancellationPolicyTier) (*models.PolicySnapshot, error) {
	if err := policy.ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return s.repo.ReplaceTiers(ctx, tiers)
}

// GetReliabilityConfig возвращает действующие пороги надёжности.
func (s *PolicyService) GetReliabilityConfig(ctx context.Context) (*models.ReliabilityConfig, error) {
	return s.repo.GetReliabilityConfig(ctx)
}

// UpdateReliabilityConfig валидирует и сохраняет пороги надёжности.
func (s *PolicyService) UpdateReliabilityConfig(ctx context.Context, cfg *models.ReliabilityConfig) error {
	if cfg.WarningThreshold <= 0 || cfg.SuspensionThreshold <= 0 {
		return apperror.New(apperror.ErrCodeInvalidArg, "пороги должны быть положительными")
	}
	if cfg.WarningThreshold > cfg.SuspensionThreshold {
		return apperror.New(apperror.ErrCodeInvalidArg, "порог предупреждения не может превышать порог приостановки")
	}
	if cfg.TimeWindowDays <= 0 {
		return apperror.New(apperror.ErrCodeInvalidArg, "окно наблюдения должно быть положительным")
	}
	return s.repo.UpdateReliabilityConfig(ctx, cfg)
}
