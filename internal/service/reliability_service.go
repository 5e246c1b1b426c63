package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/logger"
	"github.com/uslugihub/booking-backend/internal/models"
)

// ReliabilityRepository описывает хранилище событий надёжности.
type ReliabilityRepository interface {
	InsertEvent(ctx context.Context, e *models.ReliabilityEvent) error
	CountLastMinuteSince(ctx context.Context, freelancerID uuid.UUID, since time.Time) (int, error)
	ListEvents(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.ReliabilityEvent, error)
}

// ReliabilityConfigProvider отдаёт действующие пороги надёжности.
type ReliabilityConfigProvider interface {
	GetReliabilityConfig(ctx context.Context) (*models.ReliabilityConfig, error)
}

// AccountDirector внешний сервис аккаунтов, исполняющий директивы.
type AccountDirector interface {
	RequestSuspension(ctx context.Context, freelancerID uuid.UUID, eventCount int) error
	SendWarning(ctx context.Context, freelancerID uuid.UUID, eventCount int) error
}

// ReliabilityService считает отмены исполнителя в скользящем окне и
// сигнализирует сервису аккаунтов при пересечении порогов. Решения о
// состоянии аккаунта сервис не хранит — только подаёт директивы.
type ReliabilityService struct {
	repo     ReliabilityRepository
	configs  ReliabilityConfigProvider
	accounts AccountDirector
}

func NewReliabilityService(repo ReliabilityRepository, configs ReliabilityConfigProvider, accounts AccountDirector) *ReliabilityService {
	return &ReliabilityService{repo: repo, configs: configs, accounts: accounts}
}

// RecordCancellation фиксирует отмену подтверждённого бронирования
// исполнителем и пересчитывает счётчик окна. Пересчёт скользящий:
// события старше окна в счёт не входят.
func (s *ReliabilityService) RecordCancellation(ctx context.Context, freelancerID, bookingID uuid.UUID, lastMinute bool, occurredAt time.Time) error {
	event := &models.ReliabilityEvent{
		FreelancerID: freelancerID,
		BookingID:    bookingID,
		LastMinute:   lastMinute,
		OccurredAt:   occurredAt,
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return err
	}
	if !lastMinute {
		return nil
	}

	cfg, err := s.configs.GetReliabilityConfig(ctx)
	if err != nil {
		return err
	}

	windowStart := occurredAt.AddDate(0, 0, -cfg.TimeWindowDays)
	count, err := s.repo.CountLastMinuteSince(ctx, freelancerID, windowStart)
	if err != nil {
		return err
	}

	log := logger.WithComponent("reliability").
		WithField("freelancer_id", freelancerID).
		WithField("window_count", count)

	switch {
	case count >= cfg.SuspensionThreshold:
		log.Warn("порог приостановки пересечён, отправляем директиву")
		if err := s.accounts.RequestSuspension(ctx, freelancerID, count); err != nil {
			return err
		}
	case count >= cfg.WarningThreshold:
		log.Info("порог предупреждения пересечён")
		if err := s.accounts.SendWarning(ctx, freelancerID, count); err != nil {
			return err
		}
	}
	return nil
}

// ListEvents возвращает события надёжности исполнителя.
func (s *ReliabilityService) ListEvents(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.ReliabilityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListEvents(ctx, freelancerID, limit, offset)
}
