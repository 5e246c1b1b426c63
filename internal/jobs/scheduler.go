package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/uslugihub/booking-backend/internal/config"
	"github.com/uslugihub/booking-backend/internal/service"
)

const sweepBatchSize = 100

// Scheduler запускает фоновые развёртки: истечение заявок,
// автовыплату по завершённым бронированиям и повтор зависших движений.
type Scheduler struct {
	cron     *cron.Cron
	bookings *service.BookingService
	escrow   *service.EscrowService
	log      *logrus.Entry
}

func NewScheduler(bookings *service.BookingService, escrow *service.EscrowService, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		bookings: bookings,
		escrow:   escrow,
		log:      log,
	}
}

// Start регистрирует развёртки по расписаниям из конфигурации и запускает планировщик.
func (s *Scheduler) Start(cfg *config.Config) error {
	if _, err := s.cron.AddFunc(cfg.ExpirySweepSchedule, s.runExpirySweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cfg.AutoReleaseSweepSchedule, s.runAutoReleaseSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(cfg.MovementRetrySchedule, s.runMovementRetry); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("планировщик фоновых задач запущен")
	return nil
}

// Stop останавливает планировщик и дожидается завершения текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("планировщик фоновых задач остановлен")
}

func (s *Scheduler) runExpirySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.bookings.ExpireSweep(ctx, sweepBatchSize)
	if err != nil {
		s.log.WithError(err).Error("ошибка развёртки истечения заявок")
		return
	}
	if n > 0 {
		s.log.WithField("expired", n).Info("просроченные заявки закрыты")
	}
}

func (s *Scheduler) runAutoReleaseSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.bookings.AutoReleaseSweep(ctx, sweepBatchSize)
	if err != nil {
		s.log.WithError(err).Error("ошибка развёртки автовыплаты")
		return
	}
	if n > 0 {
		s.log.WithField("released", n).Info("выплаты по завершённым бронированиям проведены")
	}
}

func (s *Scheduler) runMovementRetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.escrow.RetryPendingMovements(ctx, sweepBatchSize)
	if err != nil {
		s.log.WithError(err).Error("ошибка повтора движений средств")
		return
	}
	if n > 0 {
		s.log.WithField("retried", n).Info("зависшие движения средств повторены")
	}
}
