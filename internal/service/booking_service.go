package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/logger"
	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
	"github.com/uslugihub/booking-backend/internal/policy"
)

// BookingRepository описывает взаимодействие сервиса с хранилищем бронирований.
type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) (*models.EscrowRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListByParty(ctx context.Context, partyID uuid.UUID, status string, limit, offset int) ([]models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string) (*models.Booking, error)
	UpdateStatusWithMovements(ctx context.Context, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string, plans []models.MovementPlan) (*models.Booking, []models.EscrowMovement, error)
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]models.Booking, []models.EscrowMovement, error)
	ListReleasable(ctx context.Context, completedBefore time.Time, limit int) ([]models.Booking, error)
}

// PolicyProvider отдаёт неизменяемые снимки конфигурации политик.
type PolicyProvider interface {
	GetSnapshot(ctx context.Context) (*models.PolicySnapshot, error)
}

// CancellationRecorder фиксирует отмену подтверждённого бронирования
// исполнителем для учёта надёжности.
type CancellationRecorder interface {
	RecordCancellation(ctx context.Context, freelancerID, bookingID uuid.UUID, lastMinute bool, occurredAt time.Time) error
}

// AuditReader читает журнал аудита для выдачи истории вместе с сущностью.
type AuditReader interface {
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLogEntry, error)
}

// BookingService реализует машину состояний бронирований.
type BookingService struct {
	repo        BookingRepository
	escrow      FundMover
	policies    PolicyProvider
	reliability CancellationRecorder
	audit       AuditReader

	responseWindow   time.Duration
	lastMinuteWindow time.Duration
	autoReleaseDelay time.Duration

	now func() time.Time
}

// NewBookingService создаёт сервис бронирований.
func NewBookingService(repo BookingRepository, escrow FundMover, policies PolicyProvider, reliability CancellationRecorder, audit AuditReader, responseWindow, lastMinuteWindow, autoReleaseDelay time.Duration) *BookingService {
	return &BookingService{
		repo:             repo,
		escrow:           escrow,
		policies:         policies,
		reliability:      reliability,
		audit:            audit,
		responseWindow:   responseWindow,
		lastMinuteWindow: lastMinuteWindow,
		autoReleaseDelay: autoReleaseDelay,
		now:              time.Now,
	}
}

// RequestBookingInput описывает входные данные заявки на бронирование.
type RequestBookingInput struct {
	ClientID      uuid.UUID
	FreelancerID  uuid.UUID
	ServiceID     uuid.UUID
	StartAt       time.Time
	EndAt         time.Time
	Location      string
	BaseAmount    int64
	MaterialsCost int64
	TravelFee     int64
}

// Request создаёт заявку на бронирование в статусе pending и escrow-запись
// под захваченные средства. Срок ответа исполнителя ограничен окном ответа.
func (s *BookingService) Request(ctx context.Context, in RequestBookingInput) (*models.Booking, *models.EscrowRecord, error) {
	now := s.now()

	if in.ClientID == in.FreelancerID {
		return nil, nil, apperror.New(apperror.ErrCodeInvalidArg, "клиент и исполнитель не могут совпадать")
	}
	if !in.StartAt.Before(in.EndAt) {
		return nil, nil, apperror.New(apperror.ErrCodeInvalidArg, "начало должно быть раньше окончания")
	}
	if in.StartAt.Before(now) {
		return nil, nil, apperror.New(apperror.ErrCodeInvalidArg, "начало не может быть в прошлом")
	}
	if in.BaseAmount <= 0 || in.MaterialsCost < 0 || in.TravelFee < 0 {
		return nil, nil, apperror.New(apperror.ErrCodeInvalidArg, "некорректная разбивка цены")
	}

	expiresAt := now.Add(s.responseWindow)
	b := &models.Booking{
		ClientID:      in.ClientID,
		FreelancerID:  in.FreelancerID,
		ServiceID:     in.ServiceID,
		StartAt:       in.StartAt,
		EndAt:         in.EndAt,
		Location:      in.Location,
		BaseAmount:    in.BaseAmount,
		MaterialsCost: in.MaterialsCost,
		TravelFee:     in.TravelFee,
		TotalAmount:   in.BaseAmount + in.MaterialsCost + in.TravelFee,
		Status:        models.BookingStatusPending,
		ExpiresAt:     &expiresAt,
	}

	escrow, err := s.repo.Create(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return b, escrow, nil
}

// Accept подтверждает заявку исполнителем: pending -> confirmed.
func (s *BookingService) Accept(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.FreelancerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "заявку можно принять только в статусе pending")
	}
	if b.ExpiresAt != nil && s.now().After(*b.ExpiresAt) {
		return nil, apperror.New(apperror.ErrCodeExpired, "срок ответа на заявку истёк")
	}

	return s.repo.UpdateStatus(ctx, bookingID, models.BookingStatusPending, models.BookingStatusConfirmed, "accept", &actorID, nil)
}

// Decline отклоняет заявку исполнителем: pending -> cancelled с полным
// возвратом клиенту. Отклонение заявки не является событием надёжности —
// им считается только отмена уже подтверждённого бронирования.
func (s *BookingService) Decline(ctx context.Context, bookingID, actorID uuid.UUID, reason *string) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.FreelancerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "отклонить можно только заявку в статусе pending")
	}

	plans, err := s.refundRemainingPlan(ctx, b)
	if err != nil {
		return nil, err
	}
	updated, movements, err := s.repo.UpdateStatusWithMovements(ctx, bookingID,
		models.BookingStatusPending, models.BookingStatusCancelled, "decline", &actorID, reason, plans)
	if err != nil {
		return nil, err
	}

	s.escrow.ExecuteMovements(ctx, movements)
	return updated, nil
}

// ClientCancel отменяет подтверждённое бронирование клиентом. Процент
// возврата определяется сеткой тарифов по времени до начала; остаток
// переводится исполнителю.
func (s *BookingService) ClientCancel(ctx context.Context, bookingID, actorID uuid.UUID, reason *string) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ClientID != actorID {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "отменить можно только подтверждённое бронирование")
	}

	snap, err := s.policies.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	hoursBeforeStart := b.StartAt.Sub(s.now()).Hours()
	percent, err := policy.RefundPercent(snap.Tiers, hoursBeforeStart)
	if err != nil {
		return nil, err
	}

	escrow, err := s.escrow.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	remaining := escrow.Remaining()
	refundAmount := policy.RefundAmount(remaining, percent)

	var plans []models.MovementPlan
	if refundAmount > 0 {
		plans = append(plans, models.MovementPlan{
			Direction:   models.MovementDirectionRefund,
			Amount:      refundAmount,
			RecipientID: b.ClientID,
		})
	}
	if remaining-refundAmount > 0 {
		plans = append(plans, models.MovementPlan{
			Direction:   models.MovementDirectionRelease,
			Amount:      remaining - refundAmount,
			RecipientID: b.FreelancerID,
		})
	}

	updated, movements, err := s.repo.UpdateStatusWithMovements(ctx, bookingID,
		models.BookingStatusConfirmed, models.BookingStatusCancelled, "client_cancel", &actorID, reason, plans)
	if err != nil {
		return nil, err
	}

	s.escrow.ExecuteMovements(ctx, movements)
	return updated, nil
}

// FreelancerCancel отменяет подтверждённое бронирование исполнителем.
// Клиент всегда получает полный возврат независимо от сетки тарифов;
// для исполнителя фиксируется событие надёжности.
func (s *BookingService) FreelancerCancel(ctx context.Context, bookingID, actorID uuid.UUID, reason *string) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.FreelancerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "отменить можно только подтверждённое бронирование")
	}

	now := s.now()
	plans, err := s.refundRemainingPlan(ctx, b)
	if err != nil {
		return nil, err
	}
	updated, movements, err := s.repo.UpdateStatusWithMovements(ctx, bookingID,
		models.BookingStatusConfirmed, models.BookingStatusCancelled, "freelancer_cancel", &actorID, reason, plans)
	if err != nil {
		return nil, err
	}

	s.escrow.ExecuteMovements(ctx, movements)

	lastMinute := b.StartAt.Sub(now) < s.lastMinuteWindow
	if err := s.reliability.RecordCancellation(ctx, actorID, bookingID, lastMinute, now); err != nil {
		// Учёт надёжности не должен ломать уже совершённую отмену.
		logger.WithComponent("booking").WithError(err).
			WithField("booking_id", bookingID).Error("не удалось учесть событие надёжности")
	}
	return updated, nil
}

// Complete отмечает исполнение бронирования: confirmed -> completed.
// Разрешается любой из сторон после окончания по расписанию. Средства
// освобождаются позже фоновым обходом, если по бронированию нет спора.
func (s *BookingService) Complete(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(actorID) {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "завершить можно только подтверждённое бронирование")
	}
	if s.now().Before(b.EndAt) {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "бронирование ещё не закончилось по расписанию")
	}

	return s.repo.UpdateStatus(ctx, bookingID, models.BookingStatusConfirmed, models.BookingStatusCompleted, "complete", &actorID, nil)
}

// GetByID возвращает бронирование.
func (s *BookingService) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.repo.GetByID(ctx, id)
}

// GetWithAudit возвращает бронирование вместе со срезом его истории аудита.
func (s *BookingService) GetWithAudit(ctx context.Context, id uuid.UUID, limit, offset int) (*models.Booking, []models.AuditLogEntry, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	trail, err := s.audit.ListByEntity(ctx, models.AuditEntityBooking, id, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	return b, trail, nil
}

// ListByParty возвращает бронирования стороны с фильтром по статусу.
func (s *BookingService) ListByParty(ctx context.Context, partyID uuid.UUID, status string, limit, offset int) ([]models.Booking, error) {
	if status != "" {
		if _, ok := models.ValidBookingStatuses[status]; !ok {
			return nil, apperror.New(apperror.ErrCodeInvalidArg, "неизвестный статус бронирования")
		}
	}
	return s.repo.ListByParty(ctx, partyID, status, limit, offset)
}

// ExpireSweep переводит просроченные pending-заявки в expired; возврат
// клиенту фиксируется в леджере той же транзакцией, что и переход. Обход
// идемпотентен и безопасен при параллельном запуске: каждое бронирование
// достаётся ровно одному исполнению за счёт условного обновления статуса,
// внешних блокировок нет.
func (s *BookingService) ExpireSweep(ctx context.Context, batchSize int) (int, error) {
	claimed, movements, err := s.repo.ClaimExpired(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}

	s.escrow.ExecuteMovements(ctx, movements)
	return len(claimed), nil
}

// AutoReleaseSweep освобождает средства по завершённым бронированиям,
// уже отлежавшим задержку освобождения. Записи в disputed_hold сюда не
// попадают: спор приостанавливает авто-освобождение до разрешения.
func (s *BookingService) AutoReleaseSweep(ctx context.Context, batchSize int) (int, error) {
	releasable, err := s.repo.ListReleasable(ctx, s.now().Add(-s.autoReleaseDelay), batchSize)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("booking")
	released := 0
	for i := range releasable {
		b := &releasable[i]
		escrow, err := s.escrow.GetByBookingID(ctx, b.ID)
		if err != nil {
			log.WithError(err).WithField("booking_id", b.ID).Error("escrow не найден при авто-освобождении")
			continue
		}
		if escrow.Status != models.EscrowStatusHeld || escrow.Remaining() <= 0 {
			continue
		}
		if err := s.escrow.Release(ctx, b, escrow.Remaining(), nil); err != nil {
			if apperror.IsConflict(err) || apperror.IsInvalidState(err) {
				// Запись уже обработана конкурентным обходом либо взята
				// под удержание только что открытым спором.
				continue
			}
			log.WithError(err).WithField("booking_id", b.ID).Error("авто-освобождение не выполнено")
			continue
		}
		released++
	}
	return released, nil
}

// refundRemainingPlan готовит возврат клиенту всего нераспределённого
// остатка escrow. Сумма перепроверяется под блокировкой при применении.
func (s *BookingService) refundRemainingPlan(ctx context.Context, b *models.Booking) ([]models.MovementPlan, error) {
	escrow, err := s.escrow.GetByBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if escrow.Remaining() <= 0 {
		return nil, nil
	}
	return []models.MovementPlan{{
		Direction:   models.MovementDirectionRefund,
		Amount:      escrow.Remaining(),
		RecipientID: b.ClientID,
	}}, nil
}
