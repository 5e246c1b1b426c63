package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/logger"
	"github.com/uslugihub/booking-backend/internal/models"
)

// maxMovementAttempts попыток отправки движения в процессинг, после которых
// движение помечается failed и требует ручного вмешательства.
const maxMovementAttempts = 10

// EscrowRepository описывает взаимодействие сервиса с хранилищем escrow.
type EscrowRepository interface {
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.EscrowRecord, error)
	BeginMovement(ctx context.Context, escrowID uuid.UUID, plan models.MovementPlan, fromStatuses []string, actorID *uuid.UUID) (*models.EscrowMovement, error)
	UpdateStatus(ctx context.Context, escrowID uuid.UUID, from, to string, actorID *uuid.UUID) error
	CompleteMovement(ctx context.Context, movementID uuid.UUID) error
	RecordMovementFailure(ctx context.Context, movementID uuid.UUID, cause string) error
	MarkMovementFailed(ctx context.Context, movementID uuid.UUID, cause string) error
	ListPendingMovements(ctx context.Context, limit int) ([]models.EscrowMovement, error)
	ListMovements(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowMovement, error)
}

// ProcessorClient описывает внешний платёжный процессинг.
type ProcessorClient interface {
	Transfer(ctx context.Context, movementID uuid.UUID, direction string, amount int64, recipientID uuid.UUID) error
}

// FundMover единый интерфейс работы со средствами escrow. Им пользуются и
// машина состояний бронирований, и разрешение споров, поэтому инварианты
// леджера обеспечиваются одной реализацией независимо от вызывающего.
type FundMover interface {
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.EscrowRecord, error)
	Release(ctx context.Context, booking *models.Booking, amount int64, actorID *uuid.UUID) error
	MarkDisputed(ctx context.Context, escrowID uuid.UUID, actorID *uuid.UUID) error
	ExecuteMovements(ctx context.Context, movements []models.EscrowMovement)
}

// EscrowService реализует леджер удержанных средств.
type EscrowService struct {
	repo      EscrowRepository
	processor ProcessorClient
}

func NewEscrowService(repo EscrowRepository, processor ProcessorClient) *EscrowService {
	return &EscrowService{repo: repo, processor: processor}
}

// GetByBookingID возвращает escrow-запись бронирования.
func (s *EscrowService) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.EscrowRecord, error) {
	return s.repo.GetByBookingID(ctx, bookingID)
}

// Release переводит часть удержанной суммы исполнителю. Записи под
// удержанием спора хранилище отклоняет конфликтом: пока спор не разрешён,
// средства по этому пути не двигаются.
func (s *EscrowService) Release(ctx context.Context, booking *models.Booking, amount int64, actorID *uuid.UUID) error {
	escrow, err := s.repo.GetByBookingID(ctx, booking.ID)
	if err != nil {
		return err
	}

	plan := models.MovementPlan{
		Direction:   models.MovementDirectionRelease,
		Amount:      amount,
		RecipientID: booking.FreelancerID,
	}
	from := []string{models.EscrowStatusHeld, models.EscrowStatusPartiallyReleased}
	movement, err := s.repo.BeginMovement(ctx, escrow.ID, plan, from, actorID)
	if err != nil {
		return err
	}

	s.execute(ctx, movement)
	return nil
}

// MarkDisputed удерживает escrow на время спора: автоматическое
// освобождение по нему приостанавливается до разрешения.
func (s *EscrowService) MarkDisputed(ctx context.Context, escrowID uuid.UUID, actorID *uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, escrowID, models.EscrowStatusHeld, models.EscrowStatusDisputedHold, actorID)
}

// ExecuteMovements отправляет в процессинг движения, уже зафиксированные в
// леджере. Неудача отдельного перевода не является ошибкой: движение
// остаётся pending, его повторит фоновый обход.
func (s *EscrowService) ExecuteMovements(ctx context.Context, movements []models.EscrowMovement) {
	for i := range movements {
		s.execute(ctx, &movements[i])
	}
}

// execute отправляет движение в процессинг; неудача не является ошибкой
// вызвавшей операции.
func (s *EscrowService) execute(ctx context.Context, m *models.EscrowMovement) {
	log := logger.WithComponent("escrow")

	if err := s.processor.Transfer(ctx, m.ID, m.Direction, m.Amount, m.RecipientID); err != nil {
		log.WithError(err).WithField("movement_id", m.ID).
			Warn("перевод не прошёл, движение осталось pending")
		if recErr := s.repo.RecordMovementFailure(ctx, m.ID, err.Error()); recErr != nil {
			log.WithError(recErr).Error("не удалось зафиксировать неудачную попытку")
		}
		return
	}

	if err := s.repo.CompleteMovement(ctx, m.ID); err != nil {
		log.WithError(err).WithField("movement_id", m.ID).
			Error("перевод прошёл, но движение не удалось отметить выполненным")
	}
}

// RetryPendingMovements повторяет отправку незавершённых движений.
// Обход идемпотентен: ключ идемпотентности процессинга и условное
// обновление статуса исключают двойные переводы.
func (s *EscrowService) RetryPendingMovements(ctx context.Context, batchSize int) (int, error) {
	movements, err := s.repo.ListPendingMovements(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("escrow")
	retried := 0
	for i := range movements {
		m := &movements[i]
		if m.Attempts >= maxMovementAttempts {
			cause := "превышено число попыток"
			if m.LastError != nil {
				cause = *m.LastError
			}
			if err := s.repo.MarkMovementFailed(ctx, m.ID, cause); err != nil {
				log.WithError(err).Error("не удалось пометить движение failed")
			}
			continue
		}
		s.execute(ctx, m)
		retried++
	}
	return retried, nil
}

// ListMovements возвращает историю движений по escrow-записи.
func (s *EscrowService) ListMovements(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowMovement, error) {
	return s.repo.ListMovements(ctx, escrowID)
}
