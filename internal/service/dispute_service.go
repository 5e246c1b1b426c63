package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/logger"
	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// DisputeRepository описывает хранилище споров.
type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, actorID uuid.UUID) (*models.Dispute, error)
	ResolveAndApply(ctx context.Context, id uuid.UUID, resolutionType string, amount *int64, notes *string, resolvedBy uuid.UUID, apply models.ResolutionApplication) (*models.Dispute, []models.EscrowMovement, error)
	AddNote(ctx context.Context, n *models.DisputeNote) error
	ListNotes(ctx context.Context, disputeID uuid.UUID, internalToo bool) ([]models.DisputeNote, error)
	AddAttachment(ctx context.Context, a *models.DisputeAttachment) error
	ListAttachments(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeAttachment, error)
}

// DisputeService реализует жизненный цикл споров. Движение средств при
// разрешении идёт через тот же FundMover, что и у машины состояний
// бронирований, поэтому инварианты леджера не зависят от вызывающего.
type DisputeService struct {
	disputes DisputeRepository
	bookings BookingRepository
	escrow   FundMover
	audit    AuditReader
}

func NewDisputeService(disputes DisputeRepository, bookings BookingRepository, escrow FundMover, audit AuditReader) *DisputeService {
	return &DisputeService{disputes: disputes, bookings: bookings, escrow: escrow, audit: audit}
}

// Raise открывает спор по бронированию. Допустимо только для статусов
// confirmed и completed и только при отсутствии другого незакрытого спора.
func (s *DisputeService) Raise(ctx context.Context, bookingID, initiatorID uuid.UUID, category, description string) (*models.Dispute, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(initiatorID) {
		return nil, apperror.ErrForbidden
	}
	if b.Status != models.BookingStatusConfirmed && b.Status != models.BookingStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "спор допустим только по подтверждённому или завершённому бронированию")
	}
	if category == "" || description == "" {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "категория и описание спора обязательны")
	}

	// Переход бронирования в disputed служит гонкоупорным замком: из двух
	// конкурентных попыток откроется ровно один спор.
	prevStatus := b.Status
	if _, err := s.bookings.UpdateStatus(ctx, bookingID, prevStatus, models.BookingStatusDisputed, "dispute_raise", &initiatorID, nil); err != nil {
		return nil, err
	}

	d := &models.Dispute{
		BookingID:        bookingID,
		InitiatorID:      initiatorID,
		Category:         category,
		Description:      description,
		Status:           models.DisputeStatusNew,
		PrevBookingState: prevStatus,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, err
	}

	// Приостанавливаем авто-освобождение на время спора. Если средства уже
	// частично распределены, запись не в held — удержание тогда не нужно.
	escrow, err := s.escrow.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if escrow.Status == models.EscrowStatusHeld {
		if err := s.escrow.MarkDisputed(ctx, escrow.ID, &initiatorID); err != nil && !apperror.IsConflict(err) {
			return nil, err
		}
	}
	return d, nil
}

// ChangeStatus переводит спор между new и in_review (в обе стороны:
// администратор может вернуть спор из review обратно).
func (s *DisputeService) ChangeStatus(ctx context.Context, disputeID uuid.UUID, to string, adminID uuid.UUID) (*models.Dispute, error) {
	if to != models.DisputeStatusNew && to != models.DisputeStatusInReview {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "допустимы только статусы new и in_review")
	}

	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "разрешённый спор нельзя переводить между статусами")
	}
	if d.Status == to {
		return d, nil
	}
	return s.disputes.UpdateStatus(ctx, disputeID, d.Status, to, adminID)
}

// ResolveInput описывает решение администратора по спору.
type ResolveInput struct {
	DisputeID      uuid.UUID
	AdminID        uuid.UUID
	ResolutionType string
	Amount         *int64
	Notes          *string
}

// Resolve терминально закрывает спор и применяет финансовый эффект решения
// к остатку escrow. Закрытие, движения средств и выход бронирования из
// disputed фиксируются одной транзакцией под предусловием status <> resolved:
// из конкурентных разрешений эффект применит ровно одно, а сбой не оставит
// разрешённый спор с неприменённым эффектом. Бронирование выходит из
// disputed: completed, если какие-то средства ушли исполнителю, cancelled
// при полном возврате, и прежний статус при no_action.
func (s *DisputeService) Resolve(ctx context.Context, in ResolveInput) (*models.Dispute, error) {
	if _, ok := models.ValidResolutionTypes[in.ResolutionType]; !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "неизвестный тип разрешения")
	}

	d, err := s.disputes.GetByID(ctx, in.DisputeID)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetByID(ctx, d.BookingID)
	if err != nil {
		return nil, err
	}
	escrow, err := s.escrow.GetByBookingID(ctx, d.BookingID)
	if err != nil {
		return nil, err
	}
	remaining := escrow.Remaining()

	if in.ResolutionType == models.ResolutionPartialRefund {
		if in.Amount == nil || *in.Amount <= 0 {
			return nil, apperror.New(apperror.ErrCodeInvalidArg, "для частичного возврата требуется сумма")
		}
		if *in.Amount > remaining {
			return nil, apperror.New(apperror.ErrCodeInvalidArg, "сумма возврата превышает остаток escrow")
		}
	}

	apply := planResolution(d, b, remaining, in)
	d, movements, err := s.disputes.ResolveAndApply(ctx, in.DisputeID, in.ResolutionType, in.Amount, in.Notes, in.AdminID, apply)
	if err != nil {
		return nil, err
	}

	s.escrow.ExecuteMovements(ctx, movements)
	return d, nil
}

// planResolution раскладывает решение администратора на движения средств и
// итоговый статус бронирования. Суммы перепроверяются под блокировкой при
// применении плана.
func planResolution(d *models.Dispute, b *models.Booking, remaining int64, in ResolveInput) models.ResolutionApplication {
	apply := models.ResolutionApplication{BookingID: b.ID}
	refundPlan := func(amount int64) models.MovementPlan {
		return models.MovementPlan{Direction: models.MovementDirectionRefund, Amount: amount, RecipientID: b.ClientID}
	}
	releasePlan := func(amount int64) models.MovementPlan {
		return models.MovementPlan{Direction: models.MovementDirectionRelease, Amount: amount, RecipientID: b.FreelancerID}
	}

	switch in.ResolutionType {
	case models.ResolutionFullRefund:
		if remaining > 0 {
			apply.Movements = append(apply.Movements, refundPlan(remaining))
		}
		apply.BookingTo = models.BookingStatusCancelled

	case models.ResolutionPartialRefund:
		refund := *in.Amount
		apply.Movements = append(apply.Movements, refundPlan(refund))
		if release := remaining - refund; release > 0 {
			apply.Movements = append(apply.Movements, releasePlan(release))
			apply.BookingTo = models.BookingStatusCompleted
		} else {
			apply.BookingTo = models.BookingStatusCancelled
		}

	case models.ResolutionReleaseToFreelancer:
		if remaining > 0 {
			apply.Movements = append(apply.Movements, releasePlan(remaining))
		}
		apply.BookingTo = models.BookingStatusCompleted

	case models.ResolutionSplit:
		// Неделимый остаток нечётной суммы достаётся клиенту.
		refund := (remaining + 1) / 2
		if refund > 0 {
			apply.Movements = append(apply.Movements, refundPlan(refund))
		}
		if release := remaining - refund; release > 0 {
			apply.Movements = append(apply.Movements, releasePlan(release))
			apply.BookingTo = models.BookingStatusCompleted
		} else {
			apply.BookingTo = models.BookingStatusCancelled
		}

	default: // no_action
		// Снимаем удержание спора: следующий обход авто-освобождения
		// снова рассматривает запись.
		apply.ReleaseHold = true
		apply.BookingTo = d.PrevBookingState
	}
	return apply
}

// AddNote добавляет заметку администратора; допускается в любом статусе,
// включая разрешённый спор, и не влияет ни на статус, ни на средства.
func (s *DisputeService) AddNote(ctx context.Context, disputeID, authorID uuid.UUID, body string, internal bool) (*models.DisputeNote, error) {
	if body == "" {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "текст заметки обязателен")
	}
	if _, err := s.disputes.GetByID(ctx, disputeID); err != nil {
		return nil, err
	}

	n := &models.DisputeNote{
		DisputeID: disputeID,
		AuthorID:  authorID,
		Body:      body,
		Internal:  internal,
	}
	if err := s.disputes.AddNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// AddAttachment сохраняет ссылку на файл-доказательство по открытому спору.
func (s *DisputeService) AddAttachment(ctx context.Context, disputeID, uploaderID uuid.UUID, fileRef, fileName string) (*models.DisputeAttachment, error) {
	if fileRef == "" {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "ссылка на файл обязательна")
	}
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "к разрешённому спору нельзя добавлять доказательства")
	}

	a := &models.DisputeAttachment{
		DisputeID:  disputeID,
		UploaderID: uploaderID,
		FileRef:    fileRef,
		FileName:   fileName,
	}
	if err := s.disputes.AddAttachment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// DisputeTimeline полная картина спора для отображения: спор, заметки,
// доказательства и история бронирования.
type DisputeTimeline struct {
	Dispute      *models.Dispute            `json:"dispute"`
	Notes        []models.DisputeNote       `json:"notes"`
	Attachments  []models.DisputeAttachment `json:"attachments"`
	BookingTrail []models.AuditLogEntry     `json:"booking_trail"`
}

// GetWithTimeline возвращает спор со всем контекстом. internalNotes
// управляет видимостью внутренних заметок (только для администраторов).
func (s *DisputeService) GetWithTimeline(ctx context.Context, disputeID uuid.UUID, internalNotes bool) (*DisputeTimeline, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	notes, err := s.disputes.ListNotes(ctx, disputeID, internalNotes)
	if err != nil {
		return nil, err
	}
	attachments, err := s.disputes.ListAttachments(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	trail, err := s.audit.ListByEntity(ctx, models.AuditEntityBooking, d.BookingID, 50, 0)
	if err != nil {
		logger.WithComponent("dispute").WithError(err).Warn("история бронирования недоступна")
		trail = nil
	}

	return &DisputeTimeline{
		Dispute:      d,
		Notes:        notes,
		Attachments:  attachments,
		BookingTrail: trail,
	}, nil
}

// GetByID возвращает спор.
func (s *DisputeService) GetByID(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.disputes.GetByID(ctx, disputeID)
}

// List возвращает споры с фильтром по статусу.
func (s *DisputeService) List(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error) {
	if status != "" && status != models.DisputeStatusNew && status != models.DisputeStatusInReview && status != models.DisputeStatusResolved {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "неизвестный статус спора")
	}
	return s.disputes.List(ctx, status, limit, offset)
}

// ListByBooking возвращает все споры бронирования.
func (s *DisputeService) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	return s.disputes.ListByBooking(ctx, bookingID)
}

// BookingByDispute возвращает бронирование, к которому относится спор.
// Используется для проверки, что читающий является стороной бронирования.
func (s *DisputeService) BookingByDispute(ctx context.Context, d *models.Dispute) (*models.Booking, error) {
	return s.bookings.GetByID(ctx, d.BookingID)
}
