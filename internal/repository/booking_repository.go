package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// ErrStatusChanged возвращается, когда условное обновление не прошло из-за
// конкурентного изменения статуса. Вызывающая сторона решает сама,
// повторять ли операцию; движок повторов не делает.
var ErrStatusChanged = apperror.New(apperror.ErrCodeConflict, "статус изменён конкурентной операцией")

type BookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create создаёт бронирование вместе с escrow-записью и записями аудита
// в одной транзакции. Средства считаются захваченными в момент заявки.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) (*models.EscrowRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO bookings (client_id, freelancer_id, service_id, start_at, end_at, location,
			base_amount, materials_cost, travel_fee, total_amount, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`, b.ClientID, b.FreelancerID, b.ServiceID, b.StartAt, b.EndAt, b.Location,
		b.BaseAmount, b.MaterialsCost, b.TravelFee, b.TotalAmount, b.Status, b.ExpiresAt).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("booking repository: create %w", err)
	}

	var escrow models.EscrowRecord
	err = tx.GetContext(ctx, &escrow, `
		INSERT INTO escrow_records (booking_id, captured_amount, released_amount, refunded_amount, status)
		VALUES ($1, $2, 0, 0, $3)
		RETURNING id, booking_id, captured_amount, released_amount, refunded_amount, status, created_at, updated_at
	`, b.ID, b.TotalAmount, models.EscrowStatusHeld)
	if err != nil {
		return nil, fmt.Errorf("booking repository: create escrow %w", err)
	}

	entries := []models.AuditLogEntry{
		{EntityType: models.AuditEntityBooking, EntityID: b.ID, Action: "request", ActorID: &b.ClientID, NewState: b.Status},
		{EntityType: models.AuditEntityEscrow, EntityID: escrow.ID, Action: "hold", ActorID: &b.ClientID, NewState: escrow.Status},
	}
	for i := range entries {
		if err := appendAuditTx(ctx, tx, &entries[i]); err != nil {
			return nil, err
		}
	}

	return &escrow, tx.Commit()
}

// GetByID возвращает бронирование по идентификатору.
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := r.db.GetContext(ctx, &b, `SELECT * FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("booking repository: get by id %w", err)
	}
	return &b, nil
}

// ListByParty возвращает бронирования, где пользователь является одной из
// сторон, с необязательным фильтром по статусу.
func (r *BookingRepository) ListByParty(ctx context.Context, partyID uuid.UUID, status string, limit, offset int) ([]models.Booking, error) {
	query := `
		SELECT * FROM bookings
		WHERE (client_id = $1 OR freelancer_id = $1)
	`
	args := []interface{}{partyID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("booking repository: list by party %w", err)
	}
	return bookings, nil
}

// UpdateStatus выполняет переход статуса с оптимистичным предусловием:
// обновление проходит только если текущий статус равен ожидаемому.
// Запись аудита пишется в той же транзакции. При несовпадении предусловия
// возвращается ErrStatusChanged, при отсутствии записи — NotFound.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := updateBookingStatusTx(ctx, tx, id, from, to, action, actorID, reason)
	if err != nil {
		return nil, err
	}
	return b, tx.Commit()
}

func updateBookingStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string) (*models.Booking, error) {
	if !models.CanTransition(from, to) {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "недопустимый переход статуса бронирования")
	}

	var b models.Booking
	err := tx.GetContext(ctx, &b, `
		UPDATE bookings
		SET status = $3, cancel_reason = COALESCE($4, cancel_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to, reason)
	if errors.Is(err, sql.ErrNoRows) {
		// Предусловие не прошло: либо записи нет, либо статус уже другой.
		var current string
		err = tx.GetContext(ctx, &current, `SELECT status FROM bookings WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrBookingNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("booking repository: update status %w", err)
		}
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("booking repository: update status %w", err)
	}

	entry := models.AuditLogEntry{
		EntityType:    models.AuditEntityBooking,
		EntityID:      id,
		Action:        action,
		ActorID:       actorID,
		PreviousState: &from,
		NewState:      to,
	}
	if err := appendAuditTx(ctx, tx, &entry); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatusWithMovements выполняет переход статуса и применяет движения
// средств по escrow бронирования одной транзакцией. Одновременная фиксация
// исключает бронирования в терминальном статусе с зависшим остатком escrow:
// либо проходит и переход, и леджер, либо ничего.
func (r *BookingRepository) UpdateStatusWithMovements(ctx context.Context, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string, plans []models.MovementPlan) (*models.Booking, []models.EscrowMovement, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	b, err := updateBookingStatusTx(ctx, tx, id, from, to, action, actorID, reason)
	if err != nil {
		return nil, nil, err
	}

	var movements []models.EscrowMovement
	if len(plans) > 0 {
		escrow, err := lockEscrowByBookingTx(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		for _, plan := range plans {
			m, err := applyMovementTx(ctx, tx, escrow.ID, plan, MovementFromActive, actorID)
			if err != nil {
				return nil, nil, err
			}
			movements = append(movements, *m)
		}
	}

	return b, movements, tx.Commit()
}

// ClaimExpired переводит просроченные pending-бронирования в expired и в той
// же транзакции возвращает клиентам нераспределённый остаток escrow.
// Условное обновление по статусу делает обход идемпотентным и безопасным
// при параллельном запуске: каждое бронирование достаётся ровно одному
// экземпляру обхода, а возврат не может потеряться между переходом и леджером.
func (r *BookingRepository) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]models.Booking, []models.EscrowMovement, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var claimed []models.Booking
	err = tx.SelectContext(ctx, &claimed, `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM bookings
			WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, models.BookingStatusExpired, models.BookingStatusPending, now, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("booking repository: claim expired %w", err)
	}

	prev := models.BookingStatusPending
	var movements []models.EscrowMovement
	for i := range claimed {
		entry := models.AuditLogEntry{
			EntityType:    models.AuditEntityBooking,
			EntityID:      claimed[i].ID,
			Action:        "expire",
			PreviousState: &prev,
			NewState:      models.BookingStatusExpired,
		}
		if err := appendAuditTx(ctx, tx, &entry); err != nil {
			return nil, nil, err
		}

		escrow, err := lockEscrowByBookingTx(ctx, tx, claimed[i].ID)
		if err != nil {
			return nil, nil, err
		}
		if escrow.Remaining() <= 0 {
			continue
		}
		plan := models.MovementPlan{
			Direction:   models.MovementDirectionRefund,
			Amount:      escrow.Remaining(),
			RecipientID: claimed[i].ClientID,
		}
		m, err := applyMovementTx(ctx, tx, escrow.ID, plan, MovementFromActive, nil)
		if err != nil {
			return nil, nil, err
		}
		movements = append(movements, *m)
	}

	return claimed, movements, tx.Commit()
}

// ListReleasable возвращает завершённые бронирования, чей escrow ещё удержан
// и завершение случилось раньше заданного момента. Источник для обхода
// автоматического освобождения средств.
func (r *BookingRepository) ListReleasable(ctx context.Context, completedBefore time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT b.* FROM bookings b
		JOIN escrow_records e ON e.booking_id = b.id
		WHERE b.status = $1 AND e.status = $2 AND b.updated_at < $3
		ORDER BY b.updated_at
		LIMIT $4
	`, models.BookingStatusCompleted, models.EscrowStatusHeld, completedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list releasable %w", err)
	}
	return bookings, nil
}
