package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// GetByBookingID возвращает escrow-запись бронирования.
func (r *EscrowRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.EscrowRecord, error) {
	var e models.EscrowRecord
	err := r.db.GetContext(ctx, &e, `SELECT * FROM escrow_records WHERE booking_id = $1`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: get by booking %w", err)
	}
	return &e, nil
}

// Допустимые исходные статусы escrow для движения средств. Обычные операции
// (отмены, истечение, авто-освобождение) не трогают запись под удержанием
// спора; разрешение спора — единственный путь, которому это позволено.
var (
	MovementFromActive     = []string{models.EscrowStatusHeld, models.EscrowStatusPartiallyReleased}
	MovementFromResolution = []string{models.EscrowStatusDisputedHold, models.EscrowStatusHeld, models.EscrowStatusPartiallyReleased}
)

// BeginMovement атомарно списывает сумму с остатка escrow и создаёт
// pending-движение для внешнего процессинга. Сумма и статус проверяются под
// блокировкой строки: движение из статуса вне fromStatuses отклоняется
// конфликтом, а инвариант released + refunded <= captured не нарушается
// ни при каком переплетении конкурентных операций.
func (r *EscrowRepository) BeginMovement(ctx context.Context, escrowID uuid.UUID, plan models.MovementPlan, fromStatuses []string, actorID *uuid.UUID) (*models.EscrowMovement, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := applyMovementTx(ctx, tx, escrowID, plan, fromStatuses, actorID)
	if err != nil {
		return nil, err
	}
	return m, tx.Commit()
}

// applyMovementTx применяет одно движение к escrow-записи внутри уже открытой
// транзакции. Строка блокируется на каждый план заново, поэтому несколько
// планов подряд в одной транзакции видят изменения друг друга и итоговый
// статус выводится из актуальных сумм, а не из снимка до блокировки.
func applyMovementTx(ctx context.Context, tx *sqlx.Tx, escrowID uuid.UUID, plan models.MovementPlan, fromStatuses []string, actorID *uuid.UUID) (*models.EscrowMovement, error) {
	if plan.Amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "сумма движения должна быть положительной")
	}

	var e models.EscrowRecord
	err := tx.GetContext(ctx, &e, `SELECT * FROM escrow_records WHERE id = $1 FOR UPDATE`, escrowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: lock record %w", err)
	}

	allowed := false
	for _, from := range fromStatuses {
		if e.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperror.New(apperror.ErrCodeConflict, "статус escrow не допускает движение средств")
	}
	if e.IsSettled() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "средства escrow уже полностью распределены")
	}
	if plan.Amount > e.Remaining() {
		return nil, apperror.New(apperror.ErrCodeInvalidArg, "сумма движения превышает остаток escrow")
	}

	column := "released_amount"
	if plan.Direction == models.MovementDirectionRefund {
		column = "refunded_amount"
	}
	prevStatus := e.Status
	newStatus := e.StatusAfter(plan.Direction, plan.Amount)
	query := fmt.Sprintf(`
		UPDATE escrow_records
		SET %s = %s + $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`, column, column)
	if _, err := tx.ExecContext(ctx, query, escrowID, plan.Amount, newStatus); err != nil {
		return nil, fmt.Errorf("escrow repository: apply movement %w", err)
	}

	var m models.EscrowMovement
	err = tx.GetContext(ctx, &m, `
		INSERT INTO escrow_movements (escrow_id, booking_id, direction, amount, recipient_id, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING id, escrow_id, booking_id, direction, amount, recipient_id, status, attempts, last_error, created_at, completed_at
	`, escrowID, e.BookingID, plan.Direction, plan.Amount, plan.RecipientID, models.MovementStatusPending)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: create movement %w", err)
	}

	entry := models.AuditLogEntry{
		EntityType:    models.AuditEntityEscrow,
		EntityID:      escrowID,
		Action:        plan.Direction,
		ActorID:       actorID,
		PreviousState: &prevStatus,
		NewState:      newStatus,
	}
	if err := appendAuditTx(ctx, tx, &entry); err != nil {
		return nil, err
	}
	return &m, nil
}

// lockEscrowByBookingTx блокирует escrow-запись бронирования внутри
// транзакции. Используется переходами статусов, применяющими движения
// средств в той же транзакции.
func lockEscrowByBookingTx(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID) (*models.EscrowRecord, error) {
	var e models.EscrowRecord
	err := tx.GetContext(ctx, &e, `SELECT * FROM escrow_records WHERE booking_id = $1 FOR UPDATE`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escrow repository: lock by booking %w", err)
	}
	return &e, nil
}

// UpdateStatus переводит escrow-запись между статусами без движения средств
// (удержание на время спора и возврат из него). Условное обновление.
func (r *EscrowRepository) UpdateStatus(ctx context.Context, escrowID uuid.UUID, from, to string, actorID *uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE escrow_records SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, escrowID, from, to)
	if err != nil {
		return fmt.Errorf("escrow repository: update status %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatusChanged
	}

	entry := models.AuditLogEntry{
		EntityType:    models.AuditEntityEscrow,
		EntityID:      escrowID,
		Action:        "status_change",
		ActorID:       actorID,
		PreviousState: &from,
		NewState:      to,
	}
	if err := appendAuditTx(ctx, tx, &entry); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteMovement отмечает движение выполненным после подтверждения
// процессинга. Условие по статусу защищает от двойной обработки.
func (r *EscrowRepository) CompleteMovement(ctx context.Context, movementID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_movements
		SET status = $2, attempts = attempts + 1, completed_at = NOW()
		WHERE id = $1 AND status = $3
	`, movementID, models.MovementStatusCompleted, models.MovementStatusPending)
	if err != nil {
		return fmt.Errorf("escrow repository: complete movement %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// RecordMovementFailure фиксирует неудачную попытку вызова процессинга.
// Движение остаётся pending и будет повторено фоновым обходом.
func (r *EscrowRepository) RecordMovementFailure(ctx context.Context, movementID uuid.UUID, cause string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE escrow_movements
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND status = $3
	`, movementID, cause, models.MovementStatusPending)
	if err != nil {
		return fmt.Errorf("escrow repository: record failure %w", err)
	}
	return nil
}

// MarkMovementFailed окончательно помечает движение неуспешным после
// исчерпания попыток; дальше требуется ручное вмешательство.
func (r *EscrowRepository) MarkMovementFailed(ctx context.Context, movementID uuid.UUID, cause string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE escrow_movements
		SET status = $2, last_error = $3
		WHERE id = $1 AND status = $4
	`, movementID, models.MovementStatusFailed, cause, models.MovementStatusPending)
	if err != nil {
		return fmt.Errorf("escrow repository: mark failed %w", err)
	}
	return nil
}

// ListPendingMovements возвращает движения, ожидающие отправки в процессинг.
func (r *EscrowRepository) ListPendingMovements(ctx context.Context, limit int) ([]models.EscrowMovement, error) {
	var movements []models.EscrowMovement
	err := r.db.SelectContext(ctx, &movements, `
		SELECT * FROM escrow_movements
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, models.MovementStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list pending %w", err)
	}
	return movements, nil
}

// ListMovements возвращает историю движений по escrow-записи.
func (r *EscrowRepository) ListMovements(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowMovement, error) {
	var movements []models.EscrowMovement
	err := r.db.SelectContext(ctx, &movements, `
		SELECT * FROM escrow_movements WHERE escrow_id = $1 ORDER BY created_at
	`, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list movements %w", err)
	}
	return movements, nil
}
