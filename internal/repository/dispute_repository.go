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

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create создаёт спор, гарантируя не более одного открытого спора на
// бронирование: вставка проходит только при отсутствии незакрытого спора.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO disputes (booking_id, initiator_id, category, description, status, prev_booking_state)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM disputes WHERE booking_id = $1 AND status <> $7
		)
		RETURNING id, created_at, updated_at
	`, d.BookingID, d.InitiatorID, d.Category, d.Description, d.Status, d.PrevBookingState,
		models.DisputeStatusResolved).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.New(apperror.ErrCodeInvalidArg, "по бронированию уже открыт спор")
	}
	if err != nil {
		return fmt.Errorf("dispute repository: create %w", err)
	}

	entry := models.AuditLogEntry{
		EntityType: models.AuditEntityDispute,
		EntityID:   d.ID,
		Action:     "raise",
		ActorID:    &d.InitiatorID,
		NewState:   d.Status,
	}
	if err := appendAuditTx(ctx, tx, &entry); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByID возвращает спор по идентификатору.
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `SELECT * FROM disputes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dispute repository: get by id %w", err)
	}
	return &d, nil
}

// GetOpenByBookingID возвращает незакрытый спор бронирования, если он есть.
func (r *DisputeRepository) GetOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM disputes WHERE booking_id = $1 AND status <> $2
	`, bookingID, models.DisputeStatusResolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dispute repository: get open by booking %w", err)
	}
	return &d, nil
}

// ListByBooking возвращает все споры бронирования, новые первыми.
func (r *DisputeRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes WHERE booking_id = $1 ORDER BY created_at DESC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by booking %w", err)
	}
	return disputes, nil
}

// List возвращает споры с необязательным фильтром по статусу.
func (r *DisputeRepository) List(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error) {
	query := `SELECT * FROM disputes`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var disputes []models.Dispute
	if err := r.db.SelectContext(ctx, &disputes, query, args...); err != nil {
		return nil, fmt.Errorf("dispute repository: list %w", err)
	}
	return disputes, nil
}

// UpdateStatus меняет статус спора с оптимистичным предусловием.
func (r *DisputeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, actorID uuid.UUID) (*models.Dispute, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var d models.Dispute
	err = tx.GetContext(ctx, &d, `
		UPDATE disputes SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM disputes WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("dispute repository: update status %w", err)
		}
		if exists == 0 {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("dispute repository: update status %w", err)
	}

	entry := models.AuditLogEntry{
		EntityType:    models.AuditEntityDispute,
		EntityID:      id,
		Action:        "status_change",
		ActorID:       &actorID,
		PreviousState: &from,
		NewState:      to,
	}
	if err := appendAuditTx(ctx, tx, &entry); err != nil {
		return nil, err
	}
	return &d, tx.Commit()
}

// ResolveAndApply терминально закрывает спор и одной транзакцией применяет
// весь эффект решения: движения средств, снятие удержания спора и выход
// бронирования из disputed. Условие status <> resolved защищает от
// конкурентного двойного разрешения: победит ровно один администратор, и
// только его эффект будет зафиксирован. Сбой любого шага откатывает всё,
// поэтому разрешённый спор с зависшим escrow или застрявшим бронированием
// невозможен.
func (r *DisputeRepository) ResolveAndApply(ctx context.Context, id uuid.UUID, resolutionType string, amount *int64, notes *string, resolvedBy uuid.UUID, apply models.ResolutionApplication) (*models.Dispute, []models.EscrowMovement, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	var d models.Dispute
	err = tx.GetContext(ctx, &d, `
		UPDATE disputes
		SET status = $2, resolution_type = $3, resolution_amount = $4, resolution_notes = $5,
			resolved_by = $6, resolved_at = $7, updated_at = NOW()
		WHERE id = $1 AND status <> $2
		RETURNING *
	`, id, models.DisputeStatusResolved, resolutionType, amount, notes, resolvedBy, now)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM disputes WHERE id = $1`, id); err != nil {
			return nil, nil, fmt.Errorf("dispute repository: resolve %w", err)
		}
		if exists == 0 {
			return nil, nil, apperror.ErrDisputeNotFound
		}
		return nil, nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже разрешён")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dispute repository: resolve %w", err)
	}

	entry := models.AuditLogEntry{
		EntityType: models.AuditEntityDispute,
		EntityID:   id,
		Action:     "resolve:" + resolutionType,
		ActorID:    &resolvedBy,
		NewState:   models.DisputeStatusResolved,
	}
	if err := appendAuditTx(ctx, tx, &entry); err != nil {
		return nil, nil, err
	}

	// Порядок блокировок общий для всех переходов: сначала бронирование,
	// затем escrow.
	if apply.BookingTo != models.BookingStatusDisputed {
		if _, err := updateBookingStatusTx(ctx, tx, apply.BookingID, models.BookingStatusDisputed, apply.BookingTo, "dispute_resolve", &resolvedBy, nil); err != nil {
			return nil, nil, err
		}
	}

	escrow, err := lockEscrowByBookingTx(ctx, tx, apply.BookingID)
	if err != nil {
		return nil, nil, err
	}

	var movements []models.EscrowMovement
	for _, plan := range apply.Movements {
		m, err := applyMovementTx(ctx, tx, escrow.ID, plan, MovementFromResolution, &resolvedBy)
		if err != nil {
			return nil, nil, err
		}
		movements = append(movements, *m)
	}

	if apply.ReleaseHold && escrow.Status == models.EscrowStatusDisputedHold {
		if _, err := tx.ExecContext(ctx, `
			UPDATE escrow_records SET status = $3, updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, escrow.ID, models.EscrowStatusDisputedHold, models.EscrowStatusHeld); err != nil {
			return nil, nil, fmt.Errorf("dispute repository: release hold %w", err)
		}
		prev := models.EscrowStatusDisputedHold
		holdEntry := models.AuditLogEntry{
			EntityType:    models.AuditEntityEscrow,
			EntityID:      escrow.ID,
			Action:        "status_change",
			ActorID:       &resolvedBy,
			PreviousState: &prev,
			NewState:      models.EscrowStatusHeld,
		}
		if err := appendAuditTx(ctx, tx, &holdEntry); err != nil {
			return nil, nil, err
		}
	}

	return &d, movements, tx.Commit()
}

// AddNote добавляет заметку администратора. Заметки не меняют статус спора
// и не трогают средства, допускаются и после разрешения.
func (r *DisputeRepository) AddNote(ctx context.Context, n *models.DisputeNote) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO dispute_notes (dispute_id, author_id, body, internal)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, n.DisputeID, n.AuthorID, n.Body, n.Internal).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: add note %w", err)
	}
	return nil
}

// ListNotes возвращает заметки спора; internalToo управляет видимостью
// внутренних заметок.
func (r *DisputeRepository) ListNotes(ctx context.Context, disputeID uuid.UUID, internalToo bool) ([]models.DisputeNote, error) {
	query := `SELECT * FROM dispute_notes WHERE dispute_id = $1`
	if !internalToo {
		query += ` AND internal = FALSE`
	}
	query += ` ORDER BY created_at`

	var notes []models.DisputeNote
	if err := r.db.SelectContext(ctx, &notes, query, disputeID); err != nil {
		return nil, fmt.Errorf("dispute repository: list notes %w", err)
	}
	return notes, nil
}

// AddAttachment сохраняет ссылку на файл-доказательство.
func (r *DisputeRepository) AddAttachment(ctx context.Context, a *models.DisputeAttachment) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO dispute_attachments (dispute_id, uploader_id, file_ref, file_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, a.DisputeID, a.UploaderID, a.FileRef, a.FileName).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: add attachment %w", err)
	}
	return nil
}

// ListAttachments возвращает доказательства по спору.
func (r *DisputeRepository) ListAttachments(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeAttachment, error) {
	var attachments []models.DisputeAttachment
	err := r.db.SelectContext(ctx, &attachments, `
		SELECT * FROM dispute_attachments WHERE dispute_id = $1 ORDER BY created_at
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list attachments %w", err)
	}
	return attachments, nil
}
