package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uslugihub/booking-backend/internal/models"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append добавляет запись в журнал аудита.
func (r *AuditRepository) Append(ctx context.Context, e *models.AuditLogEntry) error {
	return appendAuditTx(ctx, r.db, e)
}

// ListByEntity возвращает историю изменений сущности, новые записи первыми.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, entity_type, entity_id, action, actor_id, previous_state, new_state, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit repository: list by entity %w", err)
	}
	return entries, nil
}

// appendAuditTx пишет запись журнала через произвольный исполнитель запросов:
// пул соединений или транзакцию репозитория, меняющего состояние.
func appendAuditTx(ctx context.Context, ext sqlx.ExtContext, e *models.AuditLogEntry) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, actor_id, previous_state, new_state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.EntityType, e.EntityID, e.Action, e.ActorID, e.PreviousState, e.NewState)
	if err != nil {
		return fmt.Errorf("audit repository: append %w", err)
	}
	return nil
}
