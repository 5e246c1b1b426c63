package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uslugihub/booking-backend/internal/models"
)

type ReliabilityRepository struct {
	db *sqlx.DB
}

func NewReliabilityRepository(db *sqlx.DB) *ReliabilityRepository {
	return &ReliabilityRepository{db: db}
}

// InsertEvent сохраняет событие надёжности. События неизменяемы.
func (r *ReliabilityRepository) InsertEvent(ctx context.Context, e *models.ReliabilityEvent) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO reliability_events (freelancer_id, booking_id, last_minute, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.FreelancerID, e.BookingID, e.LastMinute, e.OccurredAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("reliability repository: insert event %w", err)
	}
	return nil
}

// CountLastMinuteSince считает отмены в последний момент в скользящем окне.
// События старше границы окна в счёт не входят.
func (r *ReliabilityRepository) CountLastMinuteSince(ctx context.Context, freelancerID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM reliability_events
		WHERE freelancer_id = $1 AND last_minute = TRUE AND occurred_at >= $2
	`, freelancerID, since)
	if err != nil {
		return 0, fmt.Errorf("reliability repository: count last minute %w", err)
	}
	return count, nil
}

// ListEvents возвращает события исполнителя, новые первыми.
func (r *ReliabilityRepository) ListEvents(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.ReliabilityEvent, error) {
	var events []models.ReliabilityEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM reliability_events
		WHERE freelancer_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`, freelancerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("reliability repository: list events %w", err)
	}
	return events, nil
}
