package models

import (
	"time"

	"github.com/google/uuid"
)

// CancellationPolicyTier пара (порог в часах до начала, процент возврата).
// Набор тарифов упорядочен по убыванию порога.
type CancellationPolicyTier struct {
	HoursThreshold int `db:"hours_threshold" json:"hours_threshold"`
	RefundPercent  int `db:"refund_percent" json:"refund_percent"`
}

// PolicySnapshot версионированный снимок набора тарифов отмены.
// Передаётся в машину состояний на момент операции, дальнейшие правки
// конфигурации на уже начатую операцию не влияют.
type PolicySnapshot struct {
	Version   int                      `db:"version" json:"version"`
	Tiers     []CancellationPolicyTier `json:"tiers"`
	UpdatedAt time.Time                `db:"updated_at" json:"updated_at"`
}

// ReliabilityConfig пороги надёжности исполнителей.
type ReliabilityConfig struct {
	WarningThreshold    int       `db:"warning_threshold" json:"warning_threshold"`
	SuspensionThreshold int       `db:"suspension_threshold" json:"suspension_threshold"`
	TimeWindowDays      int       `db:"time_window_days" json:"time_window_days"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// ReliabilityEvent фиксирует отмену подтверждённого бронирования исполнителем.
// Неизменяем после создания, используется только в агрегате скользящего окна.
type ReliabilityEvent struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FreelancerID uuid.UUID `db:"freelancer_id" json:"freelancer_id"`
	BookingID    uuid.UUID `db:"booking_id" json:"booking_id"`
	LastMinute   bool      `db:"last_minute" json:"last_minute"`
	OccurredAt   time.Time `db:"occurred_at" json:"occurred_at"`
}
