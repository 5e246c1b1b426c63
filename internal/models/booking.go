package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы бронирований
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
	BookingStatusExpired   = "expired"
	BookingStatusDisputed  = "disputed"
)

// ValidBookingStatuses список валидных статусов бронирований
var ValidBookingStatuses = map[string]struct{}{
	BookingStatusPending:   {},
	BookingStatusConfirmed: {},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
	BookingStatusExpired:   {},
	BookingStatusDisputed:  {},
}

// bookingTransitions описывает допустимые рёбра графа статусов.
var bookingTransitions = map[string]map[string]struct{}{
	BookingStatusPending: {
		BookingStatusConfirmed: {},
		BookingStatusCancelled: {},
		BookingStatusExpired:   {},
	},
	BookingStatusConfirmed: {
		BookingStatusCompleted: {},
		BookingStatusCancelled: {},
		BookingStatusDisputed:  {},
	},
	BookingStatusCompleted: {
		BookingStatusDisputed: {},
	},
	BookingStatusDisputed: {
		BookingStatusCompleted: {},
		BookingStatusCancelled: {},
		BookingStatusConfirmed: {},
	},
}

// CanTransition проверяет, допустим ли переход статуса бронирования.
func CanTransition(from, to string) bool {
	next, ok := bookingTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Booking описывает одно бронирование услуги между клиентом и исполнителем.
// Все денежные суммы хранятся в минимальных единицах (пенсах/копейках).
type Booking struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ClientID       uuid.UUID  `db:"client_id" json:"client_id"`
	FreelancerID   uuid.UUID  `db:"freelancer_id" json:"freelancer_id"`
	ServiceID      uuid.UUID  `db:"service_id" json:"service_id"`
	StartAt        time.Time  `db:"start_at" json:"start_at"`
	EndAt          time.Time  `db:"end_at" json:"end_at"`
	Location       string     `db:"location" json:"location"`
	BaseAmount     int64      `db:"base_amount" json:"base_amount"`
	MaterialsCost  int64      `db:"materials_cost" json:"materials_cost"`
	TravelFee      int64      `db:"travel_fee" json:"travel_fee"`
	TotalAmount    int64      `db:"total_amount" json:"total_amount"`
	Status         string     `db:"status" json:"status"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsParty сообщает, является ли пользователь стороной бронирования.
func (b *Booking) IsParty(userID uuid.UUID) bool {
	return b.ClientID == userID || b.FreelancerID == userID
}
