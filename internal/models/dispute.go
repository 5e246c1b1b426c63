package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы споров
const (
	DisputeStatusNew      = "new"
	DisputeStatusInReview = "in_review"
	DisputeStatusResolved = "resolved"
)

// Типы разрешения споров
const (
	ResolutionFullRefund          = "full_refund"
	ResolutionPartialRefund       = "partial_refund"
	ResolutionReleaseToFreelancer = "release_to_freelancer"
	ResolutionSplit               = "split"
	ResolutionNoAction            = "no_action"
)

// ValidResolutionTypes список валидных типов разрешения
var ValidResolutionTypes = map[string]struct{}{
	ResolutionFullRefund:          {},
	ResolutionPartialRefund:       {},
	ResolutionReleaseToFreelancer: {},
	ResolutionSplit:               {},
	ResolutionNoAction:            {},
}

// Dispute описывает спор по бронированию. На одно бронирование может
// существовать не более одного незакрытого спора.
type Dispute struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	BookingID        uuid.UUID  `db:"booking_id" json:"booking_id"`
	InitiatorID      uuid.UUID  `db:"initiator_id" json:"initiator_id"`
	Category         string     `db:"category" json:"category"`
	Description      string     `db:"description" json:"description"`
	Status           string     `db:"status" json:"status"`
	PrevBookingState string     `db:"prev_booking_state" json:"prev_booking_state"`
	ResolutionType   *string    `db:"resolution_type" json:"resolution_type,omitempty"`
	ResolutionAmount *int64     `db:"resolution_amount" json:"resolution_amount,omitempty"`
	ResolutionNotes  *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedBy       *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsOpen сообщает, не закрыт ли ещё спор.
func (d *Dispute) IsOpen() bool {
	return d.Status != DisputeStatusResolved
}

// ResolutionApplication описывает полный эффект разрешения спора: движения
// средств, снятие удержания и выход бронирования из disputed. Применяется
// одной транзакцией вместе с терминальным закрытием спора, чтобы сбой не
// оставил разрешённый спор с незавершённым эффектом.
type ResolutionApplication struct {
	BookingID   uuid.UUID
	Movements   []MovementPlan
	ReleaseHold bool
	BookingTo   string
}

// DisputeNote заметка администратора по спору, только добавляется.
type DisputeNote struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DisputeID uuid.UUID `db:"dispute_id" json:"dispute_id"`
	AuthorID  uuid.UUID `db:"author_id" json:"author_id"`
	Body      string    `db:"body" json:"body"`
	Internal  bool      `db:"internal" json:"internal"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisputeAttachment ссылка на файл-доказательство по спору.
type DisputeAttachment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DisputeID  uuid.UUID `db:"dispute_id" json:"dispute_id"`
	UploaderID uuid.UUID `db:"uploader_id" json:"uploader_id"`
	FileRef    string    `db:"file_ref" json:"file_ref"`
	FileName   string    `db:"file_name" json:"file_name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
