package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы сущностей в журнале аудита
const (
	AuditEntityBooking = "booking"
	AuditEntityEscrow  = "escrow"
	AuditEntityDispute = "dispute"
)

// AuditLogEntry неизменяемая запись журнала аудита. Журнал только пополняется.
type AuditLogEntry struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	EntityType    string     `db:"entity_type" json:"entity_type"`
	EntityID      uuid.UUID  `db:"entity_id" json:"entity_id"`
	Action        string     `db:"action" json:"action"`
	ActorID       *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	PreviousState *string    `db:"previous_state" json:"previous_state,omitempty"`
	NewState      string     `db:"new_state" json:"new_state"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
