package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы escrow-записей
const (
	EscrowStatusHeld              = "held"
	EscrowStatusReleased          = "released"
	EscrowStatusRefunded          = "refunded"
	EscrowStatusPartiallyReleased = "partially_released"
	EscrowStatusDisputedHold      = "disputed_hold"
)

// Направления движения средств
const (
	MovementDirectionRelease = "release"
	MovementDirectionRefund  = "refund"
)

// Статусы движений средств
const (
	MovementStatusPending   = "pending"
	MovementStatusCompleted = "completed"
	MovementStatusFailed    = "failed"
)

// EscrowRecord хранит состояние удержанных средств по одному бронированию.
// Инвариант: released + refunded <= captured; при равенстве запись терминальна.
type EscrowRecord struct {
	ID             uuid.UUID `db:"id" json:"id"`
	BookingID      uuid.UUID `db:"booking_id" json:"booking_id"`
	CapturedAmount int64     `db:"captured_amount" json:"captured_amount"`
	ReleasedAmount int64     `db:"released_amount" json:"released_amount"`
	RefundedAmount int64     `db:"refunded_amount" json:"refunded_amount"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Remaining возвращает ещё не распределённую часть удержанной суммы.
func (e *EscrowRecord) Remaining() int64 {
	return e.CapturedAmount - e.ReleasedAmount - e.RefundedAmount
}

// IsSettled сообщает, распределена ли вся удержанная сумма.
func (e *EscrowRecord) IsSettled() bool {
	return e.Remaining() == 0
}

// StatusAfter вычисляет статус записи после применения движения. Вызывается
// только для строки, прочитанной под блокировкой: статус по уже изменённым
// суммам вычислять нельзя.
func (e *EscrowRecord) StatusAfter(direction string, amount int64) string {
	released := e.ReleasedAmount
	refunded := e.RefundedAmount
	if direction == MovementDirectionRelease {
		released += amount
	} else {
		refunded += amount
	}

	if released+refunded < e.CapturedAmount {
		return EscrowStatusPartiallyReleased
	}
	switch {
	case released > 0 && refunded > 0:
		return EscrowStatusPartiallyReleased
	case refunded == e.CapturedAmount:
		return EscrowStatusRefunded
	default:
		return EscrowStatusReleased
	}
}

// MovementPlan описывает одно запланированное движение средств. Планы
// применяются к escrow-записи в той же транзакции, что и породивший их
// переход статуса, поэтому переход без движения или движение без перехода
// невозможны.
type MovementPlan struct {
	Direction   string
	Amount      int64
	RecipientID uuid.UUID
}

// EscrowMovement фиксирует намерение перевода средств во внешний процессинг.
// Запись создаётся до вызова процессинга; её ID служит ключом идемпотентности,
// поэтому повторная попытка после сбоя не приводит к двойному переводу.
type EscrowMovement struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	EscrowID    uuid.UUID  `db:"escrow_id" json:"escrow_id"`
	BookingID   uuid.UUID  `db:"booking_id" json:"booking_id"`
	Direction   string     `db:"direction" json:"direction"`
	Amount      int64      `db:"amount" json:"amount"`
	RecipientID uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Status      string     `db:"status" json:"status"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
