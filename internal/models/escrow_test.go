package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscrowRecord_StatusAfter(t *testing.T) {
	base := &EscrowRecord{CapturedAmount: 10000, Status: EscrowStatusHeld}

	assert.Equal(t, EscrowStatusReleased, base.StatusAfter(MovementDirectionRelease, 10000))
	assert.Equal(t, EscrowStatusRefunded, base.StatusAfter(MovementDirectionRefund, 10000))
	assert.Equal(t, EscrowStatusPartiallyReleased, base.StatusAfter(MovementDirectionRelease, 4000))

	half := &EscrowRecord{CapturedAmount: 10000, RefundedAmount: 5000, Status: EscrowStatusPartiallyReleased}
	assert.Equal(t, EscrowStatusPartiallyReleased, half.StatusAfter(MovementDirectionRelease, 5000))

	// Статус выводится из сумм строки, а не из снимка до блокировки:
	// второе движение в той же транзакции видит обновлённые суммы.
	hold := &EscrowRecord{CapturedAmount: 10000, ReleasedAmount: 6000, Status: EscrowStatusDisputedHold}
	assert.Equal(t, EscrowStatusReleased, hold.StatusAfter(MovementDirectionRelease, 4000))
}

func TestEscrowRecord_Remaining(t *testing.T) {
	e := &EscrowRecord{CapturedAmount: 10000, ReleasedAmount: 3000, RefundedAmount: 2000}
	assert.Equal(t, int64(5000), e.Remaining())
	assert.False(t, e.IsSettled())

	e.RefundedAmount = 7000
	assert.True(t, e.IsSettled())
}
