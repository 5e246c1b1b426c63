package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// fakeBookingStore держит бронирования и escrow в памяти и повторяет
// семантику хранилища: условные переходы, возвраты в той же "транзакции",
// движение только из допустимого статуса. Нужен там, где мок с жёсткими
// ожиданиями не покажет поведение между повторными вызовами.
type fakeBookingStore struct {
	bookings map[uuid.UUID]*models.Booking
	escrows  map[uuid.UUID]*models.EscrowRecord // по booking_id
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{
		bookings: make(map[uuid.UUID]*models.Booking),
		escrows:  make(map[uuid.UUID]*models.EscrowRecord),
	}
}

func (s *fakeBookingStore) add(b models.Booking, captured int64, escrowStatus string) {
	s.bookings[b.ID] = &b
	s.escrows[b.ID] = &models.EscrowRecord{
		ID: uuid.New(), BookingID: b.ID, CapturedAmount: captured, Status: escrowStatus,
	}
}

func (s *fakeBookingStore) Create(ctx context.Context, b *models.Booking) (*models.EscrowRecord, error) {
	return nil, apperror.New(apperror.ErrCodeInternal, "не используется")
}

func (s *fakeBookingStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, apperror.ErrBookingNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *fakeBookingStore) ListByParty(ctx context.Context, partyID uuid.UUID, status string, limit, offset int) ([]models.Booking, error) {
	return nil, nil
}

func (s *fakeBookingStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string) (*models.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, apperror.ErrBookingNotFound
	}
	if b.Status != from {
		return nil, apperror.New(apperror.ErrCodeConflict, "статус бронирования изменился")
	}
	b.Status = to
	copied := *b
	return &copied, nil
}

func (s *fakeBookingStore) UpdateStatusWithMovements(ctx context.Context, id uuid.UUID, from, to, action string, actorID *uuid.UUID, reason *string, plans []models.MovementPlan) (*models.Booking, []models.EscrowMovement, error) {
	b, err := s.UpdateStatus(ctx, id, from, to, action, actorID, reason)
	if err != nil {
		return nil, nil, err
	}
	movements, err := s.applyPlans(id, plans)
	if err != nil {
		return nil, nil, err
	}
	return b, movements, nil
}

func (s *fakeBookingStore) applyPlans(bookingID uuid.UUID, plans []models.MovementPlan) ([]models.EscrowMovement, error) {
	e := s.escrows[bookingID]
	var movements []models.EscrowMovement
	for _, plan := range plans {
		if e.Status != models.EscrowStatusHeld && e.Status != models.EscrowStatusPartiallyReleased {
			return nil, apperror.New(apperror.ErrCodeConflict, "статус escrow не допускает движение средств")
		}
		if plan.Amount > e.Remaining() {
			return nil, apperror.New(apperror.ErrCodeInvalidArg, "сумма движения превышает остаток escrow")
		}
		newStatus := e.StatusAfter(plan.Direction, plan.Amount)
		if plan.Direction == models.MovementDirectionRefund {
			e.RefundedAmount += plan.Amount
		} else {
			e.ReleasedAmount += plan.Amount
		}
		e.Status = newStatus
		movements = append(movements, models.EscrowMovement{
			ID: uuid.New(), EscrowID: e.ID, BookingID: bookingID,
			Direction: plan.Direction, Amount: plan.Amount, RecipientID: plan.RecipientID,
			Status: models.MovementStatusPending,
		})
	}
	return movements, nil
}

func (s *fakeBookingStore) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]models.Booking, []models.EscrowMovement, error) {
	var claimed []models.Booking
	var movements []models.EscrowMovement
	for _, b := range s.bookings {
		if b.Status != models.BookingStatusPending || b.ExpiresAt == nil || !b.ExpiresAt.Before(now) {
			continue
		}
		b.Status = models.BookingStatusExpired
		e := s.escrows[b.ID]
		if e.Remaining() > 0 {
			ms, err := s.applyPlans(b.ID, []models.MovementPlan{{
				Direction: models.MovementDirectionRefund, Amount: e.Remaining(), RecipientID: b.ClientID,
			}})
			if err != nil {
				return nil, nil, err
			}
			movements = append(movements, ms...)
		}
		claimed = append(claimed, *b)
	}
	return claimed, movements, nil
}

// ListReleasable отдаёт снимок: статус escrow после выборки может измениться
// до движения средств, это и проверяют тесты обхода.
func (s *fakeBookingStore) ListReleasable(ctx context.Context, completedBefore time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range s.bookings {
		if b.Status == models.BookingStatusCompleted {
			out = append(out, *b)
		}
	}
	return out, nil
}

// fakeFundMover проверяет статус escrow в момент движения, как это делает
// хранилище под блокировкой, и считает реальные переводы.
type fakeFundMover struct {
	store     *fakeBookingStore
	stale     map[uuid.UUID]*models.EscrowRecord // снимки для чтений вне транзакции
	transfers int
	executed  []models.EscrowMovement
}

func (m *fakeFundMover) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.EscrowRecord, error) {
	if snap, ok := m.stale[bookingID]; ok {
		copied := *snap
		return &copied, nil
	}
	copied := *m.store.escrows[bookingID]
	return &copied, nil
}

func (m *fakeFundMover) Release(ctx context.Context, booking *models.Booking, amount int64, actorID *uuid.UUID) error {
	if _, err := m.store.applyPlans(booking.ID, []models.MovementPlan{{
		Direction: models.MovementDirectionRelease, Amount: amount, RecipientID: booking.FreelancerID,
	}}); err != nil {
		return err
	}
	m.transfers++
	return nil
}

func (m *fakeFundMover) MarkDisputed(ctx context.Context, escrowID uuid.UUID, actorID *uuid.UUID) error {
	return nil
}

func (m *fakeFundMover) ExecuteMovements(ctx context.Context, movements []models.EscrowMovement) {
	m.executed = append(m.executed, movements...)
	m.transfers += len(movements)
}

func newSweepFixture(t *testing.T, store *fakeBookingStore, mover *fakeFundMover) *BookingService {
	t.Helper()
	svc := NewBookingService(store, mover, new(mockPolicyProvider), new(mockCancellationRecorder), new(mockAuditReader),
		24*time.Hour, 24*time.Hour, 72*time.Hour)
	svc.now = func() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestBookingService_ExpireSweep_RerunRefundsOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeBookingStore()
	mover := &fakeFundMover{store: store}
	svc := newSweepFixture(t, store, mover)

	expiresAt := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)
	b := models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		TotalAmount: 5000, Status: models.BookingStatusPending, ExpiresAt: &expiresAt,
	}
	store.add(b, 5000, models.EscrowStatusHeld)

	n, err := svc.ExpireSweep(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Повторный запуск не находит уже переведённую заявку: возврат клиенту
	// выполняется ровно один раз.
	n, err = svc.ExpireSweep(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, mover.executed, 1)
	assert.Equal(t, models.MovementDirectionRefund, mover.executed[0].Direction)
	assert.Equal(t, int64(5000), mover.executed[0].Amount)
	assert.Equal(t, b.ClientID, mover.executed[0].RecipientID)
	assert.Equal(t, int64(5000), store.escrows[b.ID].RefundedAmount)
	assert.Equal(t, models.BookingStatusExpired, store.bookings[b.ID].Status)
}

func TestBookingService_AutoReleaseSweep_HoldAppliedAfterListing(t *testing.T) {
	ctx := context.Background()
	store := newFakeBookingStore()
	mover := &fakeFundMover{store: store, stale: make(map[uuid.UUID]*models.EscrowRecord)}
	svc := newSweepFixture(t, store, mover)

	b := models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		TotalAmount: 10000, Status: models.BookingStatusCompleted,
	}
	store.add(b, 10000, models.EscrowStatusHeld)

	// Спор открывается между выборкой и движением: чтение вне транзакции
	// ещё видит held, но актуальный статус записи уже disputed_hold.
	held := *store.escrows[b.ID]
	mover.stale[b.ID] = &held
	store.escrows[b.ID].Status = models.EscrowStatusDisputedHold

	released, err := svc.AutoReleaseSweep(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Zero(t, mover.transfers)
	assert.Equal(t, int64(0), store.escrows[b.ID].ReleasedAmount)
	assert.Equal(t, models.EscrowStatusDisputedHold, store.escrows[b.ID].Status)
}
