package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetOpenByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) List(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, actorID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id, from, to, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ResolveAndApply(ctx context.Context, id uuid.UUID, resolutionType string, amount *int64, notes *string, resolvedBy uuid.UUID, apply models.ResolutionApplication) (*models.Dispute, []models.EscrowMovement, error) {
	args := m.Called(ctx, id, resolutionType, amount, notes, resolvedBy, apply)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Dispute), args.Get(1).([]models.EscrowMovement), args.Error(2)
}

func (m *mockDisputeRepo) AddNote(ctx context.Context, n *models.DisputeNote) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *mockDisputeRepo) ListNotes(ctx context.Context, disputeID uuid.UUID, internalToo bool) ([]models.DisputeNote, error) {
	args := m.Called(ctx, disputeID, internalToo)
	return args.Get(0).([]models.DisputeNote), args.Error(1)
}

func (m *mockDisputeRepo) AddAttachment(ctx context.Context, a *models.DisputeAttachment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *mockDisputeRepo) ListAttachments(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeAttachment, error) {
	args := m.Called(ctx, disputeID)
	return args.Get(0).([]models.DisputeAttachment), args.Error(1)
}

type disputeFixture struct {
	disputes *mockDisputeRepo
	bookings *mockBookingRepo
	escrow   *mockFundMover
	audit    *mockAuditReader
	svc      *DisputeService
}

func newDisputeFixture(t *testing.T) *disputeFixture {
	t.Helper()
	f := &disputeFixture{
		disputes: new(mockDisputeRepo),
		bookings: new(mockBookingRepo),
		escrow:   new(mockFundMover),
		audit:    new(mockAuditReader),
	}
	f.svc = NewDisputeService(f.disputes, f.bookings, f.escrow, f.audit)
	return f
}

func TestDisputeService_Raise(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	b := &models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		Status: models.BookingStatusCompleted,
	}
	disputed := *b
	disputed.Status = models.BookingStatusDisputed
	escrow := heldEscrow(b.ID, 10000)

	f.bookings.On("GetByID", ctx, b.ID).Return(b, nil)
	f.bookings.On("UpdateStatus", ctx, b.ID, models.BookingStatusCompleted, models.BookingStatusDisputed,
		"dispute_raise", &b.ClientID, (*string)(nil)).Return(&disputed, nil)
	f.disputes.On("Create", ctx, mock.MatchedBy(func(d *models.Dispute) bool {
		return d.BookingID == b.ID &&
			d.Status == models.DisputeStatusNew &&
			d.PrevBookingState == models.BookingStatusCompleted
	})).Return(nil)
	f.escrow.On("GetByBookingID", ctx, b.ID).Return(escrow, nil)
	f.escrow.On("MarkDisputed", ctx, escrow.ID, &b.ClientID).Return(nil)

	d, err := f.svc.Raise(ctx, b.ID, b.ClientID, "quality", "работа не выполнена")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, d.PrevBookingState)
	f.escrow.AssertExpectations(t)
}

func TestDisputeService_Raise_NotParty(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	b := &models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		Status: models.BookingStatusConfirmed,
	}
	f.bookings.On("GetByID", ctx, b.ID).Return(b, nil)

	_, err := f.svc.Raise(ctx, b.ID, uuid.New(), "quality", "описание")
	assert.True(t, apperror.Is(err, apperror.ErrCodeForbidden))
}

func TestDisputeService_Raise_PendingBooking(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	b := &models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		Status: models.BookingStatusPending,
	}
	f.bookings.On("GetByID", ctx, b.ID).Return(b, nil)

	_, err := f.svc.Raise(ctx, b.ID, b.ClientID, "quality", "описание")
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidArg))
}

func TestDisputeService_Raise_ConcurrentLoser(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	b := &models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		Status: models.BookingStatusConfirmed,
	}
	f.bookings.On("GetByID", ctx, b.ID).Return(b, nil)
	// Конкурент уже перевёл бронирование в disputed.
	f.bookings.On("UpdateStatus", ctx, b.ID, models.BookingStatusConfirmed, models.BookingStatusDisputed,
		"dispute_raise", &b.ClientID, (*string)(nil)).
		Return(nil, apperror.New(apperror.ErrCodeConflict, "статус бронирования изменился"))

	_, err := f.svc.Raise(ctx, b.ID, b.ClientID, "quality", "описание")
	assert.True(t, apperror.IsConflict(err))
	f.disputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_ChangeStatus(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()
	adminID := uuid.New()

	d := &models.Dispute{ID: uuid.New(), Status: models.DisputeStatusNew}
	inReview := *d
	inReview.Status = models.DisputeStatusInReview

	f.disputes.On("GetByID", ctx, d.ID).Return(d, nil)
	f.disputes.On("UpdateStatus", ctx, d.ID, models.DisputeStatusNew, models.DisputeStatusInReview, adminID).
		Return(&inReview, nil)

	got, err := f.svc.ChangeStatus(ctx, d.ID, models.DisputeStatusInReview, adminID)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusInReview, got.Status)
}

func TestDisputeService_ChangeStatus_Resolved(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d := &models.Dispute{ID: uuid.New(), Status: models.DisputeStatusResolved}
	f.disputes.On("GetByID", ctx, d.ID).Return(d, nil)

	_, err := f.svc.ChangeStatus(ctx, d.ID, models.DisputeStatusInReview, uuid.New())
	assert.True(t, apperror.IsInvalidState(err))
}

func resolveFixture(f *disputeFixture, ctx context.Context, escrowStatus string, remaining int64) (*models.Dispute, *models.Booking, uuid.UUID) {
	adminID := uuid.New()
	b := &models.Booking{
		ID: uuid.New(), ClientID: uuid.New(), FreelancerID: uuid.New(),
		TotalAmount: remaining, Status: models.BookingStatusDisputed,
	}
	d := &models.Dispute{
		ID: uuid.New(), BookingID: b.ID, InitiatorID: b.ClientID,
		Status: models.DisputeStatusInReview, PrevBookingState: models.BookingStatusCompleted,
	}
	escrow := &models.EscrowRecord{
		ID: uuid.New(), BookingID: b.ID, CapturedAmount: remaining, Status: escrowStatus,
	}

	f.disputes.On("GetByID", ctx, d.ID).Return(d, nil)
	f.bookings.On("GetByID", ctx, b.ID).Return(b, nil)
	f.escrow.On("GetByBookingID", ctx, b.ID).Return(escrow, nil)
	return d, b, adminID
}

func TestDisputeService_Resolve_FullRefund(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, b, adminID := resolveFixture(f, ctx, models.EscrowStatusDisputedHold, 10000)
	resolved := *d
	resolved.Status = models.DisputeStatusResolved

	apply := models.ResolutionApplication{
		BookingID: b.ID,
		Movements: []models.MovementPlan{planRefund(10000, b.ClientID)},
		BookingTo: models.BookingStatusCancelled,
	}
	movements := []models.EscrowMovement{pendingMovement(b.ID, apply.Movements[0])}

	f.disputes.On("ResolveAndApply", ctx, d.ID, models.ResolutionFullRefund, (*int64)(nil), (*string)(nil), adminID, apply).
		Return(&resolved, movements, nil)
	f.escrow.On("ExecuteMovements", ctx, movements).Once()

	got, err := f.svc.Resolve(ctx, ResolveInput{DisputeID: d.ID, AdminID: adminID, ResolutionType: models.ResolutionFullRefund})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, got.Status)
	f.disputes.AssertExpectations(t)
	f.escrow.AssertExpectations(t)
}

func TestDisputeService_Resolve_PartialRefund(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, b, adminID := resolveFixture(f, ctx, models.EscrowStatusDisputedHold, 10000)
	resolved := *d
	resolved.Status = models.DisputeStatusResolved
	amount := int64(3000)

	apply := models.ResolutionApplication{
		BookingID: b.ID,
		Movements: []models.MovementPlan{planRefund(3000, b.ClientID), planRelease(7000, b.FreelancerID)},
		BookingTo: models.BookingStatusCompleted,
	}
	movements := []models.EscrowMovement{
		pendingMovement(b.ID, apply.Movements[0]),
		pendingMovement(b.ID, apply.Movements[1]),
	}

	f.disputes.On("ResolveAndApply", ctx, d.ID, models.ResolutionPartialRefund, &amount, (*string)(nil), adminID, apply).
		Return(&resolved, movements, nil)
	f.escrow.On("ExecuteMovements", ctx, movements).Once()

	_, err := f.svc.Resolve(ctx, ResolveInput{
		DisputeID: d.ID, AdminID: adminID,
		ResolutionType: models.ResolutionPartialRefund, Amount: &amount,
	})
	require.NoError(t, err)
	f.disputes.AssertExpectations(t)
	f.escrow.AssertExpectations(t)
}

func TestDisputeService_Resolve_PartialRefund_ExceedsRemaining(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, _, adminID := resolveFixture(f, ctx, models.EscrowStatusDisputedHold, 5000)
	amount := int64(7000)

	_, err := f.svc.Resolve(ctx, ResolveInput{
		DisputeID: d.ID, AdminID: adminID,
		ResolutionType: models.ResolutionPartialRefund, Amount: &amount,
	})
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidArg))
	f.disputes.AssertNotCalled(t, "ResolveAndApply", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_Resolve_Split(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, b, adminID := resolveFixture(f, ctx, models.EscrowStatusDisputedHold, 10001)
	resolved := *d
	resolved.Status = models.DisputeStatusResolved

	// Неделимая копейка нечётного остатка достаётся клиенту.
	apply := models.ResolutionApplication{
		BookingID: b.ID,
		Movements: []models.MovementPlan{planRefund(5001, b.ClientID), planRelease(5000, b.FreelancerID)},
		BookingTo: models.BookingStatusCompleted,
	}
	movements := []models.EscrowMovement{
		pendingMovement(b.ID, apply.Movements[0]),
		pendingMovement(b.ID, apply.Movements[1]),
	}

	f.disputes.On("ResolveAndApply", ctx, d.ID, models.ResolutionSplit, (*int64)(nil), (*string)(nil), adminID, apply).
		Return(&resolved, movements, nil)
	f.escrow.On("ExecuteMovements", ctx, movements).Once()

	_, err := f.svc.Resolve(ctx, ResolveInput{DisputeID: d.ID, AdminID: adminID, ResolutionType: models.ResolutionSplit})
	require.NoError(t, err)
	f.disputes.AssertExpectations(t)
	f.escrow.AssertExpectations(t)
}

func TestDisputeService_Resolve_NoAction_RestoresPreviousState(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, b, adminID := resolveFixture(f, ctx, models.EscrowStatusDisputedHold, 10000)
	resolved := *d
	resolved.Status = models.DisputeStatusResolved

	// Бронирование возвращается в статус до спора, деньги не двигаются,
	// удержание снимается.
	apply := models.ResolutionApplication{
		BookingID:   b.ID,
		ReleaseHold: true,
		BookingTo:   models.BookingStatusCompleted,
	}

	f.disputes.On("ResolveAndApply", ctx, d.ID, models.ResolutionNoAction, (*int64)(nil), (*string)(nil), adminID, apply).
		Return(&resolved, []models.EscrowMovement(nil), nil)
	f.escrow.On("ExecuteMovements", ctx, []models.EscrowMovement(nil)).Once()

	_, err := f.svc.Resolve(ctx, ResolveInput{DisputeID: d.ID, AdminID: adminID, ResolutionType: models.ResolutionNoAction})
	require.NoError(t, err)
	f.disputes.AssertExpectations(t)
}

func TestDisputeService_Resolve_UnknownType(t *testing.T) {
	f := newDisputeFixture(t)

	_, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID: uuid.New(), AdminID: uuid.New(), ResolutionType: "coin_flip",
	})
	assert.True(t, apperror.Is(err, apperror.ErrCodeInvalidArg))
}

func TestDisputeService_AddAttachment_ResolvedDispute(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	now := time.Now()
	d := &models.Dispute{ID: uuid.New(), Status: models.DisputeStatusResolved, ResolvedAt: &now}
	f.disputes.On("GetByID", ctx, d.ID).Return(d, nil)

	_, err := f.svc.AddAttachment(ctx, d.ID, uuid.New(), "s3://evidence/1.jpg", "фото.jpg")
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_AddNote_ResolvedDisputeAllowed(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d := &models.Dispute{ID: uuid.New(), Status: models.DisputeStatusResolved}
	f.disputes.On("GetByID", ctx, d.ID).Return(d, nil)
	f.disputes.On("AddNote", ctx, mock.MatchedBy(func(n *models.DisputeNote) bool {
		return n.DisputeID == d.ID && n.Internal
	})).Return(nil)

	note, err := f.svc.AddNote(ctx, d.ID, uuid.New(), "итоговый комментарий", true)
	require.NoError(t, err)
	assert.True(t, note.Internal)
}

func TestDisputeService_GetWithTimeline_FiltersInternalNotes(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d := &models.Dispute{ID: uuid.New(), BookingID: uuid.New(), Status: models.DisputeStatusInReview}
	f.disputes.On("GetByID", ctx, d.ID).Return(d, nil)
	f.disputes.On("ListNotes", ctx, d.ID, false).Return([]models.DisputeNote{{DisputeID: d.ID}}, nil)
	f.disputes.On("ListAttachments", ctx, d.ID).Return([]models.DisputeAttachment{}, nil)
	f.audit.On("ListByEntity", ctx, models.AuditEntityBooking, d.BookingID, 50, 0).
		Return([]models.AuditLogEntry{}, nil)

	timeline, err := f.svc.GetWithTimeline(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Len(t, timeline.Notes, 1)
	f.disputes.AssertCalled(t, "ListNotes", ctx, d.ID, false)
}
