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
)

type mockReliabilityRepo struct {
	mock.Mock
}

func (m *mockReliabilityRepo) InsertEvent(ctx context.Context, e *models.ReliabilityEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockReliabilityRepo) CountLastMinuteSince(ctx context.Context, freelancerID uuid.UUID, since time.Time) (int, error) {
	args := m.Called(ctx, freelancerID, since)
	return args.Int(0), args.Error(1)
}

func (m *mockReliabilityRepo) ListEvents(ctx context.Context, freelancerID uuid.UUID, limit, offset int) ([]models.ReliabilityEvent, error) {
	args := m.Called(ctx, freelancerID, limit, offset)
	return args.Get(0).([]models.ReliabilityEvent), args.Error(1)
}

type mockConfigProvider struct {
	mock.Mock
}

func (m *mockConfigProvider) GetReliabilityConfig(ctx context.Context) (*models.ReliabilityConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReliabilityConfig), args.Error(1)
}

type mockAccountDirector struct {
	mock.Mock
}

func (m *mockAccountDirector) RequestSuspension(ctx context.Context, freelancerID uuid.UUID, eventCount int) error {
	args := m.Called(ctx, freelancerID, eventCount)
	return args.Error(0)
}

func (m *mockAccountDirector) SendWarning(ctx context.Context, freelancerID uuid.UUID, eventCount int) error {
	args := m.Called(ctx, freelancerID, eventCount)
	return args.Error(0)
}

func defaultReliabilityConfig() *models.ReliabilityConfig {
	return &models.ReliabilityConfig{WarningThreshold: 2, SuspensionThreshold: 3, TimeWindowDays: 30}
}

func TestReliabilityService_RecordCancellation_NotLastMinute(t *testing.T) {
	repo := new(mockReliabilityRepo)
	configs := new(mockConfigProvider)
	accounts := new(mockAccountDirector)
	svc := NewReliabilityService(repo, configs, accounts)
	ctx := context.Background()

	freelancerID := uuid.New()
	bookingID := uuid.New()
	occurredAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	repo.On("InsertEvent", ctx, mock.MatchedBy(func(e *models.ReliabilityEvent) bool {
		return e.FreelancerID == freelancerID && !e.LastMinute
	})).Return(nil)

	err := svc.RecordCancellation(ctx, freelancerID, bookingID, false, occurredAt)
	require.NoError(t, err)
	// Обычная отмена не трогает счётчик окна и не вызывает директив.
	configs.AssertNotCalled(t, "GetReliabilityConfig", mock.Anything)
	accounts.AssertNotCalled(t, "SendWarning", mock.Anything, mock.Anything, mock.Anything)
}

func TestReliabilityService_RecordCancellation_WarningThreshold(t *testing.T) {
	repo := new(mockReliabilityRepo)
	configs := new(mockConfigProvider)
	accounts := new(mockAccountDirector)
	svc := NewReliabilityService(repo, configs, accounts)
	ctx := context.Background()

	freelancerID := uuid.New()
	occurredAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	windowStart := occurredAt.AddDate(0, 0, -30)

	repo.On("InsertEvent", ctx, mock.Anything).Return(nil)
	configs.On("GetReliabilityConfig", ctx).Return(defaultReliabilityConfig(), nil)
	repo.On("CountLastMinuteSince", ctx, freelancerID, windowStart).Return(2, nil)
	accounts.On("SendWarning", ctx, freelancerID, 2).Return(nil)

	err := svc.RecordCancellation(ctx, freelancerID, uuid.New(), true, occurredAt)
	require.NoError(t, err)
	accounts.AssertExpectations(t)
	accounts.AssertNotCalled(t, "RequestSuspension", mock.Anything, mock.Anything, mock.Anything)
}

func TestReliabilityService_RecordCancellation_SuspensionThreshold(t *testing.T) {
	repo := new(mockReliabilityRepo)
	configs := new(mockConfigProvider)
	accounts := new(mockAccountDirector)
	svc := NewReliabilityService(repo, configs, accounts)
	ctx := context.Background()

	freelancerID := uuid.New()
	occurredAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	repo.On("InsertEvent", ctx, mock.Anything).Return(nil)
	configs.On("GetReliabilityConfig", ctx).Return(defaultReliabilityConfig(), nil)
	repo.On("CountLastMinuteSince", ctx, freelancerID, occurredAt.AddDate(0, 0, -30)).Return(3, nil)
	// На пороге приостановки предупреждение не отправляется, только директива.
	accounts.On("RequestSuspension", ctx, freelancerID, 3).Return(nil)

	err := svc.RecordCancellation(ctx, freelancerID, uuid.New(), true, occurredAt)
	require.NoError(t, err)
	accounts.AssertExpectations(t)
	accounts.AssertNotCalled(t, "SendWarning", mock.Anything, mock.Anything, mock.Anything)
}

func TestReliabilityService_RecordCancellation_BelowThresholds(t *testing.T) {
	repo := new(mockReliabilityRepo)
	configs := new(mockConfigProvider)
	accounts := new(mockAccountDirector)
	svc := NewReliabilityService(repo, configs, accounts)
	ctx := context.Background()

	freelancerID := uuid.New()
	occurredAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	repo.On("InsertEvent", ctx, mock.Anything).Return(nil)
	configs.On("GetReliabilityConfig", ctx).Return(defaultReliabilityConfig(), nil)
	// Старые события выпали из скользящего окна: в счёте только одно.
	repo.On("CountLastMinuteSince", ctx, freelancerID, occurredAt.AddDate(0, 0, -30)).Return(1, nil)

	err := svc.RecordCancellation(ctx, freelancerID, uuid.New(), true, occurredAt)
	require.NoError(t, err)
	accounts.AssertNotCalled(t, "SendWarning", mock.Anything, mock.Anything, mock.Anything)
	accounts.AssertNotCalled(t, "RequestSuspension", mock.Anything, mock.Anything, mock.Anything)
}

func TestReliabilityService_ListEvents_LimitClamped(t *testing.T) {
	repo := new(mockReliabilityRepo)
	svc := NewReliabilityService(repo, new(mockConfigProvider), new(mockAccountDirector))
	ctx := context.Background()
	freelancerID := uuid.New()

	repo.On("ListEvents", ctx, freelancerID, 20, 0).Return([]models.ReliabilityEvent{}, nil)

	_, err := svc.ListEvents(ctx, freelancerID, 500, 0)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}
