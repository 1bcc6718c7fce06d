package mocks

import (
	"context"

	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/stretchr/testify/mock"
)

// MockSessionService is a mock implementation of SessionService
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) StartSession(ctx context.Context) (*models.SessionState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionState), args.Error(1)
}

func (m *MockSessionService) GetState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionState), args.Error(1)
}

func (m *MockSessionService) Dispatch(ctx context.Context, sessionID string, cmd models.SessionCommand) (*models.CommandResponse, error) {
	args := m.Called(ctx, sessionID, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CommandResponse), args.Error(1)
}

func (m *MockSessionService) Cancel(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}
