package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rshare/ride-booking-system/shared/models"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

const (
	// DefaultTaskQueue is the worker's task queue
	DefaultTaskQueue = "ride-booking-queue"
	// WorkflowName is the registered name of the session workflow
	WorkflowName = "BookingSessionWorkflow"
	// DefaultPollInterval is how often a dispatched command's result is queried
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultCommandTimeout bounds the wait for a command result
	DefaultCommandTimeout = 5 * time.Second
)

var (
	// ErrSessionNotFound means the session never existed or has ended
	ErrSessionNotFound = errors.New("session not found")
	// ErrCommandPending means the command was delivered but has no result yet
	ErrCommandPending = errors.New("command accepted, result pending")
)

// SessionService defines the booking session operations
type SessionService interface {
	StartSession(ctx context.Context) (*models.SessionState, error)
	GetState(ctx context.Context, sessionID string) (*models.SessionState, error)
	Dispatch(ctx context.Context, sessionID string, cmd models.SessionCommand) (*models.CommandResponse, error)
	Cancel(ctx context.Context, sessionID string) error
}

// Options configure the session service
type Options struct {
	TaskQueue      string
	IdleTimeout    time.Duration
	TimeZone       string
	PollInterval   time.Duration
	CommandTimeout time.Duration
}

// sessionServiceImpl implements SessionService on Temporal
type sessionServiceImpl struct {
	temporalClient client.Client
	opts           Options
	now            func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(temporalClient client.Client, opts Options) SessionService {
	if opts.TaskQueue == "" {
		opts.TaskQueue = DefaultTaskQueue
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &sessionServiceImpl{temporalClient: temporalClient, opts: opts, now: time.Now}
}

// WorkflowID returns the workflow id of a session
func WorkflowID(sessionID string) string {
	return "booking-session-" + sessionID
}

func (s *sessionServiceImpl) StartSession(ctx context.Context) (*models.SessionState, error) {
	sessionID := uuid.New().String()

	input := models.SessionWorkflowInput{
		SessionID:   sessionID,
		IdleTimeout: s.opts.IdleTimeout,
		TimeZone:    s.opts.TimeZone,
	}

	// Start the session workflow
	workflowOptions := client.StartWorkflowOptions{
		ID:        WorkflowID(sessionID),
		TaskQueue: s.opts.TaskQueue,
	}

	if _, err := s.temporalClient.ExecuteWorkflow(ctx, workflowOptions, WorkflowName, input); err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	return s.GetState(ctx, sessionID)
}

func (s *sessionServiceImpl) GetState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	// Query the workflow for current state
	response, err := s.temporalClient.QueryWorkflow(ctx, WorkflowID(sessionID), "", models.QueryGetState)
	if err != nil {
		return nil, workflowError("failed to query workflow", err)
	}

	var state models.SessionState
	if err := response.Get(&state); err != nil {
		return nil, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	state.RefreshCountdown(s.now())
	return &state, nil
}

// Dispatch signals a command and waits until the workflow reports its
// outcome. If none arrives in time the latest state comes back with
// ErrCommandPending.
func (s *sessionServiceImpl) Dispatch(ctx context.Context, sessionID string, cmd models.SessionCommand) (*models.CommandResponse, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	workflowID := WorkflowID(sessionID)

	if err := s.temporalClient.SignalWorkflow(ctx, workflowID, "", models.SignalSessionCommand, cmd); err != nil {
		return nil, workflowError("failed to signal workflow", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		result, err := s.commandResult(waitCtx, workflowID, cmd.ID)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if result != nil {
			state, err := s.GetState(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			return &models.CommandResponse{Result: result, State: state}, nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state, err := s.GetState(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			return &models.CommandResponse{State: state}, ErrCommandPending
		}
	}
}

func (s *sessionServiceImpl) commandResult(ctx context.Context, workflowID, commandID string) (*models.CommandResult, error) {
	response, err := s.temporalClient.QueryWorkflow(ctx, workflowID, "", models.QueryCommandResult, commandID)
	if err != nil {
		return nil, workflowError("failed to query command result", err)
	}
	var result *models.CommandResult
	if err := response.Get(&result); err != nil {
		return nil, fmt.Errorf("failed to decode command result: %w", err)
	}
	return result, nil
}

func (s *sessionServiceImpl) Cancel(ctx context.Context, sessionID string) error {
	if err := s.temporalClient.CancelWorkflow(ctx, WorkflowID(sessionID), ""); err != nil {
		return workflowError("failed to cancel workflow", err)
	}
	return nil
}

func workflowError(msg string, err error) error {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
