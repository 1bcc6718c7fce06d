package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/shared/wizard"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/activities"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// DefaultIdleTimeout ends a session nobody has touched for this long
	DefaultIdleTimeout = 30 * time.Minute
	// PaymentTimeout is how long to wait for payment processing (10 seconds)
	PaymentTimeout = 10 * time.Second
	// LoginTimeout bounds each identity gateway call
	LoginTimeout = 30 * time.Second
	// CommandResultHistory is how many command results stay queryable
	CommandResultHistory = 32
)

// Activities are referenced through method values on a nil pointer; the
// worker registers the real instance under the same names.
var a *activities.Activities

// inflight is a command waiting on an activity
type inflight struct {
	cmd    models.SessionCommand
	future workflow.Future
}

type session struct {
	ctx        workflow.Context
	loginCtx   workflow.Context
	paymentCtx workflow.Context
	input      models.SessionWorkflowInput
	logger     log.Logger

	wizard  *wizard.Wizard
	pending *inflight

	results     map[string]models.CommandResult
	resultOrder []string
}

// BookingSessionWorkflow hosts one booking session. User actions arrive as
// commands on a single signal channel and are applied in order; code
// requests, sign-ins and payments run as activities while further commands
// are answered with ErrInFlight.
func BookingSessionWorkflow(ctx workflow.Context, input models.SessionWorkflowInput) (*models.SessionWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Booking session started", "sessionID", input.SessionID)

	idleTimeout := input.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	loc := time.UTC
	if input.TimeZone != "" {
		if l, err := time.LoadLocation(input.TimeZone); err == nil {
			loc = l
		} else {
			logger.Warn("Unknown time zone, using UTC", "timeZone", input.TimeZone, "error", err)
		}
	}

	// Activity options
	activityOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOpts)

	s := &session{
		ctx: ctx,
		loginCtx: workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: LoginTimeout,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval: time.Second,
				MaximumAttempts: 2,
			},
		}),
		// Payment activity with shorter timeout (10 seconds)
		paymentCtx: workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: PaymentTimeout,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts: 1, // No automatic retries for payment
			},
		}),
		input:   input,
		logger:  logger,
		wizard:  wizard.New(input.SessionID, func() time.Time { return workflow.Now(ctx) }, loc),
		results: make(map[string]models.CommandResult),
	}

	if err := workflow.SetQueryHandler(ctx, models.QueryGetState, func() (models.SessionState, error) {
		return s.wizard.Snapshot(), nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register state query: %w", err)
	}
	if err := workflow.SetQueryHandler(ctx, models.QueryCommandResult, func(commandID string) (*models.CommandResult, error) {
		r, ok := s.results[commandID]
		if !ok {
			return nil, nil
		}
		return &r, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register command result query: %w", err)
	}

	commandCh := workflow.GetSignalChannel(ctx, models.SignalSessionCommand)

	// Main workflow loop
	for {
		selector := workflow.NewSelector(ctx)
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		idle := false

		selector.AddReceive(commandCh, func(c workflow.ReceiveChannel, more bool) {
			var cmd models.SessionCommand
			c.Receive(ctx, &cmd)
			s.handle(cmd)
		})

		if s.pending != nil {
			selector.AddFuture(s.pending.future, func(f workflow.Future) {
				s.complete(f)
			})
		}

		// Idle expiry restarts with every loop iteration
		selector.AddFuture(workflow.NewTimer(timerCtx, idleTimeout), func(f workflow.Future) {
			if err := f.Get(ctx, nil); err == nil {
				idle = true
			}
		})

		selector.AddReceive(ctx.Done(), func(c workflow.ReceiveChannel, more bool) {})

		selector.Select(ctx)
		cancelTimer()

		// Check for context cancellation
		if ctx.Err() != nil {
			logger.Info("Booking session cancelled", "sessionID", input.SessionID)
			if s.wizard.Stage() == models.StageUnauthenticated {
				s.ctx, _ = workflow.NewDisconnectedContext(s.ctx)
				s.releaseVerifier()
			}
			return s.result(models.EndReasonCancelled), nil
		}

		if idle {
			if s.wizard.Stage() == models.StageConfirmed {
				logger.Info("Booking session completed", "sessionID", input.SessionID)
				return s.result(models.EndReasonConfirmed), nil
			}
			logger.Info("Booking session expired", "sessionID", input.SessionID, "stage", s.wizard.Stage())
			if s.wizard.Stage() == models.StageUnauthenticated {
				s.releaseVerifier()
			}
			return s.result(models.EndReasonExpired), nil
		}
	}
}

func (s *session) result(reason string) *models.SessionWorkflowResult {
	return &models.SessionWorkflowResult{
		SessionID: s.input.SessionID,
		Confirmed: s.wizard.Stage() == models.StageConfirmed,
		Booking:   s.wizard.Confirmation(),
		EndReason: reason,
	}
}

// handle applies one command. Commands backed by an activity start it and
// leave their result open until complete runs.
func (s *session) handle(cmd models.SessionCommand) {
	if _, seen := s.results[cmd.ID]; seen || (s.pending != nil && s.pending.cmd.ID == cmd.ID) {
		s.logger.Info("Duplicate command ignored", "commandID", cmd.ID)
		return
	}
	s.logger.Info("Command received", "sessionID", s.input.SessionID, "kind", cmd.Kind, "stage", s.wizard.Stage())

	w := s.wizard
	var err error
	switch cmd.Kind {
	case models.CommandRequestCode:
		var phone models.PhoneNumber
		if phone, err = w.BeginCodeRequest(cmd.CountryCode, cmd.Phone); err == nil {
			s.start(cmd, workflow.ExecuteActivity(s.loginCtx, a.RequestCode, activities.RequestCodeInput{
				SessionID: s.input.SessionID,
				Phone:     phone,
			}))
			return
		}

	case models.CommandConfirmCode:
		var handle string
		if handle, err = w.BeginCodeConfirm(cmd.Code); err == nil {
			s.start(cmd, workflow.ExecuteActivity(s.loginCtx, a.ConfirmCode, activities.ConfirmCodeInput{
				Handle: handle,
				Code:   cmd.Code,
			}))
			return
		}

	case models.CommandFederatedSignIn:
		if err = w.BeginFederatedSignIn(); err == nil {
			s.start(cmd, workflow.ExecuteActivity(s.loginCtx, a.FederatedSignIn, activities.FederatedSignInInput{
				IDToken: cmd.IDToken,
			}))
			return
		}

	case models.CommandResetLogin:
		err = w.ResetLogin()

	case models.CommandSubmitTrip:
		err = s.submitTrip(cmd)

	case models.CommandSortOffers:
		err = w.SortOffers(cmd.SortBy)

	case models.CommandSelectVehicle:
		err = w.SelectVehicle(cmd.VehicleID)

	case models.CommandToggleSeat:
		err = w.ToggleSeat(cmd.SeatID)

	case models.CommandConfirmSeats:
		err = w.ConfirmSeats()

	case models.CommandProceedToPayment:
		err = w.ProceedToPayment()

	case models.CommandSelectPaymentMethod:
		err = w.SelectPaymentMethod(cmd.Method)

	case models.CommandUpdatePaymentDetails:
		var update models.PaymentDetailsUpdate
		if cmd.Details != nil {
			update = *cmd.Details
		}
		err = w.UpdatePaymentDetails(update)

	case models.CommandSubmitPayment:
		var booking models.Booking
		if booking, err = w.BeginPayment(); err == nil {
			s.start(cmd, workflow.ExecuteActivity(s.paymentCtx, a.ProcessPayment, activities.ProcessPaymentInput{
				SessionID: s.input.SessionID,
				Booking:   booking,
			}))
			return
		}

	case models.CommandBack:
		err = w.Back()

	default:
		err = w.Reject(fmt.Errorf("%w: unknown command %q", models.ErrInvalidTransition, cmd.Kind))
	}

	s.record(cmd, err)
}

func (s *session) submitTrip(cmd models.SessionCommand) error {
	var form models.TripForm
	if cmd.Trip != nil {
		form = *cmd.Trip
	}
	trip, err := s.wizard.ValidateTrip(form)
	if err != nil {
		return err
	}

	var offers []models.VehicleOffer
	if err := workflow.ExecuteActivity(s.ctx, a.SearchVehicles, activities.SearchVehiclesInput{Trip: trip}).Get(s.ctx, &offers); err != nil {
		s.logger.Error("Vehicle search failed", "sessionID", s.input.SessionID, "error", err)
		return s.wizard.Reject(&models.GatewayError{Message: "Could not load vehicles. Please try again.", Err: err})
	}
	return s.wizard.SubmitTrip(form, offers)
}

func (s *session) start(cmd models.SessionCommand, future workflow.Future) {
	s.pending = &inflight{cmd: cmd, future: future}
}

// complete applies the outcome of the activity in flight
func (s *session) complete(f workflow.Future) {
	cmd := s.pending.cmd
	s.pending = nil
	w := s.wizard

	var err error
	switch cmd.Kind {
	case models.CommandRequestCode:
		var res activities.RequestCodeResult
		if actErr := f.Get(s.ctx, &res); actErr != nil {
			err = w.CodeRequestFailed(domainError(actErr))
		} else {
			err = w.CodeSent(res.Handle)
		}

	case models.CommandConfirmCode, models.CommandFederatedSignIn:
		var res activities.SignInResult
		if actErr := f.Get(s.ctx, &res); actErr != nil {
			err = w.SignInFailed(domainError(actErr))
		} else if err = w.SignIn(res.Identity); err == nil {
			s.logger.Info("Signed in", "sessionID", s.input.SessionID)
			s.releaseVerifier()
		}

	case models.CommandSubmitPayment:
		var receipt models.PaymentReceipt
		if actErr := f.Get(s.ctx, &receipt); actErr != nil {
			s.logger.Error("Payment failed", "sessionID", s.input.SessionID, "error", actErr)
			err = w.PaymentFailed(domainError(actErr))
		} else if err = w.CompletePayment(receipt); err == nil {
			s.logger.Info("Payment successful!", "sessionID", s.input.SessionID, "transactionId", receipt.TransactionID)
		}
	}

	s.record(cmd, err)
}

func (s *session) releaseVerifier() {
	if err := workflow.ExecuteActivity(s.ctx, a.ReleaseVerifier, s.input.SessionID).Get(s.ctx, nil); err != nil {
		s.logger.Warn("Failed to release verifier", "sessionID", s.input.SessionID, "error", err)
	}
}

// record stores the outcome of a command, keeping the newest results
func (s *session) record(cmd models.SessionCommand, err error) {
	if err != nil {
		s.logger.Info("Command rejected", "sessionID", s.input.SessionID, "kind", cmd.Kind, "error", err)
	}
	if cmd.ID == "" {
		return
	}

	s.results[cmd.ID] = models.CommandResult{
		CommandID:   cmd.ID,
		Kind:        cmd.Kind,
		Applied:     err == nil,
		Error:       models.NewCommandError(err),
		Revision:    s.wizard.Revision(),
		ProcessedAt: workflow.Now(s.ctx),
	}
	s.resultOrder = append(s.resultOrder, cmd.ID)
	for len(s.resultOrder) > CommandResultHistory {
		delete(s.results, s.resultOrder[0])
		s.resultOrder = s.resultOrder[1:]
	}
}

// domainError rebuilds the domain error behind a failed activity
func domainError(err error) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		var detail activities.ErrorDetail
		if appErr.HasDetails() {
			_ = appErr.Details(&detail)
		}
		switch appErr.Type() {
		case models.ErrTypeInvalidPhoneFormat:
			return &models.ValidationError{Message: detail.Message, Fields: detail.Fields, Err: models.ErrInvalidPhoneFormat}
		case models.ErrTypeValidation:
			return &models.ValidationError{Message: detail.Message, Fields: detail.Fields}
		case models.ErrTypeInvalidOrExpiredCode:
			return models.ErrInvalidOrExpiredCode
		case models.ErrTypeGateway:
			return &models.GatewayError{Message: detail.Message}
		case models.ErrTypePaymentDeclined:
			return models.ErrPaymentDeclined
		}
	}
	return &models.GatewayError{Message: "The service is temporarily unavailable. Please try again.", Err: err}
}
