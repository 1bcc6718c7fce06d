package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rshare/ride-booking-system/shared/catalog"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/activities"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

var startTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type BookingSessionWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *BookingSessionWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.SetStartTime(startTime)
	s.env.RegisterActivity(&activities.Activities{})
}

func (s *BookingSessionWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func TestBookingSessionWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(BookingSessionWorkflowTestSuite))
}

func sessionInput() models.SessionWorkflowInput {
	return models.SessionWorkflowInput{
		SessionID:   "session-123",
		IdleTimeout: 10 * time.Minute,
		TimeZone:    "UTC",
	}
}

func ptr(s string) *string { return &s }

func tripForm() *models.TripForm {
	return &models.TripForm{Source: "Chennai", Destination: "Bangalore", Date: "2026-03-11"}
}

func (s *BookingSessionWorkflowTestSuite) offers() []models.VehicleOffer {
	offers, err := catalog.NewStatic(time.UTC).Search(context.Background(), models.TripRequest{
		Source: "Chennai", Destination: "Bangalore", Date: "2026-03-11",
	})
	s.Require().NoError(err)
	return offers
}

// send signals cmd at the given offset from the workflow start
func (s *BookingSessionWorkflowTestSuite) send(at time.Duration, cmd models.SessionCommand) {
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(models.SignalSessionCommand, cmd)
	}, at)
}

func (s *BookingSessionWorkflowTestSuite) state() models.SessionState {
	value, err := s.env.QueryWorkflow(models.QueryGetState)
	s.Require().NoError(err)
	var state models.SessionState
	s.Require().NoError(value.Get(&state))
	return state
}

func (s *BookingSessionWorkflowTestSuite) commandResult(id string) *models.CommandResult {
	value, err := s.env.QueryWorkflow(models.QueryCommandResult, id)
	s.Require().NoError(err)
	var result *models.CommandResult
	s.Require().NoError(value.Get(&result))
	return result
}

func (s *BookingSessionWorkflowTestSuite) result() models.SessionWorkflowResult {
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var result models.SessionWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	return result
}

func (s *BookingSessionWorkflowTestSuite) mockSignIn() {
	s.env.OnActivity(a.RequestCode, mock.Anything, mock.Anything).Return(&activities.RequestCodeResult{Handle: "handle-1"}, nil).Once()
	s.env.OnActivity(a.ConfirmCode, mock.Anything, activities.ConfirmCodeInput{Handle: "handle-1", Code: "123456"}).
		Return(&activities.SignInResult{Identity: "+91 9876543210"}, nil).Once()
	s.env.OnActivity(a.ReleaseVerifier, mock.Anything, "session-123").Return(nil).Once()
}

// sendSignIn queues the commands that take a session from login to the
// vehicle list, one second apart starting at the given offset
func (s *BookingSessionWorkflowTestSuite) sendSignIn(at time.Duration) time.Duration {
	cmds := []models.SessionCommand{
		{ID: "cmd-login-1", Kind: models.CommandRequestCode, CountryCode: "+91", Phone: "9876543210"},
		{ID: "cmd-login-2", Kind: models.CommandConfirmCode, Code: "123456"},
		{ID: "cmd-trip", Kind: models.CommandSubmitTrip, Trip: tripForm()},
	}
	for _, cmd := range cmds {
		s.send(at, cmd)
		at += time.Second
	}
	return at
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_Constants() {
	s.Equal(30*time.Minute, DefaultIdleTimeout)
	s.Equal(10*time.Second, PaymentTimeout, "Payment timeout should be 10 seconds")
	s.Equal(32, CommandResultHistory)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_EndToEndBooking() {
	s.mockSignIn()
	s.env.OnActivity(a.SearchVehicles, mock.Anything, activities.SearchVehiclesInput{
		Trip: models.TripRequest{Source: "Chennai", Destination: "Bangalore", Date: "2026-03-11"},
	}).Return(s.offers(), nil).Once()
	s.env.OnActivity(a.ProcessPayment, mock.Anything, mock.Anything).Return(&models.PaymentReceipt{
		TransactionID: "TXN-ABCD1234",
		Reference:     "RSQ7K2PD",
		ProcessedAt:   startTime.Add(time.Minute),
	}, nil).Once()

	at := s.sendSignIn(time.Second)
	cmds := []models.SessionCommand{
		{ID: "cmd-sort", Kind: models.CommandSortOffers, SortBy: models.SortByPrice},
		{ID: "cmd-vehicle", Kind: models.CommandSelectVehicle, VehicleID: "car1"},
		{ID: "cmd-seat-1", Kind: models.CommandToggleSeat, SeatID: "1"},
		{ID: "cmd-seat-2", Kind: models.CommandToggleSeat, SeatID: "2"},
		{ID: "cmd-seats", Kind: models.CommandConfirmSeats},
		{ID: "cmd-summary", Kind: models.CommandProceedToPayment},
		{ID: "cmd-method", Kind: models.CommandSelectPaymentMethod, Method: models.PaymentMethodUPI},
		{ID: "cmd-details", Kind: models.CommandUpdatePaymentDetails, Details: &models.PaymentDetailsUpdate{UPIID: ptr("rider@okbank")}},
		{ID: "cmd-pay", Kind: models.CommandSubmitPayment},
	}
	for _, cmd := range cmds {
		s.send(at, cmd)
		at += time.Second
	}

	s.env.RegisterDelayedCallback(func() {
		state := s.state()
		s.Equal(models.StageConfirmed, state.Stage)
		s.Require().NotNil(state.Confirmation)
		s.Equal("+91 9876543210", state.Confirmation.Identity)
		s.Equal("car1", state.Confirmation.VehicleID)
		s.Equal([]string{"1", "2"}, state.Confirmation.Seats)
		s.Equal(int64(1000), state.Confirmation.TotalFare)
		s.Equal("RSQ7K2PD", state.Confirmation.Reference)
		s.Nil(state.Payment)

		pay := s.commandResult("cmd-pay")
		s.Require().NotNil(pay)
		s.True(pay.Applied)
		s.Equal(state.Revision, pay.Revision)

		// nothing changes a confirmed booking
		s.env.SignalWorkflow(models.SignalSessionCommand, models.SessionCommand{ID: "cmd-late", Kind: models.CommandBack})
	}, at+time.Second)

	s.env.RegisterDelayedCallback(func() {
		late := s.commandResult("cmd-late")
		s.Require().NotNil(late)
		s.False(late.Applied)
		s.Equal(models.ErrorKindConfirmed, late.Error.Kind)
	}, at+2*time.Second)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())

	result := s.result()
	s.True(result.Confirmed)
	s.Equal(models.EndReasonConfirmed, result.EndReason)
	s.Require().NotNil(result.Booking)
	s.Equal(models.BookingStatusConfirmed, result.Booking.Status)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_InFlightCommandsRejected() {
	s.env.OnActivity(a.RequestCode, mock.Anything, activities.RequestCodeInput{
		SessionID: "session-123",
		Phone:     models.PhoneNumber{CountryCode: "+91", Number: "9876543210"},
	}).After(10*time.Second).Return(&activities.RequestCodeResult{Handle: "handle-1"}, nil).Once()
	s.env.OnActivity(a.ReleaseVerifier, mock.Anything, "session-123").Return(nil).Once()

	request := models.SessionCommand{ID: "cmd-1", Kind: models.CommandRequestCode, CountryCode: "+91", Phone: "9876543210"}
	s.send(time.Second, request)
	s.send(2*time.Second, models.SessionCommand{ID: "cmd-2", Kind: models.CommandConfirmCode, Code: "123456"})
	// duplicate delivery of the command in flight
	s.send(3*time.Second, request)

	s.env.RegisterDelayedCallback(func() {
		s.Nil(s.commandResult("cmd-1"))
		rejected := s.commandResult("cmd-2")
		s.Require().NotNil(rejected)
		s.False(rejected.Applied)
		s.Equal(models.ErrorKindInFlight, rejected.Error.Kind)
		s.True(s.state().Login.Pending)
	}, 4*time.Second)

	s.env.RegisterDelayedCallback(func() {
		done := s.commandResult("cmd-1")
		s.Require().NotNil(done)
		s.True(done.Applied)
		login := s.state().Login
		s.True(login.CodeSent)
		s.False(login.Pending)
		s.env.CancelWorkflow()
	}, 20*time.Second)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())

	result := s.result()
	s.False(result.Confirmed)
	s.Equal(models.EndReasonCancelled, result.EndReason)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_InvalidCodeKeepsLogin() {
	s.env.OnActivity(a.RequestCode, mock.Anything, mock.Anything).Return(&activities.RequestCodeResult{Handle: "handle-1"}, nil).Once()
	s.env.OnActivity(a.ConfirmCode, mock.Anything, mock.Anything).Return(nil,
		temporal.NewNonRetryableApplicationError("invalid or expired verification code", models.ErrTypeInvalidOrExpiredCode, nil,
			activities.ErrorDetail{Message: "Invalid or expired code. Please try again."})).Once()
	s.env.OnActivity(a.ReleaseVerifier, mock.Anything, "session-123").Return(nil).Once()

	s.send(time.Second, models.SessionCommand{ID: "cmd-1", Kind: models.CommandRequestCode, CountryCode: "+91", Phone: "9876543210"})
	s.send(2*time.Second, models.SessionCommand{ID: "cmd-2", Kind: models.CommandConfirmCode, Code: "000000"})

	s.env.RegisterDelayedCallback(func() {
		failed := s.commandResult("cmd-2")
		s.Require().NotNil(failed)
		s.False(failed.Applied)
		s.Equal(models.ErrorKindInvalidCode, failed.Error.Kind)
		state := s.state()
		s.Equal(models.StageUnauthenticated, state.Stage)
		s.Require().NotNil(state.LastError)
		s.Equal(models.ErrorKindInvalidCode, state.LastError.Kind)
	}, 3*time.Second)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())

	result := s.result()
	s.Equal(models.EndReasonExpired, result.EndReason)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_InvalidPhoneNeverCallsGateway() {
	s.env.OnActivity(a.ReleaseVerifier, mock.Anything, "session-123").Return(nil).Once()

	s.send(time.Second, models.SessionCommand{ID: "cmd-1", Kind: models.CommandRequestCode, CountryCode: "+91", Phone: "98765"})

	s.env.RegisterDelayedCallback(func() {
		failed := s.commandResult("cmd-1")
		s.Require().NotNil(failed)
		s.Equal(models.ErrorKindInvalidPhone, failed.Error.Kind)
		s.Equal("Please enter exactly 10 digits for mobile number.", failed.Error.Message)
		s.Zero(s.state().Revision)
	}, 2*time.Second)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())
	s.Equal(models.EndReasonExpired, s.result().EndReason)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_SearchFailureKeepsTripForm() {
	s.mockSignIn()
	s.env.OnActivity(a.SearchVehicles, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	at := s.sendSignIn(time.Second)

	s.env.RegisterDelayedCallback(func() {
		failed := s.commandResult("cmd-trip")
		s.Require().NotNil(failed)
		s.False(failed.Applied)
		s.Equal(models.ErrorKindGateway, failed.Error.Kind)
		state := s.state()
		s.Equal(models.StageTripPending, state.Stage)
		s.NotNil(state.TripForm)
		s.env.CancelWorkflow()
	}, at+time.Minute)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())
	s.Equal(models.EndReasonCancelled, s.result().EndReason)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_DeclinedPaymentCanBeRetried() {
	s.mockSignIn()
	s.env.OnActivity(a.SearchVehicles, mock.Anything, mock.Anything).Return(s.offers(), nil).Once()
	s.env.OnActivity(a.ProcessPayment, mock.Anything, mock.Anything).Return(nil,
		temporal.NewNonRetryableApplicationError("payment was declined", models.ErrTypePaymentDeclined, nil,
			activities.ErrorDetail{Message: "Payment was declined. Please try again or choose another method."})).Once()
	s.env.OnActivity(a.ProcessPayment, mock.Anything, mock.Anything).Return(&models.PaymentReceipt{
		TransactionID: "TXN-0000FFFF",
		Reference:     "RSAAAAAA",
		ProcessedAt:   startTime,
	}, nil).Once()

	at := s.sendSignIn(time.Second)
	cmds := []models.SessionCommand{
		{ID: "cmd-vehicle", Kind: models.CommandSelectVehicle, VehicleID: "car2"},
		{ID: "cmd-seat", Kind: models.CommandToggleSeat, SeatID: "3"},
		{ID: "cmd-seats", Kind: models.CommandConfirmSeats},
		{ID: "cmd-summary", Kind: models.CommandProceedToPayment},
		{ID: "cmd-method", Kind: models.CommandSelectPaymentMethod, Method: models.PaymentMethodCash},
		{ID: "cmd-pay-1", Kind: models.CommandSubmitPayment},
	}
	for _, cmd := range cmds {
		s.send(at, cmd)
		at += time.Second
	}

	s.env.RegisterDelayedCallback(func() {
		declined := s.commandResult("cmd-pay-1")
		s.Require().NotNil(declined)
		s.False(declined.Applied)
		s.Equal(models.ErrorKindDeclined, declined.Error.Kind)
		state := s.state()
		s.Equal(models.StagePaymentPending, state.Stage)
		s.Equal(models.PaymentMethodCash, state.Payment.Method)
		s.env.SignalWorkflow(models.SignalSessionCommand, models.SessionCommand{ID: "cmd-pay-2", Kind: models.CommandSubmitPayment})
	}, at+time.Second)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())

	result := s.result()
	s.True(result.Confirmed)
	s.Equal(int64(543), result.Booking.TotalFare)
	s.Equal(models.PaymentMethodCash, result.Booking.PaymentMethod)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_CommandResultsAreBounded() {
	for i := 0; i < CommandResultHistory+8; i++ {
		s.send(time.Duration(i+1)*time.Second, models.SessionCommand{ID: fmt.Sprintf("cmd-%d", i), Kind: models.CommandBack})
	}
	s.env.OnActivity(a.ReleaseVerifier, mock.Anything, "session-123").Return(nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.Nil(s.commandResult("cmd-0"))
		s.Nil(s.commandResult("cmd-7"))
		s.NotNil(s.commandResult("cmd-8"))
		last := s.commandResult(fmt.Sprintf("cmd-%d", CommandResultHistory+7))
		s.Require().NotNil(last)
		s.Equal(models.ErrorKindInvalidState, last.Error.Kind)
	}, time.Duration(CommandResultHistory+10)*time.Second)

	s.env.ExecuteWorkflow(BookingSessionWorkflow, sessionInput())
	s.Equal(models.EndReasonExpired, s.result().EndReason)
}

func (s *BookingSessionWorkflowTestSuite) TestWorkflow_IdleSessionExpires() {
	s.env.OnActivity(a.ReleaseVerifier, mock.Anything, "session-123").Return(nil).Once()

	s.env.ExecuteWorkflow(BookingSessionWorkflow, models.SessionWorkflowInput{SessionID: "session-123"})

	result := s.result()
	s.False(result.Confirmed)
	s.Nil(result.Booking)
	s.Equal(models.EndReasonExpired, result.EndReason)
}

func TestDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{
			name: "invalid phone",
			err: temporal.NewNonRetryableApplicationError("bad phone", models.ErrTypeInvalidPhoneFormat, nil,
				activities.ErrorDetail{Message: "Please enter exactly 10 digits for mobile number.", Fields: map[string]string{"phone": "x"}}),
			want: models.ErrorKindInvalidPhone,
		},
		{
			name: "validation",
			err:  temporal.NewNonRetryableApplicationError("bad", models.ErrTypeValidation, nil, activities.ErrorDetail{Message: "bad"}),
			want: models.ErrorKindValidation,
		},
		{
			name: "invalid code",
			err:  temporal.NewNonRetryableApplicationError("bad code", models.ErrTypeInvalidOrExpiredCode, nil),
			want: models.ErrorKindInvalidCode,
		},
		{
			name: "gateway",
			err:  temporal.NewNonRetryableApplicationError("down", models.ErrTypeGateway, nil, activities.ErrorDetail{Message: "down"}),
			want: models.ErrorKindGateway,
		},
		{
			name: "declined",
			err:  temporal.NewNonRetryableApplicationError("declined", models.ErrTypePaymentDeclined, nil),
			want: models.ErrorKindDeclined,
		},
		{
			name: "unknown",
			err:  errors.New("activity timed out"),
			want: models.ErrorKindGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.NewCommandError(domainError(tt.err))
			if got == nil || got.Kind != tt.want {
				t.Fatalf("domainError(%v) kind = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
