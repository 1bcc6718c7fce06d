package activities

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rshare/ride-booking-system/shared/catalog"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/temporal-worker/internal/identity"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// PaymentProcessingDelay simulates the time a payment provider takes
const PaymentProcessingDelay = 500 * time.Millisecond

// ErrorDetail travels with activity errors so the workflow can rebuild the
// domain error
type ErrorDetail struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RequestCodeInput is the input for RequestCode
type RequestCodeInput struct {
	SessionID string             `json:"sessionId"`
	Phone     models.PhoneNumber `json:"phone"`
}

// RequestCodeResult carries the verification handle of a sent code
type RequestCodeResult struct {
	Handle string `json:"handle"`
}

// ConfirmCodeInput is the input for ConfirmCode
type ConfirmCodeInput struct {
	Handle string `json:"handle"`
	Code   string `json:"code"`
}

// FederatedSignInInput is the input for FederatedSignIn
type FederatedSignInInput struct {
	IDToken string `json:"idToken"`
}

// SignInResult carries the session identity of a successful sign-in
type SignInResult struct {
	Identity string `json:"identity"`
}

// SearchVehiclesInput is the input for SearchVehicles
type SearchVehiclesInput struct {
	Trip models.TripRequest `json:"trip"`
}

// ProcessPaymentInput is the input for ProcessPayment
type ProcessPaymentInput struct {
	SessionID string         `json:"sessionId"`
	Booking   models.Booking `json:"booking"`
}

// Activities holds the dependencies of the booking session activities
type Activities struct {
	gateway   identity.Gateway
	verifiers *identity.VerifierPool
	catalog   catalog.Catalog

	// PaymentFailureRate is the share of simulated payments that are
	// declined
	PaymentFailureRate float64
	// PaymentDelay is the simulated processing time
	PaymentDelay time.Duration
}

// NewActivities creates activities with dependencies
func NewActivities(gateway identity.Gateway, verifiers *identity.VerifierPool, c catalog.Catalog) *Activities {
	return &Activities{
		gateway:      gateway,
		verifiers:    verifiers,
		catalog:      c,
		PaymentDelay: PaymentProcessingDelay,
	}
}

// RequestCode sends a one-time code using the session's verifier
func (a *Activities) RequestCode(ctx context.Context, input RequestCodeInput) (*RequestCodeResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Requesting verification code", "sessionID", input.SessionID)

	handle, err := a.gateway.RequestCode(ctx, a.verifiers.Acquire(input.SessionID), input.Phone)
	if err != nil {
		logger.Warn("Code request failed", "sessionID", input.SessionID, "error", err)
		return nil, applicationError(err)
	}
	return &RequestCodeResult{Handle: handle}, nil
}

// ConfirmCode verifies a one-time code
func (a *Activities) ConfirmCode(ctx context.Context, input ConfirmCodeInput) (*SignInResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Confirming verification code", "handle", input.Handle)

	sessionIdentity, err := a.gateway.ConfirmCode(ctx, input.Handle, input.Code)
	if err != nil {
		logger.Warn("Code confirmation failed", "handle", input.Handle, "error", err)
		return nil, applicationError(err)
	}
	return &SignInResult{Identity: sessionIdentity}, nil
}

// FederatedSignIn verifies a federated provider token
func (a *Activities) FederatedSignIn(ctx context.Context, input FederatedSignInInput) (*SignInResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Verifying federated sign-in")

	sessionIdentity, err := a.gateway.FederatedSignIn(ctx, input.IDToken)
	if err != nil {
		logger.Warn("Federated sign-in failed", "error", err)
		return nil, applicationError(err)
	}
	return &SignInResult{Identity: sessionIdentity}, nil
}

// ReleaseVerifier ends the session's verifier once the login stage is over
func (a *Activities) ReleaseVerifier(ctx context.Context, sessionID string) error {
	activity.GetLogger(ctx).Info("Releasing verifier", "sessionID", sessionID)
	return a.verifiers.Release(ctx, sessionID)
}

// SearchVehicles returns the catalog offers for a trip
func (a *Activities) SearchVehicles(ctx context.Context, input SearchVehiclesInput) ([]models.VehicleOffer, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Searching vehicles", "source", input.Trip.Source, "destination", input.Trip.Destination, "date", input.Trip.Date)

	offers, err := a.catalog.Search(ctx, input.Trip)
	if err != nil {
		return nil, fmt.Errorf("failed to search vehicles: %w", err)
	}
	logger.Info("Vehicles found", "count", len(offers))
	return offers, nil
}

// ProcessPayment simulates charging the booking total
func (a *Activities) ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*models.PaymentReceipt, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Processing payment",
		"sessionID", input.SessionID,
		"method", input.Booking.PaymentMethod,
		"amount", input.Booking.TotalFare,
		"currency", input.Booking.Currency)

	if input.Booking.TotalFare <= 0 || len(input.Booking.Seats) == 0 {
		return nil, temporal.NewNonRetryableApplicationError("booking has nothing to pay for",
			models.ErrTypeValidation, nil, ErrorDetail{Message: "Booking has no seats to pay for."})
	}

	select {
	case <-time.After(a.PaymentDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if a.PaymentFailureRate > 0 && rand.Float64() < a.PaymentFailureRate {
		logger.Warn("Payment declined (simulated)", "sessionID", input.SessionID)
		return nil, applicationError(models.ErrPaymentDeclined)
	}

	receipt := &models.PaymentReceipt{
		TransactionID: "TXN-" + strings.ToUpper(uuid.NewString()[:8]),
		Reference:     bookingReference(),
		ProcessedAt:   time.Now().UTC(),
	}
	logger.Info("Payment processed", "sessionID", input.SessionID, "transactionID", receipt.TransactionID, "reference", receipt.Reference)
	return receipt, nil
}

const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func bookingReference() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = referenceAlphabet[rand.Intn(len(referenceAlphabet))]
	}
	return "RS" + string(b)
}

// applicationError converts gateway and domain errors into non-retryable
// Temporal errors tagged with their type. Anything else stays retryable.
func applicationError(err error) error {
	var validationErr *models.ValidationError
	var gatewayErr *models.GatewayError
	switch {
	case errors.As(err, &validationErr):
		errType := models.ErrTypeValidation
		if errors.Is(err, models.ErrInvalidPhoneFormat) {
			errType = models.ErrTypeInvalidPhoneFormat
		}
		return temporal.NewNonRetryableApplicationError(validationErr.Error(), errType, err,
			ErrorDetail{Message: validationErr.Error(), Fields: validationErr.Fields})
	case errors.Is(err, models.ErrInvalidPhoneFormat):
		return temporal.NewNonRetryableApplicationError(err.Error(), models.ErrTypeInvalidPhoneFormat, err,
			ErrorDetail{Message: "Please enter exactly 10 digits for mobile number."})
	case errors.Is(err, models.ErrInvalidOrExpiredCode):
		return temporal.NewNonRetryableApplicationError(err.Error(), models.ErrTypeInvalidOrExpiredCode, err,
			ErrorDetail{Message: "Invalid or expired code. Please try again."})
	case errors.As(err, &gatewayErr):
		return temporal.NewNonRetryableApplicationError(gatewayErr.Error(), models.ErrTypeGateway, err,
			ErrorDetail{Message: gatewayErr.Error()})
	case errors.Is(err, models.ErrPaymentDeclined):
		return temporal.NewNonRetryableApplicationError(err.Error(), models.ErrTypePaymentDeclined, err,
			ErrorDetail{Message: "Payment was declined. Please try again or choose another method."})
	}
	return err
}
