package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidTransition    = errors.New("action is not available at this stage")
	ErrBookingConfirmed     = errors.New("booking is already confirmed")
	ErrInFlight             = errors.New("a previous request is still being processed")
	ErrInvalidPhoneFormat   = errors.New("mobile number must be exactly 10 digits")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrCodeNotRequested     = errors.New("no code has been requested")
	ErrUnknownVehicle       = errors.New("vehicle not found")
	ErrUnknownSeat          = errors.New("seat not found")
	ErrSeatUnavailable      = errors.New("seat is not available")
	ErrNoSeatsSelected      = errors.New("at least one seat must be selected")
	ErrPaymentDeclined      = errors.New("payment was declined")
)

// Activity error types used across the Temporal boundary
const (
	ErrTypeValidation           = "ValidationError"
	ErrTypeInvalidPhoneFormat   = "InvalidPhoneFormat"
	ErrTypeInvalidOrExpiredCode = "InvalidOrExpiredCode"
	ErrTypeGateway              = "GatewayError"
	ErrTypePaymentDeclined      = "PaymentDeclined"
)

// ValidationError carries per-field messages for a rejected form
type ValidationError struct {
	Message string
	Fields  map[string]string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// GatewayError is a rejection by the identity provider
type GatewayError struct {
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// CooldownError is returned when a code is re-requested too early
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting a new code", seconds(e.Remaining))
}

// ErrorKind classifies a CommandError
type ErrorKind string

const (
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindInvalidPhone ErrorKind = "invalid_phone_format"
	ErrorKindInvalidCode  ErrorKind = "invalid_or_expired_code"
	ErrorKindGateway      ErrorKind = "gateway"
	ErrorKindCooldown     ErrorKind = "cooldown"
	ErrorKindInvalidState ErrorKind = "invalid_state"
	ErrorKindConfirmed    ErrorKind = "booking_confirmed"
	ErrorKindInFlight     ErrorKind = "in_flight"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindUnavailable  ErrorKind = "unavailable"
	ErrorKindDeclined     ErrorKind = "payment_declined"
	ErrorKindInternal     ErrorKind = "internal"
)

// CommandError is the serialisable form of an error raised by a command
type CommandError struct {
	Kind              ErrorKind         `json:"kind"`
	Message           string            `json:"message"`
	Fields            map[string]string `json:"fields,omitempty"`
	RetryAfterSeconds int               `json:"retryAfterSeconds,omitempty"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewCommandError converts a domain error into a CommandError
func NewCommandError(err error) *CommandError {
	if err == nil {
		return nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}

	out := &CommandError{Kind: ErrorKindInternal, Message: err.Error()}

	var validationErr *ValidationError
	var gatewayErr *GatewayError
	var cooldownErr *CooldownError
	switch {
	case errors.Is(err, ErrInvalidPhoneFormat):
		out.Kind = ErrorKindInvalidPhone
	case errors.Is(err, ErrInvalidOrExpiredCode):
		out.Kind = ErrorKindInvalidCode
	case errors.As(err, &validationErr):
		out.Kind = ErrorKindValidation
	case errors.As(err, &cooldownErr):
		out.Kind = ErrorKindCooldown
		out.RetryAfterSeconds = seconds(cooldownErr.Remaining)
	case errors.As(err, &gatewayErr):
		out.Kind = ErrorKindGateway
	case errors.Is(err, ErrBookingConfirmed):
		out.Kind = ErrorKindConfirmed
	case errors.Is(err, ErrInFlight):
		out.Kind = ErrorKindInFlight
	case errors.Is(err, ErrUnknownVehicle), errors.Is(err, ErrUnknownSeat):
		out.Kind = ErrorKindNotFound
	case errors.Is(err, ErrSeatUnavailable):
		out.Kind = ErrorKindUnavailable
	case errors.Is(err, ErrPaymentDeclined):
		out.Kind = ErrorKindDeclined
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrCodeNotRequested), errors.Is(err, ErrNoSeatsSelected):
		out.Kind = ErrorKindInvalidState
	}

	if validationErr != nil || errors.As(err, &validationErr) {
		out.Fields = validationErr.Fields
		out.Message = validationErr.Error()
	}
	return out
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
