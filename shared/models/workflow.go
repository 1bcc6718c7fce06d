package models

import "time"

// SessionWorkflowInput represents input for the booking session workflow
type SessionWorkflowInput struct {
	SessionID   string        `json:"sessionId"`
	IdleTimeout time.Duration `json:"idleTimeout"`
	TimeZone    string        `json:"timeZone"`
}

// SessionWorkflowResult is returned when a session ends
type SessionWorkflowResult struct {
	SessionID string   `json:"sessionId"`
	Confirmed bool     `json:"confirmed"`
	Booking   *Booking `json:"booking,omitempty"`
	EndReason string   `json:"endReason"`
}

// Session end reasons
const (
	EndReasonConfirmed = "confirmed"
	EndReasonExpired   = "expired"
	EndReasonCancelled = "cancelled"
)

// SignalSessionCommand carries every user action. A single channel keeps
// actions in the order they were sent.
const SignalSessionCommand = "session_command"

// Queries for workflow state
const (
	QueryGetState      = "get_state"
	QueryCommandResult = "command_result"
)

// CommandKind names a user action on the booking session
type CommandKind string

const (
	CommandRequestCode          CommandKind = "request_code"
	CommandConfirmCode          CommandKind = "confirm_code"
	CommandResetLogin           CommandKind = "reset_login"
	CommandFederatedSignIn      CommandKind = "federated_sign_in"
	CommandSubmitTrip           CommandKind = "submit_trip"
	CommandSortOffers           CommandKind = "sort_offers"
	CommandSelectVehicle        CommandKind = "select_vehicle"
	CommandToggleSeat           CommandKind = "toggle_seat"
	CommandConfirmSeats         CommandKind = "confirm_seats"
	CommandProceedToPayment     CommandKind = "proceed_to_payment"
	CommandSelectPaymentMethod  CommandKind = "select_payment_method"
	CommandUpdatePaymentDetails CommandKind = "update_payment_details"
	CommandSubmitPayment        CommandKind = "submit_payment"
	CommandBack                 CommandKind = "back"
)

// SessionCommand is sent when the user acts on the booking session.
// Only the fields used by Kind are set.
type SessionCommand struct {
	ID          string                `json:"id"`
	Kind        CommandKind           `json:"kind"`
	CountryCode string                `json:"countryCode,omitempty"`
	Phone       string                `json:"phone,omitempty"`
	Code        string                `json:"code,omitempty"`
	IDToken     string                `json:"idToken,omitempty"`
	Trip        *TripForm             `json:"trip,omitempty"`
	SortBy      SortKey               `json:"sortBy,omitempty"`
	VehicleID   string                `json:"vehicleId,omitempty"`
	SeatID      string                `json:"seatId,omitempty"`
	Method      PaymentMethod         `json:"method,omitempty"`
	Details     *PaymentDetailsUpdate `json:"details,omitempty"`
}

// CommandResult reports how the workflow handled one command
type CommandResult struct {
	CommandID   string        `json:"commandId"`
	Kind        CommandKind   `json:"kind"`
	Applied     bool          `json:"applied"`
	Error       *CommandError `json:"error,omitempty"`
	Revision    int           `json:"revision"`
	ProcessedAt time.Time     `json:"processedAt"`
}

// CreateSessionResponse is returned when a booking session starts
type CreateSessionResponse struct {
	SessionID string        `json:"sessionId"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	State     *SessionState `json:"state,omitempty"`
}

// CommandResponse is the API reply to a dispatched command
type CommandResponse struct {
	Result *CommandResult `json:"result"`
	State  *SessionState  `json:"state"`
}
