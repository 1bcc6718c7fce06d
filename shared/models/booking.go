package models

import (
	"math"
	"time"
)

// Stage is the step of the booking wizard currently on screen
type Stage string

const (
	StageUnauthenticated Stage = "unauthenticated"
	StageTripPending     Stage = "trip_pending"
	StageVehiclePending  Stage = "vehicle_pending"
	StageSeatsPending    Stage = "seats_pending"
	StageSummaryPending  Stage = "summary_pending"
	StagePaymentPending  Stage = "payment_pending"
	StageConfirmed       Stage = "confirmed"
)

// BookingStatus represents the status of an assembled booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
)

// CountryCode is a dialling prefix offered on the login screen
type CountryCode struct {
	Code    string `json:"code"`
	Country string `json:"country"`
}

// DefaultCountryCode is preselected on the login screen
const DefaultCountryCode = "+91"

// CountryCodes is the fixed list of supported prefixes
var CountryCodes = []CountryCode{
	{Code: "+91", Country: "IND"},
	{Code: "+1", Country: "USA"},
	{Code: "+44", Country: "UK"},
}

// Booking is the union of trip, vehicle and seats handed to payment
type Booking struct {
	Identity      string        `json:"identity"`
	Trip          TripRequest   `json:"trip"`
	VehicleID     string        `json:"vehicleId"`
	CarType       string        `json:"carType"`
	DriverName    string        `json:"driverName"`
	DepartureTime time.Time     `json:"departureTime"`
	ArrivalTime   time.Time     `json:"arrivalTime"`
	Seats         []string      `json:"seats"`
	FarePerSeat   int64         `json:"farePerSeat"`
	TotalFare     int64         `json:"totalFare"`
	Currency      string        `json:"currency"`
	Status        BookingStatus `json:"status"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	ConfirmedAt   *time.Time    `json:"confirmedAt,omitempty"`
}

// PaymentReceipt is the outcome of a processed payment
type PaymentReceipt struct {
	TransactionID string    `json:"transactionId"`
	Reference     string    `json:"reference"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// LoginState is the sign-in screen
type LoginState struct {
	CountryCodes      []CountryCode `json:"countryCodes"`
	CountryCode       string        `json:"countryCode"`
	Phone             string        `json:"phone,omitempty"`
	CodeSent          bool          `json:"codeSent"`
	Pending           bool          `json:"pending"`
	ResendAvailableAt *time.Time    `json:"resendAvailableAt,omitempty"`
	ResendInSeconds   int           `json:"resendInSeconds"`
}

// SessionState is the snapshot of a booking session. Only the part that
// belongs to the current stage is populated.
type SessionState struct {
	SessionID     string              `json:"sessionId"`
	Stage         Stage               `json:"stage"`
	Revision      int                 `json:"revision"`
	Identity      string              `json:"identity,omitempty"`
	Login         *LoginState         `json:"login,omitempty"`
	TripForm      *TripFormState      `json:"tripForm,omitempty"`
	Vehicles      *VehicleListState   `json:"vehicles,omitempty"`
	SeatSelection *SeatSelectionState `json:"seatSelection,omitempty"`
	Summary       *Booking            `json:"summary,omitempty"`
	Payment       *PaymentState       `json:"payment,omitempty"`
	Confirmation  *Booking            `json:"confirmation,omitempty"`
	LastError     *CommandError       `json:"lastError,omitempty"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// RefreshCountdown recomputes the resend countdown against now. Snapshots
// are rendered on workflow time, which only moves while the workflow runs.
func (s *SessionState) RefreshCountdown(now time.Time) {
	if s == nil || s.Login == nil || s.Login.ResendAvailableAt == nil {
		return
	}
	remaining := s.Login.ResendAvailableAt.Sub(now)
	if remaining <= 0 {
		s.Login.ResendAvailableAt = nil
		s.Login.ResendInSeconds = 0
		return
	}
	s.Login.ResendInSeconds = int(math.Ceil(remaining.Seconds()))
}
