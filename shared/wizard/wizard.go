// Package wizard implements the booking session as an explicit state
// machine. A Wizard is not safe for concurrent use; each session owns one
// and feeds it actions in order.
//
// Operations that reach an external system are split in two: a Begin call
// validates and marks the operation in flight, and a completion call
// (CodeSent, SignIn, CompletePayment, ...) applies the outcome. While an
// operation is in flight every other action is rejected with ErrInFlight.
package wizard

import (
	"errors"
	"fmt"
	"time"

	"github.com/rshare/ride-booking-system/shared/catalog"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/shared/validation"
)

// ResendCooldown is the minimum time between two code requests
const ResendCooldown = 60 * time.Second

// Operation names the external call currently awaited
type Operation string

const (
	OpNone        Operation = ""
	OpRequestCode Operation = "request_code"
	OpConfirmCode Operation = "confirm_code"
	OpFederated   Operation = "federated_sign_in"
	OpPayment     Operation = "payment"
)

type loginDraft struct {
	phone         models.PhoneNumber
	handle        string
	codeSent      bool
	lastRequestAt time.Time
}

// Wizard holds one booking session
type Wizard struct {
	sessionID string
	now       func() time.Time
	loc       *time.Location

	stage     models.Stage
	pending   Operation
	revision  int
	updatedAt time.Time
	lastErr   *models.CommandError

	identity string
	login    loginDraft

	trip   models.TripRequest
	offers []models.VehicleOffer
	sortBy models.SortKey

	vehicle *models.VehicleOffer
	seats   *SeatSelector
	chosen  []string

	method   models.PaymentMethod
	details  models.PaymentDetails
	attempts int

	confirmation *models.Booking
}

// New creates a wizard at the login stage. now supplies the session clock
// and loc the time zone used for travel dates.
func New(sessionID string, now func() time.Time, loc *time.Location) *Wizard {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	w := &Wizard{
		sessionID: sessionID,
		now:       now,
		loc:       loc,
		stage:     models.StageUnauthenticated,
		login:     loginDraft{phone: models.PhoneNumber{CountryCode: models.DefaultCountryCode}},
	}
	w.updatedAt = w.clock()
	return w
}

// Stage returns the current stage
func (w *Wizard) Stage() models.Stage { return w.stage }

// Pending returns the operation in flight, if any
func (w *Wizard) Pending() Operation { return w.pending }

// Revision counts applied actions
func (w *Wizard) Revision() int { return w.revision }

// Identity returns the session identity once signed in
func (w *Wizard) Identity() string { return w.identity }

// Confirmation returns the confirmed booking, or nil
func (w *Wizard) Confirmation() *models.Booking {
	if w.confirmation == nil {
		return nil
	}
	b := *w.confirmation
	return &b
}

func (w *Wizard) clock() time.Time {
	return w.now().In(w.loc)
}

// guard checks that an action may start in the given stage
func (w *Wizard) guard(stages ...models.Stage) error {
	if w.stage == models.StageConfirmed {
		return models.ErrBookingConfirmed
	}
	if w.pending != OpNone {
		return fmt.Errorf("%w: %s", models.ErrInFlight, w.pending)
	}
	for _, s := range stages {
		if w.stage == s {
			return nil
		}
	}
	return fmt.Errorf("%w: stage is %s", models.ErrInvalidTransition, w.stage)
}

// awaiting checks that a completion matches the operation in flight
func (w *Wizard) awaiting(ops ...Operation) error {
	if w.stage == models.StageConfirmed {
		return models.ErrBookingConfirmed
	}
	for _, op := range ops {
		if w.pending == op && op != OpNone {
			return nil
		}
	}
	return fmt.Errorf("%w: no %s in flight", models.ErrInvalidTransition, ops[0])
}

func (w *Wizard) fail(err error) error {
	// A rejection after confirmation leaves the confirmation screen alone.
	if !errors.Is(err, models.ErrBookingConfirmed) {
		w.lastErr = models.NewCommandError(err)
	}
	return err
}

// Reject records an error raised outside the wizard, such as a failed
// catalog search, and returns it
func (w *Wizard) Reject(err error) error {
	return w.fail(err)
}

func (w *Wizard) applied() {
	w.revision++
	w.lastErr = nil
	w.updatedAt = w.clock()
}

// BeginCodeRequest validates the phone number and marks a code request in
// flight. A new request is refused until the resend cooldown has passed.
func (w *Wizard) BeginCodeRequest(countryCode, phone string) (models.PhoneNumber, error) {
	if err := w.guard(models.StageUnauthenticated); err != nil {
		return models.PhoneNumber{}, w.fail(err)
	}
	number, err := validation.Phone(countryCode, phone)
	if err != nil {
		return models.PhoneNumber{}, w.fail(err)
	}
	if remaining := w.resendRemaining(); remaining > 0 {
		return models.PhoneNumber{}, w.fail(&models.CooldownError{Remaining: remaining})
	}

	w.login.phone = number
	w.pending = OpRequestCode
	w.applied()
	return number, nil
}

// CodeSent records the verification handle of a delivered code and starts
// the resend cooldown
func (w *Wizard) CodeSent(handle string) error {
	if err := w.awaiting(OpRequestCode); err != nil {
		return w.fail(err)
	}
	w.pending = OpNone
	w.login.handle = handle
	w.login.codeSent = true
	w.login.lastRequestAt = w.clock()
	w.applied()
	return nil
}

// CodeRequestFailed ends a code request that the gateway rejected
func (w *Wizard) CodeRequestFailed(cause error) error {
	if err := w.awaiting(OpRequestCode); err != nil {
		return w.fail(err)
	}
	w.pending = OpNone
	w.revision++
	w.updatedAt = w.clock()
	return w.fail(cause)
}

// BeginCodeConfirm checks the code format and returns the handle it must be
// verified against
func (w *Wizard) BeginCodeConfirm(code string) (string, error) {
	if err := w.guard(models.StageUnauthenticated); err != nil {
		return "", w.fail(err)
	}
	if !w.login.codeSent {
		return "", w.fail(models.ErrCodeNotRequested)
	}
	if err := validation.Code(code); err != nil {
		return "", w.fail(err)
	}
	w.pending = OpConfirmCode
	w.applied()
	return w.login.handle, nil
}

// BeginFederatedSignIn marks a federated sign-in in flight
func (w *Wizard) BeginFederatedSignIn() error {
	if err := w.guard(models.StageUnauthenticated); err != nil {
		return w.fail(err)
	}
	w.pending = OpFederated
	w.applied()
	return nil
}

// SignIn completes a code confirmation or federated sign-in and moves to
// the trip form
func (w *Wizard) SignIn(identity string) error {
	if err := w.awaiting(OpConfirmCode, OpFederated); err != nil {
		return w.fail(err)
	}
	w.pending = OpNone
	w.identity = identity
	w.login = loginDraft{}
	w.stage = models.StageTripPending
	w.applied()
	return nil
}

// SignInFailed ends a code confirmation or federated sign-in that the
// gateway rejected. A sent code stays usable for another attempt.
func (w *Wizard) SignInFailed(cause error) error {
	if err := w.awaiting(OpConfirmCode, OpFederated); err != nil {
		return w.fail(err)
	}
	w.pending = OpNone
	w.revision++
	w.updatedAt = w.clock()
	return w.fail(cause)
}

// ResetLogin discards the entered number and any sent code. The resend
// cooldown keeps running.
func (w *Wizard) ResetLogin() error {
	if err := w.guard(models.StageUnauthenticated); err != nil {
		return w.fail(err)
	}
	w.login = loginDraft{
		phone:         models.PhoneNumber{CountryCode: models.DefaultCountryCode},
		lastRequestAt: w.login.lastRequestAt,
	}
	w.applied()
	return nil
}

func (w *Wizard) resendRemaining() time.Duration {
	if w.login.lastRequestAt.IsZero() {
		return 0
	}
	remaining := w.login.lastRequestAt.Add(ResendCooldown).Sub(w.clock())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ValidateTrip checks a trip form without changing the session. The caller
// uses the result to search the catalog before SubmitTrip.
func (w *Wizard) ValidateTrip(form models.TripForm) (models.TripRequest, error) {
	if err := w.guard(models.StageTripPending); err != nil {
		return models.TripRequest{}, w.fail(err)
	}
	trip, err := validation.Trip(form, w.clock())
	if err != nil {
		return models.TripRequest{}, w.fail(err)
	}
	return trip, nil
}

// SubmitTrip stores the trip request with the offers found for it and moves
// to the vehicle list
func (w *Wizard) SubmitTrip(form models.TripForm, offers []models.VehicleOffer) error {
	trip, err := w.ValidateTrip(form)
	if err != nil {
		return err
	}
	w.trip = trip
	w.offers = append([]models.VehicleOffer(nil), offers...)
	w.sortBy = ""
	w.stage = models.StageVehiclePending
	w.applied()
	return nil
}

// SortOffers reorders the vehicle list
func (w *Wizard) SortOffers(key models.SortKey) error {
	if err := w.guard(models.StageVehiclePending); err != nil {
		return w.fail(err)
	}
	sorted, err := catalog.Sort(w.offers, key)
	if err != nil {
		return w.fail(&models.ValidationError{
			Message: "Please choose a valid sort order.",
			Fields:  map[string]string{"by": err.Error()},
		})
	}
	w.offers = sorted
	w.sortBy = key
	w.applied()
	return nil
}

// SelectVehicle picks an offer and opens a fresh seat selection for it
func (w *Wizard) SelectVehicle(vehicleID string) error {
	if err := w.guard(models.StageVehiclePending); err != nil {
		return w.fail(err)
	}
	for i := range w.offers {
		if w.offers[i].ID == vehicleID {
			offer := w.offers[i]
			w.vehicle = &offer
			w.seats = NewSeatSelector(offer)
			w.chosen = nil
			w.stage = models.StageSeatsPending
			w.applied()
			return nil
		}
	}
	return w.fail(fmt.Errorf("%w: %s", models.ErrUnknownVehicle, vehicleID))
}

// ToggleSeat adds or removes a seat from the draft selection
func (w *Wizard) ToggleSeat(seatID string) error {
	if err := w.guard(models.StageSeatsPending); err != nil {
		return w.fail(err)
	}
	if err := w.seats.Toggle(seatID); err != nil {
		return w.fail(err)
	}
	w.applied()
	return nil
}

// ConfirmSeats fixes the draft selection and moves to the summary
func (w *Wizard) ConfirmSeats() error {
	if err := w.guard(models.StageSeatsPending); err != nil {
		return w.fail(err)
	}
	if !w.seats.CanConfirm() {
		return w.fail(models.ErrNoSeatsSelected)
	}
	w.chosen = w.seats.Selected()
	w.stage = models.StageSummaryPending
	w.applied()
	return nil
}

// ProceedToPayment moves from the summary to the payment form
func (w *Wizard) ProceedToPayment() error {
	if err := w.guard(models.StageSummaryPending); err != nil {
		return w.fail(err)
	}
	w.stage = models.StagePaymentPending
	w.applied()
	return nil
}

// SelectPaymentMethod picks one of the fixed methods. Entered details are
// kept when the method changes.
func (w *Wizard) SelectPaymentMethod(method models.PaymentMethod) error {
	if err := w.guard(models.StagePaymentPending); err != nil {
		return w.fail(err)
	}
	if !method.IsValid() {
		return w.fail(&models.ValidationError{
			Message: "Please select a payment method.",
			Fields:  map[string]string{validation.FieldMethod: "Please select a payment method."},
		})
	}
	w.method = method
	w.applied()
	return nil
}

// UpdatePaymentDetails sets the payment form fields present in the update.
// They are only validated on submission.
func (w *Wizard) UpdatePaymentDetails(update models.PaymentDetailsUpdate) error {
	if err := w.guard(models.StagePaymentPending); err != nil {
		return w.fail(err)
	}
	w.details = update.Apply(w.details)
	w.applied()
	return nil
}

// BeginPayment validates the payment form and returns the booking to be
// charged
func (w *Wizard) BeginPayment() (models.Booking, error) {
	if err := w.guard(models.StagePaymentPending); err != nil {
		return models.Booking{}, w.fail(err)
	}
	if err := validation.Payment(w.method, w.details); err != nil {
		return models.Booking{}, w.fail(err)
	}
	w.pending = OpPayment
	w.attempts++
	w.applied()

	booking := w.booking()
	booking.PaymentMethod = w.method
	return booking, nil
}

// CompletePayment confirms the booking. No further action is accepted.
func (w *Wizard) CompletePayment(receipt models.PaymentReceipt) error {
	if err := w.awaiting(OpPayment); err != nil {
		return w.fail(err)
	}
	booking := w.booking()
	booking.PaymentMethod = w.method
	booking.Status = models.BookingStatusConfirmed
	booking.Reference = receipt.Reference
	booking.TransactionID = receipt.TransactionID
	confirmedAt := receipt.ProcessedAt
	if confirmedAt.IsZero() {
		confirmedAt = w.clock()
	}
	booking.ConfirmedAt = &confirmedAt

	w.pending = OpNone
	w.confirmation = &booking
	w.details = models.PaymentDetails{}
	w.stage = models.StageConfirmed
	w.applied()
	return nil
}

// PaymentFailed ends a payment attempt; the form may be corrected and
// submitted again
func (w *Wizard) PaymentFailed(cause error) error {
	if err := w.awaiting(OpPayment); err != nil {
		return w.fail(err)
	}
	w.pending = OpNone
	w.revision++
	w.updatedAt = w.clock()
	return w.fail(cause)
}

// Back returns to the previous stage and discards that stage's output.
// Going back from the summary keeps the seat draft so it can be modified.
func (w *Wizard) Back() error {
	if err := w.guard(
		models.StageVehiclePending,
		models.StageSeatsPending,
		models.StageSummaryPending,
		models.StagePaymentPending,
	); err != nil {
		return w.fail(err)
	}

	switch w.stage {
	case models.StageVehiclePending:
		w.trip = models.TripRequest{}
		w.offers = nil
		w.sortBy = ""
		w.stage = models.StageTripPending
	case models.StageSeatsPending:
		w.vehicle = nil
		w.seats = nil
		w.stage = models.StageVehiclePending
	case models.StageSummaryPending:
		w.chosen = nil
		w.stage = models.StageSeatsPending
	case models.StagePaymentPending:
		w.stage = models.StageSummaryPending
	}
	w.applied()
	return nil
}

func (w *Wizard) booking() models.Booking {
	b := models.Booking{
		Identity: w.identity,
		Trip:     w.trip,
		Seats:    append([]string(nil), w.chosen...),
		Currency: models.Currency,
		Status:   models.BookingStatusPending,
	}
	if w.vehicle != nil {
		b.VehicleID = w.vehicle.ID
		b.CarType = w.vehicle.CarType
		b.DriverName = w.vehicle.DriverName
		b.DepartureTime = w.vehicle.DepartureTime
		b.ArrivalTime = w.vehicle.ArrivalTime
		b.FarePerSeat = w.vehicle.FarePerSeat
		b.TotalFare = TotalFare(len(b.Seats), w.vehicle.FarePerSeat)
	}
	return b
}
