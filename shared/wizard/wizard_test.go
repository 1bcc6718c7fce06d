package wizard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rshare/ride-booking-system/shared/catalog"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type fakeClock struct {
	t time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, ist)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func tomorrow(c *fakeClock) string {
	return c.t.AddDate(0, 0, 1).Format(models.DateLayout)
}

func newWizard(c *fakeClock) *Wizard {
	return New("session-1", c.Now, ist)
}

func ptr(s string) *string { return &s }

func tripForm(c *fakeClock) models.TripForm {
	return models.TripForm{Source: "Chennai", Destination: "Bangalore", Date: tomorrow(c)}
}

func searchOffers(t *testing.T, trip models.TripForm) []models.VehicleOffer {
	t.Helper()
	offers, err := catalog.NewStatic(ist).Search(context.Background(), models.TripRequest{
		Source: trip.Source, Destination: trip.Destination, Date: trip.Date,
	})
	require.NoError(t, err)
	return offers
}

func signIn(t *testing.T, w *Wizard) {
	t.Helper()
	_, err := w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	require.NoError(t, w.CodeSent("handle-1"))
	handle, err := w.BeginCodeConfirm("123456")
	require.NoError(t, err)
	require.Equal(t, "handle-1", handle)
	require.NoError(t, w.SignIn("+91 9876543210"))
}

func toSeats(t *testing.T, c *fakeClock, w *Wizard) {
	t.Helper()
	signIn(t, w)
	form := tripForm(c)
	require.NoError(t, w.SubmitTrip(form, searchOffers(t, form)))
	require.NoError(t, w.SelectVehicle("car1"))
}

func toPayment(t *testing.T, c *fakeClock, w *Wizard) {
	t.Helper()
	toSeats(t, c, w)
	require.NoError(t, w.ToggleSeat("1"))
	require.NoError(t, w.ToggleSeat("2"))
	require.NoError(t, w.ConfirmSeats())
	require.NoError(t, w.ProceedToPayment())
}

func TestWizard_EndToEnd(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	assert.Equal(t, models.StageUnauthenticated, w.Stage())

	number, err := w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", number.E164())
	require.NoError(t, w.CodeSent("handle-1"))

	handle, err := w.BeginCodeConfirm("123456")
	require.NoError(t, err)
	require.NoError(t, w.SignIn(number.String()))
	assert.Equal(t, "+91 9876543210", w.Identity())
	assert.Equal(t, models.StageTripPending, w.Stage())
	assert.Equal(t, "handle-1", handle)

	form := tripForm(c)
	require.NoError(t, w.SubmitTrip(form, searchOffers(t, form)))
	snap := w.Snapshot()
	require.NotNil(t, snap.Vehicles)
	first := snap.Vehicles.Offers[0]

	require.NoError(t, w.SelectVehicle(first.ID))
	require.NoError(t, w.ToggleSeat("1"))
	require.NoError(t, w.ToggleSeat("2"))
	require.NoError(t, w.ConfirmSeats())

	summary := w.Snapshot().Summary
	require.NotNil(t, summary)
	assert.Equal(t, []string{"1", "2"}, summary.Seats)
	assert.Equal(t, first.FarePerSeat, summary.FarePerSeat)
	assert.Equal(t, 2*first.FarePerSeat, summary.TotalFare)
	assert.Equal(t, "+91 9876543210", summary.Identity)
	assert.Equal(t, "Chennai", summary.Trip.Source)

	require.NoError(t, w.ProceedToPayment())
	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodUPI))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{UPIID: ptr("alice@upi")}))

	booking, err := w.BeginPayment()
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodUPI, booking.PaymentMethod)
	assert.Equal(t, 2*first.FarePerSeat, booking.TotalFare)

	require.NoError(t, w.CompletePayment(models.PaymentReceipt{TransactionID: "TXN-1", Reference: "RS-1", ProcessedAt: c.Now()}))
	assert.Equal(t, models.StageConfirmed, w.Stage())

	final := w.Snapshot()
	require.NotNil(t, final.Confirmation)
	assert.Equal(t, models.BookingStatusConfirmed, final.Confirmation.Status)
	assert.Equal(t, "RS-1", final.Confirmation.Reference)
	assert.Nil(t, final.Login)
	assert.Nil(t, final.TripForm)
	assert.Nil(t, final.Vehicles)
	assert.Nil(t, final.SeatSelection)
	assert.Nil(t, final.Summary)
	assert.Nil(t, final.Payment)

	// Every further input is refused and the confirmation stays on screen.
	actions := []func() error{
		func() error { _, err := w.BeginCodeRequest("+91", "9876543210"); return err },
		func() error { return w.SubmitTrip(form, nil) },
		func() error { return w.SelectVehicle("car2") },
		func() error { return w.ToggleSeat("3") },
		func() error { return w.ConfirmSeats() },
		func() error { return w.SelectPaymentMethod(models.PaymentMethodCash) },
		func() error { _, err := w.BeginPayment(); return err },
		func() error { return w.CompletePayment(models.PaymentReceipt{}) },
		func() error { return w.Back() },
		func() error { return w.ResetLogin() },
	}
	for _, act := range actions {
		assert.ErrorIs(t, act(), models.ErrBookingConfirmed)
		assert.Equal(t, models.StageConfirmed, w.Stage())
	}
	assert.Equal(t, final, w.Snapshot())
}

func TestWizard_DoubleToggleIsIdentity(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toSeats(t, c, w)

	require.NoError(t, w.ToggleSeat("2"))
	before := w.Snapshot().SeatSelection.Selected

	for _, seat := range []string{"1", "2", "3"} {
		require.NoError(t, w.ToggleSeat(seat))
		require.NoError(t, w.ToggleSeat(seat))
		assert.ElementsMatch(t, before, w.Snapshot().SeatSelection.Selected, "seat %s", seat)
	}
}

func TestWizard_TotalFareTracksSeatCount(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	signIn(t, w)
	form := tripForm(c)
	offers := searchOffers(t, form)
	require.NoError(t, w.SubmitTrip(form, offers))
	// car2 has five free seats
	require.NoError(t, w.SelectVehicle("car2"))
	fare := offers[1].FarePerSeat

	state := w.Snapshot().SeatSelection
	assert.Equal(t, int64(0), state.TotalFare)
	assert.False(t, state.CanConfirm)

	for n, seat := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, w.ToggleSeat(seat))
		state = w.Snapshot().SeatSelection
		assert.Equal(t, int64(n+1)*fare, state.TotalFare)
		assert.True(t, state.CanConfirm)
	}
	for n, seat := range []string{"5", "4", "3", "2", "1"} {
		require.NoError(t, w.ToggleSeat(seat))
		state = w.Snapshot().SeatSelection
		assert.Equal(t, int64(4-n)*fare, state.TotalFare)
	}
	assert.False(t, state.CanConfirm)
	assert.ErrorIs(t, w.ConfirmSeats(), models.ErrNoSeatsSelected)
}

func TestWizard_SeatRejections(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toSeats(t, c, w)

	assert.ErrorIs(t, w.ToggleSeat("4"), models.ErrSeatUnavailable)
	assert.ErrorIs(t, w.ToggleSeat("S9"), models.ErrUnknownSeat)
	assert.Empty(t, w.Snapshot().SeatSelection.Selected)

	snap := w.Snapshot()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, models.ErrorKindNotFound, snap.LastError.Kind)
}

func TestWizard_NewVehicleDiscardsSeats(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toSeats(t, c, w)

	require.NoError(t, w.ToggleSeat("1"))
	require.NoError(t, w.ToggleSeat("2"))
	require.NoError(t, w.Back())
	assert.Equal(t, models.StageVehiclePending, w.Stage())

	require.NoError(t, w.SelectVehicle("car2"))
	state := w.Snapshot().SeatSelection
	assert.Equal(t, "car2", state.Vehicle.ID)
	assert.Empty(t, state.Selected)
	assert.Equal(t, int64(0), state.TotalFare)
}

func TestWizard_ModifySeatsKeepsDraft(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toPayment(t, c, w)

	require.NoError(t, w.Back())
	assert.Equal(t, models.StageSummaryPending, w.Stage())
	require.NoError(t, w.Back())
	assert.Equal(t, models.StageSeatsPending, w.Stage())
	assert.Equal(t, []string{"1", "2"}, w.Snapshot().SeatSelection.Selected)

	require.NoError(t, w.ToggleSeat("2"))
	require.NoError(t, w.ConfirmSeats())
	assert.Equal(t, []string{"1"}, w.Snapshot().Summary.Seats)
}

func TestWizard_BackClearsTrip(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toSeats(t, c, w)

	require.NoError(t, w.Back())
	require.NoError(t, w.Back())
	snap := w.Snapshot()
	assert.Equal(t, models.StageTripPending, snap.Stage)
	require.NotNil(t, snap.TripForm)
	assert.Nil(t, snap.Vehicles)

	assert.ErrorIs(t, w.Back(), models.ErrInvalidTransition)
}

func TestWizard_StageGuards(t *testing.T) {
	c := newClock()
	w := newWizard(c)

	assert.ErrorIs(t, w.SubmitTrip(tripForm(c), nil), models.ErrInvalidTransition)
	assert.ErrorIs(t, w.SelectVehicle("car1"), models.ErrInvalidTransition)
	assert.ErrorIs(t, w.Back(), models.ErrInvalidTransition)
	assert.ErrorIs(t, w.SignIn("someone"), models.ErrInvalidTransition)
	assert.Equal(t, models.StageUnauthenticated, w.Stage())
	assert.Equal(t, 0, w.Revision())
}

func TestWizard_TripValidationKeepsStage(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	signIn(t, w)

	err := w.SubmitTrip(models.TripForm{Source: "Chennai"}, nil)
	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Fields, 2)

	snap := w.Snapshot()
	assert.Equal(t, models.StageTripPending, snap.Stage)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, models.ErrorKindValidation, snap.LastError.Kind)
	assert.Len(t, snap.LastError.Fields, 2)
}

func TestWizard_SortOffers(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	signIn(t, w)
	form := tripForm(c)
	require.NoError(t, w.SubmitTrip(form, searchOffers(t, form)))

	require.NoError(t, w.SortOffers(models.SortByRating))
	snap := w.Snapshot()
	assert.Equal(t, models.SortByRating, snap.Vehicles.SortBy)
	assert.Equal(t, 4.8, snap.Vehicles.Offers[0].Rating)

	assert.Error(t, w.SortOffers("distance"))
	assert.ErrorIs(t, w.SelectVehicle("car99"), models.ErrUnknownVehicle)
}

func TestWizard_ResendCooldown(t *testing.T) {
	c := newClock()
	w := newWizard(c)

	_, err := w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	require.NoError(t, w.CodeSent("h1"))

	login := w.Snapshot().Login
	assert.True(t, login.CodeSent)
	assert.Equal(t, 60, login.ResendInSeconds)

	c.Advance(20 * time.Second)
	_, err = w.BeginCodeRequest("+91", "9876543210")
	var cooldown *models.CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, 40*time.Second, cooldown.Remaining)
	assert.Equal(t, 40, w.Snapshot().LastError.RetryAfterSeconds)

	// reset does not restart the clock
	require.NoError(t, w.ResetLogin())
	assert.False(t, w.Snapshot().Login.CodeSent)
	_, err = w.BeginCodeRequest("+91", "9876543210")
	assert.True(t, errors.As(err, &cooldown))

	c.Advance(40 * time.Second)
	_, err = w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	assert.Equal(t, OpRequestCode, w.Pending())
}

func TestWizard_InFlightRejectsDuplicates(t *testing.T) {
	c := newClock()
	w := newWizard(c)

	_, err := w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	_, err = w.BeginCodeRequest("+91", "9876543210")
	assert.ErrorIs(t, err, models.ErrInFlight)
	assert.True(t, w.Snapshot().Login.Pending)
	assert.ErrorIs(t, w.ResetLogin(), models.ErrInFlight)
	assert.ErrorIs(t, w.BeginFederatedSignIn(), models.ErrInFlight)

	require.NoError(t, w.CodeSent("h1"))
	assert.False(t, w.Snapshot().Login.Pending)
	assert.ErrorIs(t, w.CodeSent("h2"), models.ErrInvalidTransition)
}

func TestWizard_LoginFailures(t *testing.T) {
	c := newClock()
	w := newWizard(c)

	_, err := w.BeginCodeConfirm("123456")
	assert.ErrorIs(t, err, models.ErrCodeNotRequested)

	_, err = w.BeginCodeRequest("+91", "98765")
	assert.ErrorIs(t, err, models.ErrInvalidPhoneFormat)
	assert.Equal(t, models.ErrorKindInvalidPhone, w.Snapshot().LastError.Kind)

	_, err = w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	gatewayErr := &models.GatewayError{Message: "quota exceeded"}
	assert.ErrorIs(t, w.CodeRequestFailed(gatewayErr), gatewayErr)
	assert.Equal(t, OpNone, w.Pending())
	assert.False(t, w.Snapshot().Login.CodeSent)

	_, err = w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	require.NoError(t, w.CodeSent("h1"))

	_, err = w.BeginCodeConfirm("12")
	assert.Error(t, err)
	assert.Equal(t, OpNone, w.Pending())

	_, err = w.BeginCodeConfirm("000000")
	require.NoError(t, err)
	assert.ErrorIs(t, w.SignInFailed(models.ErrInvalidOrExpiredCode), models.ErrInvalidOrExpiredCode)
	assert.Equal(t, models.ErrorKindInvalidCode, w.Snapshot().LastError.Kind)

	// the same code may be retried
	_, err = w.BeginCodeConfirm("123456")
	require.NoError(t, err)
	require.NoError(t, w.SignIn("+91 9876543210"))
	assert.Nil(t, w.Snapshot().LastError)
}

func TestWizard_FederatedSignIn(t *testing.T) {
	c := newClock()
	w := newWizard(c)

	require.NoError(t, w.BeginFederatedSignIn())
	assert.ErrorIs(t, w.BeginFederatedSignIn(), models.ErrInFlight)
	require.NoError(t, w.SignIn("Alice"))

	snap := w.Snapshot()
	assert.Equal(t, models.StageTripPending, snap.Stage)
	assert.Equal(t, "Alice", snap.Identity)
	assert.Equal(t, tomorrow(c), snap.TripForm.TomorrowDate)
}

func TestWizard_PaymentValidationAndRetry(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toPayment(t, c, w)

	_, err := w.BeginPayment()
	require.Error(t, err)
	assert.Equal(t, "Please select a payment method.", err.Error())

	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodCreditCard))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{
		CardNumber: ptr("4111 1111 1111 1111"),
		NameOnCard: ptr("A Name"),
		Expiry:     ptr("12/27"),
		CVV:        ptr("12"),
		UPIID:      ptr("alice@upi"),
	}))
	_, err = w.BeginPayment()
	require.Error(t, err)
	snap := w.Snapshot()
	assert.Equal(t, "Please enter valid card details.", snap.LastError.Message)
	assert.Contains(t, snap.LastError.Fields, "cvv")
	assert.Equal(t, "************1111", snap.Payment.Details.CardNumber)
	assert.Equal(t, "***", snap.Payment.Details.CVV)

	// switching method keeps the other fields
	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodUPI))
	assert.Equal(t, "alice@upi", w.Snapshot().Payment.Details.UPIID)
	assert.Equal(t, "A Name", w.Snapshot().Payment.Details.NameOnCard)

	_, err = w.BeginPayment()
	require.NoError(t, err)
	assert.True(t, w.Snapshot().Payment.Processing)
	assert.ErrorIs(t, w.Back(), models.ErrInFlight)

	require.Error(t, w.PaymentFailed(errors.New("declined")))
	assert.Equal(t, models.StagePaymentPending, w.Stage())
	assert.Equal(t, 1, w.Snapshot().Payment.Attempts)

	_, err = w.BeginPayment()
	require.NoError(t, err)
	require.NoError(t, w.CompletePayment(models.PaymentReceipt{TransactionID: "TXN-2", Reference: "RS-2"}))
	conf := w.Confirmation()
	require.NotNil(t, conf)
	assert.Equal(t, "TXN-2", conf.TransactionID)
	assert.NotNil(t, conf.ConfirmedAt)
}

func TestWizard_PartialDetailsSurviveMethodSwitch(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toPayment(t, c, w)

	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodCreditCard))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{CardNumber: ptr("4111 1111 1111 1111")}))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{NameOnCard: ptr("A Name"), Expiry: ptr("12/27")}))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{CVV: ptr("123")}))

	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodUPI))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{UPIID: ptr("alice@upi")}))
	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodCreditCard))

	details := w.Snapshot().Payment.Details
	assert.Equal(t, "************1111", details.CardNumber)
	assert.Equal(t, "A Name", details.NameOnCard)
	assert.Equal(t, "12/27", details.Expiry)
	assert.Equal(t, "***", details.CVV)
	assert.Equal(t, "alice@upi", details.UPIID)

	booking, err := w.BeginPayment()
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodCreditCard, booking.PaymentMethod)
}

func TestWizard_EmptyFieldClearsDetail(t *testing.T) {
	c := newClock()
	w := newWizard(c)
	toPayment(t, c, w)

	require.NoError(t, w.SelectPaymentMethod(models.PaymentMethodUPI))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{UPIID: ptr("alice@upi")}))
	require.NoError(t, w.UpdatePaymentDetails(models.PaymentDetailsUpdate{UPIID: ptr("")}))

	_, err := w.BeginPayment()
	require.Error(t, err)
	assert.Empty(t, w.Snapshot().Payment.Details.UPIID)
}

func TestWizard_RevisionCountsAppliedActions(t *testing.T) {
	c := newClock()
	w := newWizard(c)

	_, _ = w.BeginCodeRequest("+91", "1")
	assert.Equal(t, 0, w.Revision())

	_, err := w.BeginCodeRequest("+91", "9876543210")
	require.NoError(t, err)
	assert.Equal(t, 1, w.Revision())
}
