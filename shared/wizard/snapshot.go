package wizard

import (
	"math"

	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/shared/validation"
)

// Snapshot renders the current stage. Only the part of the state that
// belongs to the stage is filled in; a confirmed session shows nothing but
// the confirmation.
func (w *Wizard) Snapshot() models.SessionState {
	state := models.SessionState{
		SessionID: w.sessionID,
		Stage:     w.stage,
		Revision:  w.revision,
		UpdatedAt: w.updatedAt,
	}
	if w.lastErr != nil {
		e := *w.lastErr
		state.LastError = &e
	}

	switch w.stage {
	case models.StageUnauthenticated:
		state.Login = w.loginState()
	case models.StageTripPending:
		defaults := validation.TripFormDefaults(w.clock())
		state.TripForm = &defaults
	case models.StageVehiclePending:
		state.Vehicles = &models.VehicleListState{
			Trip:   w.trip,
			SortBy: w.sortBy,
			Offers: append([]models.VehicleOffer(nil), w.offers...),
		}
	case models.StageSeatsPending:
		seats := w.seats.State()
		state.SeatSelection = &seats
	case models.StageSummaryPending:
		summary := w.booking()
		state.Summary = &summary
	case models.StagePaymentPending:
		summary := w.booking()
		state.Summary = &summary
		state.Payment = &models.PaymentState{
			Booking:    summary,
			Methods:    models.PaymentMethods,
			Method:     w.method,
			Details:    w.details.Masked(),
			Processing: w.pending == OpPayment,
			Attempts:   w.attempts,
		}
	case models.StageConfirmed:
		state.Confirmation = w.Confirmation()
		return state
	}

	state.Identity = w.identity
	return state
}

func (w *Wizard) loginState() *models.LoginState {
	login := &models.LoginState{
		CountryCodes: models.CountryCodes,
		CountryCode:  w.login.phone.CountryCode,
		Phone:        w.login.phone.Number,
		CodeSent:     w.login.codeSent,
		Pending:      w.pending != OpNone,
	}
	if remaining := w.resendRemaining(); remaining > 0 {
		at := w.login.lastRequestAt.Add(ResendCooldown)
		login.ResendAvailableAt = &at
		login.ResendInSeconds = int(math.Ceil(remaining.Seconds()))
	}
	return login
}
