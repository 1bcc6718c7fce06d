// Package validation holds the form rules of the booking flow. The rules are
// pure so the API can reject bad input early and the workflow can enforce
// the same rules again before changing state.
package validation

import (
	"strings"
	"time"

	"github.com/rshare/ride-booking-system/shared/models"
)

// Trip form field names
const (
	FieldSource      = "source"
	FieldDestination = "destination"
	FieldDate        = "date"
)

// Trip validates a trip form against today's date. Every failing field is
// reported; fields that pass are left out of the error.
func Trip(form models.TripForm, today time.Time) (models.TripRequest, error) {
	fields := make(map[string]string)

	source := strings.TrimSpace(form.Source)
	if source == "" {
		fields[FieldSource] = "Please enter source."
	}
	destination := strings.TrimSpace(form.Destination)
	if destination == "" {
		fields[FieldDestination] = "Please enter destination."
	}

	date := strings.TrimSpace(form.Date)
	if date == "" {
		fields[FieldDate] = "Please select travel date."
	} else {
		day, err := time.ParseInLocation(models.DateLayout, date, today.Location())
		switch {
		case err != nil:
			fields[FieldDate] = "Please select a valid travel date."
		case day.Before(StartOfDay(today)):
			fields[FieldDate] = "Travel date cannot be in the past."
		default:
			date = day.Format(models.DateLayout)
		}
	}

	if len(fields) > 0 {
		return models.TripRequest{}, &models.ValidationError{Fields: fields}
	}
	return models.TripRequest{
		Source:      source,
		Destination: destination,
		Date:        date,
	}, nil
}

// StartOfDay truncates t to midnight in its own location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TripFormDefaults returns the date defaults shown with the trip form
func TripFormDefaults(now time.Time) models.TripFormState {
	today := StartOfDay(now)
	return models.TripFormState{
		DefaultDate:  today.Format(models.DateLayout),
		MinDate:      today.Format(models.DateLayout),
		TomorrowDate: today.AddDate(0, 0, 1).Format(models.DateLayout),
	}
}
