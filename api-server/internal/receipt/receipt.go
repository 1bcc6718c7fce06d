// Package receipt renders the booking confirmation as a PDF
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phpdave11/gofpdf"
	"github.com/rshare/ride-booking-system/shared/models"
)

// ErrNotConfirmed is returned for bookings that have not been paid
var ErrNotConfirmed = errors.New("booking is not confirmed")

// Build renders a confirmed booking and returns the PDF with a file name
func Build(b *models.Booking) ([]byte, string, error) {
	if b == nil || b.Status != models.BookingStatusConfirmed {
		return nil, "", ErrNotConfirmed
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Ride Booking Confirmation", false)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "BOOKING CONFIRMED")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		"Reference     : " + b.Reference,
		"Transaction   : " + b.TransactionID,
		"Passenger     : " + safe(b.Identity, "-"),
		"",
		"From          : " + b.Trip.Source,
		"To            : " + b.Trip.Destination,
		"Date          : " + b.Trip.Date,
		"Departure     : " + b.DepartureTime.Format("15:04"),
		"Arrival       : " + b.ArrivalTime.Format("15:04"),
		"",
		"Car           : " + b.CarType,
		"Driver        : " + b.DriverName,
		"Seats         : " + strings.Join(b.Seats, ", "),
		"Fare per seat : " + FormatAmount(b.FarePerSeat, b.Currency),
		"Payment       : " + methodLabel(b.PaymentMethod),
	}
	for _, s := range lines {
		pdf.Cell(0, 7, tr(s))
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, tr("Total: "+FormatAmount(b.TotalFare, b.Currency)))
	pdf.Ln(12)

	if b.ConfirmedAt != nil {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 6, "Confirmed at "+b.ConfirmedAt.Format("2006-01-02 15:04 MST"))
		pdf.Ln(6)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), "booking-" + safeFilenamePart(b.Reference) + ".pdf", nil
}

// FormatAmount renders whole currency units with thousands separators
func FormatAmount(v int64, currency string) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	var out strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(c)
	}
	amount := out.String()
	if neg {
		amount = "-" + amount
	}
	if currency == "" {
		return amount
	}
	return currency + " " + amount
}

func methodLabel(m models.PaymentMethod) string {
	for _, opt := range models.PaymentMethods {
		if opt.ID == m {
			return opt.Label
		}
	}
	return safe(string(m), "-")
}

func safe(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	var out strings.Builder
	for _, c := range s {
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			out.WriteRune(c)
		}
	}
	if out.Len() == 0 {
		return "receipt"
	}
	return out.String()
}
