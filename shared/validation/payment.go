package validation

import (
	"regexp"
	"strings"

	"github.com/rshare/ride-booking-system/shared/models"
)

// Payment form field names
const (
	FieldMethod     = "method"
	FieldCardNumber = "cardNumber"
	FieldNameOnCard = "nameOnCard"
	FieldExpiry     = "expiry"
	FieldCVV        = "cvv"
	FieldUPIID      = "upiId"
)

var (
	cardNumberPattern = regexp.MustCompile(`^\d{16}$`)
	// Only the digit pattern is checked; "13/27" passes.
	expiryPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)
	cvvPattern    = regexp.MustCompile(`^\d{3}$`)
)

// NormalizeCardNumber strips all whitespace from a card number
func NormalizeCardNumber(n string) string {
	return strings.Join(strings.Fields(n), "")
}

// Payment validates the fields required by the selected method
func Payment(method models.PaymentMethod, d models.PaymentDetails) error {
	if method == "" {
		return &models.ValidationError{
			Message: "Please select a payment method.",
			Fields:  map[string]string{FieldMethod: "Please select a payment method."},
		}
	}
	if !method.IsValid() {
		return &models.ValidationError{
			Message: "Please select a supported payment method.",
			Fields:  map[string]string{FieldMethod: "Please select a supported payment method."},
		}
	}

	fields := make(map[string]string)
	message := ""
	switch {
	case method.IsCard():
		if !cardNumberPattern.MatchString(NormalizeCardNumber(d.CardNumber)) {
			fields[FieldCardNumber] = "Card number must be 16 digits."
		}
		if strings.TrimSpace(d.NameOnCard) == "" {
			fields[FieldNameOnCard] = "Please enter the name on the card."
		}
		if !expiryPattern.MatchString(d.Expiry) {
			fields[FieldExpiry] = "Expiry must be in MM/YY format."
		}
		if !cvvPattern.MatchString(d.CVV) {
			fields[FieldCVV] = "CVV must be 3 digits."
		}
		message = "Please enter valid card details."
	case method == models.PaymentMethodUPI:
		if strings.TrimSpace(d.UPIID) == "" {
			fields[FieldUPIID] = "Please enter valid UPI ID."
		}
		message = "Please enter valid UPI ID."
	}

	if len(fields) > 0 {
		return &models.ValidationError{Message: message, Fields: fields}
	}
	return nil
}
