package validation

import (
	"regexp"
	"strings"

	"github.com/rshare/ride-booking-system/shared/models"
)

// Login form field names
const (
	FieldCountryCode = "countryCode"
	FieldPhone       = "phone"
	FieldCode        = "code"
)

var (
	subscriberNumber = regexp.MustCompile(`^\d{10}$`)
	oneTimeCode      = regexp.MustCompile(`^\d{6}$`)
)

// Phone checks the country code against the supported list and the
// subscriber number for exactly 10 digits
func Phone(countryCode, phone string) (models.PhoneNumber, error) {
	countryCode = strings.TrimSpace(countryCode)
	phone = strings.TrimSpace(phone)

	if !IsSupportedCountryCode(countryCode) {
		return models.PhoneNumber{}, &models.ValidationError{
			Message: "Please select a supported country code.",
			Fields:  map[string]string{FieldCountryCode: "Please select a supported country code."},
		}
	}
	if !subscriberNumber.MatchString(phone) {
		return models.PhoneNumber{}, &models.ValidationError{
			Message: "Please enter exactly 10 digits for mobile number.",
			Fields:  map[string]string{FieldPhone: "Please enter exactly 10 digits for mobile number."},
			Err:     models.ErrInvalidPhoneFormat,
		}
	}
	return models.PhoneNumber{CountryCode: countryCode, Number: phone}, nil
}

// IsSupportedCountryCode reports whether code is offered on the login screen
func IsSupportedCountryCode(code string) bool {
	for _, c := range models.CountryCodes {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Code checks the format of a one-time code before it is sent for
// verification
func Code(code string) error {
	if !oneTimeCode.MatchString(strings.TrimSpace(code)) {
		return &models.ValidationError{
			Message: "Please enter a valid OTP.",
			Fields:  map[string]string{FieldCode: "Please enter a valid OTP."},
		}
	}
	return nil
}
