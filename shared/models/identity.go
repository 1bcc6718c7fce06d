package models

// PhoneNumber is a subscriber number with the country code chosen on the
// login screen
type PhoneNumber struct {
	CountryCode string `json:"countryCode"`
	Number      string `json:"number"`
}

// E164 returns the number in the form sent to the identity provider
func (p PhoneNumber) E164() string {
	return p.CountryCode + p.Number
}

// String returns the display form used as the session identity
func (p PhoneNumber) String() string {
	return p.CountryCode + " " + p.Number
}
