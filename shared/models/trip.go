package models

// DateLayout is the calendar-date format used for travel dates
const DateLayout = "2006-01-02"

// TripForm is the trip search input exactly as the user typed it
type TripForm struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
}

// TripRequest is a validated trip search. It is replaced, never mutated,
// when the user goes back and searches again.
type TripRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Date        string `json:"date"` // YYYY-MM-DD
}

// TripFormState describes the trip form while it is displayed
type TripFormState struct {
	DefaultDate  string `json:"defaultDate"`
	MinDate      string `json:"minDate"`
	TomorrowDate string `json:"tomorrowDate"`
}
