package models

import "time"

// Currency of every fare in the system
const Currency = "INR"

// Seat is one entry of a vehicle's seat map
type Seat struct {
	ID        string `json:"seatId"`
	Available bool   `json:"available"`
}

// VehicleOffer represents a candidate vehicle for a trip
type VehicleOffer struct {
	ID            string    `json:"id"`
	CarType       string    `json:"carType"`
	DriverName    string    `json:"driverName"`
	Rating        float64   `json:"rating"`
	FarePerSeat   int64     `json:"farePerSeat"`
	DepartureTime time.Time `json:"departureTime"`
	ArrivalTime   time.Time `json:"arrivalTime"`
	Seats         []Seat    `json:"seats"`
	RouteSummary  string    `json:"routeSummary"`
	Date          string    `json:"date"`
}

// Seat looks up a seat of the offer's seat map by ID
func (o VehicleOffer) Seat(seatID string) (Seat, bool) {
	for _, s := range o.Seats {
		if s.ID == seatID {
			return s, true
		}
	}
	return Seat{}, false
}

// AvailableSeats counts seats that can still be selected
func (o VehicleOffer) AvailableSeats() int {
	n := 0
	for _, s := range o.Seats {
		if s.Available {
			n++
		}
	}
	return n
}

// SortKey selects the display order of the vehicle list
type SortKey string

const (
	SortByRating    SortKey = "rating"
	SortByDeparture SortKey = "departure"
	SortByPrice     SortKey = "price"
)

// IsValid reports whether k is a known sort key
func (k SortKey) IsValid() bool {
	switch k {
	case SortByRating, SortByDeparture, SortByPrice:
		return true
	}
	return false
}

// VehicleListState is the vehicle catalog screen
type VehicleListState struct {
	Trip   TripRequest    `json:"trip"`
	SortBy SortKey        `json:"sortBy"`
	Offers []VehicleOffer `json:"offers"`
}

// SeatSelectionState is the seat selector screen
type SeatSelectionState struct {
	Vehicle     VehicleOffer `json:"vehicle"`
	Selected    []string     `json:"selected"`
	FarePerSeat int64        `json:"farePerSeat"`
	TotalFare   int64        `json:"totalFare"`
	CanConfirm  bool         `json:"canConfirm"`
}
