// Package catalog provides vehicle offers for a trip search
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rshare/ride-booking-system/shared/models"
)

// Catalog returns the offers available for a trip
type Catalog interface {
	Search(ctx context.Context, trip models.TripRequest) ([]models.VehicleOffer, error)
}

// DefaultOfferCount is the number of offers the static catalog returns
const DefaultOfferCount = 24

// TripDuration is the fixed travel time of every static offer
const TripDuration = 2*time.Hour + 55*time.Minute

var (
	carTypes = []string{"Innova", "Swift", "Ertiga"}
	drivers  = []string{"Bathula", "Krishna", "Naveen"}
	ratings  = []float64{4.4, 4.6, 4.8}
)

// Static generates a fixed set of offers for any trip
type Static struct {
	Count    int
	Location *time.Location
}

// NewStatic creates a static catalog with the default offer count
func NewStatic(loc *time.Location) *Static {
	if loc == nil {
		loc = time.UTC
	}
	return &Static{Count: DefaultOfferCount, Location: loc}
}

// Search builds the offers for the trip date
func (c *Static) Search(ctx context.Context, trip models.TripRequest) ([]models.VehicleOffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(models.DateLayout, trip.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid trip date %q: %w", trip.Date, err)
	}

	offers := make([]models.VehicleOffer, 0, c.Count)
	for i := 0; i < c.Count; i++ {
		offers = append(offers, staticOffer(i, day, trip))
	}
	return offers, nil
}

func staticOffer(i int, day time.Time, trip models.TripRequest) models.VehicleOffer {
	departure := day.Add(time.Duration(20+i%3)*time.Hour + 30*time.Minute)

	// The last seat of every fourth car is already taken.
	seatCount := 4 + i%3
	seats := make([]models.Seat, seatCount)
	for j := range seats {
		seats[j] = models.Seat{
			ID:        fmt.Sprintf("%d", j+1),
			Available: !(j == seatCount-1 && i%4 == 0),
		}
	}

	return models.VehicleOffer{
		ID:            fmt.Sprintf("car%d", i+1),
		CarType:       carTypes[i%3],
		DriverName:    drivers[i%3],
		Rating:        ratings[i%3],
		FarePerSeat:   int64(500 + i*43),
		DepartureTime: departure,
		ArrivalTime:   departure.Add(TripDuration),
		Seats:         seats,
		RouteSummary:  RouteSummary(trip),
		Date:          trip.Date,
	}
}

// RouteSummary renders the trip route shown on each offer
func RouteSummary(trip models.TripRequest) string {
	return trip.Source + " → " + trip.Destination
}

// Sort returns a sorted copy of offers. Rating sorts best first, departure
// and price sort earliest and cheapest first. Ties keep catalog order.
func Sort(offers []models.VehicleOffer, key models.SortKey) ([]models.VehicleOffer, error) {
	if !key.IsValid() {
		return nil, fmt.Errorf("unknown sort key %q", key)
	}

	out := make([]models.VehicleOffer, len(offers))
	copy(out, offers)

	var less func(a, b models.VehicleOffer) bool
	switch key {
	case models.SortByRating:
		less = func(a, b models.VehicleOffer) bool { return a.Rating > b.Rating }
	case models.SortByDeparture:
		less = func(a, b models.VehicleOffer) bool { return a.DepartureTime.Before(b.DepartureTime) }
	case models.SortByPrice:
		less = func(a, b models.VehicleOffer) bool { return a.FarePerSeat < b.FarePerSeat }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}
