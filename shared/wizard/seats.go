package wizard

import (
	"fmt"

	"github.com/rshare/ride-booking-system/shared/models"
)

// SeatSelector is the draft seat selection for one offer
type SeatSelector struct {
	offer    models.VehicleOffer
	selected []string
}

// NewSeatSelector opens an empty selection on the offer's seat map
func NewSeatSelector(offer models.VehicleOffer) *SeatSelector {
	return &SeatSelector{offer: offer}
}

// Toggle selects a free seat, or deselects it if already selected
func (s *SeatSelector) Toggle(seatID string) error {
	seat, ok := s.offer.Seat(seatID)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownSeat, seatID)
	}
	for i, id := range s.selected {
		if id == seatID {
			s.selected = append(s.selected[:i:i], s.selected[i+1:]...)
			return nil
		}
	}
	if !seat.Available {
		return fmt.Errorf("%w: %s", models.ErrSeatUnavailable, seatID)
	}
	s.selected = append(s.selected, seatID)
	return nil
}

// Selected returns the selected seat IDs in the order they were picked
func (s *SeatSelector) Selected() []string {
	return append([]string{}, s.selected...)
}

// Count returns the number of selected seats
func (s *SeatSelector) Count() int { return len(s.selected) }

// CanConfirm reports whether the selection may be confirmed
func (s *SeatSelector) CanConfirm() bool { return len(s.selected) > 0 }

// TotalFare is the live total of the draft
func (s *SeatSelector) TotalFare() int64 {
	return TotalFare(len(s.selected), s.offer.FarePerSeat)
}

// State renders the selector for a snapshot
func (s *SeatSelector) State() models.SeatSelectionState {
	return models.SeatSelectionState{
		Vehicle:     s.offer,
		Selected:    s.Selected(),
		FarePerSeat: s.offer.FarePerSeat,
		TotalFare:   s.TotalFare(),
		CanConfirm:  s.CanConfirm(),
	}
}

// TotalFare multiplies the per-seat fare by the seat count
func TotalFare(seats int, farePerSeat int64) int64 {
	return int64(seats) * farePerSeat
}
