package domain

import (
	"time"

	"carrent-backend/internal/geo"
)

// PickupRadiusMeters is how close the renter must be to the car to start a trip.
const PickupRadiusMeters = 10.0

// TripTracking is one GPS sample of an ongoing booking. Rows are append-only;
// the latest row per booking holds the billed distance.
type TripTracking struct {
	ID                 int64     `json:"id"`
	BookingID          int32     `json:"booking_id"`
	Location           geo.Point `json:"location"`
	Distance           float64   `json:"distance"`            // meters since the previous sample
	CumulativeDistance float64   `json:"cumulative_distance"` // meters since trip start
	CreatedAt          time.Time `json:"created_at"`
}

// NextTripTracking computes the sample following prev at point p.
// prev is nil for the first sample of a booking.
func NextTripTracking(bookingID int32, prev *TripTracking, p geo.Point, at time.Time) *TripTracking {
	next := &TripTracking{BookingID: bookingID, Location: p, CreatedAt: at}
	if prev != nil {
		next.Distance = geo.DistanceMeters(prev.Location, p)
		next.CumulativeDistance = prev.CumulativeDistance + next.Distance
	}
	return next
}
