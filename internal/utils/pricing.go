package utils

import (
	"fmt"
	"math"
	"time"

	"carrent-backend/internal/domain"
)

const hoursPerDay = 24

// PricingPolicy carries the platform-wide fee settings.
type PricingPolicy struct {
	PlatformFeePercent int64 // of the base price
	IncludedKmPerDay   int64 // free distance per billed day
	ExcessFeePerKm     int64 // minor units per started km above the allowance
}

// RentalQuote is the cost breakdown of a rental window.
type RentalQuote struct {
	Days        int64
	Hours       int64
	DaysCost    int64
	HoursCost   int64
	BasePrice   int64
	PlatformFee int64
	Total       int64
}

// BilledDays is the number of days the quote charges for, counting a
// partial day as one.
func (q RentalQuote) BilledDays() int64 {
	if q.Hours > 0 {
		return q.Days + 1
	}
	return q.Days
}

// RentalDuration splits [start, end) into whole days and remaining started hours.
func RentalDuration(start, end time.Time) (days, hours int64, err error) {
	if !end.After(start) {
		return 0, 0, fmt.Errorf("end time must be after start time")
	}
	total := int64(math.Ceil(end.Sub(start).Hours()))
	return total / hoursPerDay, total % hoursPerDay, nil
}

// QuoteRental prices a rental window. Whole days use the daily rate; the
// remaining hours use the hourly rate but never cost more than a day. A car
// without an hourly rate charges the remainder as a full day.
func QuoteRental(start, end time.Time, car *domain.Car, policy PricingPolicy) (RentalQuote, error) {
	days, hours, err := RentalDuration(start, end)
	if err != nil {
		return RentalQuote{}, err
	}

	q := RentalQuote{Days: days, Hours: hours, DaysCost: days * car.PricePerDay}
	if hours > 0 {
		q.HoursCost = hours * car.PricePerHour
		if car.PricePerHour == 0 || q.HoursCost > car.PricePerDay {
			q.HoursCost = car.PricePerDay
		}
	}
	q.BasePrice = q.DaysCost + q.HoursCost
	q.PlatformFee = PlatformFee(q.BasePrice, policy)
	q.Total = q.BasePrice + q.PlatformFee
	return q, nil
}

// PlatformFee is the platform's share of base, rounded down.
func PlatformFee(base int64, policy PricingPolicy) int64 {
	return base * policy.PlatformFeePercent / 100
}

// ExcessDayFee charges the daily rate for every started day the car came
// back after end.
func ExcessDayFee(end, returnedAt time.Time, pricePerDay int64) int64 {
	if !returnedAt.After(end) {
		return 0
	}
	late := int64(math.Ceil(returnedAt.Sub(end).Hours() / hoursPerDay))
	return late * pricePerDay
}

// ExcessDistanceFee charges every started km above the allowance for
// billedDays. distanceMeters comes from the trip telemetry.
func ExcessDistanceFee(distanceMeters float64, billedDays int64, policy PricingPolicy) int64 {
	if policy.ExcessFeePerKm == 0 {
		return 0
	}
	allowance := float64(policy.IncludedKmPerDay*billedDays) * 1000
	excess := distanceMeters - allowance
	if excess <= 0 {
		return 0
	}
	return int64(math.Ceil(excess/1000)) * policy.ExcessFeePerKm
}
