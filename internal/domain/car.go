package domain

import (
	"time"

	"carrent-backend/internal/geo"
)

type CarStatus string

const (
	CarStatusPending   CarStatus = "Pending"
	CarStatusAvailable CarStatus = "Available"
	CarStatusRejected  CarStatus = "Rejected"
	CarStatusInactive  CarStatus = "Inactive"
)

type Car struct {
	ID                int32      `json:"id"`
	OwnerID           int32      `json:"owner_id"`
	Make              string     `json:"make"`
	Model             string     `json:"model"`
	LicensePlate      []byte     `json:"-"` // encrypted with EncryptionKeyID
	EncryptionKeyID   int32      `json:"-"`
	PricePerHour      int64      `json:"price_per_hour"`
	PricePerDay       int64      `json:"price_per_day"`
	Status            CarStatus  `json:"status"`
	TotalRents        int32      `json:"total_rents"`
	CancelledBookings int32      `json:"cancelled_bookings"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// Rentable reports whether the car may be booked: it must be Available,
// not deleted, and carry a Completed onboarding contract.
func (c *Car) Rentable(contract *CarContract) bool {
	if c.DeletedAt != nil || c.Status != CarStatusAvailable {
		return false
	}
	return contract != nil && contract.Status == ContractStatusCompleted
}

type GPSDeviceStatus string

const (
	GPSDeviceStatusAvailable   GPSDeviceStatus = "Available"
	GPSDeviceStatusInUsed      GPSDeviceStatus = "InUsed"
	GPSDeviceStatusUnavailable GPSDeviceStatus = "Unavailable"
)

type GPSDevice struct {
	ID        int32           `json:"id"`
	OSBuildID string          `json:"os_build_id"`
	Name      string          `json:"name"`
	Status    GPSDeviceStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CarGPS binds a device to a car and holds the last reported location.
type CarGPS struct {
	CarID     int32     `json:"car_id"`
	DeviceID  int32     `json:"device_id"`
	Location  geo.Point `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}
