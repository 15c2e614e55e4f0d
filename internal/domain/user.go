package domain

import "time"

// Role is the closed set of actor kinds known to the engine.
type Role string

const (
	RoleDriver     Role = "Driver"
	RoleOwner      Role = "Owner"
	RoleConsultant Role = "Consultant"
	RoleTechnician Role = "Technician"
	RoleAdmin      Role = "Admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RoleOwner, RoleConsultant, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID                int32      `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Role              Role       `json:"role"`
	Phone             []byte     `json:"-"` // encrypted with EncryptionKeyID
	EncryptionKeyID   int32      `json:"-"`
	CancelledBookings int32      `json:"cancelled_bookings"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// EncryptionKey is a per-entity symmetric key wrapped under the master key.
type EncryptionKey struct {
	ID           int32     `json:"id"`
	EncryptedKey []byte    `json:"-"`
	IV           []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
