// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecuritySigned                      // Authenticated by a signature or token in the request itself
	SecurityAccess                      // Access token required
)

// RouteSecurityConfig maps "METHOD path-template" to the required security level
var RouteSecurityConfig = map[string]SecurityLevel{
	// Public
	"GET /healthz": SecurityPublic,

	// Verified by the handler: webhook checksum, payment token, download key digest
	"POST /api/v1/payments/webhook":      SecuritySigned,
	"GET /api/v1/payments/token/{token}": SecuritySigned,
	"GET /api/v1/download/{token}":       SecuritySigned,

	// Cars and onboarding
	"POST /api/v1/cars":                      SecurityAccess,
	"POST /api/v1/gps-devices":               SecurityAccess,
	"POST /api/v1/inspections":               SecurityAccess,
	"POST /api/v1/inspections/{id}/start":    SecurityAccess,
	"PUT /api/v1/inspections/{id}/contract":  SecurityAccess,
	"POST /api/v1/inspections/{id}/complete": SecurityAccess,
	"POST /api/v1/inspections/{id}/approve":  SecurityAccess,
	"POST /api/v1/cars/{id}/contract/sign":   SecurityAccess,

	// Bookings
	"POST /api/v1/bookings":                     SecurityAccess,
	"GET /api/v1/bookings/{id}":                 SecurityAccess,
	"POST /api/v1/bookings/{id}/approve":        SecurityAccess,
	"POST /api/v1/bookings/{id}/extend":         SecurityAccess,
	"POST /api/v1/bookings/{id}/ready":          SecurityAccess,
	"POST /api/v1/bookings/{id}/return":         SecurityAccess,
	"POST /api/v1/bookings/{id}/complete":       SecurityAccess,
	"POST /api/v1/bookings/{id}/cancel":         SecurityAccess,
	"POST /api/v1/bookings/{id}/feedback":       SecurityAccess,
	"POST /api/v1/bookings/{id}/payment-link":   SecurityAccess,
	"GET /api/v1/bookings/{id}/trips":           SecurityAccess,
	"POST /api/v1/bookings/{id}/trip/start":     SecurityAccess,
	"POST /api/v1/bookings/{id}/trip/location":  SecurityAccess,
	"POST /api/v1/bookings/{id}/trip/locations": SecurityAccess,
	"GET /api/v1/ws/bookings/{id}":              SecurityAccess,
}

// GetSecurityLevel returns the security level for a route
func GetSecurityLevel(method, pathTemplate string) SecurityLevel {
	if level, exists := RouteSecurityConfig[method+" "+pathTemplate]; exists {
		return level
	}
	// Default to highest security for unknown routes
	return SecurityAccess
}
