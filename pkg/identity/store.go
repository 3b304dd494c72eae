// Package identity persists device identities and mobile-app
// registrations: the mapping from hardware identifiers to the client ids
// they were issued, and the operator-approval records gating mobile apps.
package identity

import (
	"errors"
	"strings"
	"time"
)

// Store errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("identity: not found")
)

// AppStatus is the mobile-app registration state.
type AppStatus string

const (
	AppPending  AppStatus = "Pending"
	AppApproved AppStatus = "Approved"
	AppRejected AppStatus = "Rejected"
	AppRevoked  AppStatus = "Revoked"
)

// IsValid reports whether s is a known registration state.
func (s AppStatus) IsValid() bool {
	switch s {
	case AppPending, AppApproved, AppRejected, AppRevoked:
		return true
	}
	return false
}

// MobileAppRegistration is one mobile app's approval record.
type MobileAppRegistration struct {
	ID               string
	DeviceIdentifier string
	DeviceName       string
	Platform         string
	Status           AppStatus
	Token            string
	Permissions      []string
	Reason           string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store is the persistence boundary used by the coordination layer.
// Implementations must be safe for concurrent use.
type Store interface {
	// LookupClientID returns the client id last issued to a hardware
	// identifier. ErrNotFound when the hardware was never seen.
	LookupClientID(hardwareID string) (string, error)

	// SaveClientID records the client id issued to a hardware identifier,
	// replacing any previous mapping.
	SaveClientID(hardwareID, clientID string) error

	// GetAppRegistration returns the registration for a device
	// identifier. ErrNotFound when absent.
	GetAppRegistration(deviceIdentifier string) (*MobileAppRegistration, error)

	// GetAppByToken returns the registration holding a session token.
	// ErrNotFound when no registration carries the token.
	GetAppByToken(token string) (*MobileAppRegistration, error)

	// SaveAppRegistration inserts or replaces a registration, keyed by
	// its device identifier.
	SaveAppRegistration(reg *MobileAppRegistration) error

	// ListAppRegistrations returns all registrations.
	ListAppRegistrations() ([]*MobileAppRegistration, error)

	// Close releases underlying resources.
	Close() error
}

// NormalizeHardwareID canonicalizes a hardware identifier for storage and
// lookup. Identifiers may arrive with inconsistent casing.
func NormalizeHardwareID(hardwareID string) string {
	return strings.ToLower(strings.TrimSpace(hardwareID))
}
