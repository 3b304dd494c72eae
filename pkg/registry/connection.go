package registry

import (
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// Role distinguishes display devices from mobile operator apps.
type Role uint8

const (
	// RoleDevice is an unattended signage display.
	RoleDevice Role = iota

	// RoleMobileApp is a mobile operator app.
	RoleMobileApp
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleMobileApp:
		return "MOBILE_APP"
	default:
		return "UNKNOWN"
	}
}

// Transport is the send side of a live session. A Connection exclusively
// owns its transport; Close must be idempotent.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Connection is one live transport session bound to a logical client id.
// Mutable fields (status, last heartbeat) are only touched through the
// Registry so updates stay linearized per client id.
type Connection struct {
	// ClientID is the stable logical identity; it survives reconnects.
	ClientID string

	// HardwareID is the device hardware identifier (devices only).
	HardwareID string

	// Name is a human-readable device/app name.
	Name string

	// Role distinguishes devices from mobile apps.
	Role Role

	// Transport is the exclusively-owned send handle.
	Transport Transport

	// RemoteAddress is the peer address as observed at accept time.
	RemoteAddress string

	// ConnID is the transport session identifier (changes on reconnect).
	ConnID string

	status        wire.Status
	lastHeartbeat time.Time
}

// Status returns the connection status snapshot.
// Only safe to call while the registry is not mutating the entry, i.e.
// from ForEach visitors or after Get.
func (c *Connection) Status() wire.Status { return c.status }

// LastHeartbeat returns the time of the most recent heartbeat.
func (c *Connection) LastHeartbeat() time.Time { return c.lastHeartbeat }

// Info converts the connection to its wire snapshot form.
func (c *Connection) Info() wire.ClientInfo {
	return wire.ClientInfo{
		ClientID:      c.ClientID,
		Name:          c.Name,
		Status:        c.status,
		RemoteAddress: c.RemoteAddress,
		LastHeartbeat: c.lastHeartbeat,
	}
}
