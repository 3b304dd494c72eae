package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness in capture files.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the transport session (UUID).
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// ClientID is the logical client identity, once known.
	ClientID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (exactly one is set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"9,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"`
	Discovery   *DiscoveryEvent   `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message envelope layer (decoded JSON).
	LayerWire Layer = 1
	// LayerService is the coordination layer (registry, dispatch).
	LayerService Layer = 2
	// LayerDiscovery is the broadcast/mDNS discovery layer.
	LayerDiscovery Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	case LayerDiscovery:
		return "DISCOVERY"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage   Category = 0
	CategoryState     Category = 1
	CategoryDiscovery Category = 2
	CategoryError     Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryDiscovery:
		return "DISCOVERY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw transport frame.
type FrameEvent struct {
	// Size is the total frame size including the length prefix.
	Size int `cbor:"1,keyasint"`

	// Data is the frame payload, possibly truncated.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Data was cut to the capture limit.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded wire message.
type MessageEvent struct {
	// MessageID is the envelope id.
	MessageID string `cbor:"1,keyasint"`

	// Type is the envelope type tag, e.g. "REGISTER".
	Type string `cbor:"2,keyasint"`

	// SenderID is the envelope sender, if present.
	SenderID string `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures a connection or registration state transition.
type StateChangeEvent struct {
	// Entity names what changed: "connection", "device", "app".
	Entity string `cbor:"1,keyasint"`

	OldState string `cbor:"2,keyasint,omitempty"`
	NewState string `cbor:"3,keyasint"`

	// Reason is an optional human-readable cause.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// DiscoveryEvent captures discovery probes and responses.
type DiscoveryEvent struct {
	// Kind is "probe", "response", or "advertise".
	Kind string `cbor:"1,keyasint"`

	ServerName string   `cbor:"2,keyasint,omitempty"`
	Addresses  []string `cbor:"3,keyasint,omitempty"`
	Round      int      `cbor:"4,keyasint,omitempty"`
}

// ErrorEvent captures an error at any layer.
type ErrorEvent struct {
	Message string `cbor:"1,keyasint"`

	// Context describes what the component was doing.
	Context string `cbor:"2,keyasint,omitempty"`
}
