package wire

import (
	"time"

	"github.com/google/uuid"
)

// Header is the common envelope carried by every message.
type Header struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"senderId,omitempty"`
}

// NewHeader creates a sealed envelope header for the given type.
func NewHeader(t Type, senderID string) Header {
	return Header{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		SenderID:  senderID,
	}
}

// Register is sent by a device to request a session.
type Register struct {
	Header
	HardwareID string `json:"hardwareId"`
	IPAddress  string `json:"ipAddress,omitempty"`
	Name       string `json:"name,omitempty"`
	Model      string `json:"model,omitempty"`
	Firmware   string `json:"firmware,omitempty"`
}

// RegistrationResponse carries the assigned client id, or a rejection.
type RegistrationResponse struct {
	Header
	ClientID string `json:"clientId,omitempty"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Heartbeat is the periodic liveness signal from a registered client.
type Heartbeat struct {
	Header
	ClientID string `json:"clientId"`
	Status   Status `json:"status,omitempty"`
}

// StatusReport carries an explicit device status, e.g. a playback error.
type StatusReport struct {
	Header
	ClientID string `json:"clientId"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// LogMessage forwards a device-side log line to the server.
type LogMessage struct {
	Header
	ClientID string `json:"clientId"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

// Command instructs a device to execute a named operation.
type Command struct {
	Header
	CommandID string         `json:"commandId"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
}

// CommandResult correlates back to a Command by CommandID.
type CommandResult struct {
	Header
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UpdateConfig pushes new runtime settings to a device.
type UpdateConfig struct {
	Header
	Config map[string]any `json:"config"`
}

// UpdateConfigResponse acknowledges an UpdateConfig.
type UpdateConfigResponse struct {
	Header
	ClientID string `json:"clientId"`
	Applied  bool   `json:"applied"`
	Error    string `json:"error,omitempty"`
}

// DisplayUpdate pushes new display content to a device. The payload is
// supplied by the layout/content source and passed through opaque.
type DisplayUpdate struct {
	Header
	LayoutID string         `json:"layoutId,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
}

// LayoutAssigned informs a device of its assigned layout.
type LayoutAssigned struct {
	Header
	LayoutID   string `json:"layoutId"`
	LayoutName string `json:"layoutName,omitempty"`
}

// DataUpdate pushes refreshed data-source values for the current layout.
type DataUpdate struct {
	Header
	SourceID string         `json:"sourceId,omitempty"`
	Values   map[string]any `json:"values,omitempty"`
}

// Screenshot carries a captured frame from a device, base64 encoded.
type Screenshot struct {
	Header
	ClientID string `json:"clientId"`
	ImageB64 string `json:"image"`
	Format   string `json:"format,omitempty"`
}

// AppRegister is the first message from a mobile operator app.
type AppRegister struct {
	Header
	DeviceIdentifier string `json:"deviceIdentifier"`
	DeviceName       string `json:"deviceName,omitempty"`
	Platform         string `json:"platform,omitempty"`
}

// AppHeartbeat is the mobile-app liveness signal, carrying its token.
type AppHeartbeat struct {
	Header
	Token string `json:"token"`
}

// AppAuthorizationRequired tells an app it must wait for operator approval.
type AppAuthorizationRequired struct {
	Header
	RegistrationID string `json:"registrationId"`
}

// AppAuthorized grants a session token and permission set.
type AppAuthorized struct {
	Header
	Token       string    `json:"token"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AppRejected tells an app its registration was declined or revoked.
type AppRejected struct {
	Header
	Reason string `json:"reason,omitempty"`
}

// SendCommand asks the server to dispatch a command to a device.
type SendCommand struct {
	Header
	Token          string         `json:"token"`
	TargetClientID string         `json:"targetClientId"`
	Command        string         `json:"command"`
	Params         map[string]any `json:"params,omitempty"`
	TimeoutMillis  int64          `json:"timeoutMillis,omitempty"`
}

// RequestClientList asks for the current connected-client snapshot.
type RequestClientList struct {
	Header
	Token string `json:"token"`
}

// ClientInfo is one entry of a client list snapshot.
type ClientInfo struct {
	ClientID      string    `json:"clientId"`
	Name          string    `json:"name,omitempty"`
	Status        Status    `json:"status"`
	RemoteAddress string    `json:"remoteAddress,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
}

// ClientListUpdate is the server's client snapshot for mobile apps.
type ClientListUpdate struct {
	Header
	Clients []ClientInfo `json:"clients"`
}

// ClientStatusChanged notifies subscribers of a device status transition.
type ClientStatusChanged struct {
	Header
	ClientID string `json:"clientId"`
	Status   Status `json:"status"`
}

// RequestScreenshot asks the server to fetch a frame from a device.
type RequestScreenshot struct {
	Header
	Token          string `json:"token"`
	TargetClientID string `json:"targetClientId"`
}

// ScreenshotResponse returns a captured frame to a mobile app.
type ScreenshotResponse struct {
	Header
	TargetClientID string `json:"targetClientId"`
	ImageB64       string `json:"image,omitempty"`
	Error          string `json:"error,omitempty"`
}

// AssignLayout asks the server to assign a layout to a device.
type AssignLayout struct {
	Header
	Token          string `json:"token"`
	TargetClientID string `json:"targetClientId"`
	LayoutID       string `json:"layoutId"`
}

// RequestLayoutList asks for the available layouts.
type RequestLayoutList struct {
	Header
	Token string `json:"token"`
}

// LayoutInfo is one entry of a layout list.
type LayoutInfo struct {
	LayoutID string `json:"layoutId"`
	Name     string `json:"name"`
}

// LayoutListResponse returns the available layouts to a mobile app.
type LayoutListResponse struct {
	Header
	Layouts []LayoutInfo `json:"layouts"`
}
