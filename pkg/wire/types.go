package wire

// Type identifies a message on the wire. The tag strings are part of the
// protocol and must not change.
type Type string

// Device to server.
const (
	TypeRegister             Type = "REGISTER"
	TypeHeartbeat            Type = "HEARTBEAT"
	TypeStatusReport         Type = "STATUS_REPORT"
	TypeLog                  Type = "LOG"
	TypeScreenshot           Type = "SCREENSHOT"
	TypeUpdateConfigResponse Type = "UPDATE_CONFIG_RESPONSE"
)

// Server to device.
const (
	TypeRegistrationResponse Type = "REGISTRATION_RESPONSE"
	TypeDisplayUpdate        Type = "DISPLAY_UPDATE"
	TypeCommand              Type = "COMMAND"
	TypeUpdateConfig         Type = "UPDATE_CONFIG"
	TypeLayoutAssigned       Type = "LAYOUT_ASSIGNED"
	TypeDataUpdate           Type = "DATA_UPDATE"
)

// Mobile app to server.
const (
	TypeAppRegister       Type = "APP_REGISTER"
	TypeAppHeartbeat      Type = "APP_HEARTBEAT"
	TypeRequestClientList Type = "REQUEST_CLIENT_LIST"
	TypeSendCommand       Type = "SEND_COMMAND"
	TypeAssignLayout      Type = "ASSIGN_LAYOUT"
	TypeRequestScreenshot Type = "REQUEST_SCREENSHOT"
	TypeRequestLayoutList Type = "REQUEST_LAYOUT_LIST"
)

// Server to mobile app.
const (
	TypeAppAuthorizationRequired Type = "APP_AUTHORIZATION_REQUIRED"
	TypeAppAuthorized            Type = "APP_AUTHORIZED"
	TypeAppRejected              Type = "APP_REJECTED"
	TypeClientListUpdate         Type = "CLIENT_LIST_UPDATE"
	TypeClientStatusChanged      Type = "CLIENT_STATUS_CHANGED"
	TypeScreenshotResponse       Type = "SCREENSHOT_RESPONSE"
	TypeLayoutListResponse       Type = "LAYOUT_LIST_RESPONSE"
	TypeCommandResult            Type = "COMMAND_RESULT"
)

var knownTypes = map[Type]struct{}{
	TypeRegister: {}, TypeHeartbeat: {}, TypeStatusReport: {}, TypeLog: {},
	TypeScreenshot: {}, TypeUpdateConfigResponse: {},
	TypeRegistrationResponse: {}, TypeDisplayUpdate: {}, TypeCommand: {},
	TypeUpdateConfig: {}, TypeLayoutAssigned: {}, TypeDataUpdate: {},
	TypeAppRegister: {}, TypeAppHeartbeat: {}, TypeRequestClientList: {},
	TypeSendCommand: {}, TypeAssignLayout: {}, TypeRequestScreenshot: {},
	TypeRequestLayoutList: {},
	TypeAppAuthorizationRequired: {}, TypeAppAuthorized: {}, TypeAppRejected: {},
	TypeClientListUpdate: {}, TypeClientStatusChanged: {},
	TypeScreenshotResponse: {}, TypeLayoutListResponse: {}, TypeCommandResult: {},
}

// IsValid reports whether t is a known protocol type tag.
func (t Type) IsValid() bool {
	_, ok := knownTypes[t]
	return ok
}

// String returns the tag string.
func (t Type) String() string { return string(t) }

// Status is the device status enumeration shared by the registry and the
// CLIENT_STATUS_CHANGED payload.
type Status string

const (
	StatusConnecting Status = "Connecting"
	StatusRegistered Status = "Registered"
	StatusOnline     Status = "Online"
	StatusWarning    Status = "Warning"
	StatusError      Status = "Error"
	StatusOffline    Status = "Offline"
)

// IsValid reports whether s is a known device status.
func (s Status) IsValid() bool {
	switch s {
	case StatusConnecting, StatusRegistered, StatusOnline, StatusWarning, StatusError, StatusOffline:
		return true
	}
	return false
}

// Live reports whether the status counts as a live registered session.
// At most one live session may exist per device identity.
func (s Status) Live() bool {
	switch s {
	case StatusRegistered, StatusOnline, StatusWarning:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }
