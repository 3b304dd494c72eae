// Package wire defines the JSON message envelope exchanged between the
// signage server, display devices, and mobile operator apps.
//
// Every message shares a common envelope:
//
//	{
//	  "id": "uuid",
//	  "type": "REGISTER",
//	  "timestamp": "2026-01-02T15:04:05Z",
//	  "senderId": "c1",
//	  ... type-specific fields
//	}
//
// Type tags are case-sensitive and fixed; unknown tags are reported as
// ErrUnknownType so handlers can log and drop the message without
// tearing down the connection.
package wire
