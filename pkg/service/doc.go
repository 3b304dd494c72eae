// Package service is the coordination layer of the signage server. It
// ties the framed transport to the connection registry: registrations
// are serialized per hardware id, liveness is swept by a single
// heartbeat monitor, commands are correlated to their results by the
// dispatcher, and mobile apps pass through an operator-approval flow
// before they may observe or control devices.
package service
