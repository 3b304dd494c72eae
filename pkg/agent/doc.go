// Package agent implements the display-device side of the signage
// protocol.
//
// An Agent finds the server (static address or discovery), connects,
// registers with its hardware id, then keeps the session alive with
// periodic heartbeats. Incoming commands, config pushes and content
// updates are delivered to the callbacks supplied in Config. When the
// link drops the agent rediscovers and re-registers on its own, with
// exponential backoff between attempts.
package agent
