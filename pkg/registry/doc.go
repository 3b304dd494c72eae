// Package registry owns the live set of device and mobile-app
// connections, keyed by client id. It is the single source of truth for
// "who is connected now".
//
// All mutation goes through the registry's internal lock, so concurrent
// heartbeat arrivals and timeout sweeps for the same client id are
// linearized: one of them wins, and the registry never holds two live
// entries for one id.
package registry
