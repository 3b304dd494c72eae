// Package transport implements the framed TCP transport shared by the
// signage server and its clients.
//
// Messages are length-prefixed JSON documents: a 4-byte big-endian length
// followed by the payload. TLS is optional and negotiated out of band via
// the discovery descriptor's tls flag.
//
// The transport deliberately has no ping/pong of its own; liveness is the
// job of the application-level HEARTBEAT messages swept by the heartbeat
// monitor.
package transport
