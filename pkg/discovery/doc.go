// Package discovery locates signage servers on the local network.
//
// Two channels run side by side. A UDP broadcast probe asks "who is
// there" on the segment and every server answers with a descriptor
// naming itself, its addresses, its port and whether TLS is required.
// An mDNS advertisement ("_signage._tcp") serves the same descriptor to
// multicast-DNS capable clients.
//
// Clients aggregate descriptors over a scan window, discard loopback
// addresses, and rank the rest by private-range membership so that the
// address most likely reachable from another LAN host is tried first.
// After all scan rounds fail, a previously recorded last-known address
// is the fallback; loopback is never a fallback.
package discovery
