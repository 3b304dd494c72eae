package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

const (
	// ServiceID identifies the signage discovery protocol in probe
	// datagrams. Responders ignore datagrams carrying anything else.
	ServiceID = "SIGNAGE_DISCOVERY_V1"

	// DefaultProbePort is the UDP port responders listen on.
	DefaultProbePort = 9571

	// MDNSServiceType is the mDNS service advertised by servers.
	MDNSServiceType = "_signage._tcp"

	// MDNSDomain is the mDNS browse domain.
	MDNSDomain = "local."
)

// Descriptor errors.
var (
	ErrNotProbe      = errors.New("discovery: not a discovery probe")
	ErrBadDescriptor = errors.New("discovery: malformed descriptor")
)

// Probe is the datagram a client broadcasts to find servers.
type Probe struct {
	Service string `json:"service"`
}

// Descriptor is a server's answer to a probe: everything a client needs
// to pick an address and connect.
type Descriptor struct {
	Service    string   `json:"service"`
	ServerName string   `json:"serverName"`
	Hostname   string   `json:"hostname"`
	Addresses  []string `json:"addresses"`
	Port       int      `json:"port"`
	TLS        bool     `json:"tls"`
	URL        string   `json:"url,omitempty"`
}

// EncodeProbe serializes a probe datagram.
func EncodeProbe() []byte {
	data, _ := json.Marshal(Probe{Service: ServiceID})
	return data
}

// DecodeProbe parses a datagram and verifies it is a signage probe.
func DecodeProbe(data []byte) error {
	var p Probe
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrNotProbe, err)
	}
	if p.Service != ServiceID {
		return ErrNotProbe
	}
	return nil
}

// Encode serializes the descriptor for a probe reply.
func (d *Descriptor) Encode() ([]byte, error) {
	d.Service = ServiceID
	return json.Marshal(d)
}

// DecodeDescriptor parses a probe reply.
func DecodeDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	if d.Service != ServiceID {
		return nil, ErrBadDescriptor
	}
	if d.ServerName == "" || d.Port == 0 {
		return nil, ErrBadDescriptor
	}
	return &d, nil
}

// Candidate is a discovered server with its addresses already filtered
// and rank-ordered. Rebuilt on every discovery pass, never persisted.
type Candidate struct {
	ServerName string
	Addresses  []string
	Port       int
	TLS        bool
	URL        string
}

// Primary returns the best-ranked address, or "" when none survived
// filtering.
func (c *Candidate) Primary() string {
	if len(c.Addresses) == 0 {
		return ""
	}
	return c.Addresses[0]
}

// LocalAddresses returns the host's non-loopback unicast IP addresses,
// the set a responder advertises in its descriptor.
func LocalAddresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	var out []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, ip.String())
	}
	return out, nil
}
