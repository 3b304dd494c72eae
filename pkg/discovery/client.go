package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
)

// Client defaults. Tunable policy, not contract.
const (
	DefaultRounds     = 10
	DefaultRoundDelay = 2 * time.Second
	DefaultScanWindow = 3 * time.Second
)

// Discovery errors.
var (
	// ErrNoServerFound indicates all scan rounds completed without a
	// usable server and no last-known fallback was available.
	ErrNoServerFound = errors.New("discovery: no server found")
)

// LastKnown is a previously successful server endpoint, used as the
// fallback when a fresh discovery pass fails.
type LastKnown struct {
	ServerName string `json:"serverName"`
	Address    string `json:"address"`
	Port       int    `json:"port"`
	TLS        bool   `json:"tls"`
}

// ClientConfig configures the discovery prober.
type ClientConfig struct {
	// ProbePort is the responder UDP port. Defaults to DefaultProbePort.
	ProbePort int

	// BroadcastAddresses are the probe targets. Defaults to the limited
	// broadcast address.
	BroadcastAddresses []string

	// Rounds is how many scan rounds to run before giving up.
	Rounds int

	// RoundDelay is the pause between rounds.
	RoundDelay time.Duration

	// ScanWindow is how long each round collects replies. Multiple
	// interfaces and servers may answer a single probe.
	ScanWindow time.Duration

	// DisableMDNS turns off the mDNS side channel. UDP probes still run.
	DisableMDNS bool

	// Logger receives discovery events. Nil disables logging.
	Logger pkglog.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ProbePort == 0 {
		c.ProbePort = DefaultProbePort
	}
	if len(c.BroadcastAddresses) == 0 {
		c.BroadcastAddresses = []string{"255.255.255.255"}
	}
	if c.Rounds == 0 {
		c.Rounds = DefaultRounds
	}
	if c.RoundDelay == 0 {
		c.RoundDelay = DefaultRoundDelay
	}
	if c.ScanWindow == 0 {
		c.ScanWindow = DefaultScanWindow
	}
	if c.Logger == nil {
		c.Logger = pkglog.NoopLogger{}
	}
	return c
}

// Client finds signage servers by probing the local segment.
type Client struct {
	config ClientConfig

	mu        sync.Mutex
	lastKnown *LastKnown
}

// NewClient creates a discovery client.
func NewClient(config ClientConfig) *Client {
	return &Client{config: config.withDefaults()}
}

// SetLastKnown seeds the fallback endpoint, typically loaded from disk
// at startup. Loopback addresses are rejected: falling back to loopback
// can never reach a remote server.
func (c *Client) SetLastKnown(lk LastKnown) error {
	if lk.Address == "" || isLoopback(lk.Address) {
		return fmt.Errorf("discovery: unusable fallback address %q", lk.Address)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKnown = &lk
	return nil
}

// LastKnown returns the current fallback endpoint, if any.
func (c *Client) LastKnown() (LastKnown, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastKnown == nil {
		return LastKnown{}, false
	}
	return *c.lastKnown, true
}

// RememberSuccess records an endpoint that accepted a connection, making
// it the fallback for future discovery failures. Loopback is ignored.
func (c *Client) RememberSuccess(serverName, address string, port int, tls bool) {
	if address == "" || isLoopback(address) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKnown = &LastKnown{
		ServerName: serverName,
		Address:    address,
		Port:       port,
		TLS:        tls,
	}
}

// Discover runs scan rounds until a server is found, rounds are
// exhausted, or ctx is cancelled. serverName filters results; empty
// accepts any server. Even with a fallback configured, a fresh pass
// always runs first because addresses change.
//
// On exhaustion the last-known endpoint is returned as a single-address
// candidate. With no fallback, ErrNoServerFound.
func (c *Client) Discover(ctx context.Context, serverName string) (*Candidate, error) {
	for round := 1; round <= c.config.Rounds; round++ {
		c.config.Logger.Log(pkglog.Event{
			Timestamp: time.Now(),
			Direction: pkglog.DirectionOut,
			Layer:     pkglog.LayerDiscovery,
			Category:  pkglog.CategoryDiscovery,
			Discovery: &pkglog.DiscoveryEvent{
				Kind:       "probe",
				ServerName: serverName,
				Round:      round,
			},
		})

		candidates, err := c.scanOnce(ctx, serverName)
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			best := candidates[0]
			c.config.Logger.Log(pkglog.Event{
				Timestamp: time.Now(),
				Direction: pkglog.DirectionIn,
				Layer:     pkglog.LayerDiscovery,
				Category:  pkglog.CategoryDiscovery,
				Discovery: &pkglog.DiscoveryEvent{
					Kind:       "response",
					ServerName: best.ServerName,
					Addresses:  best.Addresses,
					Round:      round,
				},
			})
			return best, nil
		}

		if round == c.config.Rounds {
			break
		}
		select {
		case <-time.After(c.config.RoundDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lk, ok := c.LastKnown(); ok && (serverName == "" || lk.ServerName == serverName) {
		return &Candidate{
			ServerName: lk.ServerName,
			Addresses:  []string{lk.Address},
			Port:       lk.Port,
			TLS:        lk.TLS,
		}, nil
	}
	return nil, ErrNoServerFound
}

// scanOnce broadcasts one probe and collects replies for the scan
// window, aggregating descriptors by server name. Returns candidates
// whose filtered address list is non-empty; aggregation order is
// preserved.
func (c *Client) scanOnce(ctx context.Context, serverName string) ([]*Candidate, error) {
	scanCtx, cancel := context.WithTimeout(ctx, c.config.ScanWindow)
	defer cancel()

	var (
		mu    sync.Mutex
		byName = make(map[string]*Descriptor)
		order []string
	)
	collect := func(d *Descriptor) {
		if serverName != "" && d.ServerName != serverName {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		existing, ok := byName[d.ServerName]
		if !ok {
			cp := *d
			byName[d.ServerName] = &cp
			order = append(order, d.ServerName)
			return
		}
		existing.Addresses = mergeAddresses(existing.Addresses, d.Addresses)
	}

	var wg sync.WaitGroup
	if !c.config.DisableMDNS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = browseMDNS(scanCtx, collect)
		}()
	}

	if err := c.probeUDP(scanCtx, collect); err != nil {
		cancel()
		wg.Wait()
		return nil, err
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	candidates := make([]*Candidate, 0, len(order))
	for _, name := range order {
		d := byName[name]
		addrs := FilterAddresses(d.Addresses)
		if len(addrs) == 0 {
			continue
		}
		candidates = append(candidates, &Candidate{
			ServerName: d.ServerName,
			Addresses:  addrs,
			Port:       d.Port,
			TLS:        d.TLS,
			URL:        d.URL,
		})
	}
	return candidates, nil
}

// probeUDP sends the broadcast probe and reads replies until the scan
// context expires. Read errors after the deadline are expected.
func (c *Client) probeUDP(ctx context.Context, collect func(*Descriptor)) error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("open probe socket: %w", err)
	}
	defer conn.Close()

	probe := EncodeProbe()
	for _, target := range c.config.BroadcastAddresses {
		addr := &net.UDPAddr{
			IP:   net.ParseIP(target),
			Port: c.config.ProbePort,
		}
		if addr.IP == nil {
			continue
		}
		// Broadcast may be unsupported on some segments; other targets
		// and mDNS still run.
		_, _ = conn.WriteTo(probe, addr)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.ScanWindow)
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				return nil
			}
			return fmt.Errorf("read descriptor: %w", err)
		}
		d, err := DecodeDescriptor(buf[:n])
		if err != nil {
			continue
		}
		collect(d)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// mergeAddresses appends addresses not already present, preserving
// first-seen order.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range incoming {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}
