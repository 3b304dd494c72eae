package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// TXT record keys carried in the mDNS advertisement.
const (
	txtKeyTLS      = "tls"
	txtKeyURL      = "url"
	txtKeyHostname = "hostname"
)

// AdvertiserConfig configures the mDNS advertisement.
type AdvertiserConfig struct {
	// ServerName becomes the mDNS instance name.
	ServerName string

	// Hostname is carried in the TXT record.
	Hostname string

	// Port is the service port clients should connect to.
	Port int

	// TLS indicates whether the service port requires TLS.
	TLS bool

	// URL is an optional opaque endpoint hint.
	URL string

	// Interface restricts advertising to one interface. Empty means all.
	Interface string

	// TTL is the DNS record TTL in seconds. Zero uses the zeroconf
	// default.
	TTL uint32
}

// Advertiser publishes the signage service over mDNS, the secondary
// discovery channel next to the UDP responder.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an mDNS advertiser. Call Start to publish.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Start registers the mDNS service. Idempotent restarts replace the
// previous registration.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.ServerName == "" {
		return fmt.Errorf("discovery: advertiser needs a server name")
	}
	if a.config.Port == 0 {
		return fmt.Errorf("discovery: advertiser needs a service port")
	}

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		txtKeyTLS + "=" + strconv.FormatBool(a.config.TLS),
	}
	if a.config.Hostname != "" {
		txt = append(txt, txtKeyHostname+"="+a.config.Hostname)
	}
	if a.config.URL != "" {
		txt = append(txt, txtKeyURL+"="+a.config.URL)
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(a.config.TTL))
	}

	server, err := zeroconf.Register(
		a.config.ServerName,
		MDNSServiceType,
		MDNSDomain,
		a.config.Port,
		txt,
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement. Idempotent.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// browseMDNS browses for signage services until ctx expires, invoking
// collect for every entry converted to a descriptor.
func browseMDNS(ctx context.Context, collect func(*Descriptor)) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if d := entryToDescriptor(entry); d != nil {
					collect(d)
				}
			case <-removed:
				// A resolver losing an interface does not retract a
				// candidate mid-scan; filtering happens per pass.
			case <-ctx.Done():
				return
			}
		}
	}()

	err := zeroconf.Browse(ctx, MDNSServiceType, MDNSDomain, entries, removed)
	<-done
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("browse mdns: %w", err)
	}
	return nil
}

// entryToDescriptor converts a zeroconf entry to a descriptor. Entries
// without addresses are dropped.
func entryToDescriptor(entry *zeroconf.ServiceEntry) *Descriptor {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	if len(addrs) == 0 {
		return nil
	}

	d := &Descriptor{
		Service:    ServiceID,
		ServerName: entry.Instance,
		Hostname:   entry.HostName,
		Addresses:  addrs,
		Port:       entry.Port,
	}
	for _, record := range entry.Text {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		switch key {
		case txtKeyTLS:
			d.TLS = value == "true"
		case txtKeyURL:
			d.URL = value
		case txtKeyHostname:
			d.Hostname = value
		}
	}
	return d
}
