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

// ResponderConfig configures the broadcast responder.
type ResponderConfig struct {
	// ServerName identifies this server in descriptors.
	ServerName string

	// Hostname is advertised to clients. Defaults to os.Hostname at the
	// caller's discretion; empty is allowed.
	Hostname string

	// Port is the service port clients should connect to.
	Port int

	// TLS indicates whether the service port requires TLS.
	TLS bool

	// URL is an optional opaque endpoint hint carried verbatim in the
	// descriptor.
	URL string

	// ProbePort is the UDP port to listen on. Defaults to
	// DefaultProbePort.
	ProbePort int

	// ListenAddress restricts the listen socket. Defaults to all
	// interfaces.
	ListenAddress string

	// Addresses overrides the advertised address list. When empty the
	// responder advertises LocalAddresses().
	Addresses []string

	// Logger receives discovery events. Nil disables logging.
	Logger pkglog.Logger
}

// Responder answers discovery probes on a UDP socket. One long-lived
// receive loop serves all clients on the segment.
type Responder struct {
	config ResponderConfig
	logger pkglog.Logger

	mu      sync.Mutex
	conn    net.PacketConn
	started bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewResponder creates a responder. Call Start to begin answering.
func NewResponder(config ResponderConfig) *Responder {
	if config.ProbePort == 0 {
		config.ProbePort = DefaultProbePort
	}
	logger := config.Logger
	if logger == nil {
		logger = pkglog.NoopLogger{}
	}
	return &Responder{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start binds the UDP socket and launches the receive loop. The loop
// runs until Stop is called or ctx is cancelled.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("discovery: responder already started")
	}
	if r.config.ServerName == "" {
		return errors.New("discovery: responder needs a server name")
	}
	if r.config.Port == 0 {
		return errors.New("discovery: responder needs a service port")
	}

	addr := fmt.Sprintf("%s:%d", r.config.ListenAddress, r.config.ProbePort)
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", addr, err)
	}

	r.conn = conn
	r.started = true

	r.wg.Add(1)
	go r.receiveLoop(ctx, conn)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				r.Stop()
			case <-r.stopCh:
			}
		}()
	}
	return nil
}

// Stop closes the socket and waits for the receive loop to exit.
// Idempotent.
func (r *Responder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.mu.Unlock()
	})
	r.wg.Wait()
}

// LocalAddr returns the bound UDP address, for tests and logging.
func (r *Responder) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Responder) receiveLoop(ctx context.Context, conn net.PacketConn) {
	defer r.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
			}
			if ctx != nil && ctx.Err() != nil {
				return
			}
			// Transient read errors do not kill the loop.
			r.logError(err, "read probe")
			continue
		}

		if err := DecodeProbe(buf[:n]); err != nil {
			// Not ours; other protocols share broadcast space.
			continue
		}

		desc := r.descriptor()
		data, err := desc.Encode()
		if err != nil {
			r.logError(err, "encode descriptor")
			continue
		}
		if _, err := conn.WriteTo(data, remote); err != nil {
			r.logError(err, "send descriptor")
			continue
		}

		r.logger.Log(pkglog.Event{
			Timestamp:  time.Now(),
			Direction:  pkglog.DirectionOut,
			Layer:      pkglog.LayerDiscovery,
			Category:   pkglog.CategoryDiscovery,
			RemoteAddr: remote.String(),
			Discovery: &pkglog.DiscoveryEvent{
				Kind:       "response",
				ServerName: desc.ServerName,
				Addresses:  desc.Addresses,
			},
		})
	}
}

// descriptor builds the reply payload. Addresses are gathered fresh on
// every probe so interface changes are reflected without a restart.
func (r *Responder) descriptor() *Descriptor {
	addrs := r.config.Addresses
	if len(addrs) == 0 {
		if local, err := LocalAddresses(); err == nil {
			addrs = local
		}
	}
	return &Descriptor{
		ServerName: r.config.ServerName,
		Hostname:   r.config.Hostname,
		Addresses:  addrs,
		Port:       r.config.Port,
		TLS:        r.config.TLS,
		URL:        r.config.URL,
	}
}

func (r *Responder) logError(err error, context string) {
	r.logger.Log(pkglog.Event{
		Timestamp: time.Now(),
		Layer:     pkglog.LayerDiscovery,
		Category:  pkglog.CategoryError,
		Error:     &pkglog.ErrorEvent{Message: err.Error(), Context: context},
	})
}
