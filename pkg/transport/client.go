package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/log"
)

// Connection states.
type ConnectionState int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates connection in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionClosed = errors.New("connection closed")
)

// ClientConfig configures a client connection.
type ClientConfig struct {
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum message size (default: 256KB).
	MaxMessageSize uint32

	// WriteTimeout is the timeout for write operations (0 = no timeout).
	WriteTimeout time.Duration

	// Logger for protocol capture (optional).
	Logger log.Logger
}

// ClientHandler handles connection events.
type ClientHandler interface {
	// OnMessage is called when a message frame is received.
	OnMessage(msg []byte)

	// OnStateChange is called when the connection state changes.
	OnStateChange(oldState, newState ConnectionState)

	// OnError is called when an error occurs.
	OnError(err error)
}

// ClientConn is the device/app side of a signage connection.
type ClientConn struct {
	config  ClientConfig
	handler ClientHandler

	conn   net.Conn
	framer *Framer

	state     atomic.Int32
	closeOnce sync.Once
	closeCh   chan struct{}

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClientConn creates a new connection (not yet connected).
func NewClientConn(config ClientConfig, handler ClientHandler) *ClientConn {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	c := &ClientConn{
		config:  config,
		handler: handler,
		closeCh: make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))

	return c
}

// State returns the current connection state.
func (c *ClientConn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Connect establishes a connection to the specified address.
func (c *ClientConn) Connect(ctx context.Context, address string) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.closeCh = make(chan struct{})
	c.closeOnce = sync.Once{}

	c.notifyStateChange(StateDisconnected, StateConnecting)

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}

	if c.config.TLSConfig != nil {
		tlsConn := tls.Client(conn, c.config.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			c.state.Store(int32(StateDisconnected))
			c.notifyStateChange(StateConnecting, StateDisconnected)
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	framer := NewFramerWithMaxSize(conn, c.config.MaxMessageSize)
	if c.config.Logger != nil {
		framer.SetLogger(c.config.Logger, conn.LocalAddr().String())
	}

	c.mu.Lock()
	c.conn = conn
	c.framer = framer
	c.mu.Unlock()

	go c.readLoop()

	c.state.Store(int32(StateConnected))
	c.notifyStateChange(StateConnecting, StateConnected)

	return nil
}

// Send sends a message frame over the connection. Safe for concurrent use.
func (c *ClientConn) Send(data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	c.mu.RLock()
	framer := c.framer
	conn := c.conn
	c.mu.RUnlock()

	if framer == nil {
		return ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	return framer.WriteFrame(data)
}

// Close closes the connection. Safe to call multiple times.
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		currentState := c.State()

		close(c.closeCh)
		if c.cancel != nil {
			c.cancel()
		}

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.framer = nil
		c.mu.Unlock()

		c.state.Store(int32(StateDisconnected))
		if currentState != StateDisconnected {
			c.notifyStateChange(currentState, StateDisconnected)
		}
	})
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		return c.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}

// readLoop reads message frames from the connection.
func (c *ClientConn) readLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		c.mu.RLock()
		framer := c.framer
		c.mu.RUnlock()

		if framer == nil {
			return
		}

		data, err := framer.ReadFrame()
		if err != nil {
			if c.ctx.Err() != nil {
				return // Expected during close.
			}
			select {
			case <-c.closeCh:
				return
			default:
			}
			c.handler.OnError(fmt.Errorf("read error: %w", err))
			c.Close()
			return
		}

		c.handler.OnMessage(data)
	}
}

// notifyStateChange notifies the handler of state changes.
func (c *ClientConn) notifyStateChange(oldState, newState ConnectionState) {
	if c.handler != nil {
		c.handler.OnStateChange(oldState, newState)
	}
}
