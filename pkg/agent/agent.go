package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/connection"
	"github.com/manur84/digitalsignage-sub008/pkg/discovery"
	"github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/transport"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// Agent errors.
var (
	ErrAlreadyRunning      = errors.New("agent: already running")
	ErrNotRunning          = errors.New("agent: not running")
	ErrNotRegistered       = errors.New("agent: not registered")
	ErrRegistrationDenied  = errors.New("agent: registration denied")
	ErrRegistrationTimeout = errors.New("agent: registration timed out")
)

// DefaultHeartbeatInterval is how often a registered agent reports in.
// It must comfortably undercut the server's heartbeat timeout.
const DefaultHeartbeatInterval = 30 * time.Second

// registerWait bounds how long a dial waits for the server's
// registration response.
const registerWait = 10 * time.Second

// CommandFunc executes a server-issued command and returns its result.
type CommandFunc func(command string, params map[string]any) (any, error)

// Config configures a device agent.
type Config struct {
	// HardwareID is the stable device identity. Required.
	HardwareID string

	// Name is the human-readable device name shown to operators.
	Name string

	// Model and Firmware describe the device in its registration.
	Model    string
	Firmware string

	// ServerName filters discovery to a specific server. Empty accepts
	// the first server that answers.
	ServerName string

	// ServerAddress is a static host:port. When set, discovery is
	// skipped entirely.
	ServerAddress string

	// TLSConfig enables TLS on the transport when non-nil.
	TLSConfig *tls.Config

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// DataDir, when set, persists the last working server endpoint so
	// the agent can come back up while discovery is down.
	DataDir string

	// Discovery tunes the probe client.
	Discovery discovery.ClientConfig

	// Backoff tunes redial timing after link loss.
	Backoff connection.BackoffConfig

	// Logger receives protocol events. Defaults to no logging.
	Logger log.Logger

	// OnCommand executes COMMAND requests. Nil rejects all commands.
	OnCommand CommandFunc

	// OnConfigUpdate applies pushed settings. A non-nil error is
	// reported back to the server.
	OnConfigUpdate func(settings map[string]any) error

	// OnLayoutAssigned is called when the server assigns a layout.
	OnLayoutAssigned func(layoutID, layoutName string)

	// OnDisplayUpdate delivers new display content.
	OnDisplayUpdate func(layoutID string, content map[string]any)

	// OnDataUpdate delivers refreshed data-source values.
	OnDataUpdate func(sourceID string, values map[string]any)

	// OnScreenshot produces a frame capture for the "screenshot"
	// command, base64 encoded. Nil reports the command unsupported.
	OnScreenshot func() (imageB64 string, format string, err error)

	// OnLinkStateChange observes the supervisor's link transitions.
	OnLinkStateChange func(from, to connection.State)
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Logger == nil {
		c.Logger = log.NoopLogger{}
	}
	return c
}

// Agent is a signage display device client.
type Agent struct {
	config Config
	logger log.Logger

	finder    *discovery.Client
	lastKnown *discovery.LastKnownFile

	supervisor *connection.Supervisor

	mu       sync.RWMutex
	conn     *transport.ClientConn
	clientID string

	// registerCh receives the server's answer to the in-flight
	// REGISTER. Replaced on every dial.
	registerCh chan *wire.RegistrationResponse

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an agent. Call Start to bring the link up.
func New(config Config) (*Agent, error) {
	if config.HardwareID == "" {
		return nil, errors.New("agent: hardware id is required")
	}
	config = config.withDefaults()

	a := &Agent{
		config: config,
		logger: config.Logger,
	}

	if config.ServerAddress == "" {
		dcfg := config.Discovery
		if dcfg.Logger == nil {
			dcfg.Logger = config.Logger
		}
		a.finder = discovery.NewClient(dcfg)

		if config.DataDir != "" {
			a.lastKnown = discovery.NewLastKnownFile(filepath.Join(config.DataDir, "server.json"))
			if lk, ok, err := a.lastKnown.Load(); err == nil && ok {
				_ = a.finder.SetLastKnown(lk)
			}
		}
	}

	return a, nil
}

// Start dials the server and begins the heartbeat loop. It blocks
// until the first registration completes or fails; after a successful
// start the agent maintains the link on its own.
func (a *Agent) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.supervisor = connection.NewSupervisor(connection.SupervisorConfig{
		Dial:          a.dial,
		Backoff:       a.config.Backoff,
		Logger:        a.config.Logger,
		OnStateChange: a.config.OnLinkStateChange,
	})

	if err := a.supervisor.Connect(ctx); err != nil {
		a.supervisor.Close()
		cancel()
		a.running.Store(false)
		return err
	}

	a.wg.Add(1)
	go a.heartbeatLoop(runCtx)

	return nil
}

// Stop tears the link down and stops all background work.
func (a *Agent) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}

	a.supervisor.Close()
	a.cancel()

	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	a.wg.Wait()
}

// ClientID returns the server-assigned identity, or "" before the
// first successful registration.
func (a *Agent) ClientID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.clientID
}

// Online reports whether the agent has a registered session.
func (a *Agent) Online() bool {
	return a.running.Load() && a.supervisor.Online()
}

// SendStatus reports a status change, e.g. a playback error.
func (a *Agent) SendStatus(status wire.Status, detail string) error {
	clientID := a.ClientID()
	if clientID == "" {
		return ErrNotRegistered
	}
	return a.send(&wire.StatusReport{
		Header:   wire.NewHeader(wire.TypeStatusReport, clientID),
		ClientID: clientID,
		Status:   status,
		Detail:   detail,
	})
}

// SendLog forwards a device-side log line to the server.
func (a *Agent) SendLog(level, message string) error {
	clientID := a.ClientID()
	if clientID == "" {
		return ErrNotRegistered
	}
	return a.send(&wire.LogMessage{
		Header:   wire.NewHeader(wire.TypeLog, clientID),
		ClientID: clientID,
		Level:    level,
		Message:  message,
	})
}

// SendScreenshot pushes an unsolicited frame capture to the server.
func (a *Agent) SendScreenshot(imageB64, format string) error {
	clientID := a.ClientID()
	if clientID == "" {
		return ErrNotRegistered
	}
	return a.send(&wire.Screenshot{
		Header:   wire.NewHeader(wire.TypeScreenshot, clientID),
		ClientID: clientID,
		ImageB64: imageB64,
		Format:   format,
	})
}

// dial resolves the server, connects the transport and registers.
// Used for the initial connect and every redial.
func (a *Agent) dial(ctx context.Context) error {
	address, serverName, useTLS, err := a.resolve(ctx)
	if err != nil {
		return err
	}

	handler := &connHandler{agent: a}
	conn := transport.NewClientConn(transport.ClientConfig{
		TLSConfig: a.config.TLSConfig,
		Logger:    a.config.Logger,
	}, handler)
	handler.conn = conn

	registerCh := make(chan *wire.RegistrationResponse, 1)
	a.mu.Lock()
	a.conn = conn
	a.registerCh = registerCh
	a.mu.Unlock()

	if err := conn.Connect(ctx, address); err != nil {
		return err
	}

	if err := a.register(ctx, conn, registerCh); err != nil {
		conn.Close()
		return err
	}

	if a.finder != nil {
		if host, portStr, splitErr := net.SplitHostPort(address); splitErr == nil {
			port, _ := strconv.Atoi(portStr)
			a.finder.RememberSuccess(serverName, host, port, useTLS)
			if a.lastKnown != nil {
				if lk, ok := a.finder.LastKnown(); ok {
					_ = a.lastKnown.Save(lk)
				}
			}
		}
	}

	return nil
}

// resolve picks the server endpoint: static address when configured,
// discovery otherwise.
func (a *Agent) resolve(ctx context.Context) (address, serverName string, useTLS bool, err error) {
	if a.config.ServerAddress != "" {
		return a.config.ServerAddress, a.config.ServerName, a.config.TLSConfig != nil, nil
	}

	candidate, err := a.finder.Discover(ctx, a.config.ServerName)
	if err != nil {
		return "", "", false, err
	}
	primary := candidate.Primary()
	if primary == "" {
		return "", "", false, discovery.ErrNoServerFound
	}
	return net.JoinHostPort(primary, fmt.Sprintf("%d", candidate.Port)), candidate.ServerName, candidate.TLS, nil
}

// register sends REGISTER and waits for the server's decision.
func (a *Agent) register(ctx context.Context, conn *transport.ClientConn, registerCh chan *wire.RegistrationResponse) error {
	msg := &wire.Register{
		Header:     wire.NewHeader(wire.TypeRegister, ""),
		HardwareID: a.config.HardwareID,
		Name:       a.config.Name,
		Model:      a.config.Model,
		Firmware:   a.config.Firmware,
	}
	if local := conn.LocalAddr(); local != nil {
		if host, _, err := net.SplitHostPort(local.String()); err == nil {
			msg.IPAddress = host
		}
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		return err
	}

	timer := time.NewTimer(registerWait)
	defer timer.Stop()

	select {
	case resp := <-registerCh:
		if !resp.Accepted {
			if resp.Error != "" {
				return fmt.Errorf("%w: %s", ErrRegistrationDenied, resp.Error)
			}
			return ErrRegistrationDenied
		}
		a.mu.Lock()
		a.clientID = resp.ClientID
		a.mu.Unlock()
		return nil
	case <-timer.C:
		return ErrRegistrationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// heartbeatLoop reports liveness while the session is up.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clientID := a.ClientID()
			if clientID == "" || !a.supervisor.Online() {
				continue
			}
			err := a.send(&wire.Heartbeat{
				Header:   wire.NewHeader(wire.TypeHeartbeat, clientID),
				ClientID: clientID,
				Status:   wire.StatusOnline,
			})
			if err != nil {
				a.logError(err, "heartbeat")
			}
		}
	}
}

// handleMessage dispatches a decoded frame from the server.
func (a *Agent) handleMessage(data []byte) {
	header, err := wire.DecodeHeader(data)
	if err != nil {
		a.logError(err, "decode envelope")
		return
	}

	switch header.Type {
	case wire.TypeRegistrationResponse:
		resp, err := wire.Decode[wire.RegistrationResponse](data)
		if err != nil {
			a.logError(err, "decode registration response")
			return
		}
		a.mu.RLock()
		ch := a.registerCh
		a.mu.RUnlock()
		if ch != nil {
			select {
			case ch <- resp:
			default:
			}
		}

	case wire.TypeCommand:
		cmd, err := wire.Decode[wire.Command](data)
		if err != nil {
			a.logError(err, "decode command")
			return
		}
		// Command handlers may block on device work; never stall the
		// read loop.
		go a.runCommand(cmd)

	case wire.TypeUpdateConfig:
		upd, err := wire.Decode[wire.UpdateConfig](data)
		if err != nil {
			a.logError(err, "decode config update")
			return
		}
		go a.applyConfig(upd)

	case wire.TypeLayoutAssigned:
		msg, err := wire.Decode[wire.LayoutAssigned](data)
		if err != nil {
			a.logError(err, "decode layout assignment")
			return
		}
		if a.config.OnLayoutAssigned != nil {
			a.config.OnLayoutAssigned(msg.LayoutID, msg.LayoutName)
		}

	case wire.TypeDisplayUpdate:
		msg, err := wire.Decode[wire.DisplayUpdate](data)
		if err != nil {
			a.logError(err, "decode display update")
			return
		}
		if a.config.OnDisplayUpdate != nil {
			a.config.OnDisplayUpdate(msg.LayoutID, msg.Content)
		}

	case wire.TypeDataUpdate:
		msg, err := wire.Decode[wire.DataUpdate](data)
		if err != nil {
			a.logError(err, "decode data update")
			return
		}
		if a.config.OnDataUpdate != nil {
			a.config.OnDataUpdate(msg.SourceID, msg.Values)
		}

	default:
		a.logError(fmt.Errorf("unexpected message type %q", header.Type), "dispatch")
	}
}

// runCommand executes a server command and reports the outcome.
func (a *Agent) runCommand(cmd *wire.Command) {
	result := &wire.CommandResult{
		Header:    wire.NewHeader(wire.TypeCommandResult, a.ClientID()),
		CommandID: cmd.CommandID,
	}

	switch {
	case cmd.Command == "screenshot" && a.config.OnScreenshot != nil:
		image, _, err := a.config.OnScreenshot()
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
			result.Result = image
		}
	case a.config.OnCommand != nil:
		out, err := a.config.OnCommand(cmd.Command, cmd.Params)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
			result.Result = out
		}
	default:
		result.Error = fmt.Sprintf("unsupported command %q", cmd.Command)
	}

	if err := a.send(result); err != nil {
		a.logError(err, "command result")
	}
}

// applyConfig applies pushed settings and acknowledges.
func (a *Agent) applyConfig(upd *wire.UpdateConfig) {
	resp := &wire.UpdateConfigResponse{
		Header:   wire.NewHeader(wire.TypeUpdateConfigResponse, a.ClientID()),
		ClientID: a.ClientID(),
		Applied:  true,
	}
	if a.config.OnConfigUpdate != nil {
		if err := a.config.OnConfigUpdate(upd.Config); err != nil {
			resp.Applied = false
			resp.Error = err.Error()
		}
	}
	if err := a.send(resp); err != nil {
		a.logError(err, "config response")
	}
}

func (a *Agent) send(msg any) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return transport.ErrNotConnected
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (a *Agent) logError(err error, context string) {
	a.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		ClientID:  a.ClientID(),
		Error:     &log.ErrorEvent{Message: err.Error(), Context: context},
	})
}

// connHandler adapts a transport connection's events onto the agent.
// A fresh handler is created per dial so events from a dead connection
// cannot disturb its replacement.
type connHandler struct {
	agent *Agent
	conn  *transport.ClientConn
}

func (h *connHandler) OnMessage(msg []byte) {
	h.agent.handleMessage(msg)
}

func (h *connHandler) OnStateChange(oldState, newState transport.ConnectionState) {
	if oldState != transport.StateConnected || newState != transport.StateDisconnected {
		return
	}
	// Only the current connection's death counts as link loss.
	h.agent.mu.RLock()
	current := h.agent.conn == h.conn
	h.agent.mu.RUnlock()
	if current && h.agent.running.Load() {
		h.agent.supervisor.LinkLost()
	}
}

func (h *connHandler) OnError(err error) {
	h.agent.logError(err, "transport")
}
