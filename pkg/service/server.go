package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/discovery"
	"github.com/manur84/digitalsignage-sub008/pkg/identity"
	"github.com/manur84/digitalsignage-sub008/pkg/keyedlock"
	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/transport"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// ServerConfig configures the signage server.
type ServerConfig struct {
	// Name identifies this server in discovery descriptors and message
	// envelopes. Defaults to the OS hostname.
	Name string

	// ListenAddress for the framed transport, e.g. ":9570".
	ListenAddress string

	// TLSConfig enables TLS on the transport when non-nil.
	TLSConfig *tls.Config

	// HeartbeatTimeout and SweepInterval tune the liveness sweep.
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	// CommandTimeout bounds command waits when a request does not carry
	// its own.
	CommandTimeout time.Duration

	// TokenTTL is the mobile-app token lifetime.
	TokenTTL time.Duration

	// EnableDiscovery starts the UDP broadcast responder.
	EnableDiscovery bool

	// DiscoveryProbePort overrides the responder port.
	DiscoveryProbePort int

	// EnableMDNS starts the mDNS advertisement.
	EnableMDNS bool

	// AdvertiseURL is an opaque endpoint hint carried in descriptors.
	AdvertiseURL string

	// Store persists identities. Defaults to an in-memory store.
	Store identity.Store

	// Content supplies layouts and display payloads. Defaults to an
	// empty static source.
	Content ContentSource

	// Logger receives protocol events. Nil disables logging.
	Logger pkglog.Logger
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Name == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Name = hostname
		} else {
			c.Name = "signage-server"
		}
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.Store == nil {
		c.Store = identity.NewMemoryStore()
	}
	if c.Content == nil {
		c.Content = NewStaticContentSource()
	}
	if c.Logger == nil {
		c.Logger = pkglog.NoopLogger{}
	}
	return c
}

// session is the per-transport-connection routing state. A session is
// anonymous until REGISTER or a validated app message binds it to a
// logical identity.
type session struct {
	conn *transport.ServerConn

	mu         sync.Mutex
	clientID   string
	role       registry.Role
	authorized bool
}

func (s *session) bind(clientID string, role registry.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = clientID
	s.role = role
	s.authorized = true
}

func (s *session) identity() (string, registry.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID, s.role, s.authorized
}

// Server is the coordination layer bound to one transport listener.
type Server struct {
	config ServerConfig
	logger pkglog.Logger

	transport  *transport.Server
	registry   *registry.Registry
	notifier   *registry.Notifier
	locks      *keyedlock.KeyedLock
	reghandler *RegistrationHandler
	monitor    *HeartbeatMonitor
	dispatcher *CommandDispatcher
	auth       *AuthorizationFlow
	responder  *discovery.Responder
	advertiser *discovery.Advertiser

	mu       sync.Mutex
	sessions map[string]*session // keyed by transport conn id

	running   atomic.Bool
	cancel    context.CancelFunc
	statusSub *registry.Subscription
	wg        sync.WaitGroup
}

// NewServer wires the coordination layer. Call Start to begin serving.
func NewServer(config ServerConfig) *Server {
	config = config.withDefaults()

	reg := registry.New()
	notifier := registry.NewNotifier()
	locks := keyedlock.New()

	s := &Server{
		config:   config,
		logger:   config.Logger,
		registry: reg,
		notifier: notifier,
		locks:    locks,
		sessions: make(map[string]*session),
	}

	s.reghandler = NewRegistrationHandler(reg, config.Store, locks, config.Name, config.Logger)
	s.dispatcher = NewCommandDispatcher(reg, config.Name, config.Logger)
	s.auth = NewAuthorizationFlow(config.Store, AuthorizationFlowConfig{TokenTTL: config.TokenTTL}, config.Logger)
	s.monitor = NewHeartbeatMonitor(reg, notifier, HeartbeatMonitorConfig{
		Timeout:       config.HeartbeatTimeout,
		SweepInterval: config.SweepInterval,
	}, config.Logger)

	s.transport = transport.NewServer(transport.ServerConfig{
		Address:      config.ListenAddress,
		TLSConfig:    config.TLSConfig,
		Logger:       config.Logger,
		OnConnect:    s.onConnect,
		OnDisconnect: s.onDisconnect,
		OnMessage:    s.onMessage,
		OnError:      s.onError,
	})

	return s
}

// Start launches the transport, the heartbeat sweep, the status-change
// fan-out and, when enabled, the discovery surfaces.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return fmt.Errorf("service: server already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.transport.Start(ctx); err != nil {
		s.running.Store(false)
		return err
	}

	s.monitor.Start(ctx)

	s.statusSub = s.notifier.Subscribe()
	s.wg.Add(1)
	go s.broadcastLoop(s.statusSub)

	if s.config.EnableDiscovery {
		port := transport.DefaultPort
		if addr, ok := s.transport.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		s.responder = discovery.NewResponder(discovery.ResponderConfig{
			ServerName: s.config.Name,
			Hostname:   s.config.Name,
			Port:       port,
			TLS:        s.config.TLSConfig != nil,
			URL:        s.config.AdvertiseURL,
			ProbePort:  s.config.DiscoveryProbePort,
			Logger:     s.logger,
		})
		if err := s.responder.Start(ctx); err != nil {
			s.shutdown()
			return err
		}

		if s.config.EnableMDNS {
			s.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
				ServerName: s.config.Name,
				Hostname:   s.config.Name,
				Port:       port,
				TLS:        s.config.TLSConfig != nil,
				URL:        s.config.AdvertiseURL,
			})
			if err := s.advertiser.Start(); err != nil {
				s.shutdown()
				return err
			}
		}
	}

	return nil
}

// Stop shuts down in dependency order: stop accepting, fail pending
// command waits, drain the sweep and discovery loops, close transports.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.shutdown()
}

func (s *Server) shutdown() {
	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	if s.responder != nil {
		s.responder.Stop()
	}
	s.dispatcher.Shutdown()
	s.monitor.Stop()
	_ = s.transport.Stop()
	if s.statusSub != nil {
		s.statusSub.Cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Addr returns the transport listen address.
func (s *Server) Addr() net.Addr { return s.transport.Addr() }

// Registry exposes the connection registry for operator surfaces.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Notifier exposes the status-change stream.
func (s *Server) Notifier() *registry.Notifier { return s.notifier }

// Authorization exposes the mobile-app approval flow for operator
// surfaces.
func (s *Server) Authorization() *AuthorizationFlow { return s.auth }

// Dispatcher exposes the command dispatcher for operator surfaces.
func (s *Server) Dispatcher() *CommandDispatcher { return s.dispatcher }

// Content exposes the layout source for operator surfaces.
func (s *Server) Content() ContentSource { return s.config.Content }

// AssignLayout pushes a layout assignment and its display content to a
// device. Used by the app-facing handler and by operator surfaces.
func (s *Server) AssignLayout(clientID, layoutID string) error {
	info, ok := s.config.Content.Layout(layoutID)
	if !ok {
		return fmt.Errorf("service: unknown layout %q", layoutID)
	}
	target, ok := s.registry.Get(clientID)
	if !ok {
		return ErrUnknownClient
	}

	assigned := &wire.LayoutAssigned{
		Header:     wire.NewHeader(wire.TypeLayoutAssigned, s.config.Name),
		LayoutID:   info.LayoutID,
		LayoutName: info.Name,
	}
	if err := s.sendTo(target, assigned); err != nil {
		return ErrTargetDisconnected
	}
	update := &wire.DisplayUpdate{
		Header:   wire.NewHeader(wire.TypeDisplayUpdate, s.config.Name),
		LayoutID: info.LayoutID,
		Content:  s.config.Content.DisplayContent(info.LayoutID),
	}
	_ = s.sendTo(target, update)
	return nil
}

func (s *Server) onConnect(conn *transport.ServerConn) {
	s.mu.Lock()
	s.sessions[conn.ConnID()] = &session{conn: conn}
	s.mu.Unlock()
}

func (s *Server) onDisconnect(conn *transport.ServerConn) {
	s.mu.Lock()
	sess := s.sessions[conn.ConnID()]
	delete(s.sessions, conn.ConnID())
	s.mu.Unlock()
	if sess == nil {
		return
	}

	clientID, role, bound := sess.identity()
	if !bound {
		return
	}

	// A superseded session's old transport closing must not evict the
	// fresh registry entry for the same client id.
	entry, ok := s.registry.Get(clientID)
	if !ok || entry.ConnID != conn.ConnID() {
		return
	}

	prev := entry.Status()
	s.registry.Remove(clientID)
	s.dispatcher.FailAllFor(clientID)
	if role == registry.RoleDevice {
		s.notifier.Publish(registry.StatusChange{
			ClientID: clientID,
			Name:     entry.Name,
			Old:      prev,
			New:      wire.StatusOffline,
		})
	}
}

func (s *Server) onError(conn *transport.ServerConn, err error) {
	event := pkglog.Event{
		Timestamp: time.Now(),
		Layer:     pkglog.LayerTransport,
		Category:  pkglog.CategoryError,
		Error:     &pkglog.ErrorEvent{Message: err.Error(), Context: "transport"},
	}
	if conn != nil {
		event.ConnectionID = conn.ConnID()
		event.RemoteAddr = conn.RemoteAddr().String()
	}
	s.logger.Log(event)
}

// onMessage routes one decoded frame. Protocol errors are logged and
// dropped; the connection stays in its current state.
func (s *Server) onMessage(conn *transport.ServerConn, data []byte) {
	header, err := wire.DecodeHeader(data)
	if err != nil {
		s.logProtocolError(conn, err)
		return
	}

	s.logger.Log(pkglog.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ConnID(),
		Direction:    pkglog.DirectionIn,
		Layer:        pkglog.LayerWire,
		Category:     pkglog.CategoryMessage,
		RemoteAddr:   conn.RemoteAddr().String(),
		Message: &pkglog.MessageEvent{
			MessageID: header.ID,
			Type:      string(header.Type),
			SenderID:  header.SenderID,
		},
	})

	s.mu.Lock()
	sess := s.sessions[conn.ConnID()]
	s.mu.Unlock()
	if sess == nil {
		return
	}

	switch header.Type {
	case wire.TypeRegister:
		s.handleRegister(sess, data)
	case wire.TypeHeartbeat:
		s.handleHeartbeat(sess, data)
	case wire.TypeStatusReport:
		s.handleStatusReport(sess, data)
	case wire.TypeLog:
		s.handleLog(sess, data)
	case wire.TypeScreenshot:
		s.handleScreenshot(sess, data)
	case wire.TypeUpdateConfigResponse:
		// Acknowledged; already captured by the wire log above.
	case wire.TypeCommandResult:
		s.handleCommandResult(sess, data)
	case wire.TypeAppRegister:
		s.handleAppRegister(sess, data)
	case wire.TypeAppHeartbeat:
		s.handleAppHeartbeat(sess, data)
	case wire.TypeRequestClientList:
		s.handleRequestClientList(sess, data)
	case wire.TypeSendCommand:
		s.handleSendCommand(sess, data)
	case wire.TypeAssignLayout:
		s.handleAssignLayout(sess, data)
	case wire.TypeRequestScreenshot:
		s.handleRequestScreenshot(sess, data)
	case wire.TypeRequestLayoutList:
		s.handleRequestLayoutList(sess, data)
	default:
		s.logProtocolError(conn, fmt.Errorf("%w: %q", wire.ErrUnknownType, header.Type))
	}
}

func (s *Server) handleRegister(sess *session, data []byte) {
	msg, err := wire.Decode[wire.Register](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}

	conn, resp := s.reghandler.Register(msg, sess.conn, sess.conn.RemoteAddr().String(), sess.conn.ConnID())
	if conn != nil {
		sess.bind(conn.ClientID, registry.RoleDevice)
	}
	s.send(sess, resp)

	if conn != nil {
		s.notifier.Publish(registry.StatusChange{
			ClientID: conn.ClientID,
			Name:     conn.Name,
			Old:      wire.StatusConnecting,
			New:      wire.StatusRegistered,
		})
	}
}

func (s *Server) handleHeartbeat(sess *session, data []byte) {
	msg, err := wire.Decode[wire.Heartbeat](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if msg.ClientID == "" {
		s.logProtocolError(sess.conn, fmt.Errorf("heartbeat without clientId"))
		return
	}
	// An unknown id means the sweep already evicted the entry; the
	// device is expected to re-register.
	s.monitor.HandleHeartbeat(msg.ClientID)
}

func (s *Server) handleStatusReport(sess *session, data []byte) {
	msg, err := wire.Decode[wire.StatusReport](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if msg.ClientID == "" {
		s.logProtocolError(sess.conn, fmt.Errorf("status report without clientId"))
		return
	}
	s.monitor.HandleStatusReport(msg.ClientID, msg.Status)
}

func (s *Server) handleLog(sess *session, data []byte) {
	msg, err := wire.Decode[wire.LogMessage](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	s.logger.Log(pkglog.Event{
		Timestamp:    time.Now(),
		ConnectionID: sess.conn.ConnID(),
		Direction:    pkglog.DirectionIn,
		Layer:        pkglog.LayerService,
		Category:     pkglog.CategoryMessage,
		ClientID:     msg.ClientID,
		Message: &pkglog.MessageEvent{
			MessageID: msg.ID,
			Type:      string(wire.TypeLog),
			SenderID:  msg.ClientID,
		},
	})
}

// handleScreenshot forwards a device-initiated frame to every
// authorized app session.
func (s *Server) handleScreenshot(sess *session, data []byte) {
	msg, err := wire.Decode[wire.Screenshot](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	s.broadcastToApps(&wire.ScreenshotResponse{
		Header:         wire.NewHeader(wire.TypeScreenshotResponse, s.config.Name),
		TargetClientID: msg.ClientID,
		ImageB64:       msg.ImageB64,
	})
}

func (s *Server) handleCommandResult(sess *session, data []byte) {
	msg, err := wire.Decode[wire.CommandResult](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if msg.CommandID == "" {
		s.logProtocolError(sess.conn, fmt.Errorf("command result without commandId"))
		return
	}
	// Late results lose the first-writer race and are discarded.
	s.dispatcher.HandleResult(msg)
}

func (s *Server) handleAppRegister(sess *session, data []byte) {
	msg, err := wire.Decode[wire.AppRegister](data)
	if err != nil || msg.DeviceIdentifier == "" {
		s.logProtocolError(sess.conn, err)
		s.send(sess, &wire.AppRejected{
			Header: wire.NewHeader(wire.TypeAppRejected, s.config.Name),
			Reason: "deviceIdentifier is required",
		})
		return
	}

	reg, err := s.auth.HandleAppRegister(msg.DeviceIdentifier, msg.DeviceName, msg.Platform)
	if err != nil {
		s.send(sess, &wire.AppRejected{
			Header: wire.NewHeader(wire.TypeAppRejected, s.config.Name),
			Reason: err.Error(),
		})
		return
	}

	if reg.Status == identity.AppApproved {
		s.admitApp(sess, reg)
		s.send(sess, &wire.AppAuthorized{
			Header:      wire.NewHeader(wire.TypeAppAuthorized, s.config.Name),
			Token:       reg.Token,
			Permissions: reg.Permissions,
			ExpiresAt:   reg.ExpiresAt,
		})
		return
	}

	s.send(sess, &wire.AppAuthorizationRequired{
		Header:         wire.NewHeader(wire.TypeAppAuthorizationRequired, s.config.Name),
		RegistrationID: reg.ID,
	})
}

func (s *Server) handleAppHeartbeat(sess *session, data []byte) {
	msg, err := wire.Decode[wire.AppHeartbeat](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}

	reg, err := s.auth.ValidateToken(msg.Token)
	if err != nil {
		s.send(sess, &wire.AppRejected{
			Header: wire.NewHeader(wire.TypeAppRejected, s.config.Name),
			Reason: "token rejected",
		})
		return
	}

	if _, ok := s.registry.Get(reg.ID); !ok {
		// First heartbeat after approval on this transport.
		s.admitApp(sess, reg)
	}
	s.monitor.HandleHeartbeat(reg.ID)
}

func (s *Server) handleRequestClientList(sess *session, data []byte) {
	msg, err := wire.Decode[wire.RequestClientList](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if _, err := s.auth.ValidateToken(msg.Token); err != nil {
		s.rejectApp(sess)
		return
	}

	s.send(sess, &wire.ClientListUpdate{
		Header:  wire.NewHeader(wire.TypeClientListUpdate, s.config.Name),
		Clients: s.registry.Snapshot(registry.RoleDevice),
	})
}

// handleSendCommand dispatches in its own goroutine so the command wait
// never stalls the app's receive loop.
func (s *Server) handleSendCommand(sess *session, data []byte) {
	msg, err := wire.Decode[wire.SendCommand](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if _, err := s.auth.ValidateToken(msg.Token); err != nil {
		s.rejectApp(sess)
		return
	}

	timeout := s.config.CommandTimeout
	if msg.TimeoutMillis > 0 {
		timeout = time.Duration(msg.TimeoutMillis) * time.Millisecond
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result, err := s.dispatcher.Send(context.Background(), msg.TargetClientID, msg.Command, msg.Params, timeout)
		// Correlate back to the app by the request envelope id.
		reply := &wire.CommandResult{
			Header:    wire.NewHeader(wire.TypeCommandResult, s.config.Name),
			CommandID: msg.ID,
		}
		if err != nil {
			reply.Success = false
			reply.Error = err.Error()
		} else {
			reply.Success = result.Success
			reply.Result = result.Result
			reply.Error = result.Error
		}
		s.send(sess, reply)
	}()
}

func (s *Server) handleAssignLayout(sess *session, data []byte) {
	msg, err := wire.Decode[wire.AssignLayout](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if _, err := s.auth.ValidateToken(msg.Token); err != nil {
		s.rejectApp(sess)
		return
	}

	reply := &wire.CommandResult{
		Header:    wire.NewHeader(wire.TypeCommandResult, s.config.Name),
		CommandID: msg.ID,
	}
	if err := s.AssignLayout(msg.TargetClientID, msg.LayoutID); err != nil {
		reply.Error = err.Error()
	} else {
		reply.Success = true
	}
	s.send(sess, reply)
}

// handleRequestScreenshot fetches a frame via the command dispatcher
// and converts the result into a SCREENSHOT_RESPONSE for the app.
func (s *Server) handleRequestScreenshot(sess *session, data []byte) {
	msg, err := wire.Decode[wire.RequestScreenshot](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if _, err := s.auth.ValidateToken(msg.Token); err != nil {
		s.rejectApp(sess)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		reply := &wire.ScreenshotResponse{
			Header:         wire.NewHeader(wire.TypeScreenshotResponse, s.config.Name),
			TargetClientID: msg.TargetClientID,
		}
		result, err := s.dispatcher.Send(context.Background(), msg.TargetClientID, "screenshot", nil, s.config.CommandTimeout)
		switch {
		case err != nil:
			reply.Error = err.Error()
		case !result.Success:
			reply.Error = result.Error
		default:
			if image, ok := result.Result.(string); ok {
				reply.ImageB64 = image
			} else {
				reply.Error = "device returned no image"
			}
		}
		s.send(sess, reply)
	}()
}

func (s *Server) handleRequestLayoutList(sess *session, data []byte) {
	msg, err := wire.Decode[wire.RequestLayoutList](data)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if _, err := s.auth.ValidateToken(msg.Token); err != nil {
		s.rejectApp(sess)
		return
	}

	s.send(sess, &wire.LayoutListResponse{
		Header:  wire.NewHeader(wire.TypeLayoutListResponse, s.config.Name),
		Layouts: s.config.Content.Layouts(),
	})
}

// admitApp binds an authorized app session and adds it to the registry
// so the sweep tracks its liveness like any other connection.
func (s *Server) admitApp(sess *session, reg *identity.MobileAppRegistration) {
	sess.bind(reg.ID, registry.RoleMobileApp)
	s.registry.Add(&registry.Connection{
		ClientID:      reg.ID,
		Name:          reg.DeviceName,
		Role:          registry.RoleMobileApp,
		Transport:     sess.conn,
		RemoteAddress: sess.conn.RemoteAddr().String(),
		ConnID:        sess.conn.ConnID(),
	}, wire.StatusOnline, time.Now())
}

func (s *Server) rejectApp(sess *session) {
	s.send(sess, &wire.AppRejected{
		Header: wire.NewHeader(wire.TypeAppRejected, s.config.Name),
		Reason: "token rejected",
	})
}

// broadcastLoop forwards registry status changes to all authorized app
// sessions as CLIENT_STATUS_CHANGED.
func (s *Server) broadcastLoop(sub *registry.Subscription) {
	defer s.wg.Done()

	// The channel is closed by Cancel during shutdown.
	for change := range sub.C {
		s.broadcastToApps(&wire.ClientStatusChanged{
			Header:   wire.NewHeader(wire.TypeClientStatusChanged, s.config.Name),
			ClientID: change.ClientID,
			Status:   change.New,
		})
	}
}

func (s *Server) broadcastToApps(msg any) {
	data, err := wire.Encode(msg)
	if err != nil {
		return
	}

	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if _, role, ok := sess.identity(); ok && role == registry.RoleMobileApp {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range targets {
		_ = sess.conn.Send(data)
	}
}

func (s *Server) send(sess *session, msg any) {
	data, err := wire.Encode(msg)
	if err != nil {
		s.logProtocolError(sess.conn, err)
		return
	}
	if err := sess.conn.Send(data); err != nil {
		s.onError(sess.conn, err)
	}
}

func (s *Server) sendTo(conn *registry.Connection, msg any) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Transport.Send(data)
}

func (s *Server) logProtocolError(conn *transport.ServerConn, err error) {
	if err == nil {
		return
	}
	event := pkglog.Event{
		Timestamp: time.Now(),
		Layer:     pkglog.LayerWire,
		Category:  pkglog.CategoryError,
		Error:     &pkglog.ErrorEvent{Message: err.Error(), Context: "message routing"},
	}
	if conn != nil {
		event.ConnectionID = conn.ConnID()
		event.RemoteAddr = conn.RemoteAddr().String()
	}
	s.logger.Log(event)
}
