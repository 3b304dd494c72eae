package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manur84/digitalsignage-sub008/pkg/identity"
	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/transport"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// testPeer is a device or app endpoint speaking the framed protocol.
type testPeer struct {
	t    *testing.T
	conn *transport.ClientConn

	mu       sync.Mutex
	messages [][]byte
	arrived  chan struct{}
}

func (p *testPeer) OnMessage(msg []byte) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	select {
	case p.arrived <- struct{}{}:
	default:
	}
}

func (p *testPeer) OnStateChange(oldState, newState transport.ConnectionState) {}
func (p *testPeer) OnError(err error)                                          {}

func (p *testPeer) send(msg any) {
	p.t.Helper()
	data, err := wire.Encode(msg)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.Send(data))
}

// waitFor returns the first buffered message of the given type, waiting
// for more frames as needed.
func waitFor[T any](p *testPeer, want wire.Type) *T {
	p.t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		p.mu.Lock()
		for i, raw := range p.messages {
			header, err := wire.DecodeHeader(raw)
			if err != nil {
				continue
			}
			if header.Type == want {
				p.messages = append(p.messages[:i], p.messages[i+1:]...)
				p.mu.Unlock()
				msg, err := wire.Decode[T](raw)
				require.NoError(p.t, err)
				return msg
			}
		}
		p.mu.Unlock()

		select {
		case <-p.arrived:
		case <-deadline:
			p.t.Fatalf("no %s message arrived", want)
			return nil
		}
	}
}

func startTestServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()

	config.ListenAddress = "127.0.0.1:0"
	s := NewServer(config)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func connectPeer(t *testing.T, s *Server) *testPeer {
	t.Helper()

	p := &testPeer{t: t, arrived: make(chan struct{}, 1)}
	p.conn = transport.NewClientConn(transport.ClientConfig{}, p)
	require.NoError(t, p.conn.Connect(context.Background(), s.Addr().String()))
	t.Cleanup(p.conn.Close)
	return p
}

func registerDevice(t *testing.T, s *Server, hardwareID string) (*testPeer, string) {
	t.Helper()

	p := connectPeer(t, s)
	p.send(&wire.Register{
		Header:     wire.NewHeader(wire.TypeRegister, ""),
		HardwareID: hardwareID,
		Name:       "Lobby Display",
	})
	resp := waitFor[wire.RegistrationResponse](p, wire.TypeRegistrationResponse)
	require.True(t, resp.Accepted)
	require.NotEmpty(t, resp.ClientID)
	return p, resp.ClientID
}

func authorizeApp(t *testing.T, s *Server, deviceIdentifier string) (*testPeer, string) {
	t.Helper()

	p := connectPeer(t, s)
	p.send(&wire.AppRegister{
		Header:           wire.NewHeader(wire.TypeAppRegister, ""),
		DeviceIdentifier: deviceIdentifier,
	})
	waitFor[wire.AppAuthorizationRequired](p, wire.TypeAppAuthorizationRequired)

	_, err := s.Authorization().Approve(deviceIdentifier, []string{"commands"})
	require.NoError(t, err)

	p.send(&wire.AppRegister{
		Header:           wire.NewHeader(wire.TypeAppRegister, ""),
		DeviceIdentifier: deviceIdentifier,
	})
	authorized := waitFor[wire.AppAuthorized](p, wire.TypeAppAuthorized)
	require.NotEmpty(t, authorized.Token)
	return p, authorized.Token
}

func TestServerRegisterAndHeartbeat(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})
	device, clientID := registerDevice(t, s, "AA:BB")

	conn, ok := s.Registry().Get(clientID)
	require.True(t, ok)
	assert.Equal(t, wire.StatusRegistered, conn.Status())

	device.send(&wire.Heartbeat{
		Header:   wire.NewHeader(wire.TypeHeartbeat, clientID),
		ClientID: clientID,
	})

	require.Eventually(t, func() bool {
		conn, ok := s.Registry().Get(clientID)
		return ok && conn.Status() == wire.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerRegisterReusesIdentity(t *testing.T) {
	store := identity.NewMemoryStore()
	s := startTestServer(t, ServerConfig{Name: "test-server", Store: store})

	first, clientID := registerDevice(t, s, "AA:BB")
	first.conn.Close()

	require.Eventually(t, func() bool {
		_, ok := s.Registry().Get(clientID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, again := registerDevice(t, s, "aa:bb")
	assert.Equal(t, clientID, again)
}

func TestServerHeartbeatTimeoutObservable(t *testing.T) {
	s := startTestServer(t, ServerConfig{
		Name:             "test-server",
		HeartbeatTimeout: 150 * time.Millisecond,
		SweepInterval:    30 * time.Millisecond,
	})
	sub := s.Notifier().Subscribe()
	defer sub.Cancel()

	device, clientID := registerDevice(t, s, "AA:BB")
	device.send(&wire.Heartbeat{
		Header:   wire.NewHeader(wire.TypeHeartbeat, clientID),
		ClientID: clientID,
	})

	// Drain until the silence-driven Offline arrives.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case change := <-sub.C:
			if change.ClientID == clientID && change.New == wire.StatusOffline {
				_, ok := s.Registry().Get(clientID)
				assert.False(t, ok)
				return
			}
		case <-deadline:
			t.Fatal("no Offline transition observed")
		}
	}
}

func TestServerOfflineBroadcastToApps(t *testing.T) {
	s := startTestServer(t, ServerConfig{
		Name:             "test-server",
		HeartbeatTimeout: 150 * time.Millisecond,
		SweepInterval:    30 * time.Millisecond,
	})

	app, _ := authorizeApp(t, s, "phone-1")
	_, clientID := registerDevice(t, s, "AA:BB")

	// The device never heartbeats; the sweep demotes it and every
	// authorized app observes CLIENT_STATUS_CHANGED.
	for {
		changed := waitFor[wire.ClientStatusChanged](app, wire.TypeClientStatusChanged)
		if changed.ClientID == clientID && changed.Status == wire.StatusOffline {
			return
		}
	}
}

func TestServerCommandRoundTrip(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})

	device, clientID := registerDevice(t, s, "AA:BB")
	app, token := authorizeApp(t, s, "phone-1")

	// Device answers any COMMAND with a successful result.
	go func() {
		cmd := waitFor[wire.Command](device, wire.TypeCommand)
		device.send(&wire.CommandResult{
			Header:    wire.NewHeader(wire.TypeCommandResult, clientID),
			CommandID: cmd.CommandID,
			Success:   true,
			Result:    "rebooted",
		})
	}()

	request := &wire.SendCommand{
		Header:         wire.NewHeader(wire.TypeSendCommand, ""),
		Token:          token,
		TargetClientID: clientID,
		Command:        "reboot",
	}
	app.send(request)

	result := waitFor[wire.CommandResult](app, wire.TypeCommandResult)
	assert.Equal(t, request.ID, result.CommandID, "result correlates to the request envelope")
	assert.True(t, result.Success)
	assert.Equal(t, "rebooted", result.Result)
}

func TestServerCommandToUnknownTarget(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})
	app, token := authorizeApp(t, s, "phone-1")

	app.send(&wire.SendCommand{
		Header:         wire.NewHeader(wire.TypeSendCommand, ""),
		Token:          token,
		TargetClientID: "ghost",
		Command:        "reboot",
	})

	result := waitFor[wire.CommandResult](app, wire.TypeCommandResult)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown client")
}

func TestServerRejectsBadToken(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})
	app := connectPeer(t, s)

	app.send(&wire.RequestClientList{
		Header: wire.NewHeader(wire.TypeRequestClientList, ""),
		Token:  "bogus",
	})
	waitFor[wire.AppRejected](app, wire.TypeAppRejected)
}

func TestServerClientList(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})

	_, clientID := registerDevice(t, s, "AA:BB")
	app, token := authorizeApp(t, s, "phone-1")

	app.send(&wire.RequestClientList{
		Header: wire.NewHeader(wire.TypeRequestClientList, ""),
		Token:  token,
	})

	list := waitFor[wire.ClientListUpdate](app, wire.TypeClientListUpdate)
	require.Len(t, list.Clients, 1)
	assert.Equal(t, clientID, list.Clients[0].ClientID)
	assert.Equal(t, "Lobby Display", list.Clients[0].Name)
}

func TestServerAssignLayout(t *testing.T) {
	content := NewStaticContentSource()
	content.AddLayout(wire.LayoutInfo{LayoutID: "l1", Name: "Welcome"}, map[string]any{"title": "Hello"})
	s := startTestServer(t, ServerConfig{Name: "test-server", Content: content})

	device, clientID := registerDevice(t, s, "AA:BB")
	app, token := authorizeApp(t, s, "phone-1")

	app.send(&wire.RequestLayoutList{
		Header: wire.NewHeader(wire.TypeRequestLayoutList, ""),
		Token:  token,
	})
	layouts := waitFor[wire.LayoutListResponse](app, wire.TypeLayoutListResponse)
	require.Len(t, layouts.Layouts, 1)

	app.send(&wire.AssignLayout{
		Header:         wire.NewHeader(wire.TypeAssignLayout, ""),
		Token:          token,
		TargetClientID: clientID,
		LayoutID:       "l1",
	})

	assigned := waitFor[wire.LayoutAssigned](device, wire.TypeLayoutAssigned)
	assert.Equal(t, "l1", assigned.LayoutID)
	assert.Equal(t, "Welcome", assigned.LayoutName)

	update := waitFor[wire.DisplayUpdate](device, wire.TypeDisplayUpdate)
	assert.Equal(t, "l1", update.LayoutID)
	assert.Equal(t, "Hello", update.Content["title"])

	result := waitFor[wire.CommandResult](app, wire.TypeCommandResult)
	assert.True(t, result.Success)
}

func TestServerSupersededDisconnectKeepsFreshEntry(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})

	_, clientID := registerDevice(t, s, "AA:BB")
	_, again := registerDevice(t, s, "AA:BB")
	require.Equal(t, clientID, again)

	// The old transport's close must not evict the fresh session. Give
	// the disconnect callback time to run.
	time.Sleep(100 * time.Millisecond)
	conn, ok := s.Registry().Get(clientID)
	require.True(t, ok)
	assert.Equal(t, registry.RoleDevice, conn.Role)
}

func TestServerStopFailsPendingWaits(t *testing.T) {
	s := startTestServer(t, ServerConfig{Name: "test-server"})
	_, clientID := registerDevice(t, s, "AA:BB")

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Dispatcher().Send(context.Background(), clientID, "reboot", nil, 10*time.Second)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return s.Dispatcher().PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command wait survived shutdown")
	}
}
