package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manur84/digitalsignage-sub008/pkg/connection"
	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/service"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// deviceStatus reads a device's status from a registry snapshot, which
// is safe while heartbeats are mutating the live entry.
func deviceStatus(srv *service.Server, clientID string) (wire.Status, bool) {
	for _, info := range srv.Registry().Snapshot(registry.RoleDevice) {
		if info.ClientID == clientID {
			return info.Status, true
		}
	}
	return "", false
}

func startTestServer(t *testing.T, config service.ServerConfig) *service.Server {
	t.Helper()
	if config.ListenAddress == "" {
		config.ListenAddress = "127.0.0.1:0"
	}
	if config.Name == "" {
		config.Name = "test-server"
	}
	srv := service.NewServer(config)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	return srv
}

func fastAgentConfig(addr string) Config {
	return Config{
		HardwareID:        "AA:BB:CC:00:11:22",
		Name:              "Lobby Display",
		Model:             "SignBoard X1",
		Firmware:          "2.4.1",
		ServerAddress:     addr,
		HeartbeatInterval: 25 * time.Millisecond,
		Backoff: connection.BackoffConfig{
			Initial:    20 * time.Millisecond,
			Max:        80 * time.Millisecond,
			Multiplier: 2.0,
		},
	}
}

func startTestAgent(t *testing.T, config Config) *Agent {
	t.Helper()
	a, err := New(config)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)
	return a
}

func TestAgentRequiresHardwareID(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestAgentRegistersAndHeartbeats(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})
	a := startTestAgent(t, fastAgentConfig(srv.Addr().String()))

	require.NotEmpty(t, a.ClientID())
	assert.True(t, a.Online())

	conn, ok := srv.Registry().Get(a.ClientID())
	require.True(t, ok)
	assert.Equal(t, "Lobby Display", conn.Name)

	// Heartbeats promote the session to Online.
	require.Eventually(t, func() bool {
		status, ok := deviceStatus(srv, a.ClientID())
		return ok && status == wire.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgentIdentityStableAcrossRestart(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})
	addr := srv.Addr().String()

	a1, err := New(fastAgentConfig(addr))
	require.NoError(t, err)
	require.NoError(t, a1.Start(context.Background()))
	first := a1.ClientID()
	a1.Stop()

	a2 := startTestAgent(t, fastAgentConfig(addr))
	assert.Equal(t, first, a2.ClientID())
}

func TestAgentRunsCommands(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})

	config := fastAgentConfig(srv.Addr().String())
	config.OnCommand = func(command string, params map[string]any) (any, error) {
		if command == "set_brightness" {
			return params["level"], nil
		}
		return nil, nil
	}
	a := startTestAgent(t, config)

	result, err := srv.Dispatcher().Send(context.Background(), a.ClientID(),
		"set_brightness", map[string]any{"level": 80.0}, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 80.0, result.Result)
}

func TestAgentScreenshotCommand(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})

	config := fastAgentConfig(srv.Addr().String())
	config.OnScreenshot = func() (string, string, error) {
		return "aW1hZ2U=", "png", nil
	}
	a := startTestAgent(t, config)

	result, err := srv.Dispatcher().Send(context.Background(), a.ClientID(),
		"screenshot", nil, time.Second)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "aW1hZ2U=", result.Result)
}

func TestAgentRejectsUnsupportedCommand(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})
	a := startTestAgent(t, fastAgentConfig(srv.Addr().String()))

	result, err := srv.Dispatcher().Send(context.Background(), a.ClientID(),
		"reboot", nil, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported command")
}

func TestAgentAppliesConfigPush(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})

	applied := make(chan map[string]any, 1)
	config := fastAgentConfig(srv.Addr().String())
	config.OnConfigUpdate = func(settings map[string]any) error {
		applied <- settings
		return nil
	}
	a := startTestAgent(t, config)

	conn, ok := srv.Registry().Get(a.ClientID())
	require.True(t, ok)

	data, err := wire.Encode(&wire.UpdateConfig{
		Header: wire.NewHeader(wire.TypeUpdateConfig, "test-server"),
		Config: map[string]any{"rotation": "portrait"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.Transport.Send(data))

	select {
	case settings := <-applied:
		assert.Equal(t, "portrait", settings["rotation"])
	case <-time.After(2 * time.Second):
		t.Fatal("config update never applied")
	}
}

func TestAgentContentCallbacks(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})

	var mu sync.Mutex
	var layoutID, layoutName, displayLayout, dataSource string
	got := make(chan string, 8)

	config := fastAgentConfig(srv.Addr().String())
	config.OnLayoutAssigned = func(id, name string) {
		mu.Lock()
		layoutID, layoutName = id, name
		mu.Unlock()
		got <- "layout"
	}
	config.OnDisplayUpdate = func(id string, content map[string]any) {
		mu.Lock()
		displayLayout = id
		mu.Unlock()
		got <- "display"
	}
	config.OnDataUpdate = func(source string, values map[string]any) {
		mu.Lock()
		dataSource = source
		mu.Unlock()
		got <- "data"
	}
	a := startTestAgent(t, config)

	conn, ok := srv.Registry().Get(a.ClientID())
	require.True(t, ok)

	send := func(msg any) {
		data, err := wire.Encode(msg)
		require.NoError(t, err)
		require.NoError(t, conn.Transport.Send(data))
	}
	send(&wire.LayoutAssigned{
		Header:     wire.NewHeader(wire.TypeLayoutAssigned, "test-server"),
		LayoutID:   "lay-1",
		LayoutName: "Menu Board",
	})
	send(&wire.DisplayUpdate{
		Header:   wire.NewHeader(wire.TypeDisplayUpdate, "test-server"),
		LayoutID: "lay-1",
		Content:  map[string]any{"headline": "Open"},
	})
	send(&wire.DataUpdate{
		Header:   wire.NewHeader(wire.TypeDataUpdate, "test-server"),
		SourceID: "weather",
		Values:   map[string]any{"temp": 21.5},
	})

	seen := map[string]bool{}
	for len(seen) < 3 {
		select {
		case kind := <-got:
			seen[kind] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("callbacks seen: %v", seen)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "lay-1", layoutID)
	assert.Equal(t, "Menu Board", layoutName)
	assert.Equal(t, "lay-1", displayLayout)
	assert.Equal(t, "weather", dataSource)
}

func TestAgentStatusAndLog(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})

	// A slow heartbeat keeps the reported Error status from being
	// promoted back to Online mid-assertion.
	config := fastAgentConfig(srv.Addr().String())
	config.HeartbeatInterval = 10 * time.Second
	a := startTestAgent(t, config)

	require.NoError(t, a.SendStatus(wire.StatusError, "playback stalled"))
	require.Eventually(t, func() bool {
		status, ok := deviceStatus(srv, a.ClientID())
		return ok && status == wire.StatusError
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.SendLog("warn", "low disk space"))
}

func TestAgentReconnectsAfterLinkLoss(t *testing.T) {
	srv := startTestServer(t, service.ServerConfig{})
	a := startTestAgent(t, fastAgentConfig(srv.Addr().String()))
	clientID := a.ClientID()

	conn, ok := srv.Registry().Get(clientID)
	require.True(t, ok)
	require.NoError(t, conn.Transport.Close())

	// The agent must rediscover the link loss, redial and re-register
	// under the same identity.
	require.Eventually(t, func() bool {
		if !a.Online() {
			return false
		}
		status, ok := deviceStatus(srv, clientID)
		return ok && status.Live()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, clientID, a.ClientID())
}

func TestAgentStartFailsWithoutServer(t *testing.T) {
	a, err := New(fastAgentConfig("127.0.0.1:1"))
	require.NoError(t, err)

	err = a.Start(context.Background())
	require.Error(t, err)

	// A failed start leaves the agent restartable.
	srv := startTestServer(t, service.ServerConfig{})
	a2, err := New(fastAgentConfig(srv.Addr().String()))
	require.NoError(t, err)
	require.NoError(t, a2.Start(context.Background()))
	t.Cleanup(a2.Stop)
	assert.ErrorIs(t, a2.Start(context.Background()), ErrAlreadyRunning)
}
