package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		RemoteAddr:   "192.168.1.20:51000",
		ClientID:     "c1",
		Message: &MessageEvent{
			MessageID: "m1",
			Type:      "HEARTBEAT",
			SenderID:  "c1",
		},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	event := sampleEvent()

	data, err := EncodeEvent(event)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.Equal(t, event.ConnectionID, got.ConnectionID)
	assert.Equal(t, event.Direction, got.Direction)
	assert.Equal(t, event.Layer, got.Layer)
	assert.Equal(t, event.ClientID, got.ClientID)
	require.NotNil(t, got.Message)
	assert.Equal(t, "HEARTBEAT", got.Message.Type)
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cborlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	logger.Log(sampleEvent())
	logger.Log(Event{
		Timestamp: time.Now(),
		Direction: DirectionOut,
		Layer:     LayerDiscovery,
		Category:  CategoryDiscovery,
		Discovery: &DiscoveryEvent{
			Kind:       "response",
			ServerName: "signage-main",
			Addresses:  []string{"192.168.1.5"},
		},
	})
	require.NoError(t, logger.Close())

	// Log after close is a no-op, not a panic.
	logger.Log(sampleEvent())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	events, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "conn-1", events[0].ConnectionID)
	require.NotNil(t, events[1].Discovery)
	assert.Equal(t, "signage-main", events[1].Discovery.ServerName)
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cborlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.Log(sampleEvent())
			}
		}()
	}
	wg.Wait()
	require.NoError(t, logger.Close())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	events, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, events, 200)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	sl := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	adapter := NewSlogAdapter(sl)
	adapter.Log(sampleEvent())

	out := buf.String()
	assert.Contains(t, out, "msg_type=HEARTBEAT")
	assert.Contains(t, out, "conn_id=conn-1")
}

func TestMultiLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cborlog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)

	multi := NewMultiLogger(NoopLogger{}, fl)
	multi.Log(sampleEvent())
	require.NoError(t, fl.Close())

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	events, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "IN", DirectionIn.String())
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "TRANSPORT", LayerTransport.String())
	assert.Equal(t, "DISCOVERY", LayerDiscovery.String())
	assert.Equal(t, "STATE", CategoryState.String())
}
