package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// nopTransport satisfies Transport for registry tests.
type nopTransport struct {
	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

func (t *nopTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

func (t *nopTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func newDevice(clientID, hardwareID string) *Connection {
	return &Connection{
		ClientID:   clientID,
		HardwareID: hardwareID,
		Role:       RoleDevice,
		Transport:  &nopTransport{},
	}
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	now := time.Now()

	conn := newDevice("c1", "AA:BB")
	r.Add(conn, wire.StatusRegistered, now)

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, wire.StatusRegistered, got.Status())
	assert.Equal(t, now, got.LastHeartbeat())

	assert.True(t, r.Remove("c1"))
	_, ok = r.Get("c1")
	assert.False(t, ok)

	// Removing an absent id is a no-op, not an error.
	assert.False(t, r.Remove("c1"))
}

func TestFindByHardwareID(t *testing.T) {
	r := New()
	r.Add(newDevice("c1", "AA:BB"), wire.StatusOnline, time.Now())
	r.Add(&Connection{ClientID: "app1", Role: RoleMobileApp, Transport: &nopTransport{}},
		wire.StatusOnline, time.Now())

	conn, ok := r.FindByHardwareID("AA:BB")
	require.True(t, ok)
	assert.Equal(t, "c1", conn.ClientID)

	_, ok = r.FindByHardwareID("ZZ:ZZ")
	assert.False(t, ok)
}

func TestUpdateClientID(t *testing.T) {
	r := New()
	r.Add(newDevice("old-id", "AA:BB"), wire.StatusOnline, time.Now())

	require.True(t, r.UpdateClientID("old-id", "new-id"))

	_, ok := r.Get("old-id")
	assert.False(t, ok)

	conn, ok := r.Get("new-id")
	require.True(t, ok)
	assert.Equal(t, "new-id", conn.ClientID)
	assert.Equal(t, "AA:BB", conn.HardwareID)

	// Absent old id.
	assert.False(t, r.UpdateClientID("missing", "x"))

	// Taken new id.
	r.Add(newDevice("other", "CC:DD"), wire.StatusOnline, time.Now())
	assert.False(t, r.UpdateClientID("new-id", "other"))
}

func TestHeartbeatPromotesToOnline(t *testing.T) {
	r := New()
	r.Add(newDevice("c1", "AA:BB"), wire.StatusRegistered, time.Now())

	prev, ok := r.Heartbeat("c1", time.Now())
	require.True(t, ok)
	assert.Equal(t, wire.StatusRegistered, prev)

	conn, _ := r.Get("c1")
	assert.Equal(t, wire.StatusOnline, conn.Status())
}

func TestHeartbeatClearsWarning(t *testing.T) {
	r := New()
	r.Add(newDevice("c1", "AA:BB"), wire.StatusOnline, time.Now())

	_, ok := r.SetStatus("c1", wire.StatusWarning)
	require.True(t, ok)

	prev, ok := r.Heartbeat("c1", time.Now())
	require.True(t, ok)
	assert.Equal(t, wire.StatusWarning, prev)

	conn, _ := r.Get("c1")
	assert.Equal(t, wire.StatusOnline, conn.Status())
}

func TestHeartbeatUnknownID(t *testing.T) {
	r := New()
	_, ok := r.Heartbeat("ghost", time.Now())
	assert.False(t, ok)
}

func TestExpireStale(t *testing.T) {
	r := New()
	base := time.Now()

	r.Add(newDevice("stale", "AA:BB"), wire.StatusOnline, base.Add(-3*time.Minute))
	r.Add(newDevice("fresh", "CC:DD"), wire.StatusOnline, base)

	expired := r.ExpireStale(base.Add(-2 * time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ClientID)
	assert.Equal(t, wire.StatusOffline, expired[0].Status())

	// The stale entry is gone, not lingering as a zombie.
	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestHeartbeatVersusExpireNeverBothWin(t *testing.T) {
	// A heartbeat racing the sweep either resurrects the entry cleanly
	// (fresh timestamp, still present) or is dropped (entry evicted,
	// Heartbeat returns ok=false). Never two live entries, never a
	// removed-but-refreshed entry.
	r := New()
	base := time.Now()

	for i := 0; i < 200; i++ {
		r.Add(newDevice("c1", "AA:BB"), wire.StatusOnline, base.Add(-time.Hour))

		var wg sync.WaitGroup
		var hbOK bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, hbOK = r.Heartbeat("c1", base)
		}()
		var expired []*Connection
		go func() {
			defer wg.Done()
			expired = r.ExpireStale(base.Add(-time.Minute))
		}()
		wg.Wait()

		_, present := r.Get("c1")
		if hbOK {
			// Heartbeat won: the refreshed entry must survive the sweep.
			require.Empty(t, expired, "entry refreshed and evicted in the same race")
			require.True(t, present, "refreshed entry must survive")
		} else {
			// Sweep won: the heartbeat was dropped, the entry is gone.
			require.Len(t, expired, 1)
			require.False(t, present)
		}
		r.Remove("c1")
	}
}

func TestSnapshotFiltersByRole(t *testing.T) {
	r := New()
	r.Add(newDevice("c1", "AA:BB"), wire.StatusOnline, time.Now())
	r.Add(&Connection{ClientID: "app1", Role: RoleMobileApp, Transport: &nopTransport{}},
		wire.StatusOnline, time.Now())

	devices := r.Snapshot(RoleDevice)
	require.Len(t, devices, 1)
	assert.Equal(t, "c1", devices[0].ClientID)

	apps := r.Snapshot(RoleMobileApp)
	require.Len(t, apps, 1)
	assert.Equal(t, "app1", apps[0].ClientID)
}

func TestConcurrentMutation(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				r.Add(newDevice(id, id), wire.StatusOnline, time.Now())
				r.Heartbeat(id, time.Now())
				r.ForEach(func(c *Connection) bool { return true })
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestNotifierFanOut(t *testing.T) {
	n := NewNotifier()

	sub1 := n.Subscribe()
	sub2 := n.Subscribe()
	assert.Equal(t, 2, n.SubscriberCount())

	change := StatusChange{ClientID: "c1", Old: wire.StatusOnline, New: wire.StatusOffline}
	n.Publish(change)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case got := <-sub.C:
			assert.Equal(t, change, got)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive change")
		}
	}

	sub1.Cancel()
	sub1.Cancel() // idempotent
	assert.Equal(t, 1, n.SubscriberCount())

	// Cancelled channel is closed.
	_, open := <-sub1.C
	assert.False(t, open)
}

func TestNotifierDoesNotBlockOnSlowSubscriber(t *testing.T) {
	n := NewNotifier()
	sub := n.Subscribe()
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*2; i++ {
			n.Publish(StatusChange{ClientID: "c1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
