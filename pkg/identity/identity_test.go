package identity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenPath(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestClientIDRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.LookupClientID("aa:bb:cc:dd:ee:ff")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.SaveClientID("AA:BB:CC:DD:EE:FF", "client-1"))

			clientID, err := store.LookupClientID("aa:bb:cc:dd:ee:ff")
			require.NoError(t, err)
			assert.Equal(t, "client-1", clientID)

			// Replacing keeps a single mapping per hardware id.
			require.NoError(t, store.SaveClientID("aa:bb:cc:dd:ee:ff", "client-2"))
			clientID, err = store.LookupClientID("  AA:bb:CC:dd:EE:ff ")
			require.NoError(t, err)
			assert.Equal(t, "client-2", clientID)
		})
	}
}

func TestAppRegistrationRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetAppRegistration("phone-1")
			assert.ErrorIs(t, err, ErrNotFound)

			now := time.Now().Truncate(time.Second)
			reg := &MobileAppRegistration{
				ID:               "reg-1",
				DeviceIdentifier: "phone-1",
				DeviceName:       "Operator Phone",
				Platform:         "android",
				Status:           AppPending,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			require.NoError(t, store.SaveAppRegistration(reg))

			got, err := store.GetAppRegistration("phone-1")
			require.NoError(t, err)
			assert.Equal(t, AppPending, got.Status)
			assert.Equal(t, "Operator Phone", got.DeviceName)
			assert.Empty(t, got.Token)
			assert.True(t, got.ExpiresAt.IsZero())

			reg.Status = AppApproved
			reg.Token = "token-abc"
			reg.Permissions = []string{"commands", "screenshots"}
			reg.ExpiresAt = now.Add(24 * time.Hour)
			reg.UpdatedAt = now.Add(time.Minute)
			require.NoError(t, store.SaveAppRegistration(reg))

			got, err = store.GetAppByToken("token-abc")
			require.NoError(t, err)
			assert.Equal(t, "phone-1", got.DeviceIdentifier)
			assert.Equal(t, AppApproved, got.Status)
			assert.Equal(t, []string{"commands", "screenshots"}, got.Permissions)
			assert.Equal(t, now.Add(24*time.Hour).Unix(), got.ExpiresAt.Unix())
		})
	}
}

func TestGetAppByTokenEmpty(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveAppRegistration(&MobileAppRegistration{
				ID:               "reg-1",
				DeviceIdentifier: "phone-1",
				Status:           AppPending,
				CreatedAt:        time.Now(),
				UpdatedAt:        time.Now(),
			}))

			// A pending registration has no token; the empty string must
			// never match it.
			_, err := store.GetAppByToken("")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListAppRegistrations(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			for i, id := range []string{"phone-1", "phone-2"} {
				require.NoError(t, store.SaveAppRegistration(&MobileAppRegistration{
					ID:               id,
					DeviceIdentifier: id,
					Status:           AppPending,
					CreatedAt:        now.Add(time.Duration(i) * time.Second),
					UpdatedAt:        now,
				}))
			}

			regs, err := store.ListAppRegistrations()
			require.NoError(t, err)
			assert.Len(t, regs, 2)
		})
	}
}

func TestAppStatusIsValid(t *testing.T) {
	assert.True(t, AppPending.IsValid())
	assert.True(t, AppApproved.IsValid())
	assert.True(t, AppRejected.IsValid())
	assert.True(t, AppRevoked.IsValid())
	assert.False(t, AppStatus("Expired").IsValid())
}
