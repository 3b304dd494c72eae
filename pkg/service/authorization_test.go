package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manur84/digitalsignage-sub008/pkg/identity"
)

func newTestFlow() *AuthorizationFlow {
	return NewAuthorizationFlow(identity.NewMemoryStore(), AuthorizationFlowConfig{
		TokenTTL: time.Hour,
	}, nil)
}

func TestAppRegisterCreatesPending(t *testing.T) {
	f := newTestFlow()

	reg, err := f.HandleAppRegister("phone-1", "Operator Phone", "android")
	require.NoError(t, err)
	assert.Equal(t, identity.AppPending, reg.Status)
	assert.Empty(t, reg.Token)
	assert.NotEmpty(t, reg.ID)

	// Re-registering while pending keeps the same record.
	again, err := f.HandleAppRegister("phone-1", "Renamed Phone", "android")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, again.ID)
	assert.Equal(t, "Renamed Phone", again.DeviceName)
}

func TestApproveIssuesToken(t *testing.T) {
	f := newTestFlow()
	_, err := f.HandleAppRegister("phone-1", "Operator Phone", "android")
	require.NoError(t, err)

	reg, err := f.Approve("phone-1", []string{"commands"})
	require.NoError(t, err)
	assert.Equal(t, identity.AppApproved, reg.Status)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, []string{"commands"}, reg.Permissions)
	assert.True(t, reg.ExpiresAt.After(time.Now()))

	validated, err := f.ValidateToken(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "phone-1", validated.DeviceIdentifier)
}

func TestRejectWithReason(t *testing.T) {
	f := newTestFlow()
	_, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)

	reg, err := f.Reject("phone-1", "unknown operator")
	require.NoError(t, err)
	assert.Equal(t, identity.AppRejected, reg.Status)
	assert.Equal(t, "unknown operator", reg.Reason)
}

func TestIllegalTransitions(t *testing.T) {
	f := newTestFlow()
	_, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)

	// Pending cannot be revoked directly.
	_, err = f.Revoke("phone-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = f.Reject("phone-1", "nope")
	require.NoError(t, err)

	// Rejected cannot be approved without a new registration.
	_, err = f.Approve("phone-1", nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Rejected cannot be rejected again either.
	_, err = f.Reject("phone-1", "again")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRevokedIsTerminal(t *testing.T) {
	f := newTestFlow()
	_, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	approved, err := f.Approve("phone-1", nil)
	require.NoError(t, err)

	revoked, err := f.Revoke("phone-1")
	require.NoError(t, err)
	assert.Equal(t, identity.AppRevoked, revoked.Status)

	// The old token is rejected from now on.
	_, err = f.ValidateToken(approved.Token)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// No transition out of Revoked.
	_, err = f.Approve("phone-1", nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = f.Revoke("phone-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Recovery requires a brand-new registration cycle.
	fresh, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, identity.AppPending, fresh.Status)
	assert.NotEqual(t, revoked.ID, fresh.ID)
}

func TestReRegisterAfterRejection(t *testing.T) {
	f := newTestFlow()
	first, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	_, err = f.Reject("phone-1", "typo")
	require.NoError(t, err)

	second, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, identity.AppPending, second.Status)
	assert.NotEqual(t, first.ID, second.ID)

	// The fresh record can be approved normally.
	_, err = f.Approve("phone-1", nil)
	assert.NoError(t, err)
}

func TestAppRegisterWhileApprovedReturnsExisting(t *testing.T) {
	f := newTestFlow()
	_, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	approved, err := f.Approve("phone-1", nil)
	require.NoError(t, err)

	again, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, identity.AppApproved, again.Status)
	assert.Equal(t, approved.Token, again.Token)
}

func TestValidateTokenExpiry(t *testing.T) {
	f := newTestFlow()
	_, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	approved, err := f.Approve("phone-1", nil)
	require.NoError(t, err)

	// Move the clock past the expiry.
	f.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = f.ValidateToken(approved.Token)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// An expired approval re-registers as a new Pending record.
	reg, err := f.HandleAppRegister("phone-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, identity.AppPending, reg.Status)
}

func TestValidateTokenUnknownAndEmpty(t *testing.T) {
	f := newTestFlow()

	_, err := f.ValidateToken("")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.ValidateToken("no-such-token")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}
