package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/manur84/digitalsignage-sub008/pkg/identity"
	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
)

// DefaultTokenTTL is the lifetime of an issued mobile-app token.
const DefaultTokenTTL = 24 * time.Hour

// AuthorizationFlowConfig configures the mobile-app approval flow.
type AuthorizationFlowConfig struct {
	// TokenTTL is the issued-token lifetime. Defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// DefaultPermissions are granted on approval when the operator does
	// not specify a set.
	DefaultPermissions []string
}

// AuthorizationFlow drives mobile-app registrations through
// Pending, Approved/Rejected and Revoked. Revoked is terminal: recovery
// requires a brand-new registration. All state lives in the identity
// store; the flow enforces the legal transitions.
type AuthorizationFlow struct {
	store  identity.Store
	config AuthorizationFlowConfig
	logger pkglog.Logger

	now func() time.Time
}

// NewAuthorizationFlow creates the approval flow over the given store.
func NewAuthorizationFlow(store identity.Store, config AuthorizationFlowConfig, logger pkglog.Logger) *AuthorizationFlow {
	if config.TokenTTL == 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if len(config.DefaultPermissions) == 0 {
		config.DefaultPermissions = []string{"view"}
	}
	if logger == nil {
		logger = pkglog.NoopLogger{}
	}
	return &AuthorizationFlow{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// HandleAppRegister creates or refreshes the registration for a device
// identifier. A first-time or previously Rejected/Revoked identity gets
// a fresh Pending record; an already-Approved identity with a live
// token is returned as-is so the caller can answer APP_AUTHORIZED
// directly.
func (f *AuthorizationFlow) HandleAppRegister(deviceIdentifier, deviceName, platform string) (*identity.MobileAppRegistration, error) {
	if deviceIdentifier == "" {
		return nil, fmt.Errorf("app register: device identifier is required")
	}

	now := f.now()
	existing, err := f.store.GetAppRegistration(deviceIdentifier)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("app register: %w", err)
	}

	if existing != nil {
		switch existing.Status {
		case identity.AppPending:
			existing.DeviceName = deviceName
			existing.Platform = platform
			existing.UpdatedAt = now
			if err := f.store.SaveAppRegistration(existing); err != nil {
				return nil, fmt.Errorf("app register: %w", err)
			}
			return existing, nil

		case identity.AppApproved:
			if existing.ExpiresAt.After(now) {
				return existing, nil
			}
			// Token expired: back to a fresh approval cycle.
		}
		// Rejected, Revoked and expired-Approved all fall through to a
		// brand-new Pending record.
	}

	reg := &identity.MobileAppRegistration{
		ID:               uuid.New().String(),
		DeviceIdentifier: deviceIdentifier,
		DeviceName:       deviceName,
		Platform:         platform,
		Status:           identity.AppPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.store.SaveAppRegistration(reg); err != nil {
		return nil, fmt.Errorf("app register: %w", err)
	}
	f.logTransition(deviceIdentifier, "", identity.AppPending, "app register")
	return reg, nil
}

// Approve transitions Pending to Approved, issuing a token, a
// permission set and an expiry. Any other starting state is illegal.
func (f *AuthorizationFlow) Approve(deviceIdentifier string, permissions []string) (*identity.MobileAppRegistration, error) {
	reg, err := f.store.GetAppRegistration(deviceIdentifier)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	if reg.Status != identity.AppPending {
		return nil, fmt.Errorf("%w: %s -> Approved", ErrIllegalTransition, reg.Status)
	}

	if len(permissions) == 0 {
		permissions = f.config.DefaultPermissions
	}

	now := f.now()
	reg.Status = identity.AppApproved
	reg.Token = uuid.New().String()
	reg.Permissions = permissions
	reg.Reason = ""
	reg.ExpiresAt = now.Add(f.config.TokenTTL)
	reg.UpdatedAt = now
	if err := f.store.SaveAppRegistration(reg); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	f.logTransition(deviceIdentifier, identity.AppPending, identity.AppApproved, "operator approval")
	return reg, nil
}

// Reject transitions Pending to Rejected with a reason. Any other
// starting state is illegal.
func (f *AuthorizationFlow) Reject(deviceIdentifier, reason string) (*identity.MobileAppRegistration, error) {
	reg, err := f.store.GetAppRegistration(deviceIdentifier)
	if err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	if reg.Status != identity.AppPending {
		return nil, fmt.Errorf("%w: %s -> Rejected", ErrIllegalTransition, reg.Status)
	}

	reg.Status = identity.AppRejected
	reg.Reason = reason
	reg.UpdatedAt = f.now()
	if err := f.store.SaveAppRegistration(reg); err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	f.logTransition(deviceIdentifier, identity.AppPending, identity.AppRejected, reason)
	return reg, nil
}

// Revoke transitions Approved to Revoked. The token stays on record so
// later uses are rejected explicitly rather than appearing unknown.
// Any other starting state is illegal; in particular Pending cannot be
// revoked, it can only be rejected.
func (f *AuthorizationFlow) Revoke(deviceIdentifier string) (*identity.MobileAppRegistration, error) {
	reg, err := f.store.GetAppRegistration(deviceIdentifier)
	if err != nil {
		return nil, fmt.Errorf("revoke: %w", err)
	}
	if reg.Status != identity.AppApproved {
		return nil, fmt.Errorf("%w: %s -> Revoked", ErrIllegalTransition, reg.Status)
	}

	reg.Status = identity.AppRevoked
	reg.UpdatedAt = f.now()
	if err := f.store.SaveAppRegistration(reg); err != nil {
		return nil, fmt.Errorf("revoke: %w", err)
	}
	f.logTransition(deviceIdentifier, identity.AppApproved, identity.AppRevoked, "operator revocation")
	return reg, nil
}

// ValidateToken resolves a token to its Approved, unexpired
// registration. Everything else, including revoked identities, yields
// ErrNotAuthorized.
func (f *AuthorizationFlow) ValidateToken(token string) (*identity.MobileAppRegistration, error) {
	if token == "" {
		return nil, ErrNotAuthorized
	}
	reg, err := f.store.GetAppByToken(token)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if reg.Status != identity.AppApproved {
		return nil, ErrNotAuthorized
	}
	if !reg.ExpiresAt.After(f.now()) {
		return nil, ErrNotAuthorized
	}
	return reg, nil
}

// List returns all registrations, for the operator surface.
func (f *AuthorizationFlow) List() ([]*identity.MobileAppRegistration, error) {
	return f.store.ListAppRegistrations()
}

func (f *AuthorizationFlow) logTransition(deviceIdentifier string, from, to identity.AppStatus, reason string) {
	f.logger.Log(pkglog.Event{
		Timestamp: time.Now(),
		Layer:     pkglog.LayerService,
		Category:  pkglog.CategoryState,
		ClientID:  deviceIdentifier,
		StateChange: &pkglog.StateChangeEvent{
			Entity:   "app",
			OldState: string(from),
			NewState: string(to),
			Reason:   reason,
		},
	})
}
