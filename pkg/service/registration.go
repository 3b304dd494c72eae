package service

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/manur84/digitalsignage-sub008/pkg/identity"
	"github.com/manur84/digitalsignage-sub008/pkg/keyedlock"
	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// RegistrationHandler admits devices into the registry. The critical
// section per hardware id runs under a keyed lock so two near-
// simultaneous attempts from the same hardware can never produce two
// live sessions.
type RegistrationHandler struct {
	registry *registry.Registry
	store    identity.Store
	locks    *keyedlock.KeyedLock
	logger   pkglog.Logger
	serverID string

	now func() time.Time
}

// NewRegistrationHandler creates a registration handler. serverID is
// used as the sender id of responses.
func NewRegistrationHandler(reg *registry.Registry, store identity.Store, locks *keyedlock.KeyedLock, serverID string, logger pkglog.Logger) *RegistrationHandler {
	if logger == nil {
		logger = pkglog.NoopLogger{}
	}
	return &RegistrationHandler{
		registry: reg,
		store:    store,
		locks:    locks,
		logger:   logger,
		serverID: serverID,
		now:      time.Now,
	}
}

// Register processes a REGISTER message for the given transport. On
// success the returned connection is already in the registry with
// status Registered. On rejection the connection is nil and the
// response carries the error; the session stays unregistered and may
// try again.
//
// A registration superseding an existing live session for the same
// hardware closes the old transport; the old registry entry is replaced
// under the same lock.
func (h *RegistrationHandler) Register(msg *wire.Register, t registry.Transport, remoteAddr, connID string) (*registry.Connection, *wire.RegistrationResponse) {
	if msg.HardwareID == "" {
		return nil, h.reject("hardwareId is required")
	}

	hardwareID := identity.NormalizeHardwareID(msg.HardwareID)

	var conn *registry.Connection
	var resp *wire.RegistrationResponse

	// Lock acquisition never fails; it serializes concurrent attempts
	// from the same hardware, which is the intended behavior.
	_ = h.locks.WithLock(hardwareID, func() error {
		if old, ok := h.registry.FindByHardwareID(hardwareID); ok {
			// Reconnect superseding the old session.
			h.registry.Remove(old.ClientID)
			_ = old.Transport.Close()
			h.logStateChange(old.ClientID, string(old.Status()), "Superseded", "reconnect from same hardware")
		}

		clientID, err := h.store.LookupClientID(hardwareID)
		switch {
		case errors.Is(err, identity.ErrNotFound):
			clientID = uuid.New().String()
		case err != nil:
			resp = h.reject("identity store unavailable")
			return nil
		}

		if err := h.store.SaveClientID(hardwareID, clientID); err != nil {
			resp = h.reject("identity store unavailable")
			return nil
		}

		conn = &registry.Connection{
			ClientID:      clientID,
			HardwareID:    hardwareID,
			Name:          msg.Name,
			Role:          registry.RoleDevice,
			Transport:     t,
			RemoteAddress: remoteAddr,
			ConnID:        connID,
		}
		h.registry.Add(conn, wire.StatusRegistered, h.now())

		resp = &wire.RegistrationResponse{
			Header:   wire.NewHeader(wire.TypeRegistrationResponse, h.serverID),
			ClientID: clientID,
			Accepted: true,
		}
		h.logStateChange(clientID, "Connecting", string(wire.StatusRegistered), "")
		return nil
	})

	return conn, resp
}

func (h *RegistrationHandler) reject(reason string) *wire.RegistrationResponse {
	return &wire.RegistrationResponse{
		Header:   wire.NewHeader(wire.TypeRegistrationResponse, h.serverID),
		Accepted: false,
		Error:    reason,
	}
}

func (h *RegistrationHandler) logStateChange(clientID, oldState, newState, reason string) {
	h.logger.Log(pkglog.Event{
		Timestamp: time.Now(),
		Layer:     pkglog.LayerService,
		Category:  pkglog.CategoryState,
		ClientID:  clientID,
		StateChange: &pkglog.StateChangeEvent{
			Entity:   "device",
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
