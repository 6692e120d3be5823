package store

import (
	"context"
	"errors"
	"time"

	"github.com/openclaw/devlink/internal/model"
)

// ErrCodeInUse is returned by CreateSession when the chosen code collides
// with another live pending session of the same transport. Callers retry
// with a fresh code.
var ErrCodeInUse = errors.New("pairing code already in use")

// SessionStore is the authoritative registry of pairing sessions and
// device connections. All mutation of either record type goes through
// it, and mutations to a given session or to a given device are
// serialized: a claim and an expiry sweep racing on the same session
// see exactly one winner.
//
// Lifecycle errors are returned as *apperrors.AppError values
// (SESSION_NOT_FOUND, SESSION_ALREADY_CLAIMED, NOT_AUTHORIZED,
// DEVICE_NOT_FOUND); backing-store failures as STORE_UNAVAILABLE.
type SessionStore interface {
	// CreateSession registers a new pending session. The code must be
	// unique among live pending sessions of the same transport.
	CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.PairingSession, error)

	// GetSession returns the session by id without mutating it.
	GetSession(ctx context.Context, sessionID string) (*model.PairingSession, error)

	// ClaimSession atomically moves the unique live pending session for
	// (code, transport) to connected and upserts the device connection.
	// Exactly one of N racing claims succeeds; the losers get
	// SESSION_ALREADY_CLAIMED. An unknown or expired code gets
	// SESSION_NOT_FOUND even if the sweeper has not run yet.
	ClaimSession(ctx context.Context, code string, transport model.Transport, device model.DeviceInfo) (*model.PairingSession, *model.DeviceConnection, error)

	// CancelSession moves a pending session owned by userID to
	// cancelled. Cancelling an already-terminal session is a no-op
	// success.
	CancelSession(ctx context.Context, sessionID, userID string) (*model.PairingSession, error)

	ListPendingByUser(ctx context.Context, userID string) ([]model.PairingSession, error)
	CountPendingByUser(ctx context.Context, userID string) (int, error)

	// ExpireDueSessions moves every pending session with
	// expiresAt <= now to expired and returns how many it moved.
	ExpireDueSessions(ctx context.Context, now time.Time) (int64, error)

	// GetConnection returns the user's connection record for deviceID.
	// Connections are identified by the (userID, deviceID) pair: the
	// same deviceID paired to two accounts is two independent records.
	GetConnection(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error)

	// ListConnectedByUser returns the user's connected devices,
	// most recently seen first.
	ListConnectedByUser(ctx context.Context, userID string) ([]model.DeviceConnection, error)

	// DisconnectDevice moves a connection owned by userID to
	// disconnected. Disconnecting an already-disconnected device is a
	// no-op success.
	DisconnectDevice(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error)

	// ReconnectDevice moves a disconnected device owned by userID back
	// to connected without a fresh pairing code, recording the
	// transport it came back on.
	ReconnectDevice(ctx context.Context, deviceID, userID string, transport model.Transport) (*model.DeviceConnection, error)

	// TouchDevice refreshes lastSeenAt on a connected device.
	TouchDevice(ctx context.Context, deviceID, userID string, at time.Time) (*model.DeviceConnection, error)

	// DisconnectStale moves every connected device with
	// lastSeenAt < olderThan to disconnected and returns the count.
	DisconnectStale(ctx context.Context, olderThan time.Time) (int64, error)
}
