package model

import (
	"time"
)

// PairingSession is a single-use invitation for a secondary device to
// attach to an account. It is created in StatusPending and leaves that
// state exactly once: via claim, cancel, or expiry.
type PairingSession struct {
	ID              string        `db:"id" json:"id"`
	Code            string        `db:"code" json:"code"`
	Transport       Transport     `db:"transport" json:"transport"`
	OwnerUserID     string        `db:"owner_user_id" json:"ownerUserId"`
	Status          SessionStatus `db:"status" json:"status"`
	ClaimedDeviceID *string       `db:"claimed_device_id" json:"claimedDeviceId,omitempty"`
	ExpiresAt       time.Time     `db:"expires_at" json:"expiresAt"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// Terminal reports whether the session has left Pending. Terminal
// sessions are never mutated again.
func (s *PairingSession) Terminal() bool {
	return s.Status != SessionStatusPending
}

func (s *PairingSession) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type CreateSessionParams struct {
	Code        string
	Transport   Transport
	OwnerUserID string
	ExpiresAt   time.Time
}

// DeviceConnection records that a device is linked to an account. It
// outlives the pairing session that created it and is refreshed on
// heartbeat and reconnect.
type DeviceConnection struct {
	DeviceID    string           `db:"device_id" json:"deviceId"`
	UserID      string           `db:"user_id" json:"userId"`
	Name        string           `db:"name" json:"name,omitempty"`
	Platform    string           `db:"platform" json:"platform,omitempty"`
	Transport   Transport        `db:"transport" json:"transport"`
	Status      ConnectionStatus `db:"status" json:"status"`
	ConnectedAt time.Time        `db:"connected_at" json:"connectedAt"`
	LastSeenAt  time.Time        `db:"last_seen_at" json:"lastSeenAt"`
}

// DeviceInfo is what a claiming device reports about itself. DeviceID
// may be empty, in which case the store assigns one.
type DeviceInfo struct {
	DeviceID string `json:"deviceId,omitempty"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
}
