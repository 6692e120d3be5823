package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/devlink/internal/audit"
	"github.com/openclaw/devlink/internal/config"
	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/model"
	"github.com/openclaw/devlink/internal/store"
	"github.com/openclaw/devlink/internal/util"
)

const codeGenAttempts = 10

type GenerateOptions struct {
	// TTL overrides the transport default when non-zero. Must fall
	// within [MinSessionTTL, MaxSessionTTL].
	TTL time.Duration
}

type GenerateResult struct {
	SessionID string          `json:"sessionId"`
	Code      string          `json:"code"`
	Transport model.Transport `json:"transport"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// SessionView is the read-only projection returned by Status. Device is
// populated once the session is connected.
type SessionView struct {
	SessionID string                  `json:"sessionId"`
	Transport model.Transport         `json:"transport"`
	Status    model.SessionStatus     `json:"status"`
	ExpiresAt time.Time               `json:"expiresAt"`
	CreatedAt time.Time               `json:"createdAt"`
	Device    *model.DeviceConnection `json:"device,omitempty"`
}

// PairingService is the public pairing contract. It holds no state of
// its own: every side effect is a SessionStore mutation, so it can be
// exercised against a fake store.
type PairingService struct {
	store     store.SessionStore
	gen       *CodeGenerator
	maxActive int
}

func NewPairingService(sessionStore store.SessionStore, gen *CodeGenerator, maxActive int) *PairingService {
	return &PairingService{
		store:     sessionStore,
		gen:       gen,
		maxActive: maxActive,
	}
}

func (s *PairingService) Generate(ctx context.Context, transport model.Transport, ownerUserID string, opts GenerateOptions) (*GenerateResult, error) {
	policy, err := s.gen.Policy(transport)
	if err != nil {
		return nil, err
	}

	ttl := policy.TTL
	if opts.TTL != 0 {
		if opts.TTL < config.MinSessionTTL || opts.TTL > config.MaxSessionTTL {
			return nil, apperrors.InvalidOptions("ttl out of range")
		}
		ttl = opts.TTL
	}

	active, err := s.store.CountPendingByUser(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	if active >= s.maxActive {
		return nil, apperrors.TooManySessions(s.maxActive)
	}

	var session *model.PairingSession
	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := s.gen.NewCode(transport)
		if err != nil {
			return nil, apperrors.Internal("code generation failed").WithCause(err)
		}

		session, err = s.store.CreateSession(ctx, model.CreateSessionParams{
			Code:        code,
			Transport:   transport,
			OwnerUserID: ownerUserID,
			ExpiresAt:   time.Now().Add(ttl),
		})
		if err == store.ErrCodeInUse {
			session = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if session == nil {
		return nil, apperrors.CodeSpaceExhausted()
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("transport", string(transport)).
		Str("code", util.MaskCode(session.Code)).
		Time("expiresAt", session.ExpiresAt).
		Msg("pairing session created")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventPairingGenerate,
		UserID:    ownerUserID,
		SessionID: session.ID,
		Details:   map[string]any{"transport": string(transport)},
	})

	return &GenerateResult{
		SessionID: session.ID,
		Code:      session.Code,
		Transport: transport,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// ClaimByCode links the device presenting the code to the session
// owner's account. Exactly one of N racing claims on the same code
// succeeds.
func (s *PairingService) ClaimByCode(ctx context.Context, code string, transport model.Transport, device model.DeviceInfo) (*model.DeviceConnection, error) {
	if !transport.Valid() {
		return nil, apperrors.InvalidTransport(string(transport))
	}

	normalized := normalizeCode(code, transport)
	if normalized == "" {
		return nil, apperrors.MissingRequired("code")
	}

	session, conn, err := s.store.ClaimSession(ctx, normalized, transport, device)
	if err != nil {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventClaimRejected,
			Details: map[string]any{"transport": string(transport), "code": util.MaskCode(normalized), "reason": string(apperrors.GetCode(err))},
		})
		return nil, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("deviceId", conn.DeviceID).
		Str("transport", string(transport)).
		Msg("pairing claimed")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventPairingClaim,
		UserID:    session.OwnerUserID,
		DeviceID:  conn.DeviceID,
		SessionID: session.ID,
	})

	return conn, nil
}

func (s *PairingService) Status(ctx context.Context, sessionID string) (*SessionView, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view := &SessionView{
		SessionID: session.ID,
		Transport: session.Transport,
		Status:    session.Status,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	}

	// A due pending session reads as expired even before the sweeper
	// has settled it; Status itself never mutates.
	if session.Status == model.SessionStatusPending && session.ExpiredAt(time.Now()) {
		view.Status = model.SessionStatusExpired
	}

	if session.Status == model.SessionStatusConnected && session.ClaimedDeviceID != nil {
		conn, err := s.store.GetConnection(ctx, *session.ClaimedDeviceID, session.OwnerUserID)
		if err == nil {
			view.Device = conn
		} else if !apperrors.HasCode(err, apperrors.ErrCodeDeviceNotFound) {
			return nil, err
		}
	}

	return view, nil
}

func (s *PairingService) Cancel(ctx context.Context, sessionID, userID string) (*model.PairingSession, error) {
	session, err := s.store.CancelSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventPairingCancel,
		UserID:    userID,
		SessionID: sessionID,
	})
	return session, nil
}

func (s *PairingService) ListPendingSessions(ctx context.Context, userID string) ([]model.PairingSession, error) {
	return s.store.ListPendingByUser(ctx, userID)
}

func (s *PairingService) ListConnectedDevices(ctx context.Context, userID string) ([]model.DeviceConnection, error) {
	return s.store.ListConnectedByUser(ctx, userID)
}

func (s *PairingService) Disconnect(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	conn, err := s.store.DisconnectDevice(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("deviceId", deviceID).Msg("device disconnected")
	audit.Log(ctx, audit.Event{
		Type:     audit.EventDeviceDisconnect,
		UserID:   userID,
		DeviceID: deviceID,
	})
	return conn, nil
}

// Reconnect restores a previously paired device without a fresh code.
func (s *PairingService) Reconnect(ctx context.Context, deviceID, userID string, transport model.Transport) (*model.DeviceConnection, error) {
	if !transport.Valid() {
		return nil, apperrors.InvalidTransport(string(transport))
	}

	conn, err := s.store.ReconnectDevice(ctx, deviceID, userID, transport)
	if err != nil {
		return nil, err
	}

	log.Info().Str("deviceId", deviceID).Str("transport", string(transport)).Msg("device reconnected")
	audit.Log(ctx, audit.Event{
		Type:     audit.EventDeviceReconnect,
		UserID:   userID,
		DeviceID: deviceID,
		Details:  map[string]any{"transport": string(transport)},
	})
	return conn, nil
}

// Heartbeat refreshes the staleness clock on a connected device.
func (s *PairingService) Heartbeat(ctx context.Context, deviceID, userID string) (*model.DeviceConnection, error) {
	return s.store.TouchDevice(ctx, deviceID, userID, time.Now())
}

// normalizeCode strips whitespace and, for the human-typed transports,
// upcases so codes compare case-insensitively.
func normalizeCode(code string, transport model.Transport) string {
	code = strings.TrimSpace(code)
	switch transport {
	case model.TransportDigital, model.TransportBluetooth:
		return strings.ToUpper(code)
	}
	return code
}
