package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/model"
	"github.com/openclaw/devlink/internal/service"
)

// Signal is what a bridge pushes onto the physical medium: the payload
// a QR renderer draws, a LAN broadcaster beacons, or a Bluetooth
// adapter advertises.
type Signal struct {
	Transport   model.Transport `json:"transport"`
	Code        string          `json:"code"`
	Payload     string          `json:"payload"`
	OwnerUserID string          `json:"ownerUserId"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// Bridge is the collaborator that moves a pairing signal to and from
// the physical medium. The core never touches image encoding, radios,
// or sockets itself.
type Bridge interface {
	Emit(ctx context.Context, signal Signal) error
}

// Adapter binds one transport to the generic pairing API. The four
// transports share all state-machine semantics; an adapter only
// contributes its transport tag and its bridge.
type Adapter struct {
	transport model.Transport
	svc       *service.PairingService
	bridge    Bridge // nil when the code is shown to the user directly
}

func NewAdapter(transport model.Transport, svc *service.PairingService, bridge Bridge) *Adapter {
	return &Adapter{transport: transport, svc: svc, bridge: bridge}
}

func (a *Adapter) Transport() model.Transport {
	return a.transport
}

// Generate creates a pending session and hands the signal to the
// bridge. A bridge failure is returned to the caller; the session is
// left to expire on its own rather than rolled back, since a second
// emit attempt against a fresh session is the caller's retry path.
func (a *Adapter) Generate(ctx context.Context, ownerUserID string, opts service.GenerateOptions) (*service.GenerateResult, error) {
	result, err := a.svc.Generate(ctx, a.transport, ownerUserID, opts)
	if err != nil {
		return nil, err
	}

	if a.bridge != nil {
		signal := Signal{
			Transport:   a.transport,
			Code:        result.Code,
			Payload:     Payload(a.transport, result.Code),
			OwnerUserID: ownerUserID,
			ExpiresAt:   result.ExpiresAt,
		}
		if err := a.bridge.Emit(ctx, signal); err != nil {
			log.Error().Err(err).
				Str("transport", string(a.transport)).
				Str("sessionId", result.SessionID).
				Msg("bridge emit failed")
			return nil, fmt.Errorf("emit %s signal: %w", a.transport, err)
		}
	}

	return result, nil
}

func (a *Adapter) Claim(ctx context.Context, code string, device model.DeviceInfo) (*model.DeviceConnection, error) {
	return a.svc.ClaimByCode(ctx, code, a.transport, device)
}

// Payload is the wire form of a code: the string a QR image encodes or
// a beacon carries. Short human-typed codes are their own payload.
func Payload(transport model.Transport, code string) string {
	switch transport {
	case model.TransportQR, model.TransportNetwork:
		return fmt.Sprintf("devlink://pair?t=%s&c=%s", transport, url.QueryEscape(code))
	}
	return code
}

// Registry holds one adapter per transport.
type Registry struct {
	adapters map[model.Transport]*Adapter
}

// NewRegistry wires an adapter for every known transport. Bridges may
// be nil for transports whose code is presented to the user directly.
func NewRegistry(svc *service.PairingService, bridges map[model.Transport]Bridge) *Registry {
	adapters := make(map[model.Transport]*Adapter, len(model.Transports))
	for _, t := range model.Transports {
		adapters[t] = NewAdapter(t, svc, bridges[t])
	}
	return &Registry{adapters: adapters}
}

func (r *Registry) Adapter(transport model.Transport) (*Adapter, error) {
	adapter, ok := r.adapters[transport]
	if !ok {
		return nil, apperrors.InvalidTransport(string(transport))
	}
	return adapter, nil
}

func (r *Registry) Generate(ctx context.Context, transport model.Transport, ownerUserID string, opts service.GenerateOptions) (*service.GenerateResult, error) {
	adapter, err := r.Adapter(transport)
	if err != nil {
		return nil, err
	}
	return adapter.Generate(ctx, ownerUserID, opts)
}

func (r *Registry) Claim(ctx context.Context, transport model.Transport, code string, device model.DeviceInfo) (*model.DeviceConnection, error) {
	adapter, err := r.Adapter(transport)
	if err != nil {
		return nil, err
	}
	return adapter.Claim(ctx, code, device)
}
