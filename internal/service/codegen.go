package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/model"
	"github.com/openclaw/devlink/internal/util"
)

// Unambiguous charset for codes a human reads off a screen: no O/I/0/1.
const shortCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	digitalCodeLen   = 6
	bluetoothCodeLen = 6
)

// CodeFormat selects how a pairing code is produced for a transport.
type CodeFormat string

const (
	// FormatToken is a 128-bit hex token, for transports where the code
	// travels machine-to-machine (qr payloads, discovery beacons).
	FormatToken CodeFormat = "token"
	// FormatNumeric is a short decimal code a user types in.
	FormatNumeric CodeFormat = "numeric"
	// FormatShortAlnum is a short code from the unambiguous charset,
	// exchanged over a proximity handshake.
	FormatShortAlnum CodeFormat = "short_alnum"
)

// CodePolicy is the per-transport pairing policy: how long a session
// lives by default and what its code looks like.
type CodePolicy struct {
	TTL    time.Duration
	Format CodeFormat
}

// TTLConfig supplies the configured default TTL per transport.
type TTLConfig interface {
	QRTTL() time.Duration
	DigitalTTL() time.Duration
	NetworkTTL() time.Duration
	BluetoothTTL() time.Duration
}

// CodeGenerator produces pairing codes. It is a pure policy component:
// collision handling against live codes belongs to the caller, which
// retries with a fresh code.
type CodeGenerator struct {
	policies map[model.Transport]CodePolicy
}

func NewCodeGenerator(ttls TTLConfig) *CodeGenerator {
	return &CodeGenerator{
		policies: map[model.Transport]CodePolicy{
			model.TransportQR:        {TTL: ttls.QRTTL(), Format: FormatToken},
			model.TransportDigital:   {TTL: ttls.DigitalTTL(), Format: FormatNumeric},
			model.TransportNetwork:   {TTL: ttls.NetworkTTL(), Format: FormatToken},
			model.TransportBluetooth: {TTL: ttls.BluetoothTTL(), Format: FormatShortAlnum},
		},
	}
}

// Policy returns the pairing policy for a transport.
func (g *CodeGenerator) Policy(transport model.Transport) (CodePolicy, error) {
	policy, ok := g.policies[transport]
	if !ok {
		return CodePolicy{}, apperrors.InvalidTransport(string(transport))
	}
	return policy, nil
}

// NewCode draws a fresh code in the transport's format.
func (g *CodeGenerator) NewCode(transport model.Transport) (string, error) {
	policy, err := g.Policy(transport)
	if err != nil {
		return "", err
	}

	switch policy.Format {
	case FormatToken:
		return util.GenerateToken()
	case FormatNumeric:
		return randomDigits(digitalCodeLen)
	case FormatShortAlnum:
		return randomFromCharset(bluetoothCodeLen, shortCodeChars)
	default:
		return "", apperrors.Internal(fmt.Sprintf("unknown code format %q", policy.Format))
	}
}

func randomDigits(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = '0' + byte(v.Int64())
	}
	return string(out), nil
}

func randomFromCharset(n int, charset string) (string, error) {
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		out[i] = charset[v.Int64()]
	}
	return string(out), nil
}
