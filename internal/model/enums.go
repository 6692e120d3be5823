package model

// Transport is the out-of-band channel used to convey a pairing code.
type Transport string

const (
	TransportQR        Transport = "qr"
	TransportDigital   Transport = "digital"
	TransportNetwork   Transport = "network"
	TransportBluetooth Transport = "bluetooth"
)

// Transports lists the known transports in a stable order.
var Transports = []Transport{
	TransportQR,
	TransportDigital,
	TransportNetwork,
	TransportBluetooth,
}

func (t Transport) Valid() bool {
	switch t {
	case TransportQR, TransportDigital, TransportNetwork, TransportBluetooth:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusConnected SessionStatus = "connected"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCancelled SessionStatus = "cancelled"
)

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)
