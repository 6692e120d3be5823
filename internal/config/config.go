package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Transport TTL policy. Defaults follow the code-space entropy:
	// the small digital space gets a longer window than the opaque
	// token transports only because retyping a code is slower than
	// scanning one.
	QRTTLSeconds        int `env:"PAIRING_QR_TTL_SECONDS" envDefault:"300"`
	DigitalTTLSeconds   int `env:"PAIRING_DIGITAL_TTL_SECONDS" envDefault:"600"`
	NetworkTTLSeconds   int `env:"PAIRING_NETWORK_TTL_SECONDS" envDefault:"300"`
	BluetoothTTLSeconds int `env:"PAIRING_BLUETOOTH_TTL_SECONDS" envDefault:"300"`

	SweepIntervalSeconds int `env:"PAIRING_SWEEP_INTERVAL_SECONDS" envDefault:"30"`
	DeviceStaleSeconds   int `env:"DEVICE_STALE_SECONDS" envDefault:"120"`
	PairingMaxActive     int `env:"PAIRING_MAX_ACTIVE" envDefault:"5"`
	ClaimRateLimitPerMin int `env:"CLAIM_RATE_LIMIT_PER_MIN" envDefault:"10"`
}

func (c *Config) QRTTL() time.Duration {
	return time.Duration(c.QRTTLSeconds) * time.Second
}

func (c *Config) DigitalTTL() time.Duration {
	return time.Duration(c.DigitalTTLSeconds) * time.Second
}

func (c *Config) NetworkTTL() time.Duration {
	return time.Duration(c.NetworkTTLSeconds) * time.Second
}

func (c *Config) BluetoothTTL() time.Duration {
	return time.Duration(c.BluetoothTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) DeviceStaleThreshold() time.Duration {
	return time.Duration(c.DeviceStaleSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	for name, secs := range map[string]int{
		"PAIRING_QR_TTL_SECONDS":        c.QRTTLSeconds,
		"PAIRING_DIGITAL_TTL_SECONDS":   c.DigitalTTLSeconds,
		"PAIRING_NETWORK_TTL_SECONDS":   c.NetworkTTLSeconds,
		"PAIRING_BLUETOOTH_TTL_SECONDS": c.BluetoothTTLSeconds,
	} {
		if secs < int(MinSessionTTL.Seconds()) || secs > int(MaxSessionTTL.Seconds()) {
			return fmt.Errorf("%s must be between %d and %d seconds", name,
				int(MinSessionTTL.Seconds()), int(MaxSessionTTL.Seconds()))
		}
	}

	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("PAIRING_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.DeviceStaleSeconds <= 0 {
		return fmt.Errorf("DEVICE_STALE_SECONDS must be positive")
	}
	if c.PairingMaxActive <= 0 {
		return fmt.Errorf("PAIRING_MAX_ACTIVE must be positive")
	}

	if isProduction {
		if c.ClaimRateLimitPerMin > 60 {
			log.Warn().Int("limit", c.ClaimRateLimitPerMin).
				Msg("CLAIM_RATE_LIMIT_PER_MIN is high for the 6-digit code space")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
