package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Bounds on per-request TTL overrides and on the configured per-transport defaults
const (
	MinSessionTTL = 10 * time.Second
	MaxSessionTTL = 30 * time.Minute
)

// Claim rate-limit window
const ClaimRateWindow = time.Minute
