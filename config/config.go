// Package config loads runtime defaults for netkit's components from
// environment variables, following the env*/default* constant pattern
// used across the retrieval pack's service configs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envLogLevel              = "NETKIT_LOG_LEVEL"
	envLogColor              = "NETKIT_LOG_COLOR"
	envConnectTimeout        = "NETKIT_CONNECT_TIMEOUT"
	envIdleConnectionTimeout = "NETKIT_IDLE_CONNECTION_TIMEOUT"
	envTLSHandshakeTimeout   = "NETKIT_TLS_HANDSHAKE_TIMEOUT"
	envTLSInsecureSkipVerify = "NETKIT_TLS_INSECURE_SKIP_VERIFY"
	envHTTPMaxRedirects      = "NETKIT_HTTP_MAX_REDIRECTS"
	envWSPingInterval        = "NETKIT_WS_PING_INTERVAL"
	envWSCloseTimeout        = "NETKIT_WS_CLOSE_TIMEOUT"
	envWSReconnectInterval   = "NETKIT_WS_RECONNECT_INTERVAL"
	envWSMaxReconnects       = "NETKIT_WS_MAX_RECONNECTS"

	defaultLogLevel              = "info"
	defaultLogColor              = true
	defaultConnectTimeout        = 10 * time.Second
	defaultIdleConnectionTimeout = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultTLSInsecureSkipVerify = false
	defaultHTTPMaxRedirects      = 10
	defaultWSPingInterval        = 30 * time.Second
	defaultWSCloseTimeout        = 5 * time.Second
	defaultWSReconnectInterval   = 3 * time.Second
	defaultWSMaxReconnects       = 3
)

// Config captures the zero-config defaults every component falls back to.
// Every field is independently overridable on the concrete type it feeds
// (Session.SetConnectionTimeout, Client's Sec-WebSocket ping interval
// setter, and so on) — Load just supplies sane starting values so callers
// never have to wire environment parsing themselves.
type Config struct {
	LogLevel string
	LogColor bool

	ConnectTimeout        time.Duration
	IdleConnectionTimeout time.Duration

	TLSHandshakeTimeout   time.Duration
	TLSInsecureSkipVerify bool

	HTTPMaxRedirects int

	WSPingInterval      time.Duration
	WSCloseTimeout      time.Duration
	WSReconnectInterval time.Duration
	WSMaxReconnects     int
}

// Load reads configuration from NETKIT_* environment variables, falling
// back to the package defaults for anything unset or unparsable.
func Load() (Config, error) {
	return Config{
		LogLevel: strings.ToLower(getString(envLogLevel, defaultLogLevel)),
		LogColor: getBool(envLogColor, defaultLogColor),

		ConnectTimeout:        getDuration(envConnectTimeout, defaultConnectTimeout),
		IdleConnectionTimeout: getDuration(envIdleConnectionTimeout, defaultIdleConnectionTimeout),

		TLSHandshakeTimeout:   getDuration(envTLSHandshakeTimeout, defaultTLSHandshakeTimeout),
		TLSInsecureSkipVerify: getBool(envTLSInsecureSkipVerify, defaultTLSInsecureSkipVerify),

		HTTPMaxRedirects: getInt(envHTTPMaxRedirects, defaultHTTPMaxRedirects),

		WSPingInterval:      getDuration(envWSPingInterval, defaultWSPingInterval),
		WSCloseTimeout:      getDuration(envWSCloseTimeout, defaultWSCloseTimeout),
		WSReconnectInterval: getDuration(envWSReconnectInterval, defaultWSReconnectInterval),
		WSMaxReconnects:     getInt(envWSMaxReconnects, defaultWSMaxReconnects),
	}, nil
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
