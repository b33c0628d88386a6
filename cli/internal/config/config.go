package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values (production)
const (
	DefaultServer        = "https://warpmeet.qzz.io"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultTURN          = "" // Optional, empty by default
	DefaultPollInterval  = 2 * time.Second
	DefaultReconnects    = 5
	DefaultReconnectStep = time.Second
	DefaultMaxMessageLen = 2000
	DefaultTogglePolicy  = "optimistic"
)

// Config holds application configuration
type Config struct {
	// ServerURL is the base URL of the signaling server.
	ServerURL string

	// EndpointURL is the request/response signaling endpoint.
	EndpointURL string

	// RelayURL is the websocket used to exchange session descriptions.
	RelayURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay uses TURN only, for networks where direct paths fail.
	ForceRelay bool

	// DisplayName is shown next to chat messages.
	DisplayName string

	PollInterval      time.Duration
	ReconnectAttempts int
	ReconnectStep     time.Duration
	MaxMessageLength  int

	// TogglePolicy is "optimistic" or "confirmed".
	TogglePolicy string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ServerURL    string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	DisplayName  string
	PollInterval time.Duration
	TogglePolicy string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := pick(opts.ServerURL, "WARPMEET_SERVER", DefaultServer)
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}

	relay := *base
	switch base.Scheme {
	case "https":
		relay.Scheme = "wss"
	case "http":
		relay.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", base.Scheme)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = durationEnv("WARPMEET_POLL_INTERVAL", DefaultPollInterval)
	}

	policy := strings.ToLower(pick(opts.TogglePolicy, "WARPMEET_TOGGLE_POLICY", DefaultTogglePolicy))
	if policy != "optimistic" && policy != "confirmed" {
		return nil, fmt.Errorf("unknown toggle policy %q (want optimistic or confirmed)", policy)
	}

	turn := pick(opts.TURNServer, "TURN_SERVER", DefaultTURN)
	forceRelay := opts.ForceRelay || boolEnv("WARPMEET_FORCE_RELAY")
	if forceRelay && turn == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	name := pick(opts.DisplayName, "WARPMEET_NAME", "")
	if name == "" {
		name, _ = os.Hostname()
	}

	return &Config{
		ServerURL:         base.String(),
		EndpointURL:       base.String() + "/api/signaling",
		RelayURL:          relay.String() + "/peer",
		STUNServer:        pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:        turn,
		TURNUser:          pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:          pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:        forceRelay,
		DisplayName:       name,
		PollInterval:      pollInterval,
		ReconnectAttempts: intEnv("WARPMEET_RECONNECT_ATTEMPTS", DefaultReconnects),
		ReconnectStep:     DefaultReconnectStep,
		MaxMessageLength:  DefaultMaxMessageLen,
		TogglePolicy:      policy,
	}, nil
}

// pick returns the flag value, then the env value, then the default.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func boolEnv(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}

func intEnv(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("%s/r/%s", c.ServerURL, url.PathEscape(roomID))
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
