package server

import (
	"os"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/ini.v1"
)

// Config is the [server], [relay] and [backend] sections of server.ini
type Config struct {
	Server  ServerSection  `ini:"server"`
	Relay   RelaySection   `ini:"relay"`
	Backend BackendSection `ini:"backend"`
}

type ServerSection struct {
	Port        int    `ini:"port"`
	Secret      string `ini:"secret"`
	TokenSecret string `ini:"token_secret"`
	MinVersion  string `ini:"min_version"`
	BackendURL  string `ini:"backend_url"`
	LogLevel    string `ini:"log_level"`
}

type RelaySection struct {
	// Frames per second relayed from one client connection, 0 disables limiting. Frames over it are dropped, host connections are never limited.
	RateLimit        float64       `ini:"rate_limit"`
	Burst            int           `ini:"burst"`
	HandshakeTimeout time.Duration `ini:"handshake_timeout"`
}

type BackendSection struct {
	Port int `ini:"port"`
}

// DefaultConfig is used for every key missing from the file
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSection{
			Port:        3537,
			Secret:      string(common.HMACSecret()),
			TokenSecret: "change-me",
			MinVersion:  common.SoftwareVersion,
			BackendURL:  "ws://127.0.0.1:3536",
			LogLevel:    "debug",
		},
		Relay: RelaySection{
			RateLimit:        100,
			Burst:            200,
			HandshakeTimeout: 10 * time.Second,
		},
		Backend: BackendSection{
			Port: 3536,
		},
	}
}

// LoadConfig reads server.ini, or the file named by SERVER_CONFIG, on top of DefaultConfig.
// A missing file is not an error, the defaults are used.
func LoadConfig() (*Config, error) {
	configLocation := "server.ini"
	if os.Getenv("SERVER_CONFIG") != "" {
		configLocation = os.Getenv("SERVER_CONFIG")
	}

	config := DefaultConfig()
	if _, err := os.Stat(configLocation); os.IsNotExist(err) {
		log.WithField("config", configLocation).Warn("Configuration file not found, using defaults")
		return config, nil
	}

	file, err := ini.Load(configLocation)
	if err != nil {
		return nil, err
	}
	if err := file.MapTo(config); err != nil {
		return nil, err
	}

	if _, err := common.ParseVersion(config.Server.MinVersion); err != nil {
		return nil, err
	}
	return config, nil
}

// RateLimitConfig defines rate limiting for frames read from one relayed connection
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// RateLimit converts the [relay] section into a RateLimitConfig
func (config *Config) RateLimit() *RateLimitConfig {
	if config.Relay.RateLimit <= 0 {
		return NoRateLimit()
	}
	return &RateLimitConfig{
		MessagesPerSecond: rate.Limit(config.Relay.RateLimit),
		Burst:             config.Relay.Burst,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

func (rl *RateLimitConfig) newLimiter() *rate.Limiter {
	if rl == nil || !rl.Enabled {
		return nil
	}
	return rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
}
