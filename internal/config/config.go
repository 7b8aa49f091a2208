package config

import "time"

// Config holds relay and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// EventBuffer is the per-endpoint outbound queue length on the relay.
	EventBuffer    int           `mapstructure:"event_buffer" yaml:"event_buffer"`
	StatusInterval time.Duration `mapstructure:"status_interval" yaml:"status_interval"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool   `mapstructure:"jwt_required" yaml:"jwt_required"`

	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// ClientConfig configures a mesh client node.
type ClientConfig struct {
	RelayURL string `mapstructure:"relay_url" yaml:"relay_url"`
	UserID   string `mapstructure:"user_id" yaml:"user_id"`
	Name     string `mapstructure:"name" yaml:"name"`
	Token    string `mapstructure:"token" yaml:"token"`

	// Comma-separated lists.
	STUNURLs       string `mapstructure:"stun_urls" yaml:"stun_urls"`
	TURNURLs       string `mapstructure:"turn_urls" yaml:"turn_urls"`
	TURNUsername   string `mapstructure:"turn_username" yaml:"turn_username"`
	TURNCredential string `mapstructure:"turn_credential" yaml:"turn_credential"`

	IncludeLoopback bool `mapstructure:"include_loopback" yaml:"include_loopback"`

	CachePath      string        `mapstructure:"cache_path" yaml:"cache_path"`
	CacheRetention time.Duration `mapstructure:"cache_retention" yaml:"cache_retention"`

	ReconnectMin time.Duration `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":5000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxMessageBytes:   64 << 10,
		LogLevel:          "info",
		EventBuffer:       64,
		StatusInterval:    30 * time.Second,
		JWTIssuer:         "campusmesh",
		JWTAudience:       "campusmesh-relay",
		Client: ClientConfig{
			RelayURL:       "ws://localhost:5000/ws",
			STUNURLs:       "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302",
			CachePath:      "campusmesh-cache.db",
			CacheRetention: 7 * 24 * time.Hour,
			ReconnectMin:   500 * time.Millisecond,
			ReconnectMax:   10 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.EventBuffer != 0 {
		c.EventBuffer = other.EventBuffer
	}
	if other.StatusInterval != 0 {
		c.StatusInterval = other.StatusInterval
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
	if other.Client.RelayURL != "" {
		c.Client.RelayURL = other.Client.RelayURL
	}
	if other.Client.UserID != "" {
		c.Client.UserID = other.Client.UserID
	}
	if other.Client.Name != "" {
		c.Client.Name = other.Client.Name
	}
	if other.Client.Token != "" {
		c.Client.Token = other.Client.Token
	}
	if other.Client.CachePath != "" {
		c.Client.CachePath = other.Client.CachePath
	}
}
