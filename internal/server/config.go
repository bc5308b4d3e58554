package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the settings for the phone-facing server and the desktop bridge.
type Config struct {
	// Port is the listen address of the phone-facing server, e.g. ":3000".
	Port string
	// DesktopAddr is the listen address of the desktop bridge. Empty disables it.
	DesktopAddr string
	// AdvertisedURL is the URL phones should open. Empty means detect the LAN
	// address at startup.
	AdvertisedURL string
	// AssetsDir is served under /assets/. Empty disables assets.
	AssetsDir string

	AllowedOrigins   []string
	MaxMessageSize   int64
	MaxBodyBytes     int
	HistoryLimit     int
	SubscriberBuffer int

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
	MetricsInterval   time.Duration

	RateLimit RateLimitConfig
}

// Configuration keys, as used in YAML files.
const (
	keyPort              = "port"
	keyDesktopAddr       = "desktop_addr"
	keyAdvertisedURL     = "advertised_url"
	keyAssetsDir         = "assets_dir"
	keyAllowedOrigins    = "allowed_origins"
	keyMaxMessageSize    = "max_message_size"
	keyMaxBodyBytes      = "max_body_bytes"
	keyHistoryLimit      = "history_limit"
	keySubscriberBuffer  = "subscriber_buffer"
	keyReadTimeout       = "read_timeout"
	keyWriteTimeout      = "write_timeout"
	keyShutdownTimeout   = "shutdown_timeout"
	keyHeartbeatInterval = "heartbeat_interval"
	keyMetricsInterval   = "metrics_interval"
	keyRateLimitBurst    = "rate_limit.burst"
	keyRateLimitRefill   = "rate_limit.refill_interval"
)

// envBindings maps configuration keys to environment variables.
var envBindings = map[string]string{
	keyPort:              "SERVER_PORT",
	keyDesktopAddr:       "DESKTOP_ADDR",
	keyAdvertisedURL:     "ADVERTISED_URL",
	keyAssetsDir:         "ASSETS_DIR",
	keyAllowedOrigins:    "ALLOWED_ORIGINS",
	keyMaxMessageSize:    "MAX_MESSAGE_SIZE",
	keyMaxBodyBytes:      "MAX_BODY_BYTES",
	keyHistoryLimit:      "HISTORY_LIMIT",
	keySubscriberBuffer:  "SUBSCRIBER_BUFFER",
	keyReadTimeout:       "READ_TIMEOUT",
	keyWriteTimeout:      "WRITE_TIMEOUT",
	keyShutdownTimeout:   "SHUTDOWN_TIMEOUT",
	keyHeartbeatInterval: "HEARTBEAT_INTERVAL",
	keyMetricsInterval:   "METRICS_INTERVAL",
	keyRateLimitBurst:    "RATE_LIMIT_BURST",
	keyRateLimitRefill:   "RATE_LIMIT_REFILL_INTERVAL",
}

func defaultConfig() Config {
	return Config{
		Port:        ":3000",
		DesktopAddr: "127.0.0.1:3001",
		AssetsDir:   "assets",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxMessageSize:    4096,
		MaxBodyBytes:      1 << 20,
		HistoryLimit:      1000,
		SubscriberBuffer:  DefaultSubscriberBuffer,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MetricsInterval:   time.Minute,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	cfg.Port = normalizePort(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}

	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaults.SubscriberBuffer
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// normalizePort turns a bare port number like "3000" into ":3000".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ""
	}
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}
	return port
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewViper returns a viper instance with every key defaulted and bound to its
// environment variable. Callers may bind flags or read a config file before
// passing it to ConfigFromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	d := defaultConfig()

	v.SetDefault(keyPort, d.Port)
	v.SetDefault(keyDesktopAddr, d.DesktopAddr)
	v.SetDefault(keyAdvertisedURL, d.AdvertisedURL)
	v.SetDefault(keyAssetsDir, d.AssetsDir)
	v.SetDefault(keyAllowedOrigins, strings.Join(d.AllowedOrigins, ","))
	v.SetDefault(keyMaxMessageSize, d.MaxMessageSize)
	v.SetDefault(keyMaxBodyBytes, d.MaxBodyBytes)
	v.SetDefault(keyHistoryLimit, d.HistoryLimit)
	v.SetDefault(keySubscriberBuffer, d.SubscriberBuffer)
	v.SetDefault(keyReadTimeout, d.ReadTimeout.String())
	v.SetDefault(keyWriteTimeout, d.WriteTimeout.String())
	v.SetDefault(keyShutdownTimeout, d.ShutdownTimeout.String())
	v.SetDefault(keyHeartbeatInterval, d.HeartbeatInterval.String())
	v.SetDefault(keyMetricsInterval, d.MetricsInterval.String())
	v.SetDefault(keyRateLimitBurst, d.RateLimit.Burst)
	v.SetDefault(keyRateLimitRefill, d.RateLimit.RefillInterval.String())

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// ConfigFromViper builds a sanitized Config from v. Values that fail to parse
// fall back to their defaults.
func ConfigFromViper(v *viper.Viper) *Config {
	d := defaultConfig()

	cfg := Config{
		Port:              v.GetString(keyPort),
		DesktopAddr:       strings.TrimSpace(v.GetString(keyDesktopAddr)),
		AdvertisedURL:     strings.TrimSpace(v.GetString(keyAdvertisedURL)),
		AssetsDir:         strings.TrimSpace(v.GetString(keyAssetsDir)),
		AllowedOrigins:    originsValue(v.Get(keyAllowedOrigins)),
		MaxMessageSize:    parseMaxMessageSize(v.GetString(keyMaxMessageSize), d.MaxMessageSize),
		MaxBodyBytes:      parseIntValue(v.GetString(keyMaxBodyBytes), d.MaxBodyBytes),
		HistoryLimit:      parseLimit(v.GetString(keyHistoryLimit), d.HistoryLimit),
		SubscriberBuffer:  parseIntValue(v.GetString(keySubscriberBuffer), d.SubscriberBuffer),
		ReadTimeout:       parseDuration(v.GetString(keyReadTimeout), d.ReadTimeout),
		WriteTimeout:      parseDuration(v.GetString(keyWriteTimeout), d.WriteTimeout),
		ShutdownTimeout:   parseDuration(v.GetString(keyShutdownTimeout), d.ShutdownTimeout),
		HeartbeatInterval: parseDuration(v.GetString(keyHeartbeatInterval), d.HeartbeatInterval),
		MetricsInterval:   parseDuration(v.GetString(keyMetricsInterval), d.MetricsInterval),
		RateLimit: RateLimitConfig{
			Burst:          parseIntValue(v.GetString(keyRateLimitBurst), d.RateLimit.Burst),
			RefillInterval: parseRefillInterval(v.GetString(keyRateLimitRefill), d.RateLimit.RefillInterval),
		},
	}

	cfg = sanitizeConfig(cfg)
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	return ConfigFromViper(NewViper())
}

// LoadConfig reads the YAML file at path, with environment variables taking
// precedence over it. An empty path behaves like NewConfigFromEnv.
func LoadConfig(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return ConfigFromViper(v), nil
}

// PublicURL returns the URL phones should open: AdvertisedURL when set,
// otherwise http://<lan-ip><port>/.
func (c Config) PublicURL() string {
	if c.AdvertisedURL != "" {
		return c.AdvertisedURL
	}
	host, port, err := net.SplitHostPort(c.Port)
	if err != nil {
		return "http://localhost" + c.Port + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = localIP()
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

// localIP returns the address of the interface used for outbound traffic. No
// packets are sent.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "localhost"
}

func originsValue(raw any) []string {
	switch v := raw.(type) {
	case string:
		return parseOrigins(v)
	case []string:
		return append([]string(nil), v...)
	case []any:
		origins := make([]string, 0, len(v))
		for _, o := range v {
			origins = append(origins, strings.TrimSpace(fmt.Sprint(o)))
		}
		return origins
	}
	return nil
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseLimit accepts zero, which means unlimited.
func parseLimit(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("15s") or whole seconds ("15").
// Zero disables the setting.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
