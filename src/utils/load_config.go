package utils

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hendrywilliam/herald/src/structs"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	DiscordBotToken    string   `yaml:"token"`
	DiscordHTTPBaseURL string   `yaml:"http_base_url"`
	AllowInsecure      bool     `yaml:"allow_insecure"`
	Intents            []string `yaml:"intents"`
	Compress           bool     `yaml:"compress"`
	Debug              bool     `yaml:"debug"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`

	Shard      ShardConfig      `yaml:"shard"`
	Presence   PresenceConfig   `yaml:"presence"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
	Status     StatusConfig     `yaml:"status"`
}

type ShardConfig struct {
	Enabled bool `yaml:"enabled"`
	ID      int  `yaml:"id"`
	Count   int  `yaml:"count"` // 0 uses the recommended count
}

type PresenceConfig struct {
	Status     string           `yaml:"status"`
	Activities []ActivityConfig `yaml:"activities"`
}

type ActivityConfig struct {
	Name string `yaml:"name"`
	Type int    `yaml:"type"`
	URL  string `yaml:"url"`
}

type GatewayConfig struct {
	MaxReconnectAttempts uint64 `yaml:"max_reconnect_attempts"`
	LargeThreshold       int    `yaml:"large_threshold"`

	HandshakeTimeout    time.Duration `yaml:"-"`
	HeartbeatMargin     time.Duration `yaml:"-"`
	HandshakeTimeoutRaw string        `yaml:"handshake_timeout"`
	HeartbeatMarginRaw  string        `yaml:"heartbeat_margin"`
}

type CheckpointConfig struct {
	// Driver is one of none, memory, redis or sqlite.
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StatusConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

const (
	DefaultHTTPBaseURL = "https://discord.com/api/v10"
	CheckpointNone     = "none"
)

var checkpointDrivers = []string{CheckpointNone, "memory", "redis", "sqlite"}

func defaultConfig() AppConfig {
	return AppConfig{
		DiscordHTTPBaseURL: DefaultHTTPBaseURL,
		Intents:            []string{"guilds", "guild_messages"},
		RequestTimeoutRaw:  "30s",
		Presence: PresenceConfig{
			Status: structs.StatusOnline,
		},
		Gateway: GatewayConfig{
			MaxReconnectAttempts: 5,
			HandshakeTimeoutRaw:  "30s",
			HeartbeatMarginRaw:   "2s",
		},
		Checkpoint: CheckpointConfig{
			Driver:     CheckpointNone,
			SQLitePath: "data/herald.db",
			TTLRaw:     "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfiguration reads the optional YAML file at path, expands ${VAR}
// references, applies DC_* environment overrides and validates the
// result. An empty path loads defaults and environment only.
func LoadConfiguration(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or an
// empty string when unset.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *AppConfig) error {
	stringEnv := map[string]*string{
		"DC_BOT_TOKEN":         &cfg.DiscordBotToken,
		"DC_HTTP_BASE_URL":     &cfg.DiscordHTTPBaseURL,
		"DC_LOG_LEVEL":         &cfg.Logging.Level,
		"DC_LOG_FORMAT":        &cfg.Logging.Format,
		"DC_STATUS_ADDR":       &cfg.Status.Addr,
		"DC_STATUS_TOKEN":      &cfg.Status.Token,
		"DC_CHECKPOINT_DRIVER": &cfg.Checkpoint.Driver,
		"DC_REDIS_ADDR":        &cfg.Checkpoint.RedisAddr,
		"DC_REDIS_PASSWORD":    &cfg.Checkpoint.RedisPassword,
		"DC_SQLITE_PATH":       &cfg.Checkpoint.SQLitePath,
	}
	for k, v := range stringEnv {
		if val, ok := os.LookupEnv(k); ok {
			*v = val
		}
	}
	boolEnv := map[string]*bool{
		"DC_DEBUG":          &cfg.Debug,
		"DC_COMPRESS":       &cfg.Compress,
		"DC_ALLOW_INSECURE": &cfg.AllowInsecure,
	}
	for k, v := range boolEnv {
		val, ok := os.LookupEnv(k)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*v = b
	}
	if val, ok := os.LookupEnv("DC_INTENTS"); ok {
		cfg.Intents = splitList(val)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurations(cfg *AppConfig) error {
	durations := []struct {
		name string
		raw  string
		out  *time.Duration
	}{
		{"request_timeout", cfg.RequestTimeoutRaw, &cfg.RequestTimeout},
		{"gateway.handshake_timeout", cfg.Gateway.HandshakeTimeoutRaw, &cfg.Gateway.HandshakeTimeout},
		{"gateway.heartbeat_margin", cfg.Gateway.HeartbeatMarginRaw, &cfg.Gateway.HeartbeatMargin},
		{"checkpoint.ttl", cfg.Checkpoint.TTLRaw, &cfg.Checkpoint.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.out = v
	}
	return nil
}

// Validate returns the first problem found in the configuration.
func (c *AppConfig) Validate() error {
	if c.DiscordBotToken == "" {
		return errors.New("token is required (or set DC_BOT_TOKEN)")
	}
	if c.DiscordHTTPBaseURL == "" {
		return errors.New("http_base_url is required")
	}
	if _, err := c.ParsedIntents(); err != nil {
		return err
	}
	if c.Shard.ID < 0 || c.Shard.Count < 0 {
		return errors.New("shard.id and shard.count must not be negative")
	}
	if c.Shard.Count > 0 && c.Shard.ID >= c.Shard.Count {
		return fmt.Errorf("shard.id %d is out of range for %d shards", c.Shard.ID, c.Shard.Count)
	}
	if _, err := c.ParsedPresence(); err != nil {
		return err
	}
	if !slices.Contains(checkpointDrivers, c.Checkpoint.Driver) {
		return fmt.Errorf("checkpoint.driver must be one of %s", strings.Join(checkpointDrivers, ", "))
	}
	if c.Checkpoint.Driver == "redis" && c.Checkpoint.RedisAddr == "" {
		return errors.New("checkpoint.redis_addr is required for the redis driver")
	}
	if c.Checkpoint.Driver == "sqlite" && c.Checkpoint.SQLitePath == "" {
		return errors.New("checkpoint.sqlite_path is required for the sqlite driver")
	}
	return nil
}

func (c *AppConfig) ParsedIntents() ([]structs.Intent, error) {
	intents := make([]structs.Intent, 0, len(c.Intents))
	for _, name := range c.Intents {
		intent, err := structs.ParseIntent(name)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// ParsedPresence returns the presence sent with identify, or nil when
// no status is configured.
func (c *AppConfig) ParsedPresence() (*structs.Presence, error) {
	if c.Presence.Status == "" {
		return nil, nil
	}
	status, err := structs.ParseStatus(c.Presence.Status)
	if err != nil {
		return nil, fmt.Errorf("presence.status: %w", err)
	}
	activities := make([]structs.Activity, 0, len(c.Presence.Activities))
	for _, a := range c.Presence.Activities {
		if a.Name == "" {
			return nil, errors.New("presence.activities: name is required")
		}
		activities = append(activities, structs.Activity{Name: a.Name, Type: a.Type, URL: a.URL})
	}
	return structs.NewPresence(status, activities...), nil
}
