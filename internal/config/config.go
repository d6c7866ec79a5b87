package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Location  LocationConfig  `mapstructure:"location"`
	Phone     PhoneConfig     `mapstructure:"phone"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Geofences []Region        `mapstructure:"geofences"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

type ServerConfig struct {
	Port   string `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

type StorageConfig struct {
	ContactsPath string `mapstructure:"contacts_path"`
	QueuePath    string `mapstructure:"queue_path"`
	FlagsPath    string `mapstructure:"flags_path"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AlertConfig struct {
	LocationTimeout time.Duration `mapstructure:"location_timeout"`
	CallDelay       time.Duration `mapstructure:"call_delay"`
	KeyCooldown     time.Duration `mapstructure:"key_cooldown"`
}

type LocationConfig struct {
	// MaxAge rejects last known fixes older than this. Zero accepts any age.
	MaxAge time.Duration `mapstructure:"max_age"`
}

type PhoneConfig struct {
	CountryCode    string `mapstructure:"country_code"`
	NationalDigits int    `mapstructure:"national_digits"`
}

type SchedulerConfig struct {
	Backend     string      `mapstructure:"backend"` // "local" or "asynq"
	Queue       string      `mapstructure:"queue"`
	Timezone    string      `mapstructure:"timezone"`
	Concurrency int         `mapstructure:"concurrency"`
	Redis       RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Region struct {
	ID        string  `mapstructure:"id" json:"id"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude"`
	Longitude float64 `mapstructure:"longitude" json:"longitude"`
	RadiusM   float64 `mapstructure:"radius_m" json:"radius_m"`
}

type MessagesConfig struct {
	Alert           string `mapstructure:"alert"`
	BatteryWarning  string `mapstructure:"battery_warning"`
	BatteryCritical string `mapstructure:"battery_critical"`
	GeofenceExit    string `mapstructure:"geofence_exit"`
}

// LinkPlaceholder marks where the maps link goes in a message template.
const LinkPlaceholder = "{link}"

const (
	BackendLocal = "local"
	BackendAsynq = "asynq"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.api_key", "")

	v.SetDefault("storage.contacts_path", "data/contacts.json")
	v.SetDefault("storage.queue_path", "data/queue.json")
	v.SetDefault("storage.flags_path", "data/flags.db")

	v.SetDefault("gateway.base_url", "http://127.0.0.1:8787")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "10s")

	v.SetDefault("alert.location_timeout", "30s")
	v.SetDefault("alert.call_delay", "10s")
	v.SetDefault("alert.key_cooldown", "1s")

	v.SetDefault("location.max_age", "0s")

	v.SetDefault("phone.country_code", "40")
	v.SetDefault("phone.national_digits", 9)

	v.SetDefault("scheduler.backend", BackendLocal)
	v.SetDefault("scheduler.queue", "scheduled_message")
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.concurrency", 2)
	v.SetDefault("scheduler.redis.addr", "localhost:6379")
	v.SetDefault("scheduler.redis.password", "")
	v.SetDefault("scheduler.redis.db", 0)

	v.SetDefault("geofences", []map[string]any{
		{"id": "geofence_1", "latitude": 46.5468909, "longitude": 24.569034, "radius_m": 500.0},
		{"id": "geofence_2", "latitude": 46.5550472, "longitude": 24.5733633, "radius_m": 500.0},
	})

	v.SetDefault("messages.alert", "Emergency! Location: {link}")
	v.SetDefault("messages.battery_warning", "Warning! My battery is almost empty (10%)!")
	v.SetDefault("messages.battery_critical", "My battery will run out soon (3%)! Location: {link}")
	v.SetDefault("messages.geofence_exit", "You have left the monitored area!")
}

// LoadConfig reads the YAML file at path and overlays SAFEALERT_* environment
// variables. A missing file leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SAFEALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Scheduler.Backend {
	case BackendLocal, BackendAsynq:
	default:
		return fmt.Errorf("unknown scheduler backend %q", c.Scheduler.Backend)
	}
	if c.Alert.LocationTimeout <= 0 {
		return fmt.Errorf("alert.location_timeout must be positive")
	}
	if c.Phone.NationalDigits <= 0 {
		return fmt.Errorf("phone.national_digits must be positive")
	}
	if !strings.Contains(c.Messages.Alert, LinkPlaceholder) || !strings.Contains(c.Messages.BatteryCritical, LinkPlaceholder) {
		return fmt.Errorf("messages.alert and messages.battery_critical must contain %s", LinkPlaceholder)
	}
	return nil
}

// Location resolves the scheduler timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}
	return loc, nil
}
