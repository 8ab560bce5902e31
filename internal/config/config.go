package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the navigation core.
type Config struct {
	GPS        GPSConfig        `mapstructure:"gps"`
	Compass    CompassConfig    `mapstructure:"compass"`
	SBUS       SBUSConfig       `mapstructure:"sbus"`
	Endpoint   EndpointConfig   `mapstructure:"endpoint"`
	Guidance   GuidanceConfig   `mapstructure:"guidance"`
	Mission    MissionConfig    `mapstructure:"mission"`
	FlightLog  FlightLogConfig  `mapstructure:"flight_log"`
	KillSwitch KillSwitchConfig `mapstructure:"kill_switch"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// GPSConfig contains NMEA serial settings.
type GPSConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

// CompassConfig contains IST8310 I2C settings.
type CompassConfig struct {
	I2CBus      string  `mapstructure:"i2c_bus"`
	MountOffset float64 `mapstructure:"mount_offset_deg"`
}

// SBUSConfig contains the pilot/actuator serial link settings.
type SBUSConfig struct {
	Port                string `mapstructure:"port"`
	PilotInactiveMillis int    `mapstructure:"pilot_inactive_millis"`
}

// EndpointConfig contains the command/telemetry TCP server settings.
type EndpointConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	ReadTimeoutMillis int    `mapstructure:"read_timeout_millis"`
	JWTSigningKeyPath string `mapstructure:"jwt_signing_key_path"`
}

// GuidanceConfig contains the proportional steering gains.
// Gains are hot-reloadable; everything else in Config requires a restart.
type GuidanceConfig struct {
	KLat float64 `mapstructure:"k_lat"`
	KLon float64 `mapstructure:"k_lon"`
	KAlt float64 `mapstructure:"k_alt"`
	KYaw float64 `mapstructure:"k_yaw"`
}

// MissionConfig contains the waypoint mission scheduler settings.
type MissionConfig struct {
	Dir string `mapstructure:"dir"`
}

// FlightLogConfig contains the black-box recorder settings.
type FlightLogConfig struct {
	Path         string `mapstructure:"path"`
	EncryptKeyHex string `mapstructure:"encrypt_key_hex"`
	MQTTBroker   string `mapstructure:"mqtt_broker"`
}

// KillSwitchConfig contains the physical abort button/LED GPIO pins.
type KillSwitchConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	ButtonPin int  `mapstructure:"button_pin"`
	LEDPin    int  `mapstructure:"led_pin"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// GainsChangedFunc is invoked with the reloaded gains after a hot config reload.
type GainsChangedFunc func(GuidanceConfig)

var hotMu sync.Mutex

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("DRONENAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// WatchGains hot-reloads the guidance gains whenever the backing config
// file changes on disk, without touching any other setting (the
// pilot-inactivity window included). Safe to call with an empty configPath (no-op then).
func WatchGains(configPath string, onChange GainsChangedFunc) error {
	if configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for event := range watcher.Events {
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			hotMu.Lock()
			cfg, err := Load(configPath)
			hotMu.Unlock()
			if err != nil {
				continue
			}
			onChange(cfg.Guidance)
		}
	}()

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gps.port", "/dev/serial0")
	v.SetDefault("gps.baud_rate", 115200)

	v.SetDefault("compass.i2c_bus", "/dev/i2c-1")
	v.SetDefault("compass.mount_offset_deg", 0.0)

	v.SetDefault("sbus.port", "/dev/ttyAMA1")
	v.SetDefault("sbus.pilot_inactive_millis", 5000)

	v.SetDefault("endpoint.host", "0.0.0.0")
	v.SetDefault("endpoint.port", 1337)
	v.SetDefault("endpoint.read_timeout_millis", 10000)
	v.SetDefault("endpoint.jwt_signing_key_path", "")

	v.SetDefault("guidance.k_lat", 66.0)
	v.SetDefault("guidance.k_lon", 66.0)
	v.SetDefault("guidance.k_alt", 33.0)
	v.SetDefault("guidance.k_yaw", 7.33)

	v.SetDefault("mission.dir", "./missions")

	v.SetDefault("flight_log.path", "./data/flightlog.db")
	v.SetDefault("flight_log.encrypt_key_hex", "")
	v.SetDefault("flight_log.mqtt_broker", "")

	v.SetDefault("kill_switch.enabled", false)
	v.SetDefault("kill_switch.button_pin", 0)
	v.SetDefault("kill_switch.led_pin", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.dir", "./logs")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 7)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".dronenav")
}
