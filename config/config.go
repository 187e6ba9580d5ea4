package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root of the service configuration tree. Values come
// from the YAML file, environment (DG_ prefix) and flags, in that
// order of increasing precedence.
type Config struct {
	Service Service  `mapstructure:"service"`
	Log     Log      `mapstructure:"log"`
	HTTP    HTTP     `mapstructure:"http"`
	PubSub  PubSub   `mapstructure:"pubsub"`
	Devices []Device `mapstructure:"devices"`
}

type Service struct {
	Name string `mapstructure:"name"`
}

type Log struct {
	Level string `mapstructure:"level"`

	// File enables rotated file logging next to stdout when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type HTTP struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PubSub struct {
	// Driver selects the event bus: "memory" (in-process, default) or
	// "amqp".
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// Device describes one managed instrument and its queue tuning.
type Device struct {
	Name    string `mapstructure:"name"`
	Driver  string `mapstructure:"driver"`
	Address string `mapstructure:"address"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	Queue     Queue     `mapstructure:"queue"`
	Reconnect Reconnect `mapstructure:"reconnect"`

	DefaultTimeout         time.Duration `mapstructure:"default_timeout"`
	MaxTransactionCommands int           `mapstructure:"max_transaction_commands"`
}

type Queue struct {
	HighCapacity   int `mapstructure:"high_capacity"`
	NormalCapacity int `mapstructure:"normal_capacity"`
	LowCapacity    int `mapstructure:"low_capacity"`
}

type Reconnect struct {
	Base         time.Duration `mapstructure:"base"`
	Max          time.Duration `mapstructure:"max"`
	MaxShift     int           `mapstructure:"max_shift"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// Flags returns the override flag set LoadConfig parses from the
// process arguments.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.String("config_file", "", "path to the configuration file")
	fs.String("http.addr", "", "HTTP listen address override")
	fs.String("log.level", "", "log level override")
	return fs
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/device-gateway")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("DG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service.name", "device-gateway-service")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("pubsub.driver", "memory")

	return v
}

// LoadConfig reads the tree. A missing config file is not an error
// unless configFile names it explicitly. When no device is configured a
// mock device is synthesized so the service comes up usable out of the
// box.
func LoadConfig(configFile string) (*Config, error) {
	v := newViper(configFile)

	// Flag overrides sit on top of file and environment. Unknown flags
	// belong to the CLI framework and are ignored here.
	fs := Flags()
	fs.ParseErrorsWhitelist.UnknownFlags = true
	_ = fs.Parse(os.Args[1:])
	_ = v.BindPFlags(fs)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if len(cfg.Devices) == 0 {
		cfg.Devices = []Device{{Name: "mock0", Driver: "mock", Address: "mock://0"}}
	}
	for i := range cfg.Devices {
		applyDeviceDefaults(&cfg.Devices[i])
	}

	// On file edits the new log level is copied into cfg.Log.Level. The
	// logger built at startup keeps the level it was created with.
	v.OnConfigChange(func(fsnotify.Event) {
		if lvl := v.GetString("log.level"); lvl != "" {
			cfg.Log.Level = lvl
		}
	})
	v.WatchConfig()

	return &cfg, nil
}

func applyDeviceDefaults(d *Device) {
	if d.Driver == "" {
		d.Driver = "mock"
	}
	if d.Queue.HighCapacity <= 0 {
		d.Queue.HighCapacity = 64
	}
	if d.Queue.NormalCapacity <= 0 {
		d.Queue.NormalCapacity = 256
	}
	if d.Queue.LowCapacity <= 0 {
		d.Queue.LowCapacity = 256
	}
	if d.Reconnect.Base <= 0 {
		d.Reconnect.Base = 250 * time.Millisecond
	}
	if d.Reconnect.Max <= 0 {
		d.Reconnect.Max = 30 * time.Second
	}
	if d.Reconnect.MaxShift <= 0 {
		d.Reconnect.MaxShift = 5
	}
	if d.Reconnect.PingInterval <= 0 {
		d.Reconnect.PingInterval = 30 * time.Second
	}
	if d.DefaultTimeout <= 0 {
		d.DefaultTimeout = 30 * time.Second
	}
	if d.MaxTransactionCommands <= 0 {
		d.MaxTransactionCommands = 32
	}
}
