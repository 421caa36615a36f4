package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Secret       string        `mapstructure:"secret"`

	Media  MediaConfig  `mapstructure:"media"`
	Rooms  RoomsConfig  `mapstructure:"rooms"`
	Signal SignalConfig `mapstructure:"signal"`
}

type MediaConfig struct {
	Workers       int           `mapstructure:"workers"`
	RtcMinPort    uint16        `mapstructure:"rtc_min_port"`
	RtcMaxPort    uint16        `mapstructure:"rtc_max_port"`
	ListenIP      string        `mapstructure:"listen_ip"`
	AnnouncedIP   string        `mapstructure:"announced_ip"`
	ICEServers    []string      `mapstructure:"ice_servers"`
	EngineTimeout time.Duration `mapstructure:"engine_timeout"`
}

// RoomsConfig drives the inactive room sweeper.
type RoomsConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SignalConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	CreateLimit    int           `mapstructure:"create_limit"`
	CreateInterval time.Duration `mapstructure:"create_interval"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, then STREAM_* environment
// variables, then command line flags. Later sources win.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("mode", "release", "gin mode: debug or release")
	fs.Int("workers", runtime.NumCPU(), "number of media workers")
	configFile := fs.String("config", "", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	fileName := *configFile
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("STREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{"port": "port", "mode": "mode", "media.workers": "workers"} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Int("workers", cfg.Media.Workers).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("secret", "")

	v.SetDefault("media.workers", runtime.NumCPU())
	v.SetDefault("media.rtc_min_port", 10000)
	v.SetDefault("media.rtc_max_port", 10100)
	v.SetDefault("media.listen_ip", "0.0.0.0")
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.ice_servers", []string{})
	v.SetDefault("media.engine_timeout", "15s")

	v.SetDefault("rooms.max_age", "24h")
	v.SetDefault("rooms.sweep_interval", "5m")

	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.create_limit", 5)
	v.SetDefault("signal.create_interval", "1m")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Media.Workers < 1 {
		errs = append(errs, fmt.Errorf("media.workers must be at least 1, got %d", c.Media.Workers))
	}
	if c.Media.RtcMinPort > c.Media.RtcMaxPort {
		errs = append(errs, fmt.Errorf("media.rtc_min_port %d above media.rtc_max_port %d", c.Media.RtcMinPort, c.Media.RtcMaxPort))
	}
	if c.Media.EngineTimeout <= 0 {
		errs = append(errs, errors.New("media.engine_timeout must be positive"))
	}
	if c.Rooms.SweepInterval <= 0 {
		errs = append(errs, errors.New("rooms.sweep_interval must be positive"))
	}
	if c.Signal.SendBuffer < 1 {
		errs = append(errs, errors.New("signal.send_buffer must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
