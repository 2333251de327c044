package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/duocall/internal/domain"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	Backpressure string        `mapstructure:"backpressure"`
	LogLevel     string        `mapstructure:"log_level"`
	Peer         PeerConfig    `mapstructure:"peer"`
}

// PeerConfig is read by the headless peer client only.
type PeerConfig struct {
	SignalURL  string             `mapstructure:"signal_url"`
	ICEServers []string           `mapstructure:"ice_servers"`
	AutoAccept bool               `mapstructure:"auto_accept"`
	Audio      domain.AudioConfig `mapstructure:"audio"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev when unset).
// A missing file is not an error: defaults and DUOCALL_* variables still apply.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("DUOCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

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
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Str("addr", cfg.Addr()).
		Str("static", cfg.StaticPath).
		Str("backpressure", cfg.Backpressure).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := domain.DefaultAudioConfig()

	v.SetDefault("mode", "release")
	v.SetDefault("host", "")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "duocall-dev-secret")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("backpressure", "drop")
	v.SetDefault("log_level", "info")

	v.SetDefault("peer.signal_url", "ws://localhost:8080/ws")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("peer.auto_accept", false)
	v.SetDefault("peer.audio.echo_cancellation", def.EchoCancellation)
	v.SetDefault("peer.audio.noise_suppression", def.NoiseSuppression)
	v.SetDefault("peer.audio.sample_rate", def.SampleRate)
	v.SetDefault("peer.audio.channel_count", def.ChannelCount)
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Peer.Audio.SampleRate <= 0 || c.Peer.Audio.ChannelCount <= 0 {
		return fmt.Errorf("peer.audio: sample_rate and channel_count must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level is the zerolog level named by log_level. Validate has already checked it.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// PongWait is how long the relay waits for any inbound frame before dropping a connection.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}
