package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	AppID     string        `mapstructure:"app_id"`
	AppSecret string        `mapstructure:"app_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	Profile    string   `mapstructure:"profile"`
	JoinRate   float64  `mapstructure:"join_rate"`
	JoinBurst  int      `mapstructure:"join_burst"`
	ICEServers []string `mapstructure:"ice_servers"`

	// DropLimit is how many events a slow page may drop before it is
	// disconnected. Zero disconnects on the first.
	DropLimit int `mapstructure:"drop_limit"`

	// Profiles overrides or adds demo profiles by name.
	Profiles map[string]Profile `mapstructure:"profiles"`
}

// Profile is one variant of the demo page.
type Profile struct {
	Camera         CameraProfile    `mapstructure:"camera"`
	AudioMuted     bool             `mapstructure:"audio_muted"`
	MaxSubscribers int              `mapstructure:"max_subscribers"`
	Mirrors        int              `mapstructure:"mirrors"`
	Encodings      domain.Encodings `mapstructure:"encodings"`
}

type CameraProfile struct {
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FrameRate int `mapstructure:"frame_rate"`
}

const (
	ProfileDual   = "dual"
	ProfileSingle = "single"
)

// DefaultProfiles are the two page variants. dual publishes a mirrored copy
// of every stream from a second context.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileDual: {
			Camera:         CameraProfile{Width: 320, Height: 240, FrameRate: 15},
			AudioMuted:     true,
			MaxSubscribers: 99,
			Mirrors:        1,
			Encodings: domain.Encodings{
				{ID: domain.EncodingLow, ScaleResolutionDownBy: 1.5, MaxBitrate: 1_000_000},
				{ID: domain.EncodingHigh, ScaleResolutionDownBy: 1, MaxBitrate: 3_000_000},
			},
		},
		ProfileSingle: {
			Camera:         CameraProfile{Width: 640, Height: 360, FrameRate: 30},
			AudioMuted:     false,
			MaxSubscribers: 10,
			Encodings: domain.Encodings{
				{ID: domain.EncodingLow, ScaleResolutionDownBy: 2, MaxBitrate: 200_000, MaxFramerate: 15},
				{ID: domain.EncodingHigh, ScaleResolutionDownBy: 1, MaxBitrate: 1_500_000},
			},
		},
	}
}

func (c *Config) ActiveProfile() (Profile, error) {
	if p, ok := c.Profiles[c.Profile]; ok {
		return p, p.Validate()
	}
	p, ok := DefaultProfiles()[c.Profile]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", c.Profile)
	}
	return p, nil
}

func (p Profile) Validate() error {
	if p.MaxSubscribers <= 0 {
		return fmt.Errorf("profile max_subscribers must be positive")
	}
	if p.Mirrors < 0 {
		return fmt.Errorf("profile mirrors must not be negative")
	}
	return p.Encodings.Validate()
}

func (c *Config) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("RELAY")
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
	if _, err := cfg.ActiveProfile(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("profile", cfg.Profile).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("app_id", "relay-demo")
	v.SetDefault("app_secret", "")
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("profile", ProfileDual)
	v.SetDefault("join_rate", 0.5)
	v.SetDefault("join_burst", 3)
	v.SetDefault("drop_limit", 0)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
}
