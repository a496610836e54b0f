package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. RTMPTRANSCRIBE_SOURCE_RTMP_URL
const EnvPrefix = "RTMPTRANSCRIBE"

const redacted = "********"

// Config represents the complete service configuration
type Config struct {
	Source      SourceConfig      `mapstructure:"source" yaml:"source"`
	Transcoder  TranscoderConfig  `mapstructure:"transcoder" yaml:"transcoder"`
	Audio       AudioConfig       `mapstructure:"audio" yaml:"audio"`
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// SourceConfig describes where audio comes from
type SourceConfig struct {
	RTMPURL  string `mapstructure:"rtmp_url" yaml:"rtmp_url" validate:"required,url"`
	PipePath string `mapstructure:"pipe_path" yaml:"pipe_path" validate:"required"`
}

// TranscoderConfig contains ffmpeg invocation parameters
type TranscoderConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary" validate:"required"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=quiet panic fatal error warning info verbose debug trace"`
	ExtraArgs   []string      `mapstructure:"extra_args" yaml:"extra_args"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"` // 0 waits forever for the first byte
}

// AudioConfig contains PCM parameters
type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=8000,max=48000"`
	Channels   int    `mapstructure:"channels" yaml:"channels" validate:"eq=1"`
	ChunkSize  int    `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0"` // bytes per read
	RecordPath string `mapstructure:"record_path" yaml:"record_path"`               // optional WAV capture
}

// RecognitionConfig contains Google Speech-to-Text parameters
type RecognitionConfig struct {
	LanguageCode             string   `mapstructure:"language_code" yaml:"language_code" validate:"required,bcp47_language_tag"`
	AlternativeLanguageCodes []string `mapstructure:"alternative_language_codes" yaml:"alternative_language_codes" validate:"max=3,dive,bcp47_language_tag"`
	Model                    string   `mapstructure:"model" yaml:"model"`
	InterimResults           bool     `mapstructure:"interim_results" yaml:"interim_results"`
	AutomaticPunctuation     bool     `mapstructure:"automatic_punctuation" yaml:"automatic_punctuation"`
	ProfanityFilter          bool     `mapstructure:"profanity_filter" yaml:"profanity_filter"`
	CredentialsFile          string   `mapstructure:"credentials_file" yaml:"credentials_file"`
	APIKey                   string   `mapstructure:"api_key" yaml:"api_key"`
	QuotaProject             string   `mapstructure:"quota_project" yaml:"quota_project"`
	Endpoint                 string   `mapstructure:"endpoint" yaml:"endpoint"`
}

// SessionConfig contains session control parameters
type SessionConfig struct {
	ExitKeywords []string      `mapstructure:"exit_keywords" yaml:"exit_keywords" validate:"min=1"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// HTTPConfig contains status server configuration
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
	Output     string `mapstructure:"output" yaml:"output" validate:"required"` // stdout, stderr or a file path
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// flagKeys maps command-line flags onto config keys
var flagKeys = map[string]string{
	"rtmp-url":  "source.rtmp_url",
	"pipe":      "source.pipe_path",
	"language":  "recognition.language_code",
	"record":    "audio.record_path",
	"log-level": "logging.level",
}

// SetDefaults registers the default value of every key. Keys must be known to
// viper for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.rtmp_url", "")
	v.SetDefault("source.pipe_path", "rtmpOutputPipe")

	v.SetDefault("transcoder.binary", "ffmpeg")
	v.SetDefault("transcoder.log_level", "error")
	v.SetDefault("transcoder.extra_args", []string{})
	v.SetDefault("transcoder.stop_timeout", 5*time.Second)
	v.SetDefault("transcoder.open_timeout", 30*time.Second)

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.chunk_size", 4096)
	v.SetDefault("audio.record_path", "")

	v.SetDefault("recognition.language_code", "en-US")
	v.SetDefault("recognition.alternative_language_codes", []string{})
	v.SetDefault("recognition.model", "")
	v.SetDefault("recognition.interim_results", true)
	v.SetDefault("recognition.automatic_punctuation", false)
	v.SetDefault("recognition.profanity_filter", false)
	v.SetDefault("recognition.credentials_file", "")
	v.SetDefault("recognition.api_key", "")
	v.SetDefault("recognition.quota_project", "")
	v.SetDefault("recognition.endpoint", "")

	v.SetDefault("session.exit_keywords", []string{"exit", "quit"})
	v.SetDefault("session.drain_timeout", 10*time.Second)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.address", "127.0.0.1")
	v.SetDefault("http.port", 9090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

// Load builds the configuration from defaults, the optional YAML file at path,
// RTMPTRANSCRIBE_* environment variables and any changed flags, in increasing
// order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// RegisterFlags adds the command-line overrides understood by Load
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("rtmp-url", "", "RTMP stream to transcribe (source.rtmp_url)")
	flags.String("pipe", "", "named pipe the transcoder writes PCM into (source.pipe_path)")
	flags.String("language", "", "BCP-47 recognition language (recognition.language_code)")
	flags.String("record", "", "also record the captured audio to this WAV file (audio.record_path)")
	flags.String("log-level", "", "log level: debug, info, warn, error (logging.level)")
}

var validate = validator.New()

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Transcoder.Validate(); err != nil {
		return fmt.Errorf("transcoder config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}

	u, err := url.Parse(s.RTMPURL)
	if err != nil {
		return fmt.Errorf("invalid rtmp_url: %w", err)
	}
	switch u.Scheme {
	case "rtmp", "rtmps", "rtmpt", "rtmpe", "rtmpte", "rtmpts":
	default:
		return fmt.Errorf("rtmp_url must use an rtmp scheme, got '%s'", u.Scheme)
	}

	return nil
}

// Validate validates transcoder configuration
func (t *TranscoderConfig) Validate() error {
	if err := validate.Struct(t); err != nil {
		return err
	}

	if t.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %s", t.StopTimeout)
	}

	if t.OpenTimeout < 0 {
		return fmt.Errorf("open_timeout cannot be negative, got %s", t.OpenTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if err := validate.Struct(a); err != nil {
		return err
	}

	if a.ChunkSize%2 != 0 {
		return fmt.Errorf("chunk_size must hold whole 16-bit samples, got %d bytes", a.ChunkSize)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}

	if r.CredentialsFile != "" && r.APIKey != "" {
		return fmt.Errorf("credentials_file and api_key are mutually exclusive")
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}

	for _, k := range s.ExitKeywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("exit_keywords cannot contain blank entries")
		}
	}

	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %s", s.DrainTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	return validate.Struct(l)
}

// ListenAddress returns the status server host:port
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// YAML renders the effective configuration. Secrets are masked when redact is set.
func (c *Config) YAML(redact bool) ([]byte, error) {
	out := *c
	if redact && out.Recognition.APIKey != "" {
		out.Recognition.APIKey = redacted
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}
