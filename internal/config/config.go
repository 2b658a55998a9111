// Package config loads bridge configuration from an optional YAML file with
// environment-variable overrides. Environment wins over file so container
// deployments can inject credentials without rewriting the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"homeboxbridge/internal/homebox"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or bare integers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// HomeboxConfig configures the connection to the Homebox server.
type HomeboxConfig struct {
	Host           string   `yaml:"host"`
	UseHTTPS       bool     `yaml:"use_https"`
	AuthMethod     string   `yaml:"auth_method"`
	Token          string   `yaml:"token"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	PollInterval   Duration `yaml:"poll_interval"`
	TokenTTL       Duration `yaml:"token_ttl"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// BaseURL builds the scheme://host base for API calls.
func (c HomeboxConfig) BaseURL() string {
	scheme := "http"
	if c.UseHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Host)
}

// HomeAssistantConfig configures the Home Assistant adapter. URL is the
// plain HTTP base; the websocket endpoint is derived from it.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// APIConfig configures the local HTTP API surface. An empty Token leaves
// the API open, for trusted-network deployments.
type APIConfig struct {
	Port           int     `yaml:"port"`
	Token          string  `yaml:"token"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Config is the full bridge configuration.
type Config struct {
	Homebox       HomeboxConfig       `yaml:"homebox"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	API           APIConfig           `yaml:"api"`
}

// Load reads the YAML file at path (missing file is fine: env-only setups),
// applies environment overrides and defaults, and validates.
func Load(path string, logger *zap.Logger) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			logger.Info("No config file found, using environment only", zap.String("path", path))
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			logger.Info("Config file loaded", zap.String("path", path))
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Homebox.Host, "HOMEBOX_HOST")
	setBool(&cfg.Homebox.UseHTTPS, "HOMEBOX_USE_HTTPS")
	setString(&cfg.Homebox.AuthMethod, "HOMEBOX_AUTH_METHOD")
	setString(&cfg.Homebox.Token, "HOMEBOX_TOKEN")
	setString(&cfg.Homebox.Username, "HOMEBOX_USERNAME")
	setString(&cfg.Homebox.Password, "HOMEBOX_PASSWORD")
	setDuration(&cfg.Homebox.PollInterval, "HOMEBOX_POLL_INTERVAL")
	setDuration(&cfg.Homebox.TokenTTL, "HOMEBOX_TOKEN_TTL")
	setDuration(&cfg.Homebox.RequestTimeout, "HOMEBOX_REQUEST_TIMEOUT")
	setString(&cfg.HomeAssistant.URL, "HA_URL")
	setString(&cfg.HomeAssistant.Token, "HA_TOKEN")
	setInt(&cfg.API.Port, "API_PORT")
	setString(&cfg.API.Token, "API_TOKEN")
}

func applyDefaults(cfg *Config) {
	if cfg.Homebox.AuthMethod == "" {
		cfg.Homebox.AuthMethod = homebox.AuthMethodToken
	}
	if cfg.Homebox.PollInterval <= 0 {
		cfg.Homebox.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Homebox.TokenTTL <= 0 {
		cfg.Homebox.TokenTTL = Duration(55 * time.Minute)
	}
	if cfg.Homebox.RequestTimeout <= 0 {
		cfg.Homebox.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8093
	}
	if cfg.API.RateLimitRPS <= 0 {
		cfg.API.RateLimitRPS = 5
	}
	if cfg.API.RateLimitBurst <= 0 {
		cfg.API.RateLimitBurst = 10
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Homebox.Host == "" {
		return fmt.Errorf("homebox.host must be set")
	}
	switch c.Homebox.AuthMethod {
	case homebox.AuthMethodToken:
		if c.Homebox.Token == "" {
			return fmt.Errorf("homebox.token must be set when auth_method is %q", homebox.AuthMethodToken)
		}
	case homebox.AuthMethodLogin:
		if c.Homebox.Username == "" || c.Homebox.Password == "" {
			return fmt.Errorf("homebox.username and homebox.password must be set when auth_method is %q", homebox.AuthMethodLogin)
		}
	default:
		return fmt.Errorf("homebox.auth_method must be %q or %q, got %q",
			homebox.AuthMethodToken, homebox.AuthMethodLogin, c.Homebox.AuthMethod)
	}
	return nil
}

// Credentials converts the Homebox section into auth manager credentials.
func (c *Config) Credentials() homebox.Credentials {
	return homebox.Credentials{
		Method:   c.Homebox.AuthMethod,
		Token:    c.Homebox.Token,
		Username: c.Homebox.Username,
		Password: c.Homebox.Password,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
