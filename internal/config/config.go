package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "RENTAL"

// Options는 설정 로딩 옵션입니다
type Options struct {
	// File overrides the search path when set; a missing file is then an error.
	File string
	// Env selects config.<env>.yaml ("production" maps to config.prod).
	Env string
	// EnvFiles are dotenv files loaded before the environment is read. Missing files are skipped.
	EnvFiles []string
	// SearchPaths defaults to ./config and ~/.rentalctl.
	SearchPaths []string
}

func Default() Config {
	return Config{
		API: API{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: 15 * time.Second,
		},
		Credentials: Credentials{
			Path: filepath.Join("~", ".rentalctl", "credentials.db"),
		},
		Session: Session{
			RememberFor:     30 * 24 * time.Hour,
			MaxFailedLogins: 5,
			LockoutDuration: 30 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		MockAPI: MockAPI{
			Addr:            "127.0.0.1:8000",
			Database:        "mockapi.db",
			Issuer:          "rental-mockapi",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			MaxFailedLogins: 5,
			LoginRatePerSec: 5,
			LoginBurst:      10,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("credentials.path", d.Credentials.Path)
	v.SetDefault("session.remember_for", d.Session.RememberFor)
	v.SetDefault("session.max_failed_logins", d.Session.MaxFailedLogins)
	v.SetDefault("session.lockout", d.Session.LockoutDuration)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("mockapi.addr", d.MockAPI.Addr)
	v.SetDefault("mockapi.database", d.MockAPI.Database)
	v.SetDefault("mockapi.jwt_secret", "")
	v.SetDefault("mockapi.issuer", d.MockAPI.Issuer)
	v.SetDefault("mockapi.access_ttl", d.MockAPI.AccessTTL)
	v.SetDefault("mockapi.refresh_ttl", d.MockAPI.RefreshTTL)
	v.SetDefault("mockapi.max_failed_logins", d.MockAPI.MaxFailedLogins)
	v.SetDefault("mockapi.login_rate_per_sec", d.MockAPI.LoginRatePerSec)
	v.SetDefault("mockapi.login_burst", d.MockAPI.LoginBurst)
}

// FileName returns the config file base name for an environment.
func FileName(env string) string {
	if env == "production" || env == "prod" {
		return "config.prod"
	}
	return "config.dev"
}

// Load는 기본값, 설정 파일, .env, 환경변수(RENTAL_*) 순으로 설정을 읽습니다
func Load(opts Options) (*Config, error) {
	log.Debug().Msgf("Loading configuration for environment: %s", envOrDefault(opts.Env))

	if err := loadDotenv(opts.EnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName(FileName(opts.Env))
		for _, p := range searchPaths(opts.SearchPaths) {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.path = v.ConfigFileUsed()
	if cfg.path != "" {
		log.Debug().Msgf("Config file loaded: %s", cfg.path)
	}

	path, err := expandHome(cfg.Credentials.Path)
	if err != nil {
		return nil, err
	}
	cfg.Credentials.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field by its config key.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.Credentials.Path == "" {
		return errors.New("credentials.path is required")
	}
	if c.Session.RememberFor <= 0 {
		return errors.New("session.remember_for must be positive")
	}
	if c.Session.MaxFailedLogins < 1 {
		return errors.New("session.max_failed_logins must be at least 1")
	}
	if c.Session.LockoutDuration < 0 {
		return errors.New("session.lockout must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateMockAPI checks the fields only the stand-in server reads.
func (c *Config) ValidateMockAPI() error {
	if c.MockAPI.Addr == "" {
		return errors.New("mockapi.addr is required")
	}
	if len(c.MockAPI.JWTSecret) < 16 {
		return errors.New("mockapi.jwt_secret must be at least 16 characters")
	}
	if c.MockAPI.AccessTTL <= 0 || c.MockAPI.RefreshTTL <= 0 {
		return errors.New("mockapi.access_ttl and mockapi.refresh_ttl must be positive")
	}
	if c.MockAPI.RefreshTTL <= c.MockAPI.AccessTTL {
		return errors.New("mockapi.refresh_ttl must be longer than mockapi.access_ttl")
	}
	if c.MockAPI.MaxFailedLogins < 1 {
		return errors.New("mockapi.max_failed_logins must be at least 1")
	}
	return nil
}

// SaveConfig는 설정을 YAML 파일에 저장합니다
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg.document())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	cfg.path = path

	log.Info().Msgf("Configuration saved to %s", path)
	return nil
}

// document mirrors Config with durations rendered as strings ("15s") so the
// written file reads back through viper unchanged.
type document struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Credentials Credentials `yaml:"credentials"`
	Session     struct {
		RememberFor     string `yaml:"remember_for"`
		MaxFailedLogins int    `yaml:"max_failed_logins"`
		Lockout         string `yaml:"lockout"`
	} `yaml:"session"`
	Log     Log `yaml:"log"`
	MockAPI struct {
		Addr            string  `yaml:"addr"`
		Database        string  `yaml:"database"`
		JWTSecret       string  `yaml:"jwt_secret,omitempty"`
		Issuer          string  `yaml:"issuer"`
		AccessTTL       string  `yaml:"access_ttl"`
		RefreshTTL      string  `yaml:"refresh_ttl"`
		MaxFailedLogins int     `yaml:"max_failed_logins"`
		LoginRatePerSec float64 `yaml:"login_rate_per_sec"`
		LoginBurst      int     `yaml:"login_burst"`
	} `yaml:"mockapi"`
}

func (c *Config) document() document {
	var d document
	d.API.BaseURL = c.API.BaseURL
	d.API.Timeout = c.API.Timeout.String()
	d.Credentials = c.Credentials
	d.Session.RememberFor = c.Session.RememberFor.String()
	d.Session.MaxFailedLogins = c.Session.MaxFailedLogins
	d.Session.Lockout = c.Session.LockoutDuration.String()
	d.Log = c.Log
	d.MockAPI.Addr = c.MockAPI.Addr
	d.MockAPI.Database = c.MockAPI.Database
	d.MockAPI.JWTSecret = c.MockAPI.JWTSecret
	d.MockAPI.Issuer = c.MockAPI.Issuer
	d.MockAPI.AccessTTL = c.MockAPI.AccessTTL.String()
	d.MockAPI.RefreshTTL = c.MockAPI.RefreshTTL.String()
	d.MockAPI.MaxFailedLogins = c.MockAPI.MaxFailedLogins
	d.MockAPI.LoginRatePerSec = c.MockAPI.LoginRatePerSec
	d.MockAPI.LoginBurst = c.MockAPI.LoginBurst
	return d
}

// RedactedYAML renders the effective configuration with secrets masked.
func (c *Config) RedactedYAML() ([]byte, error) {
	d := c.document()
	if d.MockAPI.JWTSecret != "" {
		d.MockAPI.JWTSecret = "********"
	}
	return yaml.Marshal(d)
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		// godotenv never overrides variables already present in the environment
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func searchPaths(paths []string) []string {
	if len(paths) > 0 {
		return paths
	}
	out := []string{"config"}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".rentalctl"))
	}
	return out
}

func expandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p[1:], string(filepath.Separator))), nil
	}
	return p, nil
}

func envOrDefault(env string) string {
	if env == "" {
		return "development"
	}
	return env
}
