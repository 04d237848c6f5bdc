package config

import "time"

type Config struct {
	API         API         `mapstructure:"api" json:"api" yaml:"api"`
	Credentials Credentials `mapstructure:"credentials" json:"credentials" yaml:"credentials"`
	Session     Session     `mapstructure:"session" json:"session" yaml:"session"`
	Log         Log         `mapstructure:"log" json:"log" yaml:"log"`
	MockAPI     MockAPI     `mapstructure:"mockapi" json:"mockapi" yaml:"mockapi"`

	path string
}

type API struct {
	BaseURL string        `mapstructure:"base_url" json:"baseUrl" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type Credentials struct {
	// Path of the sqlite file holding remember-me cookies.
	Path string `mapstructure:"path" json:"path" yaml:"path"`
}

type Session struct {
	RememberFor     time.Duration `mapstructure:"remember_for" json:"rememberFor" yaml:"remember_for"`
	MaxFailedLogins int           `mapstructure:"max_failed_logins" json:"maxFailedLogins" yaml:"max_failed_logins"`
	LockoutDuration time.Duration `mapstructure:"lockout" json:"lockout" yaml:"lockout"`
}

type Log struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

type MockAPI struct {
	Addr            string        `mapstructure:"addr" json:"addr" yaml:"addr"`
	Database        string        `mapstructure:"database" json:"database" yaml:"database"`
	JWTSecret       string        `mapstructure:"jwt_secret" json:"-" yaml:"jwt_secret"`
	Issuer          string        `mapstructure:"issuer" json:"issuer" yaml:"issuer"`
	AccessTTL       time.Duration `mapstructure:"access_ttl" json:"accessTtl" yaml:"access_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl" json:"refreshTtl" yaml:"refresh_ttl"`
	MaxFailedLogins int           `mapstructure:"max_failed_logins" json:"maxFailedLogins" yaml:"max_failed_logins"`
	LoginRatePerSec float64       `mapstructure:"login_rate_per_sec" json:"loginRatePerSec" yaml:"login_rate_per_sec"`
	LoginBurst      int           `mapstructure:"login_burst" json:"loginBurst" yaml:"login_burst"`
}

// Path returns the config file the values were read from, or "" when only defaults and env were used.
func (c *Config) Path() string {
	return c.path
}
