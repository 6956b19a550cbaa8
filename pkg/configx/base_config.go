package configx

import "time"

// Config - config interface.
type Config interface {
	GetServiceName() string
	GetVersion() string
	GetEnvironment() string
	GetServerConfig() *ServerConfig
	GetLoggingConfig() *LoggingConfig
	IsLocalEnvironment() bool
}

// BaseConfig - app config struct.
// This struct represents the base configuration for the application and is expected to be in the following YAML format:
/*
name: "gdp-backend"
environment: "local"
version: "1.0"
logging:
  level: "debug"
server:
  port: "5000"
  concurrency: 256
  disableStartupMsg: false
*/
type BaseConfig struct {
	Name        string         `mapstructure:"name"`
	Environment string         `mapstructure:"environment"`
	Version     string         `mapstructure:"version"`
	Logging     *LoggingConfig `mapstructure:"logging"`
	Server      *ServerConfig  `mapstructure:"server"`
}

type ServerConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  string `mapstructure:"port"`
	Concurrency           int    `mapstructure:"concurrency"`
	DisableStartupMessage bool   `mapstructure:"disableStartupMsg"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func (cfg BaseConfig) GetServiceName() string {
	return cfg.Name
}

func (cfg BaseConfig) GetVersion() string {
	return cfg.Version
}

func (cfg BaseConfig) GetEnvironment() string {
	return cfg.Environment
}

func (cfg BaseConfig) IsLocalEnvironment() bool {
	return checkIfLocalEnv(cfg.Environment)
}

func (cfg BaseConfig) GetServerConfig() *ServerConfig {
	return cfg.Server
}

func (cfg BaseConfig) GetLoggingConfig() *LoggingConfig {
	return cfg.Logging
}

// ServiceConfig is the full configuration of the backend.
// Everything reachable through the SSH tunnel is required; the service has no direct database mode.
type ServiceConfig struct {
	BaseConfig `mapstructure:",squash"`
	SSH        SSHConfig      `mapstructure:"ssh"`
	DB         DatabaseConfig `mapstructure:"db"`
	Tunnel     TunnelConfig   `mapstructure:"tunnel"`
	Audit      AuditConfig    `mapstructure:"audit"`
	Mail       MailConfig     `mapstructure:"mail"`
}

type SSHConfig struct {
	Host           string `mapstructure:"host" env:"SSH_HOST" validate:"required"`
	Port           int    `mapstructure:"port" env:"SSH_PORT" validate:"required,min=1,max=65535"`
	User           string `mapstructure:"user" env:"SSH_USER" validate:"required"`
	Password       string `mapstructure:"pass" env:"SSH_PASS" validate:"required"`
	PrivateKeyPath string `mapstructure:"pkey" env:"SSH_PKEY"`
	KeyPassphrase  string `mapstructure:"pkey_passphrase" env:"SSH_PKEY_PASSPHRASE"`
	KnownHostsPath string `mapstructure:"known_hosts" env:"SSH_KNOWN_HOSTS"`
}

type DatabaseConfig struct {
	Host           string        `mapstructure:"host" env:"DB_HOST" validate:"required"`
	Port           int           `mapstructure:"port" env:"DB_PORT" validate:"required,min=1,max=65535"`
	Name           string        `mapstructure:"name" env:"DB_NAME" validate:"required"`
	User           string        `mapstructure:"user" env:"DB_USER" validate:"required"`
	Password       string        `mapstructure:"password" env:"DB_PASSWORD" validate:"required"`
	PoolSize       int32         `mapstructure:"pool_size" env:"DB_POOL_SIZE" validate:"min=1"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" env:"DB_CONNECT_TIMEOUT"`
}

type TunnelConfig struct {
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval" env:"TUNNEL_WATCHDOG_INTERVAL"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval" env:"TUNNEL_PROBE_INTERVAL"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" env:"TUNNEL_PROBE_TIMEOUT"`
	KeepAlive        time.Duration `mapstructure:"keepalive" env:"TUNNEL_KEEPALIVE"`
}

type AuditConfig struct {
	RemoteDir string `mapstructure:"remote_dir" env:"AUDIT_REMOTE_DIR"`
}

type MailConfig struct {
	To           string   `mapstructure:"to" env:"MAIL_TO"`
	Bcc          []string `mapstructure:"bcc" env:"MAIL_BCC"`
	MarketingBcc []string `mapstructure:"marketing_bcc" env:"MAIL_MARKETING_BCC"`
	SharePoint   string   `mapstructure:"sharepoint_base" env:"MAIL_SHAREPOINT_BASE"`
}

// Defaults - values applied before the file and the environment are read.
func (cfg *ServiceConfig) Defaults() map[string]any {
	return map[string]any{
		"name":                     "gdp-backend",
		"environment":              "local",
		"logging.level":            "info",
		"server.host":              "127.0.0.1",
		"server.port":              "5000",
		"server.concurrency":       256 * 1024,
		"db.pool_size":             8,
		"db.connect_timeout":       "6s",
		"tunnel.watchdog_interval": "15s",
		"tunnel.probe_interval":    "250ms",
		"tunnel.probe_timeout":     "10s",
		"tunnel.keepalive":         "10s",
		"audit.remote_dir":         "/volume1/Production/DO-0006 LOGS TABLEAU PRODUCTION",
		"mail.to":                  "vmazurek@lecasierfrancais.fr",
		"mail.bcc": []string{
			"nmazurek@lecasierfrancais.fr",
			"jbdelefolly@lecasierfrancais.fr",
			"conseil@manuel-moutier.com",
			"tderache@lecasierfrancais.fr",
		},
		"mail.marketing_bcc":   []string{"communication@lecasierfrancais.fr", "hpoizot@lecasierfrancais.fr"},
		"mail.sharepoint_base": "https://lecasierfrancais.sharepoint.com/sites/Production/Documents%20partages/",
	}
}

// Validate reports every missing required key by its environment variable name.
func (cfg *ServiceConfig) Validate() error {
	return ValidateRequired(cfg)
}
