package types

import (
	"time"
)

// AppConfig is the root configuration for the relay gateway
type AppConfig struct {
	DebugMode  bool `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool `key:"prettyLogs" json:"pretty_logs"`

	Database DatabaseConfig `key:"database" json:"database"`
	Gateway  GatewayConfig  `key:"gateway" json:"gateway"`
	Provider ProviderConfig `key:"provider" json:"provider"`
	Sandbox  SandboxConfig  `key:"sandbox" json:"sandbox"`
	Chat     ChatConfig     `key:"chat" json:"chat"`
}

// IsLocalMode reports whether the gateway runs without Redis and Postgres,
// using in-memory stores instead.
func (c *AppConfig) IsLocalMode() bool {
	return len(c.Database.Redis.Addrs) == 0
}

// ----------------------------------------------------------------------------
// Database Configuration
// ----------------------------------------------------------------------------

type DatabaseConfig struct {
	Redis    RedisConfig    `key:"redis" json:"redis"`
	Postgres PostgresConfig `key:"postgres" json:"postgres"`
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode            RedisMode     `key:"mode" json:"mode"`
	Addrs           []string      `key:"addrs" json:"addrs"`
	Username        string        `key:"username" json:"username"`
	Password        string        `key:"password" json:"password"`
	ClientName      string        `key:"clientName" json:"client_name"`
	EnableTLS       bool          `key:"enableTLS" json:"enable_tls"`
	PoolSize        int           `key:"poolSize" json:"pool_size"`
	MinIdleConns    int           `key:"minIdleConns" json:"min_idle_conns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
	DialTimeout     time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout     time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout    time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRetries      int           `key:"maxRetries" json:"max_retries"`
}

type PostgresConfig struct {
	Host            string        `key:"host" json:"host"`
	Port            int           `key:"port" json:"port"`
	User            string        `key:"user" json:"user"`
	Password        string        `key:"password" json:"password"`
	Database        string        `key:"database" json:"database"`
	SSLMode         string        `key:"sslMode" json:"ssl_mode"`
	MaxOpenConns    int           `key:"maxOpenConns" json:"max_open_conns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
}

// ----------------------------------------------------------------------------
// Gateway Configuration
// ----------------------------------------------------------------------------

type GatewayConfig struct {
	HTTP            HTTPConfig    `key:"http" json:"http"`
	AuthToken       string        `key:"authToken" json:"auth_token"` // cluster admin token
	JWTSecret       string        `key:"jwtSecret" json:"jwt_secret"`
	ShutdownTimeout time.Duration `key:"shutdownTimeout" json:"shutdown_timeout"`
}

type HTTPConfig struct {
	Host             string     `key:"host" json:"host"`
	Port             int        `key:"port" json:"port"`
	EnablePrettyLogs bool       `key:"enablePrettyLogs" json:"enable_pretty_logs"`
	CORS             CORSConfig `key:"cors" json:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `key:"allowOrigins" json:"allowed_origins"`
	AllowedHeaders []string `key:"allowHeaders" json:"allowed_headers"`
	AllowedMethods []string `key:"allowMethods" json:"allowed_methods"`
}

// ----------------------------------------------------------------------------
// Model Provider Configuration
// ----------------------------------------------------------------------------

type ProviderConfig struct {
	BaseURL        string        `key:"baseUrl" json:"base_url"`
	APIKey         string        `key:"apiKey" json:"api_key"`
	Model          string        `key:"model" json:"model"`
	MaxTokens      int           `key:"maxTokens" json:"max_tokens"`
	Temperature    float64       `key:"temperature" json:"temperature"`
	RequestTimeout time.Duration `key:"requestTimeout" json:"request_timeout"`
}

// ----------------------------------------------------------------------------
// Sandbox Configuration
// ----------------------------------------------------------------------------

// SandboxConfig configures the remote execution service and lifecycle policy.
type SandboxConfig struct {
	ServiceURL     string        `key:"serviceUrl" json:"service_url"`
	APIKey         string        `key:"apiKey" json:"api_key"`
	Template       string        `key:"template" json:"template"` // default sandbox template
	SandboxTimeout time.Duration `key:"sandboxTimeout" json:"sandbox_timeout"`
	ExecTimeout    time.Duration `key:"execTimeout" json:"exec_timeout"`
	RecordWindow   time.Duration `key:"recordWindow" json:"record_window"`  // persistent record freshness window
	PausePollMax   int           `key:"pausePollMax" json:"pause_poll_max"` // bounded wait on a pausing record
	PausePollDelay time.Duration `key:"pausePollDelay" json:"pause_poll_delay"`
}

// ----------------------------------------------------------------------------
// Chat / Orchestration Configuration
// ----------------------------------------------------------------------------

type ChatConfig struct {
	MaxLoops        int             `key:"maxLoops" json:"max_loops"` // tool-call iteration cap
	RateLimit       RateLimitConfig `key:"rateLimit" json:"rate_limit"`
	SearchEndpoint  string          `key:"searchEndpoint" json:"search_endpoint"`
	BrowseEndpoint  string          `key:"browseEndpoint" json:"browse_endpoint"`
	RequirePremium  bool            `key:"requirePremium" json:"require_premium"`
	DispatchTimeout time.Duration   `key:"dispatchTimeout" json:"dispatch_timeout"`
}

type RateLimitConfig struct {
	Enabled bool          `key:"enabled" json:"enabled"`
	Limit   int           `key:"limit" json:"limit"`
	Window  time.Duration `key:"window" json:"window"`
}
