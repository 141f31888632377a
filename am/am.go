// Package am holds the core Kraken configuration.
package am

// Config represents the core Kraken configuration
type Config struct {
	Redis  RedisConfig  `mapstructure:"redis"`
	Server ServerConfig `mapstructure:"server"`
	Jobs   JobsConfig   `mapstructure:"jobs"`
	Log    LogConfig    `mapstructure:"log"`
}

// RedisConfig configures the backing Redis store. When Socket is set it
// takes precedence over Address.
type RedisConfig struct {
	Address  string `mapstructure:"address"`  // host:port (default: localhost:6380)
	Socket   string `mapstructure:"socket"`   // unix socket path (optional)
	Password string `mapstructure:"password"` // auth secret (optional)
	DB       int    `mapstructure:"db"`       // database index (default: 0)
}

// ServerConfig configures the Kraken HTTP/websocket server
type ServerConfig struct {
	Host           string   `mapstructure:"host"`            // bind host (default: 0.0.0.0)
	Port           int      `mapstructure:"port"`            // bind port (default: 8000)
	AllowedOrigins []string `mapstructure:"allowed_origins"` // CORS / websocket origins
}

// JobsConfig configures the async job runner.
//
// TimeoutSeconds is an addition over the historical behavior: when > 0 every
// job context carries a deadline and a job that outlives it resolves to
// status 500. Zero disables the deadline.
type JobsConfig struct {
	Workers        int `mapstructure:"workers"`         // concurrent job workers (default: 4)
	QueueSize      int `mapstructure:"queue_size"`      // pending submissions before rejection (default: 64)
	TimeoutSeconds int `mapstructure:"timeout_seconds"` // per-job deadline, 0 = none
}

// LogConfig configures logging output
type LogConfig struct {
	JSON  bool `mapstructure:"json"`  // JSON structured output instead of console
	Debug bool `mapstructure:"debug"` // enable debug level
}

// Default network and pool constants
const (
	DefaultServerPort = 8000
	DefaultRedisAddr  = "localhost:6380"

	DefaultJobWorkers   = 4
	DefaultJobQueueSize = 64
)
