package am

import "github.com/spf13/viper"

// SetDefaults configures default values on a Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("redis.address", DefaultRedisAddr)
	v.SetDefault("redis.socket", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "https://localhost"})

	v.SetDefault("jobs.workers", DefaultJobWorkers)
	v.SetDefault("jobs.queue_size", DefaultJobQueueSize)
	v.SetDefault("jobs.timeout_seconds", 0)

	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
}
