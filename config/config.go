package config

// Config contains all application settings
type Config struct {
	BindPort      int    `mapstructure:"PORT" yaml:"port"`
	BindHost      string `mapstructure:"HOST" yaml:"host"`
	DatabaseURL   string `mapstructure:"DATABASE_URL" yaml:"database_url"`
	RedisURL      string `mapstructure:"REDIS_URL" yaml:"redis_url"`
	NATSServerURL string `mapstructure:"NATS_URL" yaml:"nats_url"`
	StoreBackend  string `mapstructure:"STORE_BACKEND" yaml:"store_backend"`
	Namespace     string `mapstructure:"NAMESPACE" yaml:"namespace"`

	// Session lifetime and background loop settings, all in seconds
	SessionTTL        int `mapstructure:"SESSION_TTL" yaml:"session_ttl"`
	HeartbeatInterval int `mapstructure:"HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"`
	SweepInterval     int `mapstructure:"SWEEP_INTERVAL" yaml:"sweep_interval"`
	MonitorInterval   int `mapstructure:"MONITOR_INTERVAL" yaml:"monitor_interval"`

	// Version
	BuildVersion string `yaml:"-"`
	BuildHash    string `yaml:"-"`
	BuildTime    string `yaml:"-"`
}
