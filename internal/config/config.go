package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PoolConfig contains the worker pool settings.
type PoolConfig struct {
	Workers   int `mapstructure:"workers" validate:"required,gt=0,lte=1024"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=0"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}
