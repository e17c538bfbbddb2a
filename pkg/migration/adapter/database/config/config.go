package config

import "time"

// PoolConfig holds database/sql pool settings.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DatabaseConfig describes one named datasource ("staging" or "target").
type DatabaseConfig struct {
	Type     string `yaml:"type"` // mysql, postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // file path for sqlite
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema,omitempty"`
	Sslmode  string `yaml:"sslmode"`
	// LogLevel is the gorm logger level: silent, error, warn or info.
	LogLevel string     `yaml:"log_level"`
	Pool     PoolConfig `yaml:"pool"`
}

// DatasourcesConfig maps datasource names to their settings.
type DatasourcesConfig map[string]DatabaseConfig
