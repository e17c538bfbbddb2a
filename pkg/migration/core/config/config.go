// Package config holds the migrator configuration model and its loader.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
)

// EmbeddedConfig is the raw application.yaml compiled into the binary.
type EmbeddedConfig []byte

// Datasource names used throughout the engine.
const (
	StagingDatasource = "staging"
	TargetDatasource  = "target"
)

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ParameterConfig maps a staging column onto one procedure argument.
// Arguments are passed positionally in declaration order.
type ParameterConfig struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

// SettingsConfig is the numeric tuning of one category.
type SettingsConfig struct {
	MaxParallelism      int `yaml:"max_parallelism"`
	FetchBatchSize      int `yaml:"fetch_batch_size"`
	ProcessingBatchSize int `yaml:"processing_batch_size"`
	// RecordCap limits the rows migrated by one run. 0 means unlimited.
	RecordCap int `yaml:"record_cap"`
}

// CategoryConfig binds a category to its staging table and target procedure.
type CategoryConfig struct {
	DisplayName     string            `yaml:"display_name"`
	Schema          string            `yaml:"schema"`
	Table           string            `yaml:"table"`
	Procedure       string            `yaml:"procedure"`
	IDColumn        string            `yaml:"id_column"`
	StatusColumn    string            `yaml:"status_column"`
	FileNameColumn  string            `yaml:"file_name_column"`
	RowNumberColumn string            `yaml:"row_number_column"`
	Parameters      []ParameterConfig `yaml:"parameters"`
	Settings        SettingsConfig    `yaml:"settings"`
}

// QualifiedTable returns "schema.table", or just the table when no schema is set.
func (c CategoryConfig) QualifiedTable() string {
	if c.Schema == "" {
		return c.Table
	}
	return c.Schema + "." + c.Table
}

// RecurringJobConfig declares a cron-triggered instant migration.
type RecurringJobConfig struct {
	Name     string `yaml:"name"`
	Cron     string `yaml:"cron"`
	Category string `yaml:"category"`
	Enabled  bool   `yaml:"enabled"`
}

// SchedulerConfig tunes the job scheduler and the manager's readiness probe.
type SchedulerConfig struct {
	MaxConcurrentJobs int                  `yaml:"max_concurrent_jobs"`
	ReadinessRetries  int                  `yaml:"readiness_retries"`
	ReadinessBackoff  time.Duration        `yaml:"readiness_backoff"`
	ShutdownTimeout   time.Duration        `yaml:"shutdown_timeout"`
	StatusRetention   time.Duration        `yaml:"status_retention"`
	Recurring         []RecurringJobConfig `yaml:"recurring"`
}

// BreakerConfig configures the circuit breaker in front of the target procedure.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// TargetConfig holds call-level policies for the remote procedure.
type TargetConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	CallsPerSecond float64       `yaml:"calls_per_second"` // 0 disables rate limiting
	Burst          int           `yaml:"burst"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// StatusUpdateConfig controls retries of the bulk P/E update.
type StatusUpdateConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// DefaultErrorLogTable is the table created by the embedded schema migrations.
const DefaultErrorLogTable = "migration_error_log"

// ErrorLogConfig names the error log table in the staging store.
type ErrorLogConfig struct {
	Table string `yaml:"table"`
}

// SchemaConfig controls golang-migrate on startup.
type SchemaConfig struct {
	AutoMigrate bool `yaml:"auto_migrate"`
}

// MetricsConfig selects the metric backend.
type MetricsConfig struct {
	Backend  string        `yaml:"backend"` // prometheus, otel or noop
	Endpoint string        `yaml:"endpoint"`
	Protocol string        `yaml:"protocol"` // http or grpc, for otel
	Interval time.Duration `yaml:"interval"`
	// AsyncBufferSize > 0 moves metric recording off the worker goroutines.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Protocol    string  `yaml:"protocol"` // http or grpc
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// AuditConfig controls the parquet run archive.
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Storage         string `yaml:"storage"` // local or gcs
	Bucket          string `yaml:"bucket"`
	BaseDir         string `yaml:"base_dir"`
	CredentialsFile string `yaml:"credentials_file"`
	Prefix          string `yaml:"prefix"`
}

// NotificationConfig selects how job completions are published.
type NotificationConfig struct {
	Type    string   `yaml:"type"` // log or kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// APIConfig controls the HTTP control surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Config is the root of application.yaml.
type Config struct {
	System      SystemConfig               `yaml:"system"`
	Datasources dbconfig.DatasourcesConfig `yaml:"datasources"`
	Categories  map[string]CategoryConfig  `yaml:"categories"`
	// ReturnCodes maps category -> procedure return code -> message.
	// The "default" entry applies to every category.
	ReturnCodes  map[string]map[int]string `yaml:"return_codes"`
	Scheduler    SchedulerConfig           `yaml:"scheduler"`
	Target       TargetConfig              `yaml:"target"`
	StatusUpdate StatusUpdateConfig        `yaml:"status_update"`
	ErrorLog     ErrorLogConfig            `yaml:"error_log"`
	Schema       SchemaConfig              `yaml:"schema"`
	Metrics      MetricsConfig             `yaml:"metrics"`
	Tracing      TracingConfig             `yaml:"tracing"`
	Audit        AuditConfig               `yaml:"audit"`
	Notification NotificationConfig        `yaml:"notification"`
	API          APIConfig                 `yaml:"api"`

	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// DefaultSettings are applied to any category setting left at zero.
var DefaultSettings = SettingsConfig{
	MaxParallelism:      4,
	FetchBatchSize:      1000,
	ProcessingBatchSize: 100,
	RecordCap:           0,
}

// NewConfig returns a Config populated with defaults. YAML and environment
// values are layered on top by the loader.
func NewConfig() *Config {
	return &Config{
		System: SystemConfig{
			Timezone: "UTC",
			Logging:  LoggingConfig{Level: "INFO"},
		},
		Datasources: dbconfig.DatasourcesConfig{},
		Categories:  map[string]CategoryConfig{},
		ReturnCodes: map[string]map[int]string{},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs: 4,
			ReadinessRetries:  3,
			ReadinessBackoff:  time.Second,
			ShutdownTimeout:   30 * time.Second,
			StatusRetention:   24 * time.Hour,
		},
		Target: TargetConfig{
			CallTimeout: 30 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:         1,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 20,
			},
		},
		StatusUpdate: StatusUpdateConfig{MaxAttempts: 3, Backoff: 500 * time.Millisecond},
		ErrorLog:     ErrorLogConfig{Table: DefaultErrorLogTable},
		Metrics:      MetricsConfig{Backend: "prometheus", Protocol: "http", Interval: 15 * time.Second},
		Tracing:      TracingConfig{Protocol: "http", SampleRatio: 1, ServiceName: "migrator"},
		Audit:        AuditConfig{Storage: "local", BaseDir: "./audit", Prefix: "runs"},
		Notification: NotificationConfig{Type: "log", Topic: "migration.jobs"},
		API:          APIConfig{Address: ":8080"},
	}
}

// applyDefaults fills per-category fields that YAML left empty.
func (c *Config) applyDefaults() {
	for id, cat := range c.Categories {
		if cat.IDColumn == "" {
			cat.IDColumn = "id"
		}
		if cat.StatusColumn == "" {
			cat.StatusColumn = "status"
		}
		if cat.FileNameColumn == "" {
			cat.FileNameColumn = "file_name"
		}
		if cat.RowNumberColumn == "" {
			cat.RowNumberColumn = "row_number"
		}
		if cat.DisplayName == "" {
			cat.DisplayName = id
		}
		s := &cat.Settings
		if s.MaxParallelism == 0 {
			s.MaxParallelism = DefaultSettings.MaxParallelism
		}
		if s.FetchBatchSize == 0 {
			s.FetchBatchSize = DefaultSettings.FetchBatchSize
		}
		if s.ProcessingBatchSize == 0 {
			s.ProcessingBatchSize = DefaultSettings.ProcessingBatchSize
		}
		c.Categories[id] = cat
	}
}

// Category returns the configuration of a category.
func (c *Config) Category(id string) (CategoryConfig, bool) {
	cat, ok := c.Categories[id]
	return cat, ok
}

// CategoryIDs returns the configured category ids in sorted order.
func (c *Config) CategoryIDs() []string {
	ids := make([]string, 0, len(c.Categories))
	for id := range c.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllowedTables is the allow-list of staging tables the engine may update:
// exactly the tables bound to configured categories.
func (c *Config) AllowedTables() []string {
	seen := make(map[string]struct{}, len(c.Categories))
	tables := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		q := cat.QualifiedTable()
		if _, dup := seen[q]; dup || q == "" {
			continue
		}
		seen[q] = struct{}{}
		tables = append(tables, q)
	}
	sort.Strings(tables)
	return tables
}

// ReturnCodeMessages returns the code table for a category merged over the
// "default" table.
func (c *Config) ReturnCodeMessages(category string) map[int]string {
	merged := make(map[int]string)
	for code, msg := range c.ReturnCodes["default"] {
		merged[code] = msg
	}
	for code, msg := range c.ReturnCodes[category] {
		merged[code] = msg
	}
	return merged
}

// Datasource returns the named datasource configuration.
func (c *Config) Datasource(name string) (dbconfig.DatabaseConfig, error) {
	ds, ok := c.Datasources[name]
	if !ok {
		known := make([]string, 0, len(c.Datasources))
		for k := range c.Datasources {
			known = append(known, k)
		}
		sort.Strings(known)
		return dbconfig.DatabaseConfig{}, fmt.Errorf("datasource %q not configured (known: %s)", name, strings.Join(known, ", "))
	}
	return ds, nil
}
