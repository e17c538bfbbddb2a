package config

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"

	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s is a plain SQL identifier. Table, column and
// procedure names from configuration must pass this check because they end up
// inside SQL text.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

var knownDatabaseTypes = map[string]bool{"mysql": true, "postgres": true, "sqlite": true}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := logger.ParseLevel(c.System.Logging.Level); err != nil {
		result = multierror.Append(result, err)
	}

	for _, name := range []string{StagingDatasource, TargetDatasource} {
		ds, ok := c.Datasources[name]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("datasources.%s is required", name))
			continue
		}
		if !knownDatabaseTypes[ds.Type] {
			result = multierror.Append(result, fmt.Errorf("datasources.%s.type %q is not one of mysql, postgres, sqlite", name, ds.Type))
		}
		if ds.Database == "" {
			result = multierror.Append(result, fmt.Errorf("datasources.%s.database is required", name))
		}
	}

	if len(c.Categories) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one category must be configured"))
	}
	for _, id := range c.CategoryIDs() {
		result = multierror.Append(result, validateCategory(id, c.Categories[id])...)
	}

	if c.Scheduler.MaxConcurrentJobs < 1 {
		result = multierror.Append(result, fmt.Errorf("scheduler.max_concurrent_jobs must be >= 1"))
	}
	if c.Scheduler.ReadinessRetries < 1 {
		result = multierror.Append(result, fmt.Errorf("scheduler.readiness_retries must be >= 1"))
	}
	for _, job := range c.Scheduler.Recurring {
		if job.Cron == "" {
			result = multierror.Append(result, fmt.Errorf("scheduler.recurring %q: cron is required", job.Name))
		}
		if _, ok := c.Categories[job.Category]; !ok {
			result = multierror.Append(result, fmt.Errorf("scheduler.recurring %q: unknown category %q", job.Name, job.Category))
		}
	}

	if c.StatusUpdate.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("status_update.max_attempts must be >= 1"))
	}
	if !IsIdentifier(c.ErrorLog.Table) {
		result = multierror.Append(result, fmt.Errorf("error_log.table %q is not a valid identifier", c.ErrorLog.Table))
	}
	if c.Schema.AutoMigrate && c.ErrorLog.Table != DefaultErrorLogTable {
		result = multierror.Append(result, fmt.Errorf("schema.auto_migrate only creates %q; error_log.table is %q", DefaultErrorLogTable, c.ErrorLog.Table))
	}

	switch c.Metrics.Backend {
	case "prometheus", "noop":
	case "otel":
		if c.Metrics.Endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("metrics.endpoint is required for the otel backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("metrics.backend %q is not one of prometheus, otel, noop", c.Metrics.Backend))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		result = multierror.Append(result, fmt.Errorf("tracing.endpoint is required when tracing is enabled"))
	}
	if c.Audit.Enabled {
		switch c.Audit.Storage {
		case "local":
			if c.Audit.BaseDir == "" {
				result = multierror.Append(result, fmt.Errorf("audit.base_dir is required for local storage"))
			}
		case "gcs":
			if c.Audit.Bucket == "" {
				result = multierror.Append(result, fmt.Errorf("audit.bucket is required for gcs storage"))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("audit.storage %q is not one of local, gcs", c.Audit.Storage))
		}
	}
	switch c.Notification.Type {
	case "log":
	case "kafka":
		if len(c.Notification.Brokers) == 0 || c.Notification.Topic == "" {
			result = multierror.Append(result, fmt.Errorf("notification.brokers and notification.topic are required for kafka"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("notification.type %q is not one of log, kafka", c.Notification.Type))
	}

	return result.ErrorOrNil()
}

func validateCategory(id string, cat CategoryConfig) []error {
	var errs []error
	prefix := "categories." + id
	if !IsIdentifier(cat.Table) {
		errs = append(errs, fmt.Errorf("%s.table %q is not a valid identifier", prefix, cat.Table))
	}
	if cat.Schema != "" && !IsIdentifier(cat.Schema) {
		errs = append(errs, fmt.Errorf("%s.schema %q is not a valid identifier", prefix, cat.Schema))
	}
	if !IsQualifiedIdentifier(cat.Procedure) {
		errs = append(errs, fmt.Errorf("%s.procedure %q is not a valid procedure name", prefix, cat.Procedure))
	}
	for _, col := range []string{cat.IDColumn, cat.StatusColumn, cat.FileNameColumn, cat.RowNumberColumn} {
		if !IsIdentifier(col) {
			errs = append(errs, fmt.Errorf("%s: column %q is not a valid identifier", prefix, col))
		}
	}
	for i, p := range cat.Parameters {
		if !IsIdentifier(p.Column) {
			errs = append(errs, fmt.Errorf("%s.parameters[%d].column %q is not a valid identifier", prefix, i, p.Column))
		}
	}
	s := cat.Settings
	if s.MaxParallelism < 1 || s.FetchBatchSize < 1 || s.ProcessingBatchSize < 1 {
		errs = append(errs, fmt.Errorf("%s.settings: parallelism and batch sizes must be >= 1", prefix))
	}
	if s.RecordCap < 0 {
		errs = append(errs, fmt.Errorf("%s.settings.record_cap must be >= 0", prefix))
	}
	return errs
}

// IsQualifiedIdentifier accepts "name" or "schema.name".
func IsQualifiedIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return IsIdentifier(s[:i]) && IsIdentifier(s[i+1:])
		}
	}
	return IsIdentifier(s)
}
