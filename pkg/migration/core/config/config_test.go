package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasabhishk/st2/pkg/migration/core/config"
)

const sampleYAML = `
system:
  logging:
    level: debug
datasources:
  staging:
    type: mysql
    host: ${TEST_STAGING_HOST}
    port: 3306
    database: staging
    user: migrator
  target:
    type: postgres
    host: target-db
    port: 5432
    database: pacs
categories:
  study:
    display_name: Patient Study
    schema: cmmt
    table: study_staging
    procedure: dbo.register_study
    parameters:
      - name: patient_id
        column: patient_id
      - name: accession
        column: accession_number
    settings:
      max_parallelism: 8
      fetch_batch_size: 500
  series:
    table: series_staging
    procedure: register_series
return_codes:
  default:
    1: generic failure
  study:
    1: patient not found
    2: duplicate study
scheduler:
  readiness_backoff: 250ms
`

func TestNewConfig_Defaults(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, "UTC", cfg.System.Timezone)
	assert.Equal(t, "INFO", cfg.System.Logging.Level)
	assert.Equal(t, 3, cfg.Scheduler.ReadinessRetries)
	assert.Equal(t, time.Second, cfg.Scheduler.ReadinessBackoff)
	assert.Equal(t, "migration_error_log", cfg.ErrorLog.Table)
	assert.Equal(t, "prometheus", cfg.Metrics.Backend)
	assert.Equal(t, "log", cfg.Notification.Type)
}

func TestLoadConfig_YAMLAndEnvironment(t *testing.T) {
	t.Setenv("TEST_STAGING_HOST", "staging-db")
	t.Setenv("MIGRATOR_SCHEDULER_MAX_CONCURRENT_JOBS", "9")
	t.Setenv("MIGRATOR_DATASOURCES_TARGET_PASSWORD", "s3cret")
	t.Setenv("MIGRATOR_TARGET_CALL_TIMEOUT", "5s")
	t.Setenv("MIGRATOR_NOTIFICATION_BROKERS", "k1:9092, k2:9092")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.System.Logging.Level)
	assert.Equal(t, "staging-db", cfg.Datasources["staging"].Host)
	assert.Equal(t, "s3cret", cfg.Datasources["target"].Password)
	assert.Equal(t, "target-db", cfg.Datasources["target"].Host, "env override must keep YAML fields")
	assert.Equal(t, 9, cfg.Scheduler.MaxConcurrentJobs)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.ReadinessBackoff)
	assert.Equal(t, 3, cfg.Scheduler.ReadinessRetries, "defaults survive partial YAML")
	assert.Equal(t, 5*time.Second, cfg.Target.CallTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notification.Brokers)

	study, ok := cfg.Category("study")
	require.True(t, ok)
	assert.Equal(t, "cmmt.study_staging", study.QualifiedTable())
	assert.Equal(t, 8, study.Settings.MaxParallelism)
	assert.Equal(t, 500, study.Settings.FetchBatchSize)
	assert.Equal(t, config.DefaultSettings.ProcessingBatchSize, study.Settings.ProcessingBatchSize)
	assert.Equal(t, "id", study.IDColumn)
	assert.Equal(t, "status", study.StatusColumn)

	series, _ := cfg.Category("series")
	assert.Equal(t, "series", series.DisplayName)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileOverridesEmbedded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_concurrent_jobs: 2\n"), 0o600))

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentJobs)
	assert.Len(t, cfg.Categories, 2)
}

func TestConfig_AllowedTablesAndReturnCodes(t *testing.T) {
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML), "", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"cmmt.study_staging", "series_staging"}, cfg.AllowedTables())
	assert.Equal(t, []string{"series", "study"}, cfg.CategoryIDs())

	study := cfg.ReturnCodeMessages("study")
	assert.Equal(t, "patient not found", study[1])
	assert.Equal(t, "duplicate study", study[2])
	assert.Equal(t, "generic failure", cfg.ReturnCodeMessages("series")[1])
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Categories["bad"] = config.CategoryConfig{
		Table:     "study; DROP TABLE x",
		Procedure: "p",
		Settings:  config.SettingsConfig{MaxParallelism: 0, FetchBatchSize: 1, ProcessingBatchSize: 1},
	}
	cfg.Metrics.Backend = "statsd"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "datasources.staging is required")
	assert.Contains(t, msg, "datasources.target is required")
	assert.Contains(t, msg, "categories.bad.table")
	assert.Contains(t, msg, "categories.bad.settings")
	assert.Contains(t, msg, `metrics.backend "statsd"`)
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, config.IsIdentifier("study_staging"))
	assert.True(t, config.IsIdentifier("_x1"))
	assert.False(t, config.IsIdentifier("1abc"))
	assert.False(t, config.IsIdentifier("a.b"))
	assert.False(t, config.IsIdentifier("a b"))
	assert.False(t, config.IsIdentifier(""))
}
