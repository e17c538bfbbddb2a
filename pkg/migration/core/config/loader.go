package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const moduleName = "config"

// EnvPrefix prefixes every environment override, e.g. MIGRATOR_SCHEDULER_MAX_CONCURRENT_JOBS.
const EnvPrefix = "MIGRATOR_"

// ConfigParams are the inputs of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	ConfigFilePath string              `name:"configFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// LoadConfig builds a Config from defaults, the embedded YAML, an optional
// YAML file on disk and finally MIGRATOR_* environment variables. ${VAR}
// placeholders inside YAML are expanded before parsing.
func LoadConfig(envFilePath string, embedded EmbeddedConfig, configFilePath string, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file %s could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf("No .env file loaded: %v", err)
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()
	cfg.EmbeddedConfig = embedded

	if err := unmarshalInto(cfg, embedded, expander); err != nil {
		return nil, exception.NewMigrationError(moduleName, exception.KindConfiguration, "failed to parse embedded configuration", err, false)
	}
	if configFilePath != "" {
		raw, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, exception.NewMigrationErrorf(moduleName, exception.KindConfiguration, "failed to read %s", configFilePath, err)
		}
		if err := unmarshalInto(cfg, raw, expander); err != nil {
			return nil, exception.NewMigrationErrorf(moduleName, exception.KindConfiguration, "failed to parse %s", configFilePath, err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, exception.NewMigrationError(moduleName, exception.KindConfiguration, "failed to apply environment overrides", err, false)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// unmarshalInto decodes YAML over an already populated Config. yaml.v3 only
// touches keys present in the document, so defaults survive.
func unmarshalInto(cfg *Config, raw []byte, expander EnvironmentExpander) error {
	if len(raw) == 0 {
		return nil
	}
	expanded, err := expander.Expand(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(expanded, cfg)
}

// NewConfigProvider loads, validates and returns the application Config, and
// applies the configured log level.
func NewConfigProvider(p ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(p.EnvFilePath, p.EmbeddedConfig, p.ConfigFilePath, p.Expander)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.System.Logging.Level)
	logger.Infof("Log level set to %s", logger.Level())

	if err := cfg.Validate(); err != nil {
		return nil, exception.NewMigrationError(moduleName, exception.KindConfiguration, "invalid configuration", err, false)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStructFromEnv walks val and overrides fields from environment variables
// named after their yaml tags: prefix + TAG, upper-cased, nested with "_".
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		tag := yamlName(typ.Field(i))
		if tag == "" {
			continue
		}
		envName := strings.ToUpper(prefix + tag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct:
			if err := loadMapOfStructsFromEnv(field, envName+"_"); err != nil {
				return err
			}
			continue
		}

		value, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("env %s: %w", envName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv handles map[string]struct fields such as
// datasources and categories: MIGRATOR_DATASOURCES_TARGET_PASSWORD sets
// Password of the "target" entry. Only direct scalar fields are reachable.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		name, value, ok := strings.Cut(strings.TrimPrefix(kv, prefix), "=")
		if !ok {
			continue
		}
		key, fieldName, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		mapKey := reflect.ValueOf(strings.ToLower(key))
		elem := reflect.New(mapField.Type().Elem()).Elem()
		if existing := mapField.MapIndex(mapKey); existing.IsValid() {
			elem.Set(existing)
		}
		set, err := setStructFieldByTag(elem, fieldName, value)
		if err != nil {
			return fmt.Errorf("env %s: %w", prefix+name, err)
		}
		if set {
			mapField.SetMapIndex(mapKey, elem)
		}
	}
	return nil
}

func setStructFieldByTag(structVal reflect.Value, fieldName, value string) (bool, error) {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		if strings.EqualFold(yamlName(typ.Field(i)), fieldName) {
			return true, setField(structVal.Field(i), value)
		}
	}
	return false, nil
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p))
			}
		}
		field.Set(out)
	}
	return nil
}
