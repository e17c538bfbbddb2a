// Package category binds a migration category id to everything the engine
// needs to migrate it: the staging table, the target procedure, how a staging
// row becomes procedure arguments, the numeric settings and the return code
// messages.
package category

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
)

// ParameterBuilder turns a staging row into positional procedure arguments.
type ParameterBuilder func(rec model.StagingRecord) ([]interface{}, error)

// ColumnParameterBuilder builds arguments by reading the configured columns in order.
// A missing column is an error; a NULL column is passed as nil.
func ColumnParameterBuilder(params []config.ParameterConfig) ParameterBuilder {
	columns := make([]string, len(params))
	for i, p := range params {
		columns[i] = p.Column
	}
	return func(rec model.StagingRecord) ([]interface{}, error) {
		args := make([]interface{}, 0, len(columns))
		for _, col := range columns {
			v, ok := rec.Fields[col]
			if !ok {
				return nil, fmt.Errorf("column %q missing from staging row id=%d", col, rec.ID)
			}
			if b, isBytes := v.([]byte); isBytes {
				v = string(b)
			}
			args = append(args, v)
		}
		return args, nil
	}
}

// MessageResolver maps a procedure return code to an operator message.
type MessageResolver struct {
	category string
	messages map[int]string
}

// NewMessageResolver copies messages so later config edits do not leak in.
func NewMessageResolver(category string, messages map[int]string) MessageResolver {
	m := make(map[int]string, len(messages))
	for code, msg := range messages {
		m[code] = msg
	}
	return MessageResolver{category: category, messages: m}
}

// Resolve returns the configured message for code.
func (r MessageResolver) Resolve(code int) string {
	if msg, ok := r.messages[code]; ok {
		return msg
	}
	if code == model.NullReturnCode {
		return "procedure returned no status"
	}
	if code == 0 {
		return "success"
	}
	return fmt.Sprintf("unmapped return code %d for %s", code, r.category)
}

// Descriptor is the complete binding of one category.
type Descriptor struct {
	ID              string
	DisplayName     string
	Binding         model.TableBinding
	Procedure       string
	BuildParameters ParameterBuilder
	Settings        model.MigrationSettings
	Messages        MessageResolver
}

// Invocation builds the processor's unit of work for rec.
func (d Descriptor) Invocation(rec model.StagingRecord) (model.ProcedureInvocation, error) {
	inv := model.ProcedureInvocation{
		RecordID:  rec.ID,
		Procedure: d.Procedure,
		FileName:  rec.FileName,
		RowNumber: rec.RowNumber,
	}
	if d.BuildParameters == nil {
		return inv, nil
	}
	params, err := d.BuildParameters(rec)
	if err != nil {
		return inv, err
	}
	inv.Parameters = params
	return inv, nil
}

// FromConfig builds a descriptor from a category section.
func FromConfig(id string, cat config.CategoryConfig, messages map[int]string) Descriptor {
	return Descriptor{
		ID:          id,
		DisplayName: cat.DisplayName,
		Binding: model.TableBinding{
			Schema:          cat.Schema,
			Table:           cat.Table,
			IDColumn:        cat.IDColumn,
			StatusColumn:    cat.StatusColumn,
			FileNameColumn:  cat.FileNameColumn,
			RowNumberColumn: cat.RowNumberColumn,
		},
		Procedure:       cat.Procedure,
		BuildParameters: ColumnParameterBuilder(cat.Parameters),
		Settings: model.MigrationSettings{
			MaxParallelism:      cat.Settings.MaxParallelism,
			FetchBatchSize:      cat.Settings.FetchBatchSize,
			ProcessingBatchSize: cat.Settings.ProcessingBatchSize,
			RecordCap:           cat.Settings.RecordCap,
		},
		Messages: NewMessageResolver(id, messages),
	}
}

// normalizeID makes lookups case-insensitive ("Study" and "study" are the same category).
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
