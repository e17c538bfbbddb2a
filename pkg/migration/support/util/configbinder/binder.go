// Package configbinder converts between loosely typed property maps and
// structs using mapstructure with the "yaml" tag.
package configbinder

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target. Strings are converted to
// numbers, bools and durations, and RFC 3339 strings to time.Time.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		t := reflect.TypeOf(target)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		return fmt.Errorf("failed to bind properties to %s: %w", t.Name(), err)
	}
	return nil
}

// ToProperties flattens a struct of scalar fields into a map keyed by yaml tag.
func ToProperties(source interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(source); err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", source, err)
	}
	return out, nil
}
