package runtimeconfig

import (
	"reflect"
	"time"
)

// StringToDuration is a mapstructure.DecodeHookFunc that parses a string
// field (e.g. "30s" from the CRYFS_FLUSH_INTERVAL environment variable)
// into a time.Duration, the same shape as the teacher's StringToTTLOptions
// hook generalized from a domain-specific type to the stdlib duration type.
func StringToDuration() func(reflect.Type, reflect.Type, interface{}) (interface{}, error) {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		s, _ := data.(string)
		if s == "" {
			return time.Duration(0), nil
		}
		return time.ParseDuration(s)
	}
}
