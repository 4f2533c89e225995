package mapper

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
)

// coerce applies the numeric and boolean coercion of hydration. Values that
// already have the right kind are returned unchanged.
func coerce(fieldType metadata.FieldType, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch fieldType {
	case metadata.TypeNumber:
		return coerceNumber(value)
	case metadata.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return cast.ToBoolE(value)
	default:
		return value, nil
	}
}

func coerceNumber(value interface{}) (interface{}, error) {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return value, nil
	}

	switch v := value.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := cast.ToFloat64E(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return cast.ToFloat64E(value)
	}
}
