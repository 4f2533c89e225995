package docstore

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// Converter translates values between documents and BSON-compatible records
type Converter struct{}

// ToModelValue converts a stored value into its model form
func (Converter) ToModelValue(fieldType metadata.FieldType, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	switch fieldType {
	case metadata.TypeString:
		return cast.ToStringE(raw)
	case metadata.TypeDate:
		return toTime(raw)
	case metadata.TypeID:
		if oid, ok := raw.(primitive.ObjectID); ok {
			return oid.Hex(), nil
		}
		return raw, nil
	case metadata.TypeObject:
		return toObject(raw), nil
	default:
		return raw, nil
	}
}

// ToStorageValue converts a model value into its stored form
func (Converter) ToStorageValue(fieldType metadata.FieldType, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch fieldType {
	case metadata.TypeString:
		return cast.ToStringE(value)
	case metadata.TypeNumber:
		switch value.(type) {
		case string, bool:
			return cast.ToFloat64E(value)
		default:
			return value, nil
		}
	case metadata.TypeBoolean:
		return cast.ToBoolE(value)
	case metadata.TypeDate:
		return toTime(value)
	default:
		return value, nil
	}
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case primitive.DateTime:
		return t.Time().UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case string:
		parsed, err := cast.ToTimeE(t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to a date", v)
	}
}

func toObject(v interface{}) interface{} {
	switch o := v.(type) {
	case map[string]interface{}:
		return storage.Record(o)
	case primitive.M:
		return storage.Record(o)
	default:
		return v
	}
}
