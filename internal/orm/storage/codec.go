package storage

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EncodeRecord serializes a record to BSON
func EncodeRecord(rec Record) ([]byte, error) {
	if rec == nil {
		rec = Record{}
	}
	return bson.Marshal(map[string]interface{}(rec))
}

// DecodeRecord deserializes a BSON document into a record. Nested documents
// become Records, arrays become []interface{} and BSON dates become time.Time.
func DecodeRecord(data []byte) (Record, error) {
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return normalizeDocument(doc), nil
}

// CopyRecord returns a deep copy of rec made by a BSON round trip
func CopyRecord(rec Record) (Record, error) {
	data, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(data)
}

func normalizeDocument(doc map[string]interface{}) Record {
	rec := make(Record, len(doc))
	for k, v := range doc {
		rec[k] = normalizeValue(v)
	}
	return rec
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.M:
		return normalizeDocument(val)
	case primitive.D:
		return normalizeDocument(val.Map())
	case primitive.A:
		list := make([]interface{}, len(val))
		for i, item := range val {
			list[i] = normalizeValue(item)
		}
		return list
	case primitive.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}
