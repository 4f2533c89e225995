package docstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/conduit-lang/docmapper/internal/orm/cache"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// MatchRecord reports whether rec equals criteria on every key
func MatchRecord(rec storage.Record, criteria storage.Criteria) bool {
	for field, want := range criteria {
		got, ok := rec[field]
		if !ok {
			got = nil
		}
		if !cache.ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// MatchQuery reports whether rec satisfies the criteria and where-in filter of q
func MatchQuery(rec storage.Record, q *storage.Query) bool {
	if q == nil {
		return true
	}
	if !MatchRecord(rec, q.Criteria) {
		return false
	}
	if q.InField == "" {
		return true
	}
	for _, v := range q.InValues {
		if cache.ValuesEqual(rec[q.InField], v) {
			return true
		}
	}
	return false
}

// ApplyQuery filters, sorts and pages records in memory
func ApplyQuery(records []storage.Record, q *storage.Query) []storage.Record {
	matched := make([]storage.Record, 0, len(records))
	for _, rec := range records {
		if MatchQuery(rec, q) {
			matched = append(matched, rec)
		}
	}
	if q == nil {
		return matched
	}

	if len(q.Sort) > 0 {
		SortRecords(matched, q.Sort)
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []storage.Record{}
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched
}

// SortRecords sorts records in place by the given fields
func SortRecords(records []storage.Record, fields []storage.SortField) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, f := range fields {
			c := CompareValues(records[i][f.Field], records[j][f.Field])
			if c == 0 {
				continue
			}
			if f.Direction == metadata.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// CompareValues orders two stored values. nil sorts first; numbers, dates,
// strings and booleans compare naturally; anything else by its text form.
func CompareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	if _, isString := a.(string); !isString {
		fa, errA := cast.ToFloat64E(a)
		fb, errB := cast.ToFloat64E(b)
		if errA == nil && errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// PatchRecord applies a patch to rec in place. Undefined values unset the key.
func PatchRecord(rec storage.Record, patch storage.Record) {
	for k, v := range patch {
		if storage.IsUndefined(v) {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
}
