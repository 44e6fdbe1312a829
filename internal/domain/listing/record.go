// Package listing holds the entity-agnostic list model of the console: records,
// filter sets, sort orders and page requests, queries, selections and the data source
// contract every collection view is built on.
package listing

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// IDField is the field carrying the stable record identifier
const IDField = "id"

// Record is one row of a backend-managed collection
type Record struct {
	ID     string
	Fields map[string]any
}

// NewRecord builds a record from a raw field map, deriving the ID from the id field
func NewRecord(fields map[string]any) (Record, error) {
	raw, ok := fields[IDField]
	if !ok || raw == nil {
		return Record{}, fmt.Errorf("record has no %q field", IDField)
	}
	id := ValueString(raw)
	if id == "" {
		return Record{}, fmt.Errorf("record has an empty %q field", IDField)
	}
	return Record{ID: id, Fields: fields}, nil
}

// Get returns the value of a field
func (r Record) Get(field string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Set assigns a field value
func (r *Record) Set(field string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[field] = value
}

// Clone returns a copy whose field map can be modified independently.
// Nested arrays and objects are shared.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields}
}

// MarshalJSON renders the record as its flat field map
func (r Record) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[k] = v
	}
	if _, ok := fields[IDField]; !ok {
		fields[IDField] = r.ID
	}
	return json.Marshal(fields)
}

// IDs returns the identifiers of the given records in order
func IDs(rows []Record) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

// ValueString renders a scalar field value for display, matching and export
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case decimal.Decimal:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = ValueString(item)
		}
		return strings.Join(parts, ";")
	case []string:
		return strings.Join(val, ";")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ValueDecimal converts a numeric field value to a decimal
func ValueDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(val), 0), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(val)))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// IsEmptyValue reports whether a field counts as missing
func IsEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []byte:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// ValuesEqual compares two field values the way the UI would
func ValuesEqual(a, b any) bool {
	if IsEmptyValue(a) && IsEmptyValue(b) {
		return true
	}
	if da, ok := ValueDecimal(a); ok {
		if db, ok := ValueDecimal(b); ok {
			return da.Equal(db)
		}
	}
	return ValueString(a) == ValueString(b)
}

// CompareValues orders two field values: numbers numerically, times
// chronologically, everything else by case-folded text. Empty values sort first.
func CompareValues(a, b any) int {
	ea, eb := IsEmptyValue(a), IsEmptyValue(b)
	switch {
	case ea && eb:
		return 0
	case ea:
		return -1
	case eb:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if _, isStr := a.(string); !isStr {
		if da, ok := ValueDecimal(a); ok {
			if db, ok := ValueDecimal(b); ok {
				return da.Cmp(db)
			}
		}
	}
	return strings.Compare(fold(ValueString(a)), fold(ValueString(b)))
}

// fold applies Unicode case folding. A Caser is stateful, so one is made per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
