package listing

import (
	"slices"
	"strconv"
	"strings"

	"github.com/erp/console/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// CriterionKind is the shape of the values a filter dimension accepts
type CriterionKind string

const (
	// KindSet accepts any of several values (multi-select)
	KindSet CriterionKind = "set"
	// KindRange accepts an inclusive numeric interval
	KindRange CriterionKind = "range"
	// KindMissing matches records where any listed field is empty
	KindMissing CriterionKind = "missing"
	// KindFlag matches a boolean field
	KindFlag CriterionKind = "flag"
)

// IsValid checks if the criterion kind is valid
func (k CriterionKind) IsValid() bool {
	switch k {
	case KindSet, KindRange, KindMissing, KindFlag:
		return true
	}
	return false
}

// Criterion is the accepted value set or range of one filter dimension
type Criterion struct {
	Dimension string
	Field     string
	Kind      CriterionKind
	Values    []string         // set: accepted values, missing: field names
	Min       *decimal.Decimal // range lower bound, nil = open
	Max       *decimal.Decimal // range upper bound, nil = open
	Flag      bool
}

// NewCriterion parses raw UI values into a criterion.
// It returns (nil, nil) when the values clear the dimension.
func NewCriterion(dimension, field string, kind CriterionKind, values []string) (*Criterion, error) {
	c := &Criterion{Dimension: dimension, Field: field, Kind: kind}
	switch kind {
	case KindSet, KindMissing:
		c.Values = normalizeValues(values)
		if len(c.Values) == 0 {
			return nil, nil
		}
	case KindRange:
		if len(values) > 2 {
			return nil, shared.NewValidationError(dimension, "range takes at most a minimum and a maximum")
		}
		var minRaw, maxRaw string
		if len(values) > 0 {
			minRaw = strings.TrimSpace(values[0])
		}
		if len(values) > 1 {
			maxRaw = strings.TrimSpace(values[1])
		}
		if minRaw == "" && maxRaw == "" {
			return nil, nil
		}
		if minRaw != "" {
			d, err := decimal.NewFromString(minRaw)
			if err != nil {
				return nil, shared.NewValidationError(dimension, "minimum must be numeric")
			}
			c.Min = &d
		}
		if maxRaw != "" {
			d, err := decimal.NewFromString(maxRaw)
			if err != nil {
				return nil, shared.NewValidationError(dimension, "maximum must be numeric")
			}
			c.Max = &d
		}
		if c.Min != nil && c.Max != nil && c.Min.GreaterThan(*c.Max) {
			return nil, shared.NewValidationError(dimension, "minimum cannot exceed maximum")
		}
	case KindFlag:
		vals := normalizeValues(values)
		if len(vals) == 0 {
			return nil, nil
		}
		if len(vals) > 1 {
			return nil, shared.NewValidationError(dimension, "flag takes a single value")
		}
		b, err := strconv.ParseBool(vals[0])
		if err != nil {
			return nil, shared.NewValidationError(dimension, "flag must be true or false")
		}
		c.Flag = b
	default:
		return nil, shared.NewValidationError(dimension, "unknown filter kind "+string(kind))
	}
	return c, nil
}

// Matches reports whether a record satisfies this criterion
func (c *Criterion) Matches(r Record) bool {
	switch c.Kind {
	case KindSet:
		v, _ := r.Get(c.Field)
		return setContains(c.Values, v)
	case KindRange:
		v, _ := r.Get(c.Field)
		d, ok := ValueDecimal(v)
		if !ok {
			return false
		}
		if c.Min != nil && d.LessThan(*c.Min) {
			return false
		}
		if c.Max != nil && d.GreaterThan(*c.Max) {
			return false
		}
		return true
	case KindMissing:
		for _, field := range c.Values {
			v, _ := r.Get(field)
			if IsEmptyValue(v) {
				return true
			}
		}
		return false
	case KindFlag:
		v, _ := r.Get(c.Field)
		switch b := v.(type) {
		case bool:
			return b == c.Flag
		default:
			parsed, err := strconv.ParseBool(ValueString(v))
			if err != nil {
				return !c.Flag && IsEmptyValue(v)
			}
			return parsed == c.Flag
		}
	}
	return false
}

// key renders the criterion canonically
func (c *Criterion) key() string {
	var b strings.Builder
	b.WriteString(c.Dimension)
	b.WriteString(":")
	b.WriteString(string(c.Kind))
	b.WriteString("=")
	switch c.Kind {
	case KindSet, KindMissing:
		b.WriteString(strings.Join(c.Values, ","))
	case KindRange:
		if c.Min != nil {
			b.WriteString(c.Min.String())
		}
		b.WriteString("..")
		if c.Max != nil {
			b.WriteString(c.Max.String())
		}
	case KindFlag:
		b.WriteString(strconv.FormatBool(c.Flag))
	}
	return b.String()
}

// FilterSet is the combined set of active filter predicates of a view.
// Dimensions are AND'ed; values inside one dimension are OR'ed.
type FilterSet map[string]*Criterion

// NewFilterSet returns an empty filter set, which matches every record
func NewFilterSet() FilterSet {
	return make(FilterSet)
}

// With returns a copy of the set with the criterion for its dimension replaced.
// A nil criterion removes the dimension.
func (fs FilterSet) With(dimension string, c *Criterion) FilterSet {
	next := fs.Clone()
	if c == nil {
		delete(next, dimension)
		return next
	}
	next[dimension] = c
	return next
}

// Clone copies the set; criteria are immutable once built and are shared
func (fs FilterSet) Clone() FilterSet {
	next := make(FilterSet, len(fs))
	for k, v := range fs {
		next[k] = v
	}
	return next
}

// Dimensions returns the active dimension names sorted
func (fs FilterSet) Dimensions() []string {
	dims := make([]string, 0, len(fs))
	for k := range fs {
		dims = append(dims, k)
	}
	slices.Sort(dims)
	return dims
}

// Matches reports whether the record satisfies every active dimension
func (fs FilterSet) Matches(r Record) bool {
	for _, c := range fs {
		if !c.Matches(r) {
			return false
		}
	}
	return true
}

// Key is a canonical rendering: equal filter sets have equal keys
func (fs FilterSet) Key() string {
	dims := fs.Dimensions()
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fs[d].key()
	}
	return strings.Join(parts, "&")
}

// IsEmpty reports whether no dimension is active
func (fs FilterSet) IsEmpty() bool {
	return len(fs) == 0
}

func normalizeValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func setContains(accepted []string, v any) bool {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if setContains(accepted, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range val {
			if setContains(accepted, item) {
				return true
			}
		}
		return false
	}
	s := fold(ValueString(v))
	for _, a := range accepted {
		if fold(a) == s {
			return true
		}
	}
	return false
}
