package listing

import "strings"

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection normalizes a direction; anything but "asc" is descending
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Asc)) {
		return Asc
	}
	return Desc
}

// SortSpec is the single active sort of a view. A zero value means unsorted.
type SortSpec struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// IsZero reports whether no sort is active
func (s SortSpec) IsZero() bool {
	return s.Field == ""
}

// Toggle returns the sort order after the user picks a field: the active field flips
// its direction, a new field starts descending.
func (s SortSpec) Toggle(field string) SortSpec {
	if s.Field == field {
		if s.Direction == Desc {
			return SortSpec{Field: field, Direction: Asc}
		}
		return SortSpec{Field: field, Direction: Desc}
	}
	return SortSpec{Field: field, Direction: Desc}
}

// String renders the sort order as "field:dir"
func (s SortSpec) String() string {
	if s.IsZero() {
		return ""
	}
	return s.Field + ":" + string(s.Direction)
}
