package listing

import "slices"

// Selection is a page-independent set of record ids.
// It is not safe for concurrent use; owners guard it.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection creates an empty selection
func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Add selects ids
func (s *Selection) Add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
}

// Remove deselects ids
func (s *Selection) Remove(ids ...string) {
	for _, id := range ids {
		delete(s.ids, id)
	}
}

// Has reports whether id is selected
func (s *Selection) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// ContainsAll reports whether every id is selected. An empty list is never "all selected".
func (s *Selection) ContainsAll(ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// Len returns the number of selected ids
func (s *Selection) Len() int {
	return len(s.ids)
}

// Clear deselects everything
func (s *Selection) Clear() {
	clear(s.ids)
}

// IDs returns the selected ids sorted
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
