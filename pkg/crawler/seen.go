package crawler

import "sort"

// SeenSet holds the identifiers already written to the output. It only
// grows.
type SeenSet struct {
	ids map[string]struct{}
}

// NewSeenSet creates a set holding every id of every list
func NewSeenSet(lists ...[]string) *SeenSet {
	s := &SeenSet{ids: make(map[string]struct{})}
	for _, list := range lists {
		for _, id := range list {
			s.Add(id)
		}
	}
	return s
}

// Add inserts id and reports whether it was new
func (s *SeenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Has reports whether id was seen
func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids
func (s *SeenSet) Len() int {
	return len(s.ids)
}

// Slice returns the ids in ascending order
func (s *SeenSet) Slice() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
