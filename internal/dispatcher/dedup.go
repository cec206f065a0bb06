package dispatcher

const (
	dedupMaxEntries  = 1000
	dedupKeepEntries = 500
)

// seenSet remembers processed event ids in insertion order. Past
// dedupMaxEntries it keeps only the newest dedupKeepEntries.
type seenSet struct {
	order []string
	index map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{index: make(map[string]struct{})}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *seenSet) add(id string) {
	if s.contains(id) {
		return
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}

	if len(s.order) > dedupMaxEntries {
		s.order = append([]string(nil), s.order[len(s.order)-dedupKeepEntries:]...)
		s.index = make(map[string]struct{}, len(s.order))
		for _, kept := range s.order {
			s.index[kept] = struct{}{}
		}
	}
}

func (s *seenSet) len() int {
	return len(s.order)
}
