package monitor

const (
	organicTopLimit   = 50
	sponsoredTopLimit = 20
)

// orderedSet keeps the first limit distinct identifiers in insertion order.
type orderedSet struct {
	items []string
	index map[string]struct{}
	limit int
}

func newOrderedSet(limit int) *orderedSet {
	return &orderedSet{index: make(map[string]struct{}), limit: limit}
}

func (s *orderedSet) add(id string) {
	if len(s.items) >= s.limit {
		return
	}
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.items = append(s.items, id)
}

func (s *orderedSet) list() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// RankCounters is the running state of one query across its pages.
type RankCounters struct {
	OrganicPosition   int
	SponsoredPosition int
	FoundOrganic      map[string]bool
	FoundSponsored    map[string]bool

	organicSeen   *orderedSet
	sponsoredSeen *orderedSet
}

// NewRankCounters returns zeroed counters.
func NewRankCounters() *RankCounters {
	return &RankCounters{
		FoundOrganic:   make(map[string]bool),
		FoundSponsored: make(map[string]bool),
		organicSeen:    newOrderedSet(organicTopLimit),
		sponsoredSeen:  newOrderedSet(sponsoredTopLimit),
	}
}

// OrganicTop returns the first organic ASINs seen across the query.
func (c *RankCounters) OrganicTop() []string { return c.organicSeen.list() }

// SponsoredTop returns the first inline sponsored ASINs seen across the query.
func (c *RankCounters) SponsoredTop() []string { return c.sponsoredSeen.list() }
