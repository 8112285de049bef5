package history

// ChangeType classifies how a rank moved between two checks.
type ChangeType string

const (
	Improved     ChangeType = "improved"
	Declined     ChangeType = "declined"
	EnteredTop10 ChangeType = "entered_top10"
	ExitedTop10  ChangeType = "exited_top10"
	NewRank      ChangeType = "new_rank"
	LostRank     ChangeType = "lost_rank"
)

const topTen = 10

// Change describes one rank movement. Delta is positive when the rank
// improved (moved towards 1).
type Change struct {
	Kind  string
	Old   int
	New   int
	Delta int
	Type  ChangeType
}

// CompareRanks classifies the move from prev to curr, where 0 means unranked.
// It reports false when there is nothing to compare or the rank is unchanged.
func CompareRanks(prev, curr int) (Change, bool) {
	switch {
	case prev == 0 && curr == 0:
		return Change{}, false
	case prev == 0:
		return Change{New: curr, Type: NewRank}, true
	case curr == 0:
		return Change{Old: prev, Type: LostRank}, true
	case prev == curr:
		return Change{}, false
	}

	c := Change{Old: prev, New: curr, Delta: prev - curr}
	switch {
	case prev > topTen && curr <= topTen:
		c.Type = EnteredTop10
	case prev <= topTen && curr > topTen:
		c.Type = ExitedTop10
	case c.Delta > 0:
		c.Type = Improved
	default:
		c.Type = Declined
	}
	return c, true
}

// NotifyPolicy selects which changes are worth surfacing.
type NotifyPolicy struct {
	Threshold    int  `toml:"threshold"`
	EnteredTop10 bool `toml:"entered_top10"`
	ExitedTop10  bool `toml:"exited_top10"`
	NewRank      bool `toml:"new_rank"`
	LostRank     bool `toml:"lost_rank"`
}

// DefaultNotifyPolicy surfaces every top-10 crossing, new and lost ranks, and
// moves of ten positions or more.
func DefaultNotifyPolicy() NotifyPolicy {
	return NotifyPolicy{Threshold: 10, EnteredTop10: true, ExitedTop10: true, NewRank: true, LostRank: true}
}

// ShouldNotify applies the policy to a change.
func (p NotifyPolicy) ShouldNotify(c Change) bool {
	switch c.Type {
	case EnteredTop10:
		return p.EnteredTop10
	case ExitedTop10:
		return p.ExitedTop10
	case NewRank:
		return p.NewRank
	case LostRank:
		return p.LostRank
	case Improved, Declined:
		delta := c.Delta
		if delta < 0 {
			delta = -delta
		}
		return delta >= p.Threshold
	}
	return false
}
