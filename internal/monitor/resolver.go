package monitor

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// placement is the resolved state of one target ASIN within a query.
type placement struct {
	organicRank   int
	organicPage   int
	sponsoredRank int
	sponsoredPage int
	sponsoredType PaidSubtype
	product       *ProductInfo
	err           error
}

func (p *placement) resolved() bool {
	return p.organicRank > 0 && p.sponsoredRank > 0
}

// Query resolves ranks for every target sharing one (country, keyword) search.
// Targets share the slot stream and counters but keep independent found flags.
type Query struct {
	Country  string
	Keyword  string
	Targets  []Target
	Counters *RankCounters

	placements map[string]*placement
}

// NewQuery prepares resolution state for a batched keyword.
func NewQuery(country string, group *QueryGroup) *Query {
	q := &Query{
		Country:    country,
		Keyword:    group.Keyword,
		Targets:    group.Targets,
		Counters:   NewRankCounters(),
		placements: make(map[string]*placement, len(group.Targets)),
	}
	for _, t := range group.Targets {
		asin := normalizeASIN(t.ASIN)
		if _, ok := q.placements[asin]; !ok {
			q.placements[asin] = &placement{}
		}
	}
	return q
}

// ResolvePage folds one extracted page into the query. Pages must be passed in
// increasing order; ranks already stamped are never overwritten.
func (q *Query) ResolvePage(page *SearchPage, pageNum int) {
	if page == nil {
		return
	}
	c := q.Counters
	base := c.SponsoredPosition

	// Banner and top-slot ads render above the main stream and are ranked first.
	banners := distinctASINs(page.Slots, SubtypeBrandBanner)
	tops := distinctASINs(page.Slots, SubtypeTopSlotProduct)
	for i, asin := range banners {
		q.stampSponsored(asin, base+i+1, pageNum, SubtypeBrandBanner)
	}
	for i, asin := range tops {
		q.stampSponsored(asin, base+len(banners)+i+1, pageNum, SubtypeTopSlotProduct)
	}
	seed := base + len(banners) + len(tops)
	c.SponsoredPosition = seed

	paidOnPage := make(map[string]struct{})
	organicOnPage := make(map[string]struct{})
	var inlineIndexes []int

	for _, slot := range page.Slots {
		asin := normalizeASIN(slot.ASIN)
		if slot.Err != nil || asin == "" {
			continue
		}
		if slot.Paid {
			if !isInlinePaid(slot.Subtype) {
				continue
			}
			if _, dup := paidOnPage[asin]; dup {
				continue
			}
			paidOnPage[asin] = struct{}{}
			c.SponsoredPosition++
			c.sponsoredSeen.add(asin)
			inlineIndexes = append(inlineIndexes, slot.DOMIndex)
			q.stampSponsored(asin, c.SponsoredPosition, pageNum, SubtypeInlineProduct)
			continue
		}
		if _, dup := organicOnPage[asin]; dup {
			continue
		}
		organicOnPage[asin] = struct{}{}
		c.OrganicPosition++
		c.organicSeen.add(asin)
		q.stampOrganic(asin, c.OrganicPosition, pageNum, slot.Product)
	}

	videosOnPage := make(map[string]struct{})
	for _, slot := range page.Slots {
		asin := normalizeASIN(slot.ASIN)
		if slot.Subtype != SubtypeVideo || slot.Err != nil || asin == "" {
			continue
		}
		// Unknown placement: left unranked rather than guessed.
		if slot.DOMIndex < 0 {
			continue
		}
		if _, dup := videosOnPage[asin]; dup {
			continue
		}
		videosOnPage[asin] = struct{}{}
		before := 0
		for _, idx := range inlineIndexes {
			if idx >= 0 && idx < slot.DOMIndex {
				before++
			}
		}
		// seed includes earlier pages, like every other sponsored rank.
		q.stampSponsored(asin, seed+before+1, pageNum, SubtypeVideo)
	}
}

func (q *Query) stampSponsored(asin string, rank, page int, subtype PaidSubtype) {
	p, ok := q.placements[asin]
	if !ok || q.Counters.FoundSponsored[asin] {
		return
	}
	q.Counters.FoundSponsored[asin] = true
	p.sponsoredRank = rank
	p.sponsoredPage = page
	p.sponsoredType = subtype
}

func (q *Query) stampOrganic(asin string, rank, page int, product *ProductInfo) {
	p, ok := q.placements[asin]
	if !ok || q.Counters.FoundOrganic[asin] {
		return
	}
	q.Counters.FoundOrganic[asin] = true
	p.organicRank = rank
	p.organicPage = page
	if product != nil {
		info := *product
		info.ASIN = asin
		p.product = &info
	}
}

// Done reports whether every target has both an organic and a sponsored rank.
func (q *Query) Done() bool {
	for _, p := range q.placements {
		if !p.resolved() {
			return false
		}
	}
	return true
}

// Fail stamps err on every target that is not fully resolved. Ranks found on
// earlier pages are kept.
func (q *Query) Fail(err error) {
	for _, p := range q.placements {
		if !p.resolved() && p.err == nil {
			p.err = err
		}
	}
}

// NeedsDetail lists targets that have no in-stream product data and no error.
func (q *Query) NeedsDetail() []string {
	var out []string
	for _, t := range q.Targets {
		asin := normalizeASIN(t.ASIN)
		p := q.placements[asin]
		if p == nil || p.product != nil || p.err != nil {
			continue
		}
		if slices.Contains(out, asin) {
			continue
		}
		out = append(out, asin)
	}
	return out
}

// SetProduct attaches detail data fetched outside the slot stream.
func (q *Query) SetProduct(asin string, info *ProductInfo) {
	asin = normalizeASIN(asin)
	if p, ok := q.placements[asin]; ok && info != nil && p.product == nil {
		p.product = info
	}
}

// Resolution pairs a request with its terminal record.
type Resolution struct {
	RequestID int64
	Record    RankRecord
}

// Records builds one terminal record per target request, in request order.
func (q *Query) Records(maxPages int, address string, checkedAt time.Time) []Resolution {
	organicTop := q.Counters.OrganicTop()
	sponsoredTop := q.Counters.SponsoredTop()
	out := make([]Resolution, 0, len(q.Targets))
	for _, t := range q.Targets {
		asin := normalizeASIN(t.ASIN)
		p := q.placements[asin]
		rec := RankRecord{
			Keyword:         q.Keyword,
			TargetASIN:      asin,
			Country:         q.Country,
			OrganicRank:     p.organicRank,
			OrganicPage:     p.organicPage,
			SponsoredRank:   p.sponsoredRank,
			SponsoredPage:   p.sponsoredPage,
			SponsoredType:   p.sponsoredType,
			ProductInfo:     p.product,
			OrganicTop50:    organicTop,
			SponsoredTop20:  sponsoredTop,
			DeliveryAddress: address,
			CheckedAt:       checkedAt,
		}
		if p.err != nil {
			rec.Error = p.err.Error()
		} else if !rec.Found() {
			rec.Warning = fmt.Sprintf("not found in top %d pages", maxPages)
		}
		out = append(out, Resolution{RequestID: t.RequestID, Record: rec})
	}
	return out
}

func isInlinePaid(subtype PaidSubtype) bool {
	switch subtype {
	case SubtypeInlineProduct, SubtypeNone, "":
		return true
	}
	return false
}

func distinctASINs(slots []SlotDescriptor, subtype PaidSubtype) []string {
	var out []string
	for _, slot := range slots {
		asin := normalizeASIN(slot.ASIN)
		if slot.Subtype != subtype || slot.Err != nil || asin == "" {
			continue
		}
		if slices.Contains(out, asin) {
			continue
		}
		out = append(out, asin)
	}
	return out
}

func normalizeASIN(asin string) string {
	return strings.ToUpper(strings.TrimSpace(asin))
}
