package monitor

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestQuery(asins ...string) *Query {
	group := &QueryGroup{Key: "yoga mat", Keyword: "yoga mat"}
	for i, asin := range asins {
		group.Targets = append(group.Targets, Target{RequestID: int64(i + 1), ASIN: asin})
	}
	return NewQuery("US", group)
}

func recordFor(t *testing.T, q *Query, id int64) RankRecord {
	t.Helper()
	for _, res := range q.Records(5, "New York 10001", time.Unix(0, 0)) {
		if res.RequestID == id {
			return res.Record
		}
	}
	t.Fatalf("no record for request %d", id)
	return RankRecord{}
}

func TestResolvePageTracksOrganicAndPaidIndependently(t *testing.T) {
	q := newTestQuery("B000TARGET")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		organic("B000TARGET", 0),
		organic("B000OTHER1", 1),
		inline("B000TARGET", 2),
	}}, 1)

	rec := recordFor(t, q, 1)
	if rec.OrganicRank != 1 || rec.OrganicPage != 1 {
		t.Fatalf("organic = %d/%d, want 1/1", rec.OrganicRank, rec.OrganicPage)
	}
	if rec.SponsoredRank != 1 || rec.SponsoredType != SubtypeInlineProduct {
		t.Fatalf("sponsored = %d %s, want 1 inline_product", rec.SponsoredRank, rec.SponsoredType)
	}
	if rec.Warning != "" || rec.Error != "" {
		t.Fatalf("unexpected warning/error: %q %q", rec.Warning, rec.Error)
	}
}

func TestResolvePageSeedsSponsoredWithBannerAndTopSlots(t *testing.T) {
	q := newTestQuery("B00BANNER2", "B00TOPSLT1", "B00INLINE1")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		paid("B00BANNER1", SubtypeBrandBanner, -1),
		paid("B00BANNER2", SubtypeBrandBanner, -1),
		paid("B00TOPSLT1", SubtypeTopSlotProduct, -1),
		organic("B000ORGAN1", 0),
		inline("B00INLINE1", 1),
	}}, 1)

	if got := recordFor(t, q, 1); got.SponsoredRank != 2 || got.SponsoredType != SubtypeBrandBanner {
		t.Fatalf("banner rank = %d %s, want 2 brand_banner", got.SponsoredRank, got.SponsoredType)
	}
	if got := recordFor(t, q, 2); got.SponsoredRank != 3 || got.SponsoredType != SubtypeTopSlotProduct {
		t.Fatalf("top slot rank = %d %s, want 3 top_slot_product", got.SponsoredRank, got.SponsoredType)
	}
	if got := recordFor(t, q, 3); got.SponsoredRank != 4 {
		t.Fatalf("inline rank = %d, want 4", got.SponsoredRank)
	}
	if q.Counters.SponsoredPosition != 4 {
		t.Fatalf("sponsored position = %d, want 4", q.Counters.SponsoredPosition)
	}
	if top := q.Counters.SponsoredTop(); len(top) != 1 || top[0] != "B00INLINE1" {
		t.Fatalf("sponsored top = %v", top)
	}
}

func TestResolvePageVideoRank(t *testing.T) {
	q := newTestQuery("B000VIDEO1")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		paid("B00BANNER1", SubtypeBrandBanner, -1),
		paid("B00TOPSLT1", SubtypeTopSlotProduct, -1),
		paid("B00TOPSLT2", SubtypeTopSlotProduct, -1),
		organic("B000ORGAN1", 0),
		inline("B00INLINE1", 1),
		organic("B000ORGAN2", 2),
		paid("B000VIDEO1", SubtypeVideo, 3),
		inline("B00INLINE2", 3),
	}}, 1)

	rec := recordFor(t, q, 1)
	if rec.SponsoredRank != 5 || rec.SponsoredType != SubtypeVideo {
		t.Fatalf("video rank = %d %s, want 5 video", rec.SponsoredRank, rec.SponsoredType)
	}
	if q.Counters.SponsoredPosition != 5 {
		t.Fatalf("video must not advance the counter, position = %d", q.Counters.SponsoredPosition)
	}
}

func TestResolvePageVideoRankContinuesFromEarlierPages(t *testing.T) {
	q := newTestQuery("B000VIDEO1")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		paid("B00BANNER1", SubtypeBrandBanner, -1),
		organic("B000ORGAN1", 0),
		inline("B00INLINE1", 1),
	}}, 1)
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		paid("B00TOPSLT1", SubtypeTopSlotProduct, -1),
		organic("B000ORGAN2", 0),
		inline("B00INLINE2", 1),
		paid("B000VIDEO1", SubtypeVideo, 2),
	}}, 2)

	// Two paid slots on page 1, then top slot and one inline ad before the video.
	rec := recordFor(t, q, 1)
	if rec.SponsoredRank != 5 || rec.SponsoredPage != 2 || rec.SponsoredType != SubtypeVideo {
		t.Fatalf("video = %d/%d %s, want 5/2 video", rec.SponsoredRank, rec.SponsoredPage, rec.SponsoredType)
	}
}

func TestResolvePageVideoWithoutIndexIsNotRanked(t *testing.T) {
	q := newTestQuery("B000VIDEO1")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		organic("B000ORGAN1", 0),
		paid("B000VIDEO1", SubtypeVideo, -1),
	}}, 1)

	rec := recordFor(t, q, 1)
	if rec.SponsoredRank != 0 {
		t.Fatalf("sponsored rank = %d, want unranked", rec.SponsoredRank)
	}
	if rec.Warning != "not found in top 5 pages" {
		t.Fatalf("warning = %q", rec.Warning)
	}
}

func TestResolvePageDeduplicatesWithinCategoryAndSkipsMalformed(t *testing.T) {
	q := newTestQuery("B000TARGET")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		organic("B000OTHER1", 0),
		organic("b000other1", 1),
		{ASIN: "", DOMIndex: 2},
		{ASIN: "B000BROKEN", DOMIndex: 3, Err: ErrMalformedSlot},
		organic("B000TARGET", 4),
	}}, 1)

	if got := recordFor(t, q, 1).OrganicRank; got != 2 {
		t.Fatalf("organic rank = %d, want 2", got)
	}
	if top := q.Counters.OrganicTop(); len(top) != 2 {
		t.Fatalf("organic top = %v, want 2 entries", top)
	}
}

func TestResolvePageIsCumulativeAndFirstOccurrenceWins(t *testing.T) {
	q := newTestQuery("B000TARGET", "B000LATER1")
	first := &SearchPage{}
	for i := 0; i < 48; i++ {
		first.Slots = append(first.Slots, organic(fmt.Sprintf("B0PAGE1%03d", i), i))
	}
	first.Slots = append(first.Slots, organic("B000TARGET", 48), inline("B0AD000001", 49))
	q.ResolvePage(first, 1)
	organicAfter1, sponsoredAfter1 := q.Counters.OrganicPosition, q.Counters.SponsoredPosition

	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		organic("B000TARGET", 0),
		organic("B000LATER1", 1),
		inline("B000TARGET", 2),
	}}, 2)

	if q.Counters.OrganicPosition < organicAfter1 || q.Counters.SponsoredPosition < sponsoredAfter1 {
		t.Fatalf("positions decreased across pages")
	}
	target := recordFor(t, q, 1)
	if target.OrganicRank != 49 || target.OrganicPage != 1 {
		t.Fatalf("target organic = %d/%d, want 49/1", target.OrganicRank, target.OrganicPage)
	}
	if target.SponsoredRank != 2 || target.SponsoredPage != 2 {
		t.Fatalf("target sponsored = %d/%d, want 2/2", target.SponsoredRank, target.SponsoredPage)
	}
	if later := recordFor(t, q, 2); later.OrganicRank != 51 || later.OrganicPage != 2 {
		t.Fatalf("later organic = %d/%d, want 51/2", later.OrganicRank, later.OrganicPage)
	}
	if top := q.Counters.OrganicTop(); len(top) != organicTopLimit {
		t.Fatalf("organic top holds %d entries, want %d", len(top), organicTopLimit)
	}
}

func TestQueryDoneAndFail(t *testing.T) {
	q := newTestQuery("B000TARGET", "B000SECOND")
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{
		organic("B000TARGET", 0),
		inline("B000TARGET", 1),
		organic("B000SECOND", 2),
	}}, 1)
	if q.Done() {
		t.Fatalf("query done while B000SECOND has no sponsored rank")
	}

	q.Fail(&PageError{Page: 2, Err: ErrInterstitial})
	done := recordFor(t, q, 1)
	if done.Error != "" {
		t.Fatalf("resolved target got error %q", done.Error)
	}
	partial := recordFor(t, q, 2)
	if partial.Error == "" || partial.OrganicRank != 2 {
		t.Fatalf("partial target = %+v, want error with organic rank kept", partial)
	}
	if !errors.Is(&PageError{Page: 2, Err: ErrInterstitial}, ErrInterstitial) {
		t.Fatalf("PageError must unwrap")
	}
}

func TestQueryProductInfoComesFromOwnSlot(t *testing.T) {
	q := newTestQuery("B000TARGET", "B000SECOND")
	slot := organic("B000TARGET", 0)
	slot.Product = &ProductInfo{Title: "Target mat", Price: "$20.00"}
	q.ResolvePage(&SearchPage{Slots: []SlotDescriptor{slot}}, 1)

	needs := q.NeedsDetail()
	if len(needs) != 1 || needs[0] != "B000SECOND" {
		t.Fatalf("needs detail = %v, want [B000SECOND]", needs)
	}
	q.SetProduct("B000SECOND", &ProductInfo{ASIN: "B000SECOND", Title: "Second"})
	if got := recordFor(t, q, 1).ProductInfo; got == nil || got.Title != "Target mat" || got.ASIN != "B000TARGET" {
		t.Fatalf("target product = %+v", got)
	}
	if got := recordFor(t, q, 2).ProductInfo; got == nil || got.Title != "Second" {
		t.Fatalf("second product = %+v", got)
	}
}
