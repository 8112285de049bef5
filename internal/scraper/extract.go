package scraper

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

const searchResultSelector = `div[data-component-type='s-search-result']`

var (
	bannerSelectors = []string{
		`[class*="sbx-desktop"]`,
		`[class*="_bXVsd_container"]`,
		`[class*="sb-desktop"]`,
		`[data-component-type="sbx"]`,
		`[data-component-type="sp-sponsored-brands"]`,
		`[data-component-type*="brand"]`,
		`.s-top-slot [class*="sponsored"]`,
		`[class*="sponsored-brand"]`,
		`[class*="brands-storefronts"]`,
		`[cel_widget_id*="MAIN-SEARCH_RESULTS-SBX"]`,
		`[cel_widget_id*="sponsoredBrands"]`,
	}
	topSlotSelectors = []string{
		`[data-component-type="sp-sponsored-products"]`,
		`[cel_widget_id*="MAIN-TOP_BANNER"]`,
		`[cel_widget_id*="TOP_BANNER_SP"]`,
		`.s-top-slot [data-component-type*="sp-"]`,
		`[data-component-type="s-ads-metrics"]`,
	}
	videoSelectors = []string{
		`[class*="sbv-video"]`,
		`[class*="video-single-product"]`,
		`[data-component-type="sbv"]`,
		`[cel_widget_id*="VIDEO"]`,
	}

	sponsoredLabel = regexp.MustCompile(`(?i)Sponsored|Sponsorisé|Gesponsert|Sponsorizzato|Patrocinado|Anzeige|スポンサー`)
	dpASIN         = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
	lpASINs        = regexp.MustCompile(`lp_asins=([A-Z0-9%,]+)`)
	dataASIN       = regexp.MustCompile(`data-asin="([A-Z0-9]{10})"`)
	paramASIN      = regexp.MustCompile(`[?&]asin=([A-Z0-9]{10})`)
	validASIN      = regexp.MustCompile(`^[A-Z0-9]{10}$`)
)

// Extractor reads slot descriptors from Amazon search result markup.
type Extractor struct{}

// NewExtractor returns a search page extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// ExtractSlots implements monitor.SlotExtractor.
func (e *Extractor) ExtractSlots(raw *monitor.RawPage) (*monitor.SearchPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.HTML))
	if err != nil {
		return nil, err
	}
	page := &monitor.SearchPage{}
	if isInterstitial(doc) {
		page.Interstitial = true
		return page, nil
	}

	for _, asin := range containerASINs(doc, bannerSelectors, true) {
		page.Slots = append(page.Slots, monitor.SlotDescriptor{ASIN: asin, Paid: true, Subtype: monitor.SubtypeBrandBanner, DOMIndex: -1})
	}
	for _, asin := range containerASINs(doc, topSlotSelectors, false) {
		page.Slots = append(page.Slots, monitor.SlotDescriptor{ASIN: asin, Paid: true, Subtype: monitor.SubtypeTopSlotProduct, DOMIndex: -1})
	}

	doc.Find(searchResultSelector).Each(func(i int, card *goquery.Selection) {
		page.Slots = append(page.Slots, resultSlot(card, i))
	})

	if video, ok := videoSlot(doc); ok {
		page.Slots = append(page.Slots, video)
	}
	return page, nil
}

func resultSlot(card *goquery.Selection, index int) monitor.SlotDescriptor {
	asin := strings.ToUpper(strings.TrimSpace(card.AttrOr("data-asin", "")))
	if !validASIN.MatchString(asin) {
		return monitor.SlotDescriptor{ASIN: asin, DOMIndex: index, Err: monitor.ErrMalformedSlot}
	}
	if isSponsoredCard(card) {
		return monitor.SlotDescriptor{ASIN: asin, Paid: true, Subtype: monitor.SubtypeInlineProduct, DOMIndex: index}
	}
	return monitor.SlotDescriptor{
		ASIN:     asin,
		Subtype:  monitor.SubtypeNone,
		DOMIndex: index,
		Product:  slotProduct(card, asin),
	}
}

func isSponsoredCard(card *goquery.Selection) bool {
	if strings.Contains(strings.ToLower(card.AttrOr("data-component-type", "")), "sp-") {
		return true
	}
	class := card.AttrOr("class", "")
	if strings.Contains(class, "AdHolder") || strings.Contains(strings.ToLower(class), "sponsored") {
		return true
	}
	markup, err := goquery.OuterHtml(card)
	if err != nil {
		return false
	}
	return sponsoredLabel.MatchString(markup)
}

// containerASINs reads the first container matched by the ordered selectors.
func containerASINs(doc *goquery.Document, selectors []string, allowParams bool) []string {
	for _, sel := range selectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		markup, err := container.Html()
		if err != nil {
			continue
		}
		if asins := asinsFromMarkup(markup, allowParams); len(asins) > 0 {
			return asins
		}
	}
	return nil
}

// asinsFromMarkup tries product links, then lp_asins, then data-asin, then
// asin= parameters, returning the first non-empty set in order of appearance.
func asinsFromMarkup(markup string, allowParams bool) []string {
	if asins := submatches(dpASIN, markup); len(asins) > 0 {
		return asins
	}
	if allowParams {
		if asins := landingPageASINs(markup); len(asins) > 0 {
			return asins
		}
	}
	if asins := submatches(dataASIN, markup); len(asins) > 0 {
		return asins
	}
	if allowParams {
		return submatches(paramASIN, markup)
	}
	return nil
}

// landingPageASINs decodes the comma separated lp_asins parameter.
func landingPageASINs(markup string) []string {
	m := lpASINs.FindStringSubmatch(markup)
	if m == nil {
		return nil
	}
	decoded, err := url.QueryUnescape(m[1])
	if err != nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(decoded, ",") {
		if validASIN.MatchString(part) && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}

// videoSlot locates the first video ad and counts the search results that
// precede it in document order.
func videoSlot(doc *goquery.Document) (monitor.SlotDescriptor, bool) {
	for _, sel := range videoSelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		markup, err := container.Html()
		if err != nil {
			continue
		}
		asins := submatches(dpASIN, markup)
		if len(asins) == 0 {
			asins = landingPageASINs(markup)
		}
		if len(asins) == 0 {
			continue
		}
		return monitor.SlotDescriptor{
			ASIN:     asins[0],
			Paid:     true,
			Subtype:  monitor.SubtypeVideo,
			DOMIndex: precedingResults(doc, container),
		}, true
	}
	return monitor.SlotDescriptor{}, false
}

// precedingResults counts the search results that start before the container
// in document order. It returns -1 when the container cannot be placed.
func precedingResults(doc *goquery.Document, container *goquery.Selection) int {
	target := container.Get(0)
	results := make(map[*html.Node]bool)
	for _, n := range doc.Find(searchResultSelector).Nodes {
		results[n] = true
	}

	count, found := 0, false
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n == target {
			found = true
			return false
		}
		if results[n] {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	for _, root := range doc.Nodes {
		if !walk(root) {
			break
		}
	}
	if !found {
		return -1
	}
	return count
}

func isInterstitial(doc *goquery.Document) bool {
	title := strings.ToLower(doc.Find("title").Text())
	if strings.Contains(title, "robot check") {
		return true
	}
	if doc.Find(`form[action*="validateCaptcha"]`).Length() > 0 || doc.Find("#captchacharacters").Length() > 0 {
		return true
	}
	return strings.Contains(doc.Find("body").Text(), "Type the characters you see in this image")
}

func submatches(re *regexp.Regexp, markup string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(markup, -1) {
		if !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}
