package scraper

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

// ParseProductDetail reads the descriptive fields of a product detail page.
func ParseProductDetail(r io.Reader, asin string) (*monitor.ProductInfo, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	if isInterstitial(doc) {
		return nil, monitor.ErrInterstitial
	}

	info := &monitor.ProductInfo{
		ASIN:  strings.ToUpper(strings.TrimSpace(asin)),
		Title: textOrFallback(doc.Find("#productTitle"), ""),
		Price: firstNonEmpty(
			textOrFallback(doc.Find(".a-price .a-offscreen"), ""),
			textOrFallback(doc.Find("span#priceblock_ourprice"), ""),
			textOrFallback(doc.Find("span#priceblock_dealprice"), ""),
		),
		ImageURL: firstNonEmpty(
			doc.Find("#landingImage").AttrOr("src", ""),
			doc.Find("#imgBlkFront").AttrOr("src", ""),
		),
	}
	return info, nil
}

// slotProduct reads the in-stream fields of a search result card.
func slotProduct(card *goquery.Selection, asin string) *monitor.ProductInfo {
	title := firstNonEmpty(
		card.Find("h2 span").First().Text(),
		card.Find("h2").First().Text(),
	)
	price := firstNonEmpty(
		card.Find("span.a-price span.a-offscreen").First().Text(),
		card.Find("span.a-price-whole").First().Text(),
	)
	image := card.Find("img.s-image").AttrOr("src", "")
	if title == "" && price == "" && image == "" {
		return nil
	}
	return &monitor.ProductInfo{ASIN: asin, Title: title, Price: price, ImageURL: image}
}

func textOrFallback(sel *goquery.Selection, fallback string) string {
	value := strings.TrimSpace(sel.First().Text())
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
