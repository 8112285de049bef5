package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MonitoringRequest asks for the rank of one ASIN under one keyword in one marketplace.
type MonitoringRequest struct {
	ID         int64  `json:"id"`
	Keyword    string `json:"keyword"`
	TargetASIN string `json:"target_asin"`
	Country    string `json:"country"`
}

// UnmarshalJSON accepts both the object form and the compact
// [id, keyword, asin, country] tuple form.
func (r *MonitoringRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return err
		}
		if len(tuple) != 4 {
			return fmt.Errorf("monitoring request tuple: want 4 fields, got %d", len(tuple))
		}
		var req MonitoringRequest
		if err := json.Unmarshal(tuple[0], &req.ID); err != nil {
			return fmt.Errorf("monitoring request id: %w", err)
		}
		for i, dst := range []*string{&req.Keyword, &req.TargetASIN, &req.Country} {
			if err := json.Unmarshal(tuple[i+1], dst); err != nil {
				return fmt.Errorf("monitoring request field %d: %w", i+1, err)
			}
		}
		*r = req
		return nil
	}

	type plain MonitoringRequest
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = MonitoringRequest(p)
	return nil
}

// PaidSubtype tags the kind of advertising placement a slot belongs to.
type PaidSubtype string

const (
	SubtypeNone           PaidSubtype = "none"
	SubtypeBrandBanner    PaidSubtype = "brand_banner"
	SubtypeTopSlotProduct PaidSubtype = "top_slot_product"
	SubtypeInlineProduct  PaidSubtype = "inline_product"
	SubtypeVideo          PaidSubtype = "video"
)

// ProductInfo holds the descriptive fields shown next to a resolved rank.
type ProductInfo struct {
	ASIN     string `json:"asin"`
	Title    string `json:"title,omitempty"`
	Price    string `json:"price,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// SlotDescriptor is one placement on a rendered search page.
//
// DOMIndex is the number of main-stream results that precede the slot in
// document order. A negative DOMIndex means the extractor could not place it.
// Err marks a slot whose structure could not be read; such slots are skipped.
type SlotDescriptor struct {
	ASIN     string
	Paid     bool
	Subtype  PaidSubtype
	DOMIndex int
	Product  *ProductInfo
	Err      error
}

// SearchPage is the extracted content of one results page.
type SearchPage struct {
	Slots        []SlotDescriptor
	Interstitial bool
}

// RawPage is a rendered page handed from a Session to a SlotExtractor.
type RawPage struct {
	URL        string
	StatusCode int
	HTML       string
}

// RankRecord is the terminal result for a single MonitoringRequest.
// Zero ranks and pages mean the placement was not found.
type RankRecord struct {
	Keyword         string       `json:"keyword"`
	TargetASIN      string       `json:"target_asin"`
	Country         string       `json:"country"`
	OrganicRank     int          `json:"organic_rank,omitempty"`
	OrganicPage     int          `json:"organic_page,omitempty"`
	SponsoredRank   int          `json:"sponsored_rank,omitempty"`
	SponsoredPage   int          `json:"sponsored_page,omitempty"`
	SponsoredType   PaidSubtype  `json:"sponsored_type,omitempty"`
	ProductInfo     *ProductInfo `json:"product_info,omitempty"`
	OrganicTop50    []string     `json:"organic_top_50"`
	SponsoredTop20  []string     `json:"sponsored_top_20"`
	DeliveryAddress string       `json:"delivery_address,omitempty"`
	CheckedAt       time.Time    `json:"checked_at"`
	Warning         string       `json:"warning,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Found reports whether any placement was resolved.
func (r RankRecord) Found() bool {
	return r.OrganicRank > 0 || r.SponsoredRank > 0
}
