package monitor

import "context"

// Locale is what a session must display before its search results are trusted.
type Locale struct {
	Zipcode string
	// ZipParts splits the postal code for pickers with one input per segment.
	ZipParts []string
	// Keywords are substrings any of which identify the right delivery region.
	Keywords []string
}

// Marketplace is the scheduling view of one supported country.
type Marketplace struct {
	Code     string
	Currency string
	Locale   Locale
}

// MarketplaceLookup resolves a country code into its marketplace.
type MarketplaceLookup func(code string) (Marketplace, bool)

// Session is one stateful browsing context bound to a single marketplace.
// A Session is used by one goroutine at a time.
type Session interface {
	ReadDisplayedLocale(ctx context.Context) (string, error)
	OpenLocalePicker(ctx context.Context) error
	// FindLocaleInput returns the first candidate surface that accepts a
	// postal code, or "" when none is present.
	FindLocaleInput(ctx context.Context, candidates []string) (string, error)
	SubmitLocaleInput(ctx context.Context, surface string, parts []string) error
	DismissLocalePicker(ctx context.Context) error
	RenderSearchPage(ctx context.Context, keyword string, page int) (*RawPage, error)
	FetchTargetDetail(ctx context.Context, asin string) (*ProductInfo, error)
	Close() error
}

// SessionFactory opens a fresh session for a marketplace.
type SessionFactory func(ctx context.Context, m Marketplace) (Session, error)

// SlotExtractor turns a rendered page into ordered slot descriptors.
type SlotExtractor interface {
	ExtractSlots(raw *RawPage) (*SearchPage, error)
}
