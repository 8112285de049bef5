package scraper

import (
	"sort"
	"strings"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

// GeoPoint is the coordinate a browser session reports for its marketplace.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// CountryConfig represents marketplace configuration for a supported Amazon region,
// including the delivery location a session must display before results are trusted.
type CountryConfig struct {
	Code          string
	Country       string
	Currency      string
	Host          string
	MarketplaceID string
	Language      string
	Zipcode       string
	// ZipParts is set when the location picker has one input per postal code segment.
	ZipParts []string
	// AddressKeywords identify the region in the displayed delivery address.
	AddressKeywords []string
	// MarketParam is the encoded __mk_xx_XX search parameter some EU storefronts expect.
	MarketParam string
	Geo         GeoPoint
	TimeZone    string
}

// countryConfigs lists the marketplaces the monitor can negotiate a delivery location for.
var countryConfigs = map[string]CountryConfig{
	"US": {
		Code: "US", Country: "United States", Currency: "USD", Host: "www.amazon.com", MarketplaceID: "ATVPDKIKX0DER",
		Language: "en-US", Zipcode: "10001",
		AddressKeywords: []string{"United States", "USA", "10001", "New York"},
		Geo:             GeoPoint{40.7128, -74.0060}, TimeZone: "America/New_York",
	},
	"CA": {
		Code: "CA", Country: "Canada", Currency: "CAD", Host: "www.amazon.ca", MarketplaceID: "A2EUQ1WTGCTBG2",
		Language: "en-CA", Zipcode: "M5V 2H1",
		AddressKeywords: []string{"Canada", "M5V", "Toronto"},
		Geo:             GeoPoint{43.6532, -79.3832}, TimeZone: "America/Toronto",
	},
	"GB": {
		Code: "GB", Country: "United Kingdom", Currency: "GBP", Host: "www.amazon.co.uk", MarketplaceID: "A1F83G8C2ARO7P",
		Language: "en-GB", Zipcode: "SW1A 1AA",
		AddressKeywords: []string{"United Kingdom", "UK", "GB", "SW1A", "London", "Britain"},
		Geo:             GeoPoint{51.5074, -0.1278}, TimeZone: "Europe/London",
	},
	"DE": {
		Code: "DE", Country: "Germany", Currency: "EUR", Host: "www.amazon.de", MarketplaceID: "A1PA6795UKMFR9",
		Language: "de-DE", Zipcode: "10115", MarketParam: "__mk_de_DE=%C3%85M%C3%85%C5%BD%C3%95%C3%91",
		AddressKeywords: []string{"Deutschland", "Germany", "10115", "Berlin", "Deutsch"},
		Geo:             GeoPoint{52.5200, 13.4050}, TimeZone: "Europe/Berlin",
	},
	"FR": {
		Code: "FR", Country: "France", Currency: "EUR", Host: "www.amazon.fr", MarketplaceID: "A13V1IB3VIYZZH",
		Language: "fr-FR", Zipcode: "75001", MarketParam: "__mk_fr_FR=%C3%85M%C3%85%C5%BD%C3%95%C3%91",
		AddressKeywords: []string{"France", "Frankreich", "75001", "Paris"},
		Geo:             GeoPoint{48.8566, 2.3522}, TimeZone: "Europe/Paris",
	},
	"ES": {
		Code: "ES", Country: "Spain", Currency: "EUR", Host: "www.amazon.es", MarketplaceID: "A1RKKUPIHCS9HS",
		Language: "es-ES", Zipcode: "28001", MarketParam: "__mk_es_ES=%C3%85M%C3%85%C5%BD%C3%95%C3%91",
		AddressKeywords: []string{"España", "Spain", "Spanien", "28001", "Madrid"},
		Geo:             GeoPoint{40.4168, -3.7038}, TimeZone: "Europe/Madrid",
	},
	"IT": {
		Code: "IT", Country: "Italy", Currency: "EUR", Host: "www.amazon.it", MarketplaceID: "APJ6JRA9NG5V4",
		Language: "it-IT", Zipcode: "00100", MarketParam: "__mk_it_IT=%C3%85M%C3%85%C5%BD%C3%95%C3%91",
		AddressKeywords: []string{"Italia", "Italy", "Italien", "00100", "Roma", "Rom"},
		Geo:             GeoPoint{41.9028, 12.4964}, TimeZone: "Europe/Rome",
	},
	"JP": {
		Code: "JP", Country: "Japan", Currency: "JPY", Host: "www.amazon.co.jp", MarketplaceID: "A1VC38T7YXB528",
		Language: "ja-JP", Zipcode: "100-0001", ZipParts: []string{"100", "0001"},
		AddressKeywords: []string{"Japan", "日本", "100-0001", "Tokyo", "東京"},
		Geo:             GeoPoint{35.6762, 139.6503}, TimeZone: "Asia/Tokyo",
	},
	"AU": {
		Code: "AU", Country: "Australia", Currency: "AUD", Host: "www.amazon.com.au", MarketplaceID: "A39IBJ37TRP1C6",
		Language: "en-AU", Zipcode: "2000",
		AddressKeywords: []string{"Australia", "2000", "Sydney"},
		Geo:             GeoPoint{-33.8688, 151.2093}, TimeZone: "Australia/Sydney",
	},
}

var (
	// countryDisplayAlias maps canonical marketplace codes to the variant merchants
	// expect to see ("UK" rather than the ISO "GB").
	countryDisplayAlias = map[string]string{
		"GB": "UK",
	}

	// countryLookupAlias maps common aliases back to the canonical marketplace code.
	countryLookupAlias = map[string]string{
		"UK": "GB",
	}
)

// Countries returns the supported country codes in display form, sorted.
func Countries() []string {
	codes := make([]string, 0, len(countryConfigs))
	for code := range countryConfigs {
		codes = append(codes, DisplayCode(code))
	}
	sort.Strings(codes)
	return codes
}

// CanonicalCode normalizes a user supplied country code.
func CanonicalCode(country string) string {
	normalized := strings.ToUpper(strings.TrimSpace(country))
	if canonical, ok := countryLookupAlias[normalized]; ok {
		return canonical
	}
	return normalized
}

// DisplayCode returns the alias shown to merchants for a canonical code.
func DisplayCode(code string) string {
	if alias, ok := countryDisplayAlias[code]; ok {
		return alias
	}
	return code
}

// LookupCountry returns the marketplace configuration for the provided code.
// Unknown countries are reported rather than defaulted.
func LookupCountry(country string) (CountryConfig, bool) {
	cfg, ok := countryConfigs[CanonicalCode(country)]
	return cfg, ok
}

// Marketplace is the scheduling view of the configuration.
func (c CountryConfig) Marketplace() monitor.Marketplace {
	return monitor.Marketplace{
		Code:     c.Code,
		Currency: c.Currency,
		Locale: monitor.Locale{
			Zipcode:  c.Zipcode,
			ZipParts: c.ZipParts,
			Keywords: c.AddressKeywords,
		},
	}
}

// LookupMarketplace adapts LookupCountry to monitor.MarketplaceLookup.
func LookupMarketplace(code string) (monitor.Marketplace, bool) {
	cfg, ok := LookupCountry(code)
	if !ok {
		return monitor.Marketplace{}, false
	}
	return cfg.Marketplace(), true
}

// BaseURL is the storefront root.
func (c CountryConfig) BaseURL() string {
	return "https://" + c.Host
}

// SearchURL is the storefront results URL for a keyword and page.
func (c CountryConfig) SearchURL(keyword string, page int) string {
	return searchURL(c.BaseURL(), c, keyword, page)
}

// CookieDomain is the domain marketplace cookies are scoped to, e.g. .amazon.de.
func (c CountryConfig) CookieDomain() string {
	return "." + strings.TrimPrefix(c.Host, "www.")
}

// LanguageCookie is the lc-acbde value for the marketplace language, e.g. de_DE.
func (c CountryConfig) LanguageCookie() string {
	return strings.ReplaceAll(c.Language, "-", "_")
}

// AcceptLanguage is the Accept-Language header sent with every request.
func (c CountryConfig) AcceptLanguage() string {
	primary := strings.SplitN(c.Language, "-", 2)[0]
	if primary == "en" {
		return c.Language + ",en;q=0.9"
	}
	return c.Language + "," + primary + ";q=0.9,en;q=0.8"
}
