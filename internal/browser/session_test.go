package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/scraper"
)

func TestFactoryRejectsUnknownMarketplace(t *testing.T) {
	open := Factory(DefaultOptions())
	_, err := open(context.Background(), monitor.Marketplace{Code: "ZZ"})
	if !errors.Is(err, monitor.ErrUnsupportedCountry) {
		t.Fatalf("expected ErrUnsupportedCountry, got %v", err)
	}
}

func TestMarketCookies(t *testing.T) {
	cfg, ok := scraper.LookupCountry("FR")
	if !ok {
		t.Fatalf("expected FR marketplace")
	}
	cookies := marketCookies(cfg)
	if len(cookies) != 2 {
		t.Fatalf("expected two cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.Domain != ".amazon.fr" {
			t.Fatalf("unexpected cookie domain %s", c.Domain)
		}
	}
	if cookies[0].Value != "EUR" || cookies[1].Value != "fr_FR" {
		t.Fatalf("unexpected cookie values %s %s", cookies[0].Value, cookies[1].Value)
	}
}

func TestAllocatorOptionsAddProxy(t *testing.T) {
	cfg, _ := scraper.LookupCountry("US")
	base := allocatorOptions(cfg, DefaultOptions())
	opts := DefaultOptions()
	opts.Proxy = "http://127.0.0.1:8080"
	opts.ExecPath = "/usr/bin/chromium"
	withProxy := allocatorOptions(cfg, opts)
	if len(withProxy) != len(base)+2 {
		t.Fatalf("expected proxy and exec path options, got %d vs %d", len(withProxy), len(base))
	}
}

func TestJoinParts(t *testing.T) {
	if got := joinParts([]string{"100", "0001"}); got != "100-0001" {
		t.Fatalf("unexpected joined code %s", got)
	}
	if got := joinParts([]string{"10115"}); got != "10115" {
		t.Fatalf("unexpected single code %s", got)
	}
}
