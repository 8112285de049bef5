package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

func TestParseRequestsBatch(t *testing.T) {
	input := `[[1, "travel mug", "B000000001", "US"], {"id": 2, "keyword": "tasse", "target_asin": "B000000002", "country": "DE"}]`
	requests, err := parseRequests(true, strings.NewReader(input), "", "", "")
	if err != nil {
		t.Fatalf("parseRequests: %v", err)
	}
	if len(requests) != 2 || requests[1].Country != "DE" || requests[0].Keyword != "travel mug" {
		t.Fatalf("unexpected requests %+v", requests)
	}
	if _, err := parseRequests(true, strings.NewReader(`[]`), "", "", ""); err == nil {
		t.Fatalf("expected error for empty batch")
	}
}

func TestParseRequestsRejectsMissingAndDuplicateIDs(t *testing.T) {
	inputs := map[string]string{
		"missing":   `[{"keyword": "mug", "target_asin": "B000000001", "country": "US"}, {"keyword": "mug", "target_asin": "B000000002", "country": "US"}]`,
		"duplicate": `[[7, "mug", "B000000001", "US"], [7, "tea", "B000000002", "DE"]]`,
	}
	for name, input := range inputs {
		_, err := parseRequests(true, strings.NewReader(input), "", "", "")
		if !errors.Is(err, monitor.ErrInvalidRequest) {
			t.Fatalf("%s ids: expected ErrInvalidRequest, got %v", name, err)
		}
	}
}

func TestParseRequestsSingle(t *testing.T) {
	requests, err := parseRequests(false, nil, " mug ", "B000000001", "UK")
	if err != nil {
		t.Fatalf("parseRequests: %v", err)
	}
	if len(requests) != 1 || requests[0].ID != 1 || requests[0].Keyword != "mug" || requests[0].Country != "UK" {
		t.Fatalf("unexpected request %+v", requests)
	}
	if _, err := parseRequests(false, nil, "mug", "", "US"); err == nil {
		t.Fatalf("expected error without asin")
	}
}
