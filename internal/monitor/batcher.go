package monitor

import (
	"fmt"
	"strings"
)

// Target is one request's product within a shared query.
type Target struct {
	RequestID int64
	ASIN      string
}

// QueryGroup is a unique keyword searched once for all of its targets.
type QueryGroup struct {
	Key     string
	Keyword string
	Targets []Target
}

// CountryGroup holds a country's queries in first-seen order.
type CountryGroup struct {
	Country  string
	Queries  []*QueryGroup
	Requests []MonitoringRequest
}

// Batch is the grouped form of a monitoring run. Its requests carry the
// canonical country code.
type Batch struct {
	Countries []*CountryGroup
	Requests  []MonitoringRequest
}

// Total is the number of requests in the batch.
func (b *Batch) Total() int { return len(b.Requests) }

// Group folds requests into one query per (country, normalized keyword).
// canonical maps a raw country code to its canonical form; nil upper-cases it.
func Group(requests []MonitoringRequest, canonical func(string) string) *Batch {
	if canonical == nil {
		canonical = func(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
	}

	batch := &Batch{Requests: make([]MonitoringRequest, 0, len(requests))}
	countries := map[string]*CountryGroup{}
	queries := map[string]map[string]*QueryGroup{}

	for _, req := range requests {
		country := canonical(req.Country)
		req.Country = country
		batch.Requests = append(batch.Requests, req)
		cg, ok := countries[country]
		if !ok {
			cg = &CountryGroup{Country: country}
			countries[country] = cg
			queries[country] = map[string]*QueryGroup{}
			batch.Countries = append(batch.Countries, cg)
		}
		cg.Requests = append(cg.Requests, req)

		key := NormalizeKeyword(req.Keyword)
		qg, ok := queries[country][key]
		if !ok {
			qg = &QueryGroup{Key: key, Keyword: strings.TrimSpace(req.Keyword)}
			queries[country][key] = qg
			cg.Queries = append(cg.Queries, qg)
		}
		qg.Targets = append(qg.Targets, Target{RequestID: req.ID, ASIN: normalizeASIN(req.TargetASIN)})
	}
	return batch
}

// ValidateRequests checks that every request carries a positive ID that no
// other request in the batch uses. Records are keyed by ID.
func ValidateRequests(requests []MonitoringRequest) error {
	seen := make(map[int64]int, len(requests))
	for i, req := range requests {
		if req.ID <= 0 {
			return fmt.Errorf("%w: request %d: id must be a positive integer", ErrInvalidRequest, i)
		}
		if first, dup := seen[req.ID]; dup {
			return fmt.Errorf("%w: request %d: id %d already used by request %d", ErrInvalidRequest, i, req.ID, first)
		}
		seen[req.ID] = i
	}
	return nil
}

// NormalizeKeyword folds case and whitespace so equivalent keywords share a search.
func NormalizeKeyword(keyword string) string {
	return strings.Join(strings.Fields(strings.ToLower(keyword)), " ")
}
