package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	mu sync.Mutex

	country     string
	address     string
	afterSubmit string
	noInput     bool
	submits     [][]string
	renders     []string
	failures    map[string][]error
	details     map[string]*ProductInfo
	detailCalls []string
	closed      bool
	onRender    func()
}

func (f *fakeSession) ReadDisplayedLocale(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address, nil
}

func (f *fakeSession) OpenLocalePicker(ctx context.Context) error { return nil }

func (f *fakeSession) FindLocaleInput(ctx context.Context, candidates []string) (string, error) {
	if f.noInput {
		return "", nil
	}
	return candidates[0], nil
}

func (f *fakeSession) SubmitLocaleInput(ctx context.Context, surface string, parts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, parts)
	if f.afterSubmit != "" {
		f.address = f.afterSubmit
	}
	return nil
}

func (f *fakeSession) DismissLocalePicker(ctx context.Context) error { return nil }

func (f *fakeSession) RenderSearchPage(ctx context.Context, keyword string, page int) (*RawPage, error) {
	if f.onRender != nil {
		f.onRender()
	}
	key := pageKey(f.country, keyword, page)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, key)
	if queue := f.failures[key]; len(queue) > 0 {
		err := queue[0]
		f.failures[key] = queue[1:]
		return nil, err
	}
	return &RawPage{URL: key, StatusCode: 200}, nil
}

func (f *fakeSession) FetchTargetDetail(ctx context.Context, asin string) (*ProductInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, asin)
	if info, ok := f.details[asin]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no detail for %s", asin)
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) renderCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.renders {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

type fakeExtractor struct {
	pages map[string]*SearchPage
}

func (e fakeExtractor) ExtractSlots(raw *RawPage) (*SearchPage, error) {
	if p, ok := e.pages[raw.URL]; ok {
		return p, nil
	}
	return &SearchPage{}, nil
}

func pageKey(country, keyword string, page int) string {
	return fmt.Sprintf("%s|%s|%d", country, keyword, page)
}

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Publish(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memorySink) records() map[int64]RankRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]RankRecord{}
	for _, ev := range m.events {
		if ev.Type == EventProgress {
			out[ev.MonitoringID] = *ev.Result
		}
	}
	return out
}

func organic(asin string, dom int) SlotDescriptor {
	return SlotDescriptor{ASIN: asin, Subtype: SubtypeNone, DOMIndex: dom}
}

func inline(asin string, dom int) SlotDescriptor {
	return SlotDescriptor{ASIN: asin, Paid: true, Subtype: SubtypeInlineProduct, DOMIndex: dom}
}

func paid(asin string, subtype PaidSubtype, dom int) SlotDescriptor {
	return SlotDescriptor{ASIN: asin, Paid: true, Subtype: subtype, DOMIndex: dom}
}

var testMarkets = map[string]Marketplace{
	"US": {Code: "US", Currency: "USD", Locale: Locale{Zipcode: "10001", Keywords: []string{"New York", "10001"}}},
	"DE": {Code: "DE", Currency: "EUR", Locale: Locale{Zipcode: "10115", Keywords: []string{"Berlin", "10115"}}},
	"FR": {Code: "FR", Currency: "EUR", Locale: Locale{Zipcode: "75001", Keywords: []string{"Paris", "75001"}}},
}

func testLookup(code string) (Marketplace, bool) {
	m, ok := testMarkets[code]
	return m, ok
}
