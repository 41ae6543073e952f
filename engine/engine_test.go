package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apthunt/harvester/browser"
	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/script"
)

const testScript = `{
	"url_template": "https://example.com/search?min={min_price}&max={max_price}&beds={beds}&loc={location}",
	"list_selector": "article",
	"fields": {"address": {"selector": "h2"}},
	"link": {"selector": "a", "attr": "href"}
}`

type fakePage struct {
	payload models.Payload
	status  int
	snap    browser.Snapshot
	err     error
}

func (p *fakePage) Extract(def *script.Definition) (models.Payload, error) {
	return p.payload, p.err
}
func (p *fakePage) Status() int                { return p.status }
func (p *fakePage) Snapshot() browser.Snapshot { return p.snap }
func (p *fakePage) Close()                     {}

type fakeAutomation struct {
	page    browser.Page
	openErr error
	lastURL string
}

func (a *fakeAutomation) Open(ctx context.Context, url string, ident models.RequestIdentity, timeout time.Duration) (browser.Page, error) {
	a.lastURL = url
	if a.openErr != nil {
		return nil, a.openErr
	}
	return a.page, nil
}

func (a *fakeAutomation) Name() string { return "fake" }

func testVersion(body string) models.ScriptVersion {
	return models.ScriptVersion{Site: "rentals", Version: 1, Body: body}
}

func TestRunSuccess(t *testing.T) {
	auto := &fakeAutomation{page: &fakePage{
		status: 200,
		payload: models.Payload{Listings: []models.RawListing{
			{Fields: map[string]string{"address": "1 A St"}, SourceURL: "https://example.com/a"},
		}},
	}}
	eng := New(auto, time.Second)

	params := models.SearchParams{MinPrice: 1000, MaxPrice: 2000, Bedrooms: 2, Location: "fremont"}
	attempt := eng.Run(context.Background(), "req-1", 1, testVersion(testScript), params, models.RequestIdentity{})

	if !attempt.Success {
		t.Fatalf("attempt failed: %+v", attempt.Diagnostics)
	}
	if attempt.Payload == nil || len(attempt.Payload.Listings) != 1 {
		t.Fatalf("payload = %+v, want one listing", attempt.Payload)
	}
	want := "https://example.com/search?min=1000&max=2000&beds=2&loc=fremont"
	if auto.lastURL != want {
		t.Errorf("navigated URL = %q, want %q", auto.lastURL, want)
	}
	if attempt.EndedAt.Before(attempt.StartedAt) {
		t.Error("EndedAt precedes StartedAt")
	}
}

// An empty payload on a cleanly loaded page must produce a bundle with
// markup but no error text, the shape the classifier reads as
// structural.
func TestRunEmptyPayload(t *testing.T) {
	auto := &fakeAutomation{page: &fakePage{
		status: 200,
		snap:   browser.Snapshot{HTML: "<html><body>redesigned</body></html>", Title: "Rentals"},
	}}
	eng := New(auto, time.Second)

	attempt := eng.Run(context.Background(), "req-1", 1, testVersion(testScript), models.SearchParams{}, models.RequestIdentity{})

	if attempt.Success {
		t.Fatal("attempt succeeded, want failure")
	}
	bundle := attempt.Diagnostics
	if bundle == nil {
		t.Fatal("diagnostics missing")
	}
	if bundle.ErrText != "" {
		t.Errorf("ErrText = %q, want empty", bundle.ErrText)
	}
	if bundle.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", bundle.StatusCode)
	}
	if bundle.HTML == "" {
		t.Error("HTML snapshot missing")
	}
	if bundle.PageTitle != "Rentals" {
		t.Errorf("PageTitle = %q, want %q", bundle.PageTitle, "Rentals")
	}
}

func TestRunHTTPStatusError(t *testing.T) {
	auto := &fakeAutomation{openErr: &browser.StatusError{Code: 403}}
	eng := New(auto, time.Second)

	attempt := eng.Run(context.Background(), "req-1", 1, testVersion(testScript), models.SearchParams{}, models.RequestIdentity{})

	if attempt.Success {
		t.Fatal("attempt succeeded, want failure")
	}
	if attempt.Diagnostics.StatusCode != 403 {
		t.Errorf("StatusCode = %d, want 403", attempt.Diagnostics.StatusCode)
	}
}

func TestRunNavigationTimeout(t *testing.T) {
	auto := &fakeAutomation{openErr: errors.New("page.goto: Timeout 60000ms exceeded")}
	eng := New(auto, time.Second)

	attempt := eng.Run(context.Background(), "req-1", 1, testVersion(testScript), models.SearchParams{}, models.RequestIdentity{})

	if attempt.Success {
		t.Fatal("attempt succeeded, want failure")
	}
	if !attempt.Diagnostics.TimedOut {
		t.Error("TimedOut = false, want true")
	}
}

func TestRunUnparsableScript(t *testing.T) {
	auto := &fakeAutomation{}
	eng := New(auto, time.Second)

	attempt := eng.Run(context.Background(), "req-1", 1, testVersion("garbage"), models.SearchParams{}, models.RequestIdentity{})

	if attempt.Success {
		t.Fatal("attempt succeeded, want failure")
	}
	if attempt.Diagnostics.ErrText == "" {
		t.Error("ErrText empty, want parse error")
	}
	if auto.lastURL != "" {
		t.Errorf("navigation happened for unparsable script: %q", auto.lastURL)
	}
}

func TestRunCancelledDuringPacing(t *testing.T) {
	auto := &fakeAutomation{page: &fakePage{status: 200}}
	eng := New(auto, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	ident := models.RequestIdentity{Delay: 5 * time.Second}
	start := time.Now()
	attempt := eng.Run(ctx, "req-1", 1, testVersion(testScript), models.SearchParams{}, ident)

	if attempt.Success {
		t.Fatal("attempt succeeded, want failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, pacing delay was not aborted", elapsed)
	}
	if auto.lastURL != "" {
		t.Error("navigation happened after cancellation")
	}
}
