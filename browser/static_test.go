package browser

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/script"
)

const listingsHTML = `<html>
<head><title>Search Results</title></head>
<body>
	<article class="listing">
		<h2 class="address">123 Main St</h2>
		<span class="price">$1,850/mo</span>
		<span class="beds">2 Bedrooms</span>
		<span class="hood">Capitol Hill</span>
		<a class="detail" href="/listings/123-main">View</a>
	</article>
	<article class="listing">
		<h2 class="address">55 Pine Ave</h2>
		<span class="price">$2,100/mo</span>
		<span class="beds">Studio</span>
		<span class="hood">Fremont</span>
		<a class="detail" href="https://other.example.com/55-pine">View</a>
	</article>
</body>
</html>`

func testDefinition() *script.Definition {
	return &script.Definition{
		URLTemplate:  "https://example.com/search",
		ListSelector: "article.listing",
		Fields: map[string]script.FieldRule{
			"address":      {Selector: "h2.address"},
			"price":        {Selector: "span.price"},
			"bedrooms":     {Selector: "span.beds"},
			"neighborhood": {Selector: "span.hood"},
		},
		Link: script.FieldRule{Selector: "a.detail", Attr: "href"},
	}
}

func TestStaticOpenAndExtract(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/search",
		httpmock.NewStringResponder(http.StatusOK, listingsHTML))

	auto := NewStatic().WithTransport(transport)
	ident := models.RequestIdentity{
		UserAgent: "test-agent",
		Referer:   "https://www.google.com/",
		Headers:   map[string]string{"Accept-Language": "en-US,en;q=0.9"},
	}

	page, err := auto.Open(context.Background(), "https://example.com/search", ident, 5*time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer page.Close()

	if page.Status() != http.StatusOK {
		t.Errorf("Status() = %d, want 200", page.Status())
	}

	payload, err := page.Extract(testDefinition())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(payload.Listings) != 2 {
		t.Fatalf("listing count = %d, want 2", len(payload.Listings))
	}

	first := payload.Listings[0]
	if first.Fields["address"] != "123 Main St" {
		t.Errorf("address = %q, want %q", first.Fields["address"], "123 Main St")
	}
	if first.Fields["price"] != "$1,850/mo" {
		t.Errorf("price = %q, want %q", first.Fields["price"], "$1,850/mo")
	}
	// Relative links resolve against the page URL.
	if first.SourceURL != "https://example.com/listings/123-main" {
		t.Errorf("SourceURL = %q, want resolved absolute URL, got %q", first.SourceURL, first.SourceURL)
	}
	// Absolute links pass through untouched.
	if payload.Listings[1].SourceURL != "https://other.example.com/55-pine" {
		t.Errorf("SourceURL = %q, want absolute link preserved", payload.Listings[1].SourceURL)
	}

	snap := page.Snapshot()
	if snap.Title != "Search Results" {
		t.Errorf("Snapshot title = %q, want %q", snap.Title, "Search Results")
	}
	if snap.HTML == "" {
		t.Error("Snapshot HTML empty")
	}
}

func TestStaticOpenAppliesIdentity(t *testing.T) {
	var got *http.Request
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/search",
		func(req *http.Request) (*http.Response, error) {
			got = req
			return httpmock.NewStringResponse(http.StatusOK, listingsHTML), nil
		})

	ident := models.RequestIdentity{
		UserAgent: "custom-agent/1.0",
		Referer:   "https://duckduckgo.com/",
		Headers:   map[string]string{"Accept-Language": "en-GB,en;q=0.8"},
	}

	page, err := NewStatic().WithTransport(transport).Open(context.Background(), "https://example.com/search", ident, 5*time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	page.Close()

	if got == nil {
		t.Fatal("no request captured")
	}
	if ua := got.Header.Get("User-Agent"); ua != "custom-agent/1.0" {
		t.Errorf("User-Agent = %q, want %q", ua, "custom-agent/1.0")
	}
	if ref := got.Header.Get("Referer"); ref != "https://duckduckgo.com/" {
		t.Errorf("Referer = %q, want %q", ref, "https://duckduckgo.com/")
	}
	if al := got.Header.Get("Accept-Language"); al != "en-GB,en;q=0.8" {
		t.Errorf("Accept-Language = %q, want %q", al, "en-GB,en;q=0.8")
	}
}

// Blocking interstitials usually arrive as a 403 with a body; the page
// must stay inspectable so the classifier can read the markup.
func TestStaticOpenBlockedInterstitial(t *testing.T) {
	blockedHTML := `<html><head><title>Access Denied</title></head><body>Pardon our interruption</body></html>`
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/search",
		httpmock.NewStringResponder(http.StatusForbidden, blockedHTML))

	page, err := NewStatic().WithTransport(transport).Open(context.Background(), "https://example.com/search", models.RequestIdentity{}, 5*time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v, want inspectable page", err)
	}
	defer page.Close()

	if page.Status() != http.StatusForbidden {
		t.Errorf("Status() = %d, want 403", page.Status())
	}
	if snap := page.Snapshot(); snap.Title != "Access Denied" {
		t.Errorf("Snapshot title = %q, want %q", snap.Title, "Access Denied")
	}
}

func TestStaticOpenCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewStatic().Open(ctx, "https://example.com/search", models.RequestIdentity{}, time.Second); err == nil {
		t.Fatal("Open() error = nil, want context error")
	}
}
