// Package models defines the data structures shared across the harvester.
package models

import "time"

// FailureCategory classifies a failed attempt and drives retry/repair policy.
type FailureCategory string

const (
	// CategoryBlocked marks anti-bot rejections (403/429, CAPTCHA pages).
	CategoryBlocked FailureCategory = "blocked"
	// CategoryTransient marks network noise (timeouts, resets, 5xx).
	CategoryTransient FailureCategory = "transient"
	// CategoryStructural marks layout drift: the page loaded but the
	// script's selectors produced nothing.
	CategoryStructural FailureCategory = "structural"
	// CategoryFatal marks config/script errors that no retry can fix.
	CategoryFatal FailureCategory = "fatal"
)

// Provenance records how a script version came to exist.
type Provenance string

const (
	// ProvenanceSeed marks the hand-authored initial version.
	ProvenanceSeed Provenance = "seed"
	// ProvenanceRepaired marks a version produced by the repair loop.
	ProvenanceRepaired Provenance = "repaired"
)

// SearchParams parameterize one extraction request against a target.
type SearchParams struct {
	MinPrice int
	MaxPrice int
	Bedrooms int
	Location string
}

// TargetSite identifies a scrape target and its active script version.
type TargetSite struct {
	Name          string
	Template      string // e.g. "streeteasy/search"
	Params        SearchParams
	ActiveVersion int
}

// ScriptVersion is an immutable extraction procedure bound to a site.
// Version numbers are strictly increasing per site, starting at 1.
type ScriptVersion struct {
	Site       string
	Version    int
	Body       string
	Provenance Provenance
	// RepairedFrom references the attempt whose diagnostics produced
	// this version; empty for seed versions.
	RepairedFrom string
	CreatedAt    time.Time
}

// RequestIdentity is the header/proxy/timing fingerprint for one attempt.
// Generated fresh per attempt and never persisted beyond correlation.
type RequestIdentity struct {
	UserAgent string
	Referer   string
	Headers   map[string]string
	Proxy     string
	Viewport  Viewport
	Timezone  string
	// Delay is the pause injected before navigation.
	Delay time.Duration
}

// Viewport is a browser window size used for fingerprint diversity.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// DiagnosticBundle captures failure evidence for one attempt. Owned
// exclusively by its Attempt and never mutated after capture.
type DiagnosticBundle struct {
	StatusCode int
	ErrText    string
	TimedOut   bool
	// HTML is the rendered markup at the point of failure, possibly partial.
	HTML string
	// Screenshot is a visual capture when the automation supports one.
	Screenshot []byte
	// PageTitle helps spot soft-block interstitials.
	PageTitle string
	Identity  RequestIdentity
}

// RawListing is one unvalidated record produced by a script run.
type RawListing struct {
	Fields    map[string]string
	SourceURL string
}

// Payload is the raw output of a successful script run, pre-validation.
type Payload struct {
	Listings []RawListing
	PageURL  string
}

// Empty reports whether the payload carries no usable field at all.
func (p Payload) Empty() bool {
	for _, l := range p.Listings {
		for _, v := range l.Fields {
			if v != "" {
				return false
			}
		}
	}
	return true
}

// Attempt is one execution of a script version against a live target.
// Immutable once recorded; history per extraction request is append-only.
type Attempt struct {
	ID            string
	RequestID     string
	Seq           int
	Site          string
	ScriptVersion int
	StartedAt     time.Time
	EndedAt       time.Time
	Success       bool
	Payload       *Payload
	Diagnostics   *DiagnosticBundle
}

// Listing is a validated rental listing.
type Listing struct {
	Address      string    `csv:"address" json:"address"`
	Price        float64   `csv:"price" json:"price"`
	Bedrooms     int       `csv:"bedrooms" json:"bedrooms"`
	Neighborhood string    `csv:"neighborhood" json:"neighborhood"`
	URL          string    `csv:"url" json:"url"`
	ScrapedAt    time.Time `csv:"scraped_at" json:"scraped_at"`
}

// ExtractionResult is the terminal artifact for a successful request.
// It exists only after the payload passed validation.
type ExtractionResult struct {
	Site          string
	ScriptVersion int
	SchemaVersion int
	Listings      []Listing
	CompletedAt   time.Time
}
