// Package parser validates and normalizes raw extraction payloads
// before they become accepted results. A payload that fails here is
// indistinguishable from layout drift, so callers feed the failure
// back into the repair loop instead of returning garbage.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/apthunt/harvester/models"
)

// SchemaVersion is stamped into every ExtractionResult.
const SchemaVersion = 1

const maxBedrooms = 16

var priceRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// ValidateListing checks one raw record and returns the normalized
// listing.
func ValidateListing(raw models.RawListing) (models.Listing, error) {
	var listing models.Listing

	address := strings.TrimSpace(raw.Fields["address"])
	if address == "" {
		return listing, fmt.Errorf("listing missing address")
	}

	price, err := ParsePrice(raw.Fields["price"])
	if err != nil {
		return listing, err
	}

	bedrooms, err := ParseBedrooms(raw.Fields["bedrooms"])
	if err != nil {
		return listing, fmt.Errorf("%w for %s", err, address)
	}

	neighborhood := strings.TrimSpace(raw.Fields["neighborhood"])
	if neighborhood == "" {
		return listing, fmt.Errorf("listing missing neighborhood for %s", address)
	}

	listing = models.Listing{
		Address:      address,
		Price:        price,
		Bedrooms:     bedrooms,
		Neighborhood: neighborhood,
		URL:          strings.TrimSpace(raw.SourceURL),
		ScrapedAt:    time.Now(),
	}
	return listing, nil
}

// ValidatePayload validates every record of a payload. It fails when
// no record survives, because a "successful" run with zero valid
// listings is the structural signal in disguise.
func ValidatePayload(payload *models.Payload) ([]models.Listing, error) {
	if payload == nil || len(payload.Listings) == 0 {
		return nil, fmt.Errorf("payload carries no listings")
	}

	var (
		out     []models.Listing
		lastErr error
	)
	for _, raw := range payload.Listings {
		listing, err := ValidateListing(raw)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, listing)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no listing passed validation: %w", lastErr)
	}
	return out, nil
}

// ParsePrice extracts a positive price from messy text like
// "$2,350/mo".
func ParsePrice(text string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(text))
	match := priceRe.FindString(cleaned)
	if match == "" {
		return 0, fmt.Errorf("no price found in %q", text)
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid price %q", text)
	}
	return price, nil
}

// ParseBedrooms converts bedroom text ("Studio", "2 Bedrooms", "3")
// to a small non-negative count.
func ParseBedrooms(text string) (int, error) {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" {
		return 0, fmt.Errorf("listing missing bedrooms")
	}
	if strings.Contains(cleaned, "studio") {
		return 0, nil
	}
	fields := strings.Fields(cleaned)
	n, err := strconv.Atoi(strings.TrimSuffix(fields[0], "+"))
	if err != nil {
		return 0, fmt.Errorf("invalid bedroom count %q", text)
	}
	if n < 0 || n > maxBedrooms {
		return 0, fmt.Errorf("bedroom count %d out of range", n)
	}
	return n, nil
}

// Deduper drops listings already accepted in this process, bounded by
// an LRU so long runs cannot grow without limit.
type Deduper struct {
	seen *lru.Cache[string, struct{}]
}

// NewDeduper builds a deduper holding at most size URLs.
func NewDeduper(size int) (*Deduper, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("build dedupe cache: %w", err)
	}
	return &Deduper{seen: cache}, nil
}

// Filter returns the listings not seen before and marks them seen.
// Listings without a URL pass through unfiltered.
func (d *Deduper) Filter(listings []models.Listing) []models.Listing {
	out := listings[:0:0]
	for _, l := range listings {
		if l.URL != "" {
			if _, dup := d.seen.Get(l.URL); dup {
				continue
			}
			d.seen.Add(l.URL, struct{}{})
		}
		out = append(out, l)
	}
	return out
}
