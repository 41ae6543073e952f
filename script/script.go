// Package script defines the declarative extraction procedure format
// stored in the registry and produced by the repair generator.
package script

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/apthunt/harvester/models"
)

// FieldRule selects one listing field. Attr is optional; when empty the
// element's text content is used.
type FieldRule struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
}

// Definition is the parsed body of a script version.
type Definition struct {
	// URLTemplate holds {min_price}, {max_price}, {beds} and {location}
	// placeholders substituted per request.
	URLTemplate string `json:"url_template"`
	// WaitFor is the selector whose presence marks the page as ready.
	WaitFor string `json:"wait_for,omitempty"`
	// ListSelector scopes one listing card.
	ListSelector string               `json:"list_selector"`
	Fields       map[string]FieldRule `json:"fields"`
	// Link extracts the per-listing URL, relative links resolved
	// against the page URL.
	Link FieldRule `json:"link"`
}

// Parse decodes and syntax-checks a script body. This is the only
// validation run on repair candidates before promotion; it never
// touches the network.
func Parse(body string) (*Definition, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, fmt.Errorf("script body is empty")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}

	if def.URLTemplate == "" {
		return nil, fmt.Errorf("script missing url_template")
	}
	if _, err := url.Parse(strings.NewReplacer(
		"{min_price}", "0", "{max_price}", "0", "{beds}", "0", "{location}", "x",
	).Replace(def.URLTemplate)); err != nil {
		return nil, fmt.Errorf("invalid url_template: %w", err)
	}
	if def.ListSelector == "" {
		return nil, fmt.Errorf("script missing list_selector")
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("script defines no fields")
	}
	for name, rule := range def.Fields {
		if strings.TrimSpace(rule.Selector) == "" {
			return nil, fmt.Errorf("field %q has empty selector", name)
		}
	}
	if def.Link.Selector == "" {
		return nil, fmt.Errorf("script missing link selector")
	}

	return &def, nil
}

// BuildURL substitutes request parameters into the URL template.
func (d *Definition) BuildURL(params models.SearchParams) (string, error) {
	raw := strings.NewReplacer(
		"{min_price}", strconv.Itoa(params.MinPrice),
		"{max_price}", strconv.Itoa(params.MaxPrice),
		"{beds}", strconv.Itoa(params.Bedrooms),
		"{location}", url.QueryEscape(params.Location),
	).Replace(d.URLTemplate)

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("build target url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("target url %q missing scheme or host", raw)
	}
	return parsed.String(), nil
}

// Equivalent reports whether two script bodies parse to the same
// definition. The repair loop rejects candidates equivalent to the
// version they were meant to replace.
func Equivalent(a, b string) bool {
	defA, errA := Parse(a)
	defB, errB := Parse(b)
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	rawA, _ := json.Marshal(defA)
	rawB, _ := json.Marshal(defB)
	return string(rawA) == string(rawB)
}
