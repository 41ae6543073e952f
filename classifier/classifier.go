// Package classifier assigns a failure category to an attempt's
// diagnostic bundle. The category drives retry/repair policy, so
// ordering matters: a structural mismatch on a page that also shows a
// block banner must classify as blocked, since repairing the script
// would be futile.
package classifier

import (
	"net/http"
	"strings"

	"github.com/apthunt/harvester/models"
)

// DefaultBlockMarkers match the common anti-bot interstitials. The
// exact set varies per target, so configuration can extend it.
var DefaultBlockMarkers = []string{
	"captcha",
	"access denied",
	"verify you are human",
	"pardon our interruption",
	"are you a robot",
}

var transientHints = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"unexpected eof",
	"network is unreachable",
	"i/o timeout",
}

// Classifier inspects diagnostic bundles.
type Classifier struct {
	markers []string
}

// New builds a classifier; nil markers select the defaults.
func New(markers []string) *Classifier {
	if len(markers) == 0 {
		markers = DefaultBlockMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &Classifier{markers: lowered}
}

// Classify assigns exactly one category. First match wins:
// blocked > transient > structural > fatal.
func (c *Classifier) Classify(bundle *models.DiagnosticBundle) models.FailureCategory {
	if bundle == nil {
		return models.CategoryFatal
	}

	if c.isBlocked(bundle) {
		return models.CategoryBlocked
	}
	if isTransient(bundle) {
		return models.CategoryTransient
	}
	if isStructural(bundle) {
		return models.CategoryStructural
	}
	return models.CategoryFatal
}

func (c *Classifier) isBlocked(bundle *models.DiagnosticBundle) bool {
	if bundle.StatusCode == http.StatusForbidden || bundle.StatusCode == http.StatusTooManyRequests {
		return true
	}
	title := strings.ToLower(bundle.PageTitle)
	markup := strings.ToLower(bundle.HTML)
	// Soft blocks often surface only in the title ("Access to this
	// page has been denied").
	if strings.Contains(title, "denied") {
		return true
	}
	for _, marker := range c.markers {
		if title != "" && strings.Contains(title, marker) {
			return true
		}
		if markup != "" && strings.Contains(markup, marker) {
			return true
		}
	}
	return false
}

func isTransient(bundle *models.DiagnosticBundle) bool {
	if bundle.TimedOut {
		return true
	}
	if bundle.StatusCode >= http.StatusInternalServerError {
		return true
	}
	errText := strings.ToLower(bundle.ErrText)
	for _, hint := range transientHints {
		if strings.Contains(errText, hint) {
			return true
		}
	}
	return false
}

// isStructural holds when the page loaded cleanly yet the script's
// selectors yielded nothing: no automation error, a non-error status,
// and captured markup.
func isStructural(bundle *models.DiagnosticBundle) bool {
	if bundle.ErrText != "" {
		return false
	}
	if bundle.StatusCode >= http.StatusBadRequest {
		return false
	}
	return bundle.HTML != ""
}
