// Package browser adapts browser-automation capabilities behind a
// narrow interface. The engine treats an Automation as opaque: it owns
// no retry logic and reports whatever signal it has.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/script"
)

// Snapshot is a point-in-time capture of a loaded page, taken for
// diagnostic bundles.
type Snapshot struct {
	HTML       string
	Screenshot []byte
	Title      string
}

// Page is a loaded target page ready for extraction.
type Page interface {
	// Extract runs the script's extraction logic against the page.
	Extract(def *script.Definition) (models.Payload, error)
	// Status is the HTTP status of the navigation response, 0 if unknown.
	Status() int
	// Snapshot captures the current markup (and screenshot when the
	// capability supports one).
	Snapshot() Snapshot
	Close()
}

// Automation opens pages under a given request identity.
type Automation interface {
	Open(ctx context.Context, url string, ident models.RequestIdentity, timeout time.Duration) (Page, error)
	Name() string
}

// StatusError reports a navigation that failed at the HTTP layer.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}
