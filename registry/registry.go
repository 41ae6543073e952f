// Package registry stores and versions extraction scripts per target
// site. The active-version pointer is the only mutable state shared
// across workers; promotion uses optimistic concurrency so a slow
// repair on one site never stalls extractions on another.
package registry

import (
	"context"
	"errors"

	"github.com/apthunt/harvester/models"
)

var (
	// ErrVersionConflict is returned when a promotion's expected
	// current version no longer matches the registry. Callers reload
	// the active version and re-classify instead of re-generating.
	ErrVersionConflict = errors.New("registry: version conflict")

	// ErrAlreadySeeded is returned when seeding a site that already
	// has versions and the force flag is not set.
	ErrAlreadySeeded = errors.New("registry: site already seeded")

	// ErrSiteNotFound is returned for sites with no seeded script.
	ErrSiteNotFound = errors.New("registry: site not found")
)

// Store is the promote/read contract the core depends on. Script
// versions and attempt history are durable in the Postgres
// implementation; the memory implementation backs tests and one-shot
// runs.
type Store interface {
	// Active returns the currently active script version for a site.
	Active(ctx context.Context, site string) (models.ScriptVersion, error)

	// Seed installs version 1 for a site. Idempotence: a second call
	// fails with ErrAlreadySeeded unless force is set, in which case
	// the site restarts at the next version number with seed
	// provenance.
	Seed(ctx context.Context, site, body string, force bool) (models.ScriptVersion, error)

	// Promote installs a new version and moves the active pointer,
	// but only if the registry's active version still equals
	// expectVersion; otherwise ErrVersionConflict. Version numbers are
	// strictly increasing and never reused.
	Promote(ctx context.Context, site string, expectVersion int, body string, prov models.Provenance, repairedFrom string) (models.ScriptVersion, error)

	// RecordAttempt appends one attempt to the site's history.
	// Attempts are immutable once recorded.
	RecordAttempt(ctx context.Context, attempt models.Attempt) error

	// Attempts returns the recorded history for an extraction request
	// in append order.
	Attempts(ctx context.Context, requestID string) ([]models.Attempt, error)
}
