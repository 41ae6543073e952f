package repair

import "errors"

// Terminal error taxonomy surfaced to callers. Intermediate retries,
// repairs, and version conflicts never cross this boundary.
var (
	// ErrBlocked reports an anti-bot rejection; retriable later, never
	// silently swallowed.
	ErrBlocked = errors.New("repair: target is blocking requests")

	// ErrFatal reports a configuration or script error no retry can fix.
	ErrFatal = errors.New("repair: fatal extraction error")

	// ErrTransientExhausted reports that the transient retry budget
	// ran out.
	ErrTransientExhausted = errors.New("repair: transient retry budget exhausted")

	// ErrRepairExhausted reports that the repair budget ran out.
	ErrRepairExhausted = errors.New("repair: repair budget exhausted")

	// ErrRepairRejected reports an unusable generation candidate
	// (empty, unparseable, or identical to the prior version).
	ErrRepairRejected = errors.New("repair: candidate script rejected")

	// ErrCancelled reports a caller-initiated abort.
	ErrCancelled = errors.New("repair: extraction cancelled")
)
