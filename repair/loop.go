// Package repair owns the evaluator-optimizer loop: run a script
// attempt, classify its failure, retry transients under backoff,
// regenerate and promote structural repairs, and give up when either
// budget runs dry. Transient retries and repair attempts spend from
// independent budgets: network noise says nothing about script
// correctness, and each repair costs a generation call.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/apthunt/harvester/classifier"
	"github.com/apthunt/harvester/config"
	"github.com/apthunt/harvester/identity"
	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/parser"
	"github.com/apthunt/harvester/registry"
	"github.com/apthunt/harvester/script"
)

// State names one position of the per-request state machine.
type State string

const (
	StateAttempting  State = "attempting"
	StateClassifying State = "classifying"
	StateRepairing   State = "repairing"
	StateSucceeded   State = "succeeded"
	StateGivenUp     State = "given_up"
)

// Reason explains a terminal outcome: the last failure category, or
// one of the distinct non-category reasons below.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonCancelled Reason = "cancelled"
)

// Outcome is the terminal result of one extraction request. It always
// carries the consumed budgets so operators can tell "site is blocking
// us" from "layout changed" from "gave up after N repairs".
type Outcome struct {
	State            State
	Reason           Reason
	TransientRetries int
	RepairsUsed      int
	Result           *models.ExtractionResult
}

// Runner executes one attempt. Satisfied by engine.Engine.
type Runner interface {
	Run(ctx context.Context, requestID string, seq int, version models.ScriptVersion, params models.SearchParams, ident models.RequestIdentity) models.Attempt
}

// Generator produces candidate replacement scripts. Satisfied by
// llm.Client.
type Generator interface {
	Repair(ctx context.Context, prior models.ScriptVersion, bundle *models.DiagnosticBundle) (string, error)
}

// IdentitySource hands out fresh request identities. Satisfied by
// identity.Generator.
type IdentitySource interface {
	Next(nav identity.NavigationContext) models.RequestIdentity
}

// Request is one extraction request against a configured target.
type Request struct {
	ID   string
	Site models.TargetSite
}

// Loop drives requests to a terminal outcome.
type Loop struct {
	cfg      *config.Config
	runner   Runner
	store    registry.Store
	classify *classifier.Classifier
	gen      Generator
	idents   IdentitySource
	metrics  *Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLoop wires the loop. metrics may be nil.
func NewLoop(cfg *config.Config, runner Runner, store registry.Store, cls *classifier.Classifier, gen Generator, idents IdentitySource, metrics *Metrics, seed int64) *Loop {
	return &Loop{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		classify: cls,
		gen:      gen,
		idents:   idents,
		metrics:  metrics,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Run executes the state machine for one request until Succeeded,
// GivenUp, or cancellation.
func (l *Loop) Run(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{State: StateAttempting}

	version, err := l.store.Active(ctx, req.Site.Name)
	if err != nil {
		out.State = StateGivenUp
		out.Reason = Reason(models.CategoryFatal)
		l.metrics.IncOutcome(string(out.Reason))
		return out, fmt.Errorf("%w: load active script for %s: %v", ErrFatal, req.Site.Name, err)
	}

	var (
		bundle        *models.DiagnosticBundle
		category      models.FailureCategory
		lastAttemptID string
		seq           int
	)

	for {
		if ctx.Err() != nil {
			return l.cancelled(out)
		}

		switch out.State {
		case StateAttempting:
			seq++
			ident := l.idents.Next(identity.NavigationContext{})
			attempt := l.runner.Run(ctx, req.ID, seq, version, req.Site.Params, ident)
			l.record(ctx, attempt)
			lastAttemptID = attempt.ID

			if ctx.Err() != nil {
				return l.cancelled(out)
			}

			if !attempt.Success {
				bundle = attempt.Diagnostics
				out.State = StateClassifying
				continue
			}

			listings, err := parser.ValidatePayload(attempt.Payload)
			if err != nil {
				// Garbage data from a "successful" run is
				// indistinguishable from layout drift.
				slog.Warn("payload failed validation, treating as structural",
					slog.String("site", req.Site.Name),
					slog.Int("version", version.Version),
					slog.Any("error", err),
				)
				bundle = &models.DiagnosticBundle{
					ErrText:  "validation: " + err.Error(),
					Identity: ident,
				}
				category = models.CategoryStructural
				out.Reason = Reason(category)
				l.metrics.IncFailure(string(category))
				out.State = StateRepairing
				continue
			}

			out.State = StateSucceeded
			out.Result = &models.ExtractionResult{
				Site:          req.Site.Name,
				ScriptVersion: version.Version,
				SchemaVersion: parser.SchemaVersion,
				Listings:      listings,
				CompletedAt:   time.Now(),
			}
			l.metrics.IncOutcome(string(StateSucceeded))
			slog.Info("extraction succeeded",
				slog.String("site", req.Site.Name),
				slog.Int("version", version.Version),
				slog.Int("listings", len(listings)),
				slog.Int("transient_retries", out.TransientRetries),
				slog.Int("repairs", out.RepairsUsed),
			)
			return out, nil

		case StateClassifying:
			category = l.classify.Classify(bundle)
			out.Reason = Reason(category)
			l.metrics.IncFailure(string(category))
			slog.Debug("failure classified",
				slog.String("site", req.Site.Name),
				slog.String("category", string(category)),
				slog.Int("status", statusOf(bundle)),
			)

			switch category {
			case models.CategoryBlocked:
				return l.giveUp(out, fmt.Errorf("%w: %s", ErrBlocked, req.Site.Name))
			case models.CategoryFatal:
				return l.giveUp(out, fmt.Errorf("%w: %s: %s", ErrFatal, req.Site.Name, bundle.ErrText))
			case models.CategoryTransient:
				if out.TransientRetries >= l.cfg.MaxTransientRetries {
					return l.giveUp(out, fmt.Errorf("%w after %d retries", ErrTransientExhausted, out.TransientRetries))
				}
				out.TransientRetries++
				l.metrics.IncRetry()
				if err := l.backoff(ctx, out.TransientRetries); err != nil {
					return l.cancelled(out)
				}
				out.State = StateAttempting
			default: // structural
				out.State = StateRepairing
			}

		case StateRepairing:
			if out.RepairsUsed >= l.cfg.MaxRepairAttempts {
				return l.giveUp(out, fmt.Errorf("%w after %d repairs", ErrRepairExhausted, out.RepairsUsed))
			}
			out.RepairsUsed++
			l.metrics.IncRepair()

			genCtx, cancel := context.WithTimeout(ctx, l.cfg.GenerationTimeout)
			candidate, err := l.gen.Repair(genCtx, version, bundle)
			cancel()
			if ctx.Err() != nil {
				return l.cancelled(out)
			}
			if err != nil {
				return l.giveUp(out, fmt.Errorf("%w: generation failed: %v", ErrRepairRejected, err))
			}
			if candidate == "" {
				return l.giveUp(out, fmt.Errorf("%w: empty candidate", ErrRepairRejected))
			}
			if _, err := script.Parse(candidate); err != nil {
				return l.giveUp(out, fmt.Errorf("%w: %v", ErrRepairRejected, err))
			}
			if script.Equivalent(candidate, version.Body) {
				return l.giveUp(out, fmt.Errorf("%w: candidate identical to version %d", ErrRepairRejected, version.Version))
			}

			promoted, err := l.store.Promote(ctx, req.Site.Name, version.Version, candidate, models.ProvenanceRepaired, lastAttemptID)
			if errors.Is(err, registry.ErrVersionConflict) {
				// A racing repair won. Use its version instead of
				// spending another generation call.
				reloaded, loadErr := l.store.Active(ctx, req.Site.Name)
				if loadErr != nil {
					return l.giveUp(out, fmt.Errorf("%w: reload after conflict: %v", ErrFatal, loadErr))
				}
				slog.Info("promotion lost race, adopting active version",
					slog.String("site", req.Site.Name),
					slog.Int("version", reloaded.Version),
				)
				version = reloaded
				out.State = StateAttempting
				continue
			}
			if err != nil {
				return l.giveUp(out, fmt.Errorf("%w: promote: %v", ErrFatal, err))
			}

			l.metrics.IncPromotion()
			slog.Info("repaired script promoted",
				slog.String("site", req.Site.Name),
				slog.Int("from_version", version.Version),
				slog.Int("to_version", promoted.Version),
			)
			version = promoted
			out.State = StateAttempting
		}
	}
}

// backoff sleeps base*2^(n-1) capped at the configured max, plus up to
// 25% jitter, honoring cancellation.
func (l *Loop) backoff(ctx context.Context, retry int) error {
	if retry <= 0 {
		retry = 1
	}
	delay := l.cfg.RetryBackoff * time.Duration(1<<(retry-1))
	if max := l.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	l.mu.Lock()
	jitter := time.Duration(l.rng.Int63n(int64(delay)/4 + 1))
	l.mu.Unlock()
	delay += jitter

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Loop) record(ctx context.Context, attempt models.Attempt) {
	outcome := "failure"
	if attempt.Success {
		outcome = "success"
	}
	l.metrics.IncAttempt(outcome)
	l.metrics.ObserveAttempt(attempt.EndedAt.Sub(attempt.StartedAt))

	// History is best-effort bookkeeping; a store hiccup must not fail
	// the extraction.
	if err := l.store.RecordAttempt(ctx, attempt); err != nil {
		slog.Error("record attempt", slog.String("site", attempt.Site), slog.Any("error", err))
	}
}

func (l *Loop) giveUp(out Outcome, err error) (Outcome, error) {
	out.State = StateGivenUp
	l.metrics.IncOutcome(string(out.Reason))
	slog.Warn("extraction given up",
		slog.String("reason", string(out.Reason)),
		slog.Int("transient_retries", out.TransientRetries),
		slog.Int("repairs", out.RepairsUsed),
		slog.Any("error", err),
	)
	return out, err
}

func (l *Loop) cancelled(out Outcome) (Outcome, error) {
	out.State = StateGivenUp
	out.Reason = ReasonCancelled
	l.metrics.IncOutcome(string(ReasonCancelled))
	return out, ErrCancelled
}

func statusOf(bundle *models.DiagnosticBundle) int {
	if bundle == nil {
		return 0
	}
	return bundle.StatusCode
}
