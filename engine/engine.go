// Package engine drives one script attempt against a live target. It
// enforces the anti-detection pacing and returns a structured outcome;
// retry and repair policy live entirely in the repair loop.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apthunt/harvester/browser"
	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/script"
)

// Engine runs script versions through an automation capability.
type Engine struct {
	auto    browser.Automation
	timeout time.Duration
}

// New builds an engine with a hard per-navigation timeout.
func New(auto browser.Automation, timeout time.Duration) *Engine {
	return &Engine{auto: auto, timeout: timeout}
}

// Run executes one attempt: substitute parameters into the script's
// URL template, apply the identity (including the injected delay),
// load the page, and extract. Success requires the extraction to
// produce at least one non-empty field.
func (e *Engine) Run(ctx context.Context, requestID string, seq int, version models.ScriptVersion, params models.SearchParams, ident models.RequestIdentity) models.Attempt {
	attempt := models.Attempt{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		Seq:           seq,
		Site:          version.Site,
		ScriptVersion: version.Version,
		StartedAt:     time.Now(),
	}

	def, err := script.Parse(version.Body)
	if err != nil {
		return e.fail(attempt, ident, 0, "parse script: "+err.Error(), false, nil)
	}

	target, err := def.BuildURL(params)
	if err != nil {
		return e.fail(attempt, ident, 0, err.Error(), false, nil)
	}

	if err := e.pace(ctx, ident.Delay); err != nil {
		return e.fail(attempt, ident, 0, err.Error(), false, nil)
	}

	slog.Debug("attempt navigation",
		slog.String("site", version.Site),
		slog.Int("version", version.Version),
		slog.String("url", target),
		slog.String("automation", e.auto.Name()),
	)

	page, err := e.auto.Open(ctx, target, ident, e.timeout)
	if err != nil {
		status := 0
		var statusErr *browser.StatusError
		if errors.As(err, &statusErr) {
			status = statusErr.Code
		}
		return e.fail(attempt, ident, status, err.Error(), timedOut(err), nil)
	}
	defer page.Close()

	payload, err := page.Extract(def)
	if err != nil {
		snap := page.Snapshot()
		return e.fail(attempt, ident, page.Status(), err.Error(), timedOut(err), &snap)
	}

	if payload.Empty() {
		snap := page.Snapshot()
		return e.fail(attempt, ident, page.Status(), "", false, &snap)
	}

	attempt.Success = true
	attempt.Payload = &payload
	attempt.EndedAt = time.Now()
	return attempt
}

// pace blocks for the identity's scheduled delay, aborting on
// cancellation.
func (e *Engine) pace(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) fail(attempt models.Attempt, ident models.RequestIdentity, status int, errText string, timedOut bool, snap *browser.Snapshot) models.Attempt {
	bundle := &models.DiagnosticBundle{
		StatusCode: status,
		ErrText:    errText,
		TimedOut:   timedOut,
		Identity:   ident,
	}
	if snap != nil {
		bundle.HTML = snap.HTML
		bundle.Screenshot = snap.Screenshot
		bundle.PageTitle = snap.Title
	}
	attempt.Diagnostics = bundle
	attempt.EndedAt = time.Now()

	slog.Debug("attempt failed",
		slog.String("site", attempt.Site),
		slog.Int("version", attempt.ScriptVersion),
		slog.Int("status", status),
		slog.Bool("timed_out", timedOut),
		slog.String("error", errText),
	)
	return attempt
}

func timedOut(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Playwright reports navigation timeouts as plain error strings.
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
