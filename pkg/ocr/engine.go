// Package ocr implements a priority-scheduled OCR execution engine: three
// priority tiers arbitrating a bounded pool of CPU-bound OCR workers, with
// resource borrowing and an adaptive mode monitor. The engine never
// performs image processing itself — it wraps a caller-supplied Backend.
package ocr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Tier is an OCR scheduling priority.
type Tier int

const (
	Express Tier = iota
	Standard
	Background

	tierCount = 3
)

func (t Tier) String() string {
	switch t {
	case Express:
		return "express"
	case Standard:
		return "standard"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Status tags the verbatim outcome of a Backend call. The engine never
// retries a failed call and never reinterprets an empty result as an error.
type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusError
)

// Box is one OCR-detected text region: text, bounding box, and confidence.
type Box struct {
	Text       string
	X, Y, W, H int
	Confidence float64
}

// RawOutput is a Backend call's verbatim result.
type RawOutput struct {
	Boxes  []Box
	Status Status
	Err    error
}

// Backend is the pluggable OCR function the engine schedules around. Its
// image-processing internals (thresholding, deskew, text recognition) are
// not this package's concern.
type Backend interface {
	Run(ctx context.Context, imageRef string, image []byte) (RawOutput, error)
}

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, imageRef string, image []byte) (RawOutput, error)

func (f BackendFunc) Run(ctx context.Context, imageRef string, image []byte) (RawOutput, error) {
	return f(ctx, imageRef, image)
}

// Config configures the engine's tier parallelism and feature flags.
type Config struct {
	ExpressParallelism    int64
	StandardParallelism   int64
	BackgroundParallelism int64

	PriorityBorrowing bool
	BorrowThreshold   float64 // donor utilization must be <= this to lend

	UsageAdaptation bool
	RollingWindow   time.Duration

	SubmissionBudget time.Duration // wall-clock budget including wait, default 60s

	BulkThreshold int // STANDARD vs BACKGROUND cutoff for bulk scans, default 10
}

// DefaultConfig returns reasonable tier sizes and feature defaults for a
// single-process deployment.
func DefaultConfig() Config {
	return Config{
		ExpressParallelism:    4,
		StandardParallelism:   2,
		BackgroundParallelism: 1,
		PriorityBorrowing:     true,
		BorrowThreshold:       0.8,
		UsageAdaptation:       true,
		RollingWindow:         60 * time.Minute,
		SubmissionBudget:      60 * time.Second,
		BulkThreshold:         10,
	}
}

// tierState is the engine's per-tier bookkeeping: its semaphore, the
// fixed baseline size utilization is measured against, the tier's current
// own-acquisition capacity (which adaptive mode may resize), and an atomic
// count of permits currently held.
type tierState struct {
	sem      atomic.Pointer[semaphore.Weighted]
	baseline int64 // configured size at construction; never changes, denominator for utilization
	capacity int64 // current own-acquisition capacity; mutated under Engine.mu by applyMode
	held     atomic.Int64
}

// utilization reports how busy a tier is relative to its fixed baseline
// size, independent of any mode-driven capacity resize, so that resizing a
// tier's own capacity up or down doesn't itself flip its willingness to
// lend permits to other tiers.
func (t *tierState) utilization() float64 {
	b := atomic.LoadInt64(&t.baseline)
	if b <= 0 {
		return 1
	}
	return float64(t.held.Load()) / float64(b)
}

func newTierState(size int64) *tierState {
	t := &tierState{baseline: size, capacity: size}
	t.sem.Store(semaphore.NewWeighted(size))
	return t
}

// resize replaces the tier's semaphore with one sized to newCapacity.
// Permits already acquired against the old semaphore remain valid and are
// released back to that same instance when their caller is done — acquire
// and release both capture the exact *semaphore.Weighted they used, so a
// resize never strands or double-counts an in-flight permit. Capacity
// changes are not instantaneous: acquisitions already in flight against
// the old, larger semaphore keep running until they finish.
func (t *tierState) resize(newCapacity int64) {
	if atomic.LoadInt64(&t.capacity) == newCapacity {
		return
	}
	atomic.StoreInt64(&t.capacity, newCapacity)
	t.sem.Store(semaphore.NewWeighted(newCapacity))
}

// Engine is the priority-scheduled OCR execution engine. The zero value is
// not usable; construct with New.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	tiers   [tierCount]*tierState
	metrics *metricsRing
	mode    *modeMonitor

	mu sync.Mutex // guards tier resizes so concurrent mode switches serialize
}

// New constructs an Engine with the given configuration; the OCR backend is
// supplied per call to Submit.
func New(cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{cfg: cfg, log: log}
	e.tiers[Express] = newTierState(cfg.ExpressParallelism)
	e.tiers[Standard] = newTierState(cfg.StandardParallelism)
	e.tiers[Background] = newTierState(cfg.BackgroundParallelism)
	e.metrics = newMetricsRing(4096)
	e.mode = newModeMonitor(cfg, e.metrics, e.applyMode)
	return e
}

// TierForBulkSize returns STANDARD for small batches and BACKGROUND for
// batches at or above the configured threshold.
func (e *Engine) TierForBulkSize(n int) Tier {
	if n >= e.cfg.BulkThreshold {
		return Background
	}
	return Standard
}

// donorOrder lists, for a given tier, the lower-priority tiers it may
// borrow from, in preference order. BACKGROUND never borrows.
func donorOrder(t Tier) []Tier {
	switch t {
	case Express:
		return []Tier{Standard, Background}
	case Standard:
		return []Tier{Background}
	default:
		return nil
	}
}

// acquisition records which tier a running OCR call is charged against and
// the exact semaphore instance it acquired the permit from, so release
// returns the permit to the right place even if that tier has since been
// resized to a new semaphore.
type acquisition struct {
	owner Tier // the tier whose semaphore was actually acquired (self or donor)
	sem   *semaphore.Weighted
}

// acquire blocks until a permit is available for tier t, trying a direct
// acquire first and, if borrowing is enabled and the tier would otherwise
// block, opportunistically trying a donor. It never holds a permit on more
// than one tier at a time and never blocks on one tier's semaphore while
// holding another's, so holding a tier's permit never depends on acquiring
// any other tier's.
func (e *Engine) acquire(ctx context.Context, t Tier) (acquisition, error) {
	self := e.tiers[t]

	// Fast path: try a non-blocking acquire on our own tier first.
	if sem := self.sem.Load(); sem.TryAcquire(1) {
		self.held.Add(1)
		return acquisition{owner: t, sem: sem}, nil
	}

	if e.cfg.PriorityBorrowing {
		for _, donor := range donorOrder(t) {
			ds := e.tiers[donor]
			if ds.utilization() <= e.cfg.BorrowThreshold {
				if sem := ds.sem.Load(); sem.TryAcquire(1) {
					ds.held.Add(1)
					return acquisition{owner: donor, sem: sem}, nil
				}
			}
		}
	}

	// No permit available anywhere we're allowed to borrow from: block on
	// our own tier.
	sem := self.sem.Load()
	if err := sem.Acquire(ctx, 1); err != nil {
		return acquisition{}, err
	}
	self.held.Add(1)
	return acquisition{owner: t, sem: sem}, nil
}

func (e *Engine) release(a acquisition) {
	ts := e.tiers[a.owner]
	ts.held.Add(-1)
	a.sem.Release(1)
}

// Submit schedules an OCR run at the given tier and returns a Future. The
// future is cancellable while waiting for a permit; once the backend call
// starts, cancellation is best-effort: the call runs to completion and its
// result is discarded.
func (e *Engine) Submit(ctx context.Context, backend Backend, t Tier, imageRef string, image []byte) *Future {
	fut := newFuture()
	submissionID := uuid.NewString()
	submittedAt := time.Now()

	go func() {
		budgetCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmissionBudget)
		defer cancel()

		acq, err := e.acquire(budgetCtx, t)
		if err != nil {
			e.metrics.record(tierMetric{tier: t, waitStart: submittedAt, waitEnd: time.Now(), borrowed: false})
			fut.resolve(Result{Output: RawOutput{Status: StatusError, Err: fmt.Errorf("ocr: timeout waiting for %s permit: %w", t, err)}})
			return
		}
		waitEnd := time.Now()
		e.metrics.record(tierMetric{tier: t, waitStart: submittedAt, waitEnd: waitEnd, borrowed: acq.owner != t})
		defer e.release(acq)

		if fut.cancelledBeforeStart() {
			e.log.Debug().Str("submission_id", submissionID).Str("tier", t.String()).Msg("ocr submission cancelled before start")
			return
		}

		out, runErr := backend.Run(budgetCtx, imageRef, image)
		if runErr != nil {
			if budgetCtx.Err() != nil {
				out = RawOutput{Status: StatusError, Err: fmt.Errorf("ocr: timeout: %w", budgetCtx.Err())}
			} else {
				out = RawOutput{Status: StatusError, Err: runErr}
			}
		} else if len(out.Boxes) == 0 && out.Status == StatusOK {
			out.Status = StatusEmpty
		}
		fut.resolve(Result{Output: out, RanAt: waitEnd, FinishedAt: time.Now()})
	}()

	return fut
}

// applyMode resizes each tier's own-acquisition capacity for the active
// mode: single_focused raises EXPRESS's capacity (so its own acquires
// succeed without needing to borrow) and lowers BACKGROUND's (so BACKGROUND
// holds fewer of its own permits, which keeps its utilization low and
// makes it a more willing donor); bulk_heavy raises BACKGROUND's capacity
// so it handles more of its own bulk work instead of relying on donors.
// utilization() is measured against each tier's fixed baseline rather than
// this resized capacity, so a resize changes how much work a tier can run
// on its own without also changing the threshold used to decide whether it
// lends permits to other tiers.
func (e *Engine) applyMode(m Mode, cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch m {
	case ModeSingleFocused:
		e.tiers[Express].resize(cfg.ExpressParallelism + 2)
		e.tiers[Standard].resize(cfg.StandardParallelism)
		e.tiers[Background].resize(max64(1, cfg.BackgroundParallelism-1))
	case ModeBulkHeavy:
		e.tiers[Express].resize(cfg.ExpressParallelism)
		e.tiers[Standard].resize(cfg.StandardParallelism)
		e.tiers[Background].resize(cfg.BackgroundParallelism + 2)
	default: // ModeBalanced
		e.tiers[Express].resize(cfg.ExpressParallelism)
		e.tiers[Standard].resize(cfg.StandardParallelism)
		e.tiers[Background].resize(cfg.BackgroundParallelism)
	}
	e.log.Info().Str("mode", string(m)).Msg("ocr engine resized tier capacity")
}

// StartAdaptiveMode registers the mode monitor's rolling-window evaluation
// as a cron job. It is a no-op if usage adaptation is disabled.
func (e *Engine) StartAdaptiveMode() error {
	if !e.cfg.UsageAdaptation {
		return nil
	}
	return e.mode.Start()
}

// StopAdaptiveMode stops the mode monitor's cron job, if running.
func (e *Engine) StopAdaptiveMode() {
	e.mode.Stop()
}

// PermitsHeld reports the number of permits currently held on a tier's own
// semaphore, including permits a higher-priority tier has borrowed from it,
// used by tests and telemetry to check that held never exceeds capacity.
func (e *Engine) PermitsHeld(t Tier) int64 {
	return e.tiers[t].held.Load()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
