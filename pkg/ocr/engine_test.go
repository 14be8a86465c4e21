package ocr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingBackend(release <-chan struct{}) Backend {
	return BackendFunc(func(ctx context.Context, imageRef string, image []byte) (RawOutput, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return RawOutput{}, ctx.Err()
		}
		return RawOutput{Boxes: []Box{{Text: "Alpha", Confidence: 0.9}}, Status: StatusOK}, nil
	})
}

func instantBackend() Backend {
	return BackendFunc(func(ctx context.Context, imageRef string, image []byte) (RawOutput, error) {
		return RawOutput{Boxes: []Box{{Text: "Alpha"}}, Status: StatusOK}, nil
	})
}

func TestSubmitRunsAndReleasesPermit(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg, zerolog.Nop())

	fut := e.Submit(context.Background(), instantBackend(), Express, "img1", nil)
	res := fut.Wait()

	require.NoError(t, res.Output.Err)
	assert.Equal(t, StatusOK, res.Output.Status)
	assert.Equal(t, int64(0), e.PermitsHeld(Express))
}

func TestEmptyOutputIsTaggedEmptyNotError(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg, zerolog.Nop())
	emptyBackend := BackendFunc(func(ctx context.Context, imageRef string, image []byte) (RawOutput, error) {
		return RawOutput{Status: StatusOK}, nil
	})

	fut := e.Submit(context.Background(), emptyBackend, Express, "img1", nil)
	res := fut.Wait()

	assert.Equal(t, StatusEmpty, res.Output.Status)
	assert.NoError(t, res.Output.Err)
}

// TestPriorityBorrowing: EXPRESS=1, STANDARD=1, BACKGROUND=1, borrowing on,
// threshold=0.8. A BACKGROUND submission holds the only BACKGROUND permit
// and a first EXPRESS submission holds the only EXPRESS permit; a second
// EXPRESS submission should borrow the idle STANDARD permit and run
// immediately.
func TestPriorityBorrowing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpressParallelism = 1
	cfg.StandardParallelism = 1
	cfg.BackgroundParallelism = 1
	cfg.PriorityBorrowing = true
	cfg.BorrowThreshold = 0.8
	e := New(cfg, zerolog.Nop())

	release := make(chan struct{})
	bgFuture := e.Submit(context.Background(), blockingBackend(release), Background, "bg.png", nil)

	// Give the background goroutine a moment to acquire its permit.
	require.Eventually(t, func() bool { return e.PermitsHeld(Background) == 1 }, time.Second, time.Millisecond)

	// Saturate EXPRESS itself so the next EXPRESS submission has to borrow.
	exHold := e.Submit(context.Background(), blockingBackend(release), Express, "ex-hold.png", nil)
	require.Eventually(t, func() bool { return e.PermitsHeld(Express) == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	exFuture := e.Submit(context.Background(), instantBackend(), Express, "ex.png", nil)
	res := exFuture.Wait()
	elapsed := time.Since(start)

	assert.NoError(t, res.Output.Err)
	assert.Less(t, elapsed, 500*time.Millisecond, "express submission should have borrowed STANDARD's idle permit instead of waiting")

	close(release)
	bgFuture.Wait()
	exHold.Wait()

	// After both complete, STANDARD's permit must have been returned to it.
	assert.Eventually(t, func() bool { return e.PermitsHeld(Standard) == 0 }, time.Second, time.Millisecond)
}

func TestBackgroundNeverBorrows(t *testing.T) {
	assert.Nil(t, donorOrder(Background))
}

func TestStrictTiersWhenBorrowingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpressParallelism = 1
	cfg.StandardParallelism = 1
	cfg.BackgroundParallelism = 1
	cfg.PriorityBorrowing = false
	cfg.SubmissionBudget = 150 * time.Millisecond
	e := New(cfg, zerolog.Nop())

	release := make(chan struct{})
	defer close(release)

	// Saturate EXPRESS itself, leaving STANDARD and BACKGROUND idle.
	e.Submit(context.Background(), blockingBackend(release), Express, "first.png", nil)
	require.Eventually(t, func() bool { return e.PermitsHeld(Express) == 1 }, time.Second, time.Millisecond)

	// With borrowing disabled, a second EXPRESS submission must not borrow
	// STANDARD's idle permit; it blocks on its own tier until the budget
	// expires.
	fut := e.Submit(context.Background(), instantBackend(), Express, "second.png", nil)
	res := fut.Wait()

	assert.Equal(t, StatusError, res.Output.Status)
	assert.Equal(t, int64(0), e.PermitsHeld(Standard), "a strict tier must never acquire a donor's permit")
}

func TestCancelBeforeStartSkipsBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpressParallelism = 1
	cfg.PriorityBorrowing = false
	e := New(cfg, zerolog.Nop())

	release := make(chan struct{})
	defer close(release)
	e.Submit(context.Background(), blockingBackend(release), Express, "first.png", nil)
	require.Eventually(t, func() bool { return e.PermitsHeld(Express) == 1 }, time.Second, time.Millisecond)

	var ran bool
	var mu sync.Mutex
	backend := BackendFunc(func(ctx context.Context, imageRef string, image []byte) (RawOutput, error) {
		mu.Lock()
		ran = true
		mu.Unlock()
		return RawOutput{Status: StatusOK}, nil
	})

	second := e.Submit(context.Background(), backend, Express, "second.png", nil)
	second.Cancel()
	close(release)

	// Give the first submission's permit release and the second's goroutine
	// time to observe the cancellation.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran, "cancelled-before-start future must never invoke the backend")
}

func TestTierForBulkSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BulkThreshold = 10
	e := New(cfg, zerolog.Nop())

	assert.Equal(t, Standard, e.TierForBulkSize(2))
	assert.Equal(t, Standard, e.TierForBulkSize(9))
	assert.Equal(t, Background, e.TierForBulkSize(10))
	assert.Equal(t, Background, e.TierForBulkSize(50))
}

func TestModeMonitorHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	metrics := newMetricsRing(64)
	var applied []Mode
	mm := newModeMonitor(cfg, metrics, func(m Mode, _ Config) { applied = append(applied, m) })

	now := time.Now()
	// Flood with bulk-only samples across several evaluation windows.
	for i := 0; i < 3; i++ {
		metrics.record(tierMetric{tier: Background, waitStart: now, waitEnd: now.Add(time.Millisecond)})
		mode := mm.evaluate(now)
		if i < 1 {
			assert.Equal(t, ModeBalanced, mode, "single qualifying window must not switch mode yet")
		}
	}
	assert.Equal(t, ModeBulkHeavy, mm.evaluate(now), "two consecutive qualifying windows must switch mode")
}

func TestApplyModeResizesCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpressParallelism = 1
	cfg.StandardParallelism = 1
	cfg.BackgroundParallelism = 2
	cfg.PriorityBorrowing = false
	e := New(cfg, zerolog.Nop())

	e.applyMode(ModeSingleFocused, cfg)

	release := make(chan struct{})
	defer close(release)

	// EXPRESS's capacity was raised to 3 (1+2), so three concurrent
	// submissions should all acquire without blocking.
	for i := 0; i < 3; i++ {
		e.Submit(context.Background(), blockingBackend(release), Express, "x.png", nil)
	}
	require.Eventually(t, func() bool { return e.PermitsHeld(Express) == 3 }, time.Second, time.Millisecond)

	// BACKGROUND's capacity was lowered to 1 (2-1), so a second concurrent
	// submission must block rather than acquire a third permit.
	bgRelease := make(chan struct{})
	defer close(bgRelease)
	e.Submit(context.Background(), blockingBackend(bgRelease), Background, "bg1.png", nil)
	require.Eventually(t, func() bool { return e.PermitsHeld(Background) == 1 }, time.Second, time.Millisecond)

	cfg2 := cfg
	cfg2.SubmissionBudget = 100 * time.Millisecond
	e.cfg.SubmissionBudget = cfg2.SubmissionBudget
	fut := e.Submit(context.Background(), instantBackend(), Background, "bg2.png", nil)
	res := fut.Wait()
	assert.Equal(t, StatusError, res.Output.Status, "background capacity should still be capped at 1 after single_focused mode")
}

func TestSubmissionTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpressParallelism = 1
	cfg.PriorityBorrowing = false
	cfg.SubmissionBudget = 50 * time.Millisecond
	e := New(cfg, zerolog.Nop())

	release := make(chan struct{})
	defer close(release)
	e.Submit(context.Background(), blockingBackend(release), Express, "first.png", nil)
	require.Eventually(t, func() bool { return e.PermitsHeld(Express) == 1 }, time.Second, time.Millisecond)

	fut := e.Submit(context.Background(), instantBackend(), Express, "second.png", nil)
	res := fut.Wait()

	assert.Equal(t, StatusError, res.Output.Status)
	assert.Error(t, res.Output.Err)
}
