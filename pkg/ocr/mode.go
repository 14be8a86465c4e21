package ocr

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Mode is the adaptive mode monitor's selected operating mode.
type Mode string

const (
	ModeSingleFocused Mode = "single_focused"
	ModeBulkHeavy     Mode = "bulk_heavy"
	ModeBalanced      Mode = "balanced"
)

// tierMetric is one submission's wait-time sample, appended to the
// metrics ring on every permit acquisition (successful or timed out).
type tierMetric struct {
	tier      Tier
	waitStart time.Time
	waitEnd   time.Time
	borrowed  bool
}

func (m tierMetric) wait() time.Duration { return m.waitEnd.Sub(m.waitStart) }

// metricsRing is an append-only, single-consumer ring buffer of recent
// submission metrics. A lossy read (entries older than the ring's
// capacity are simply gone) is acceptable for mode-selection input.
// Writers and the reader share one mutex, so a record call waits while a
// snapshot is being copied.
type metricsRing struct {
	mu     sync.Mutex
	buf    []tierMetric
	cap    int
	cursor int
	filled bool
}

func newMetricsRing(capacity int) *metricsRing {
	return &metricsRing{buf: make([]tierMetric, capacity), cap: capacity}
}

func (r *metricsRing) record(m tierMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.cursor] = m
	r.cursor = (r.cursor + 1) % r.cap
	if r.cursor == 0 {
		r.filled = true
	}
}

// snapshotSince returns a copy of every recorded metric with waitEnd after
// cutoff. Lossy: entries older than the ring's capacity are gone regardless
// of cutoff.
func (r *metricsRing) snapshotSince(cutoff time.Time) []tierMetric {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.cursor
	if r.filled {
		n = r.cap
	}
	out := make([]tierMetric, 0, n)
	for i := 0; i < n; i++ {
		m := r.buf[i]
		if !m.waitEnd.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// modeMonitor evaluates the trailing rolling window of submission metrics
// on every tick and selects a Mode, with hysteresis requiring the
// triggering condition to hold for two consecutive windows before
// switching.
type modeMonitor struct {
	cfg     Config
	metrics *metricsRing
	apply   func(Mode, Config)

	mu              sync.Mutex
	current         Mode
	pendingMode     Mode
	pendingStreak   int
	cronID          cron.EntryID
	c               *cron.Cron
}

func newModeMonitor(cfg Config, metrics *metricsRing, apply func(Mode, Config)) *modeMonitor {
	return &modeMonitor{cfg: cfg, metrics: metrics, apply: apply, current: ModeBalanced}
}

// evaluate computes the candidate mode for the current window and advances
// the hysteresis counter, applying a mode switch only after two
// consecutive windows agree.
func (m *modeMonitor) evaluate(now time.Time) Mode {
	window := m.metrics.snapshotSince(now.Add(-m.cfg.RollingWindow))

	var expressCount, bulkCount int
	var expressWait, bulkWait time.Duration
	for _, sample := range window {
		if sample.tier == Express {
			expressCount++
			expressWait += sample.wait()
		} else {
			bulkCount++
			bulkWait += sample.wait()
		}
	}

	candidate := ModeBalanced
	switch {
	case expressCount > 0 && bulkCount > 0 && expressCount >= bulkCount*3:
		candidate = ModeSingleFocused
	case bulkCount > 0 && expressCount > 0 && bulkCount >= expressCount*3:
		candidate = ModeBulkHeavy
	case bulkCount > 0 && expressCount == 0:
		candidate = ModeBulkHeavy
	case expressCount > 0 && bulkCount == 0:
		candidate = ModeSingleFocused
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if candidate == m.current {
		m.pendingMode = ""
		m.pendingStreak = 0
		return m.current
	}
	if candidate == m.pendingMode {
		m.pendingStreak++
	} else {
		m.pendingMode = candidate
		m.pendingStreak = 1
	}
	if m.pendingStreak >= 2 {
		m.current = candidate
		m.pendingMode = ""
		m.pendingStreak = 0
	}
	return m.current
}

// Start registers the monitor's evaluation as a per-minute cron job,
// grounded on _examples/beeper-ai-bridge/pkg/cron's job-based heartbeat
// pattern rather than a bespoke ticker goroutine.
func (m *modeMonitor) Start() error {
	m.c = cron.New()
	id, err := m.c.AddFunc("@every 1m", func() {
		mode := m.evaluate(time.Now())
		m.apply(mode, m.cfg)
	})
	if err != nil {
		return err
	}
	m.cronID = id
	m.c.Start()
	return nil
}

func (m *modeMonitor) Stop() {
	if m.c != nil {
		m.c.Stop()
	}
}
