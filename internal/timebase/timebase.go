// Package timebase supplies the monotonic clock, frame-interval statistics,
// cooperative task scheduler, and source watchdog that the housekeeping
// context drives, in the ticker-and-table style the teacher's MQTT client
// uses for its own periodic publish loop (pkg/mqtt.StartPublishing), adapted
// here from a single time.Ticker into an explicit, testable tick() call so
// the scheduler can be driven deterministically in tests rather than via a
// background goroutine.
package timebase

import (
	"fmt"
	"time"

	"github.com/r-mccarty/rs1-firmware/internal/rlog"
)

var watchdogLog = rlog.New("watchdog")

// Clock exposes the monotonic timestamps the rest of the pipeline is keyed
// off of. NowMs counts milliseconds since the Clock was created, matching
// the uint32 timestamp fields used throughout common; NowUs counts
// microseconds from the same start.
type Clock struct {
	start        time.Time
	wallKnown    bool
	wallAtSet    time.Time
	monoAtSetMs  uint32
}

func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// SetWallClock records that wall-clock time wallTime corresponds to the
// current monotonic instant, the seam an out-of-core NTP client reports
// into once it has synced. Until called, WallClock reports unknown.
func (c *Clock) SetWallClock(wallTime time.Time) {
	c.wallAtSet = wallTime
	c.monoAtSetMs = c.NowMs()
	c.wallKnown = true
}

// WallClock returns the current wall-clock time and whether it is known
// (i.e. SetWallClock has been called at least once).
func (c *Clock) WallClock() (time.Time, bool) {
	if !c.wallKnown {
		return time.Time{}, false
	}
	elapsed := time.Duration(c.NowMs()-c.monoAtSetMs) * time.Millisecond
	return c.wallAtSet.Add(elapsed), true
}

// NowMs returns the monotonic millisecond timestamp.
func (c *Clock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// NowUs returns the monotonic microsecond timestamp.
func (c *Clock) NowUs() uint64 {
	return uint64(time.Since(c.start).Microseconds())
}

// FrameStats tracks expected-vs-actual frame interval statistics for one
// producer (a radar's frame arrivals), per §4.5.
type FrameStats struct {
	expectedMs   uint32
	lastFrameMs  uint32
	haveLast     bool
	count        uint64
	missedFrames uint64
	maxJitterMs  int32
	lastJitterMs int32
}

func NewFrameStats(expectedIntervalMs uint32) *FrameStats {
	return &FrameStats{expectedMs: expectedIntervalMs}
}

// Observe records one frame's arrival and updates jitter/missed-frame
// estimates. Missed frames are estimated as floor(interval/expected) - 1,
// per §4.5, and never negative.
func (f *FrameStats) Observe(nowMs uint32) {
	f.count++
	if !f.haveLast {
		f.haveLast = true
		f.lastFrameMs = nowMs
		return
	}
	interval := nowMs - f.lastFrameMs
	f.lastFrameMs = nowMs

	jitter := int32(interval) - int32(f.expectedMs)
	f.lastJitterMs = jitter
	if abs32(jitter) > f.maxJitterMs {
		f.maxJitterMs = abs32(jitter)
	}

	if f.expectedMs > 0 {
		missed := int64(interval/f.expectedMs) - 1
		if missed > 0 {
			f.missedFrames += uint64(missed)
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Snapshot is a point-in-time read of a FrameStats accumulator.
type Snapshot struct {
	Count        uint64
	MissedFrames uint64
	LastJitterMs int32
	MaxJitterMs  int32
}

func (f *FrameStats) Snapshot() Snapshot {
	return Snapshot{
		Count:        f.count,
		MissedFrames: f.missedFrames,
		LastJitterMs: f.lastJitterMs,
		MaxJitterMs:  f.maxJitterMs,
	}
}

// SchedulerCapacity bounds the periodic-task table, per §4.5.
const SchedulerCapacity = 16

// Task is one entry in the scheduler's table.
type Task struct {
	Name               string
	Callback           func(nowMs uint32)
	IntervalMs         uint32
	LastRunMs          uint32
	Enabled            bool
	MaxObservedDurUs   uint64
}

// Scheduler is a cooperative, single-threaded periodic-task table driven by
// an explicit Tick call from the housekeeping loop.
type Scheduler struct {
	tasks [SchedulerCapacity]Task
	count int
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Register adds a task, returning its index, or an error if the table is
// full (capacity 16 per §4.5).
func (s *Scheduler) Register(name string, intervalMs uint32, cb func(nowMs uint32)) (int, error) {
	if s.count >= SchedulerCapacity {
		return -1, fmt.Errorf("timebase: scheduler table full (capacity %d)", SchedulerCapacity)
	}
	idx := s.count
	s.tasks[idx] = Task{Name: name, Callback: cb, IntervalMs: intervalMs, Enabled: true}
	s.count++
	return idx, nil
}

// SetEnabled toggles a task by index without removing it from the table.
func (s *Scheduler) SetEnabled(idx int, enabled bool) {
	if idx < 0 || idx >= s.count {
		return
	}
	s.tasks[idx].Enabled = enabled
}

// Tick runs every due, enabled task whose (now - last_run_ms) >= interval_ms,
// updating last_run_ms to now and tracking the task's observed duration.
// elapsed is injected so tests can supply a deterministic elapsed time
// instead of measuring wall-clock duration around each callback.
func (s *Scheduler) Tick(nowMs uint32, elapsed func(run func()) time.Duration) {
	for i := 0; i < s.count; i++ {
		t := &s.tasks[i]
		if !t.Enabled {
			continue
		}
		if nowMs-t.LastRunMs < t.IntervalMs {
			continue
		}
		cb := t.Callback
		var dur time.Duration
		if elapsed != nil {
			dur = elapsed(func() { cb(nowMs) })
		} else {
			start := time.Now()
			cb(nowMs)
			dur = time.Since(start)
		}
		t.LastRunMs = nowMs
		durUs := uint64(dur.Microseconds())
		if durUs > t.MaxObservedDurUs {
			t.MaxObservedDurUs = durUs
		}
	}
}

// Tasks returns a snapshot of the task table for diagnostics.
func (s *Scheduler) Tasks() []Task {
	out := make([]Task, s.count)
	copy(out, s.tasks[:s.count])
	return out
}

// WatchdogCapacity bounds the number of registrable watchdog sources.
const WatchdogCapacity = 8

type watchdogSource struct {
	name     string
	armed    bool
	lastFeed uint32
	hasFed   bool
}

// Watchdog implements the source-bitmap liveness model of §4.5: every
// armed source must feed within the configured timeout of each Check call,
// or Check reports it as missing instead of resetting the hardware timer.
type Watchdog struct {
	timeoutMs uint32
	sources   [WatchdogCapacity]watchdogSource
	count     int
	resetFn   func()
}

// NewWatchdog constructs a Watchdog. resetFn is invoked when Check
// determines every armed source has fed; pass a real hardware-timer reset
// in production, or a counting stub in tests.
func NewWatchdog(timeoutMs uint32, resetFn func()) *Watchdog {
	return &Watchdog{timeoutMs: timeoutMs, resetFn: resetFn}
}

// Register adds a watchdog source, returning its id, or an error if the
// table is full.
func (w *Watchdog) Register(name string) (int, error) {
	if w.count >= WatchdogCapacity {
		return -1, fmt.Errorf("timebase: watchdog table full (capacity %d)", WatchdogCapacity)
	}
	id := w.count
	w.sources[id] = watchdogSource{name: name, armed: true}
	w.count++
	return id, nil
}

// Feed records that source id is alive as of nowMs.
func (w *Watchdog) Feed(id int, nowMs uint32) {
	if id < 0 || id >= w.count {
		return
	}
	w.sources[id].lastFeed = nowMs
	w.sources[id].hasFed = true
}

// Disarm excludes a source from liveness checks (the radar-disconnect
// case), and Rearm reinstates it, requiring a fresh feed before the next
// Check.
func (w *Watchdog) Disarm(id int) {
	if id < 0 || id >= w.count {
		return
	}
	w.sources[id].armed = false
}

func (w *Watchdog) Rearm(id int) {
	if id < 0 || id >= w.count {
		return
	}
	w.sources[id].armed = true
	w.sources[id].hasFed = false
}

// Check verifies every armed source has fed within timeoutMs of nowMs. If
// so it invokes resetFn and returns nil missing names. Otherwise it returns
// the names of sources that failed to feed in time, and resetFn is not
// called.
func (w *Watchdog) Check(nowMs uint32) (missing []string) {
	for i := 0; i < w.count; i++ {
		src := &w.sources[i]
		if !src.armed {
			continue
		}
		if !src.hasFed || nowMs-src.lastFeed > w.timeoutMs {
			missing = append(missing, src.name)
		}
	}
	if len(missing) == 0 {
		if w.resetFn != nil {
			w.resetFn()
		}
		return missing
	}
	for _, name := range missing {
		watchdogLog.Printf("source %q missed its feed window", name)
	}
	return missing
}
