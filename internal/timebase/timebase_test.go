package timebase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock_NowMsAdvances(t *testing.T) {
	c := NewClock()
	a := c.NowMs()
	time.Sleep(2 * time.Millisecond)
	b := c.NowMs()
	require.GreaterOrEqual(t, b, a)
}

func TestClock_WallClockUnknownUntilSet(t *testing.T) {
	c := NewClock()
	_, ok := c.WallClock()
	require.False(t, ok)

	ref := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetWallClock(ref)
	wall, ok := c.WallClock()
	require.True(t, ok)
	require.WithinDuration(t, ref, wall, 50*time.Millisecond)
}

func TestFrameStats_NoMissedFramesOnTime(t *testing.T) {
	fs := NewFrameStats(100)
	fs.Observe(0)
	fs.Observe(100)
	fs.Observe(200)
	snap := fs.Snapshot()
	require.EqualValues(t, 0, snap.MissedFrames)
	require.EqualValues(t, 0, snap.LastJitterMs)
}

func TestFrameStats_MissedFramesEstimated(t *testing.T) {
	fs := NewFrameStats(100)
	fs.Observe(0)
	fs.Observe(350) // 3.5 expected intervals elapsed -> floor(3.5)-1 = 2 missed
	snap := fs.Snapshot()
	require.EqualValues(t, 2, snap.MissedFrames)
}

func TestFrameStats_JitterTracksDeviation(t *testing.T) {
	fs := NewFrameStats(100)
	fs.Observe(0)
	fs.Observe(130)
	snap := fs.Snapshot()
	require.EqualValues(t, 30, snap.LastJitterMs)
	require.EqualValues(t, 30, snap.MaxJitterMs)
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	s := NewScheduler()
	var runs []uint32
	_, err := s.Register("poll", 100, func(nowMs uint32) { runs = append(runs, nowMs) })
	require.NoError(t, err)

	s.Tick(50, nil)
	require.Empty(t, runs, "must not run before interval elapses")

	s.Tick(100, nil)
	require.Equal(t, []uint32{100}, runs)

	s.Tick(150, nil)
	require.Equal(t, []uint32{100}, runs, "must not run again before next interval")

	s.Tick(200, nil)
	require.Equal(t, []uint32{100, 200}, runs)
}

func TestScheduler_DisabledTaskDoesNotRun(t *testing.T) {
	s := NewScheduler()
	ran := false
	idx, _ := s.Register("t", 10, func(uint32) { ran = true })
	s.SetEnabled(idx, false)
	s.Tick(100, nil)
	require.False(t, ran)
}

func TestScheduler_CapacityEnforced(t *testing.T) {
	s := NewScheduler()
	for i := 0; i < SchedulerCapacity; i++ {
		_, err := s.Register("t", 10, func(uint32) {})
		require.NoError(t, err)
	}
	_, err := s.Register("overflow", 10, func(uint32) {})
	require.Error(t, err)
}

func TestScheduler_TracksMaxObservedDuration(t *testing.T) {
	s := NewScheduler()
	s.Register("slow", 10, func(uint32) {})
	s.Tick(10, func(run func()) time.Duration {
		run()
		return 5 * time.Millisecond
	})
	tasks := s.Tasks()
	require.EqualValues(t, 5000, tasks[0].MaxObservedDurUs)
}

func TestWatchdog_ResetsWhenAllSourcesFeed(t *testing.T) {
	resets := 0
	w := NewWatchdog(1000, func() { resets++ })
	a, _ := w.Register("radar-tracking")
	b, _ := w.Register("scheduler")

	w.Feed(a, 0)
	w.Feed(b, 0)
	missing := w.Check(500)
	require.Empty(t, missing)
	require.Equal(t, 1, resets)
}

func TestWatchdog_ReportsMissingSource(t *testing.T) {
	resets := 0
	w := NewWatchdog(1000, func() { resets++ })
	a, _ := w.Register("radar-tracking")
	b, _ := w.Register("scheduler")

	w.Feed(a, 0)
	// b never fed
	missing := w.Check(500)
	require.Equal(t, []string{"scheduler"}, missing)
	require.Equal(t, 0, resets)
	_ = b
}

func TestWatchdog_DisarmedSourceIgnored(t *testing.T) {
	resets := 0
	w := NewWatchdog(1000, func() { resets++ })
	a, _ := w.Register("radar-tracking")
	b, _ := w.Register("radar-presence")

	w.Feed(a, 4500)
	w.Disarm(b)
	missing := w.Check(5000)
	require.Empty(t, missing)
	require.Equal(t, 1, resets)
}

func TestWatchdog_RearmRequiresFreshFeed(t *testing.T) {
	w := NewWatchdog(1000, func() {})
	a, _ := w.Register("radar-presence")
	w.Feed(a, 0)
	w.Disarm(a)
	w.Rearm(a)

	missing := w.Check(100)
	require.Equal(t, []string{"radar-presence"}, missing, "rearm must require a fresh feed before passing")
}

func TestWatchdog_CapacityEnforced(t *testing.T) {
	w := NewWatchdog(1000, func() {})
	for i := 0; i < WatchdogCapacity; i++ {
		_, err := w.Register("src")
		require.NoError(t, err)
	}
	_, err := w.Register("overflow")
	require.Error(t, err)
}
