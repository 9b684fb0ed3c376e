package tracking

import (
	"math"
	"testing"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/stretchr/testify/require"
)

func frameWith(x, y, speed int16) common.DetectionFrame {
	var f common.DetectionFrame
	f.Targets[0] = common.Detection{XMM: x, YMM: y, SpeedCmS: speed, ResolutionMM: 50, Valid: true, SignalQuality: 100}
	f.TargetCount = 1
	return f
}

func emptyFrame() common.DetectionFrame {
	return common.DetectionFrame{}
}

func TestTracker_ConfirmAfterNHits(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	var now uint32 = 0

	tracks := tr.Process(frameWith(1500, 2000, 0), now)
	require.Len(t, tracks, 1)
	require.Equal(t, common.TrackTentative, tracks[0].State)

	now += 100
	tracks = tr.Process(frameWith(1500, 2000, 0), now)
	require.Len(t, tracks, 1)
	require.Equal(t, common.TrackConfirmed, tracks[0].State)
	require.True(t, tracks[0].Confirmed)
}

func TestTracker_TentativeDroppedOnMiss(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Process(frameWith(1000, 1000, 0), 0)
	require.Len(t, tr.Tracks(), 1)

	tr.Process(emptyFrame(), 100)
	require.Len(t, tr.Tracks(), 0)
	require.EqualValues(t, 1, tr.Stats().TentativeDrops)
}

func TestTracker_OcclusionBridging(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg)
	var now uint32

	var id uint32
	for i := 0; i < 10; i++ {
		tracks := tr.Process(frameWith(1500, 2000, 0), now)
		require.Len(t, tracks, 1)
		id = tracks[0].ID
		now += 100
	}
	require.Equal(t, common.TrackConfirmed, tr.Tracks()[0].State)

	for i := 0; i < 5; i++ {
		tracks := tr.Process(emptyFrame(), now)
		require.Len(t, tracks, 1, "track must survive bridging window")
		require.Equal(t, common.TrackOccluded, tracks[0].State)
		require.Equal(t, id, tracks[0].ID)
		now += 100
	}

	tracks := tr.Process(frameWith(1600, 2100, 0), now)
	require.Len(t, tracks, 1)
	require.Equal(t, id, tracks[0].ID, "track id must be unchanged across occlusion")
	require.Equal(t, common.TrackConfirmed, tracks[0].State)
}

func TestTracker_RetiresAfterTooManyMisses(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg)
	var now uint32
	for i := 0; i < 10; i++ {
		tr.Process(frameWith(1500, 2000, 0), now)
		now += 100
	}
	for i := 0; i < int(cfg.MDrop)+1; i++ {
		tr.Process(emptyFrame(), now)
		now += 100
	}
	require.Len(t, tr.Tracks(), 0, "track must retire once misses exceed MDrop")
}

func TestTracker_InnovationReducesError(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Process(frameWith(1000, 1000, 0), 0)
	tr.Process(frameWith(1000, 1000, 0), 100) // confirm

	before := tr.Tracks()[0]
	preDist := math.Hypot(1050-before.X, 1040-before.Y)

	after := tr.Process(frameWith(1050, 1040, 0), 200)
	require.Len(t, after, 1)
	postDist := math.Hypot(1050-after[0].X, 1040-after[0].Y)

	require.LessOrEqual(t, postDist, preDist+1e-9)
}

func TestTracker_NoNaNAcrossManyFrames(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	var now uint32
	x, y := int16(0), int16(100)
	for i := 0; i < 200; i++ {
		x += 5
		tr.Process(frameWith(x, y, 50), now)
		now += 100
		for _, track := range tr.Tracks() {
			require.False(t, math.IsNaN(track.X) || math.IsInf(track.X, 0))
			require.False(t, math.IsNaN(track.Y) || math.IsInf(track.Y, 0))
			require.False(t, math.IsNaN(track.VX) || math.IsInf(track.VX, 0))
			require.False(t, math.IsNaN(track.VY) || math.IsInf(track.VY, 0))
		}
	}
}

func TestTracker_DivergenceResetSurvivesOtherTracks(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Process(common.DetectionFrame{
		Targets: [common.MaxTargets]common.Detection{
			{XMM: -1000, YMM: 1000, Valid: true},
			{XMM: 2000, YMM: 3000, Valid: true},
		},
		TargetCount: 2,
	}, 0)

	// Force one track's covariance into a divergent state directly, as a
	// bad scheduler tick or transient sensor glitch might.
	tr.slots[0].P[0][0] = math.NaN()

	tracks := tr.Process(common.DetectionFrame{
		Targets: [common.MaxTargets]common.Detection{
			{XMM: -1000, YMM: 1000, Valid: true},
			{XMM: 2000, YMM: 3000, Valid: true},
		},
		TargetCount: 2,
	}, 100)

	require.Len(t, tracks, 2, "both tracks must survive a single bad frame")
	for _, track := range tracks {
		require.False(t, math.IsNaN(track.X))
		require.False(t, math.IsNaN(track.P[0][0]))
	}
	require.GreaterOrEqual(t, tr.Stats().DivergenceResets, uint64(1))
}
