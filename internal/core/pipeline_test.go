package core

import (
	"testing"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/smoothing"
	"github.com/r-mccarty/rs1-firmware/internal/tracking"
	"github.com/stretchr/testify/require"
)

type fakeZoneSource struct {
	zs common.ZoneStore
	ok bool
}

func (f fakeZoneSource) GetZones() (common.ZoneStore, bool) { return f.zs, f.ok }

func square(id string) common.Zone {
	return common.Zone{
		ID:   id,
		Kind: common.ZoneInclude,
		Vertices: []common.Vertex{
			{XMM: 0, YMM: 0},
			{XMM: 3000, YMM: 0},
			{XMM: 3000, YMM: 3000},
			{XMM: 0, YMM: 3000},
		},
		Sensitivity: 100, // hold = 0, exercises clearing within the test's frame budget
	}
}

func detectionFrame(x, y int16, tsMs uint32) common.DetectionFrame {
	var f common.DetectionFrame
	f.Targets[0] = common.Detection{XMM: x, YMM: y, Valid: true, SignalQuality: 100}
	f.TargetCount = 1
	f.TimestampMs = tsMs
	return f
}

func TestPipeline_EndToEndOccupancyPublication(t *testing.T) {
	zones := fakeZoneSource{zs: common.ZoneStore{Zones: []common.Zone{square("z1")}}, ok: true}

	var trackUpdates int
	var zoneChanges []common.ZoneChange
	p := New(tracking.DefaultConfig(), smoothing.DefaultPublishThrottleMs, zones, Callbacks{
		OnTrackUpdate: func(tracks []common.Track) { trackUpdates++ },
		OnZoneOccupancy: func(changes []common.ZoneChange) {
			zoneChanges = append(zoneChanges, changes...)
		},
	})

	p.OnDetectionFrame(detectionFrame(1000, 1000, 0))
	require.Equal(t, 1, trackUpdates)
	// First frame spawns a tentative track; zone occupancy is evaluated
	// against Confirmed/Occluded tracks only, so nothing publishes yet.
	require.Empty(t, zoneChanges)

	p.OnDetectionFrame(detectionFrame(1000, 1000, 100))
	require.Len(t, zoneChanges, 1, "second hit confirms the track and must publish occupied")
	require.True(t, zoneChanges[0].Occupancy.Stable)
	require.Equal(t, "z1", zoneChanges[0].ZoneID)
}

func TestPipeline_NoZonesConfiguredSkipsZoneEngine(t *testing.T) {
	zones := fakeZoneSource{ok: false}
	var zoneChanges []common.ZoneChange
	p := New(tracking.DefaultConfig(), smoothing.DefaultPublishThrottleMs, zones, Callbacks{
		OnZoneOccupancy: func(changes []common.ZoneChange) { zoneChanges = append(zoneChanges, changes...) },
	})

	p.OnDetectionFrame(detectionFrame(500, 500, 0))
	p.OnDetectionFrame(detectionFrame(500, 500, 100))
	require.Empty(t, zoneChanges)
}

func TestPipeline_RadarStateForwarded(t *testing.T) {
	zones := fakeZoneSource{ok: false}
	var states []common.ConnectionState
	p := New(tracking.DefaultConfig(), smoothing.DefaultPublishThrottleMs, zones, Callbacks{
		OnRadarState: func(kind common.RadarKind, state common.ConnectionState) {
			states = append(states, state)
		},
	})
	p.OnRadarState(common.RadarLD2450, common.Connected)
	require.Equal(t, []common.ConnectionState{common.Connected}, states)
}

func TestPipeline_PresenceFrameForwardedWithoutTouchingTracker(t *testing.T) {
	zones := fakeZoneSource{ok: false}
	var got common.PresenceFrame
	p := New(tracking.DefaultConfig(), smoothing.DefaultPublishThrottleMs, zones, Callbacks{
		OnPresenceFrame: func(f common.PresenceFrame) { got = f },
	})
	p.OnPresenceFrame(common.PresenceFrame{State: common.PresenceMoving})
	require.Equal(t, common.PresenceMoving, got.State)
	require.Empty(t, p.Tracks())
}

func TestPipeline_TrackUpdateCount(t *testing.T) {
	zones := fakeZoneSource{ok: false}
	p := New(tracking.DefaultConfig(), smoothing.DefaultPublishThrottleMs, zones, Callbacks{})
	p.OnDetectionFrame(detectionFrame(0, 0, 0))
	p.OnDetectionFrame(detectionFrame(0, 0, 100))
	require.EqualValues(t, 2, p.TrackUpdateCount())
}
