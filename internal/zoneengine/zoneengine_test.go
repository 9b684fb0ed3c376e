package zoneengine

import (
	"testing"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/stretchr/testify/require"
)

func square(id string, kind common.ZoneKind, x0, y0, x1, y1 int32) common.Zone {
	return common.Zone{
		ID:   id,
		Kind: kind,
		Vertices: []common.Vertex{
			{XMM: x0, YMM: y0},
			{XMM: x1, YMM: y0},
			{XMM: x1, YMM: y1},
			{XMM: x0, YMM: y1},
		},
	}
}

func confirmedTrack(x, y float64) common.Track {
	return common.Track{State: common.TrackConfirmed, X: x, Y: y}
}

func TestEvaluate_PointInsideIncludeZone(t *testing.T) {
	zones := []common.Zone{square("z1", common.ZoneInclude, 0, 0, 1000, 1000)}
	tracks := []common.Track{confirmedTrack(500, 500)}

	out := Evaluate(zones, tracks)
	require.True(t, out["z1"].RawOccupied)
	require.EqualValues(t, 1, out["z1"].TargetCount)
}

func TestEvaluate_PointOutsideZone(t *testing.T) {
	zones := []common.Zone{square("z1", common.ZoneInclude, 0, 0, 1000, 1000)}
	tracks := []common.Track{confirmedTrack(5000, 5000)}

	out := Evaluate(zones, tracks)
	require.False(t, out["z1"].RawOccupied)
	require.EqualValues(t, 0, out["z1"].TargetCount)
}

func TestEvaluate_SharedEdgeBelongsToExactlyOneZone(t *testing.T) {
	// Two adjacent squares sharing the edge x=1000.
	left := square("left", common.ZoneInclude, 0, 0, 1000, 1000)
	right := square("right", common.ZoneInclude, 1000, 0, 2000, 1000)
	tracks := []common.Track{confirmedTrack(1000, 500)}

	out := Evaluate([]common.Zone{left, right}, tracks)
	count := 0
	if out["left"].RawOccupied {
		count++
	}
	if out["right"].RawOccupied {
		count++
	}
	require.Equal(t, 1, count, "a point on a shared edge must belong to exactly one zone")
}

func TestEvaluate_ExcludeSuppressesOverlappingInclude(t *testing.T) {
	include := square("room", common.ZoneInclude, 0, 0, 2000, 2000)
	exclude := square("doorway", common.ZoneExclude, 800, 800, 1200, 1200)
	tracks := []common.Track{confirmedTrack(1000, 1000)}

	out := Evaluate([]common.Zone{include, exclude}, tracks)
	require.False(t, out["room"].RawOccupied, "a track inside an exclude region must not count toward the include zone")
}

func TestEvaluate_ExcludeMustBeDeclaredBeforeInclude(t *testing.T) {
	// Exclude zone declared first in the slice, include zone second; the
	// exclude must still suppress it since it precedes the include in
	// declaration order.
	include := square("room", common.ZoneInclude, 0, 0, 2000, 2000)
	exclude := square("doorway", common.ZoneExclude, 800, 800, 1200, 1200)
	tracks := []common.Track{confirmedTrack(1000, 1000)}

	out := Evaluate([]common.Zone{exclude, include}, tracks)
	require.False(t, out["room"].RawOccupied, "exclude declared before include still suppresses it")
}

func TestEvaluate_OccludedTracksCountAsConfirmed(t *testing.T) {
	zones := []common.Zone{square("z1", common.ZoneInclude, 0, 0, 1000, 1000)}
	tracks := []common.Track{{State: common.TrackOccluded, X: 500, Y: 500}}

	out := Evaluate(zones, tracks)
	require.True(t, out["z1"].RawOccupied)
}

func TestEvaluate_TentativeTracksIgnored(t *testing.T) {
	zones := []common.Zone{square("z1", common.ZoneInclude, 0, 0, 1000, 1000)}
	tracks := []common.Track{{State: common.TrackTentative, X: 500, Y: 500}}

	out := Evaluate(zones, tracks)
	require.False(t, out["z1"].RawOccupied)
}

func TestEvaluate_MultipleTargetsInSameZone(t *testing.T) {
	zones := []common.Zone{square("z1", common.ZoneInclude, 0, 0, 2000, 2000)}
	tracks := []common.Track{confirmedTrack(100, 100), confirmedTrack(1900, 1900)}

	out := Evaluate(zones, tracks)
	require.True(t, out["z1"].RawOccupied)
	require.EqualValues(t, 2, out["z1"].TargetCount)
}

func TestPointInPolygon_ConcavePolygon(t *testing.T) {
	// An L-shaped concave polygon; the notch at (500,500)-(1000,1000) must
	// read as outside even though it lies within the bounding box.
	verts := []common.Vertex{
		{XMM: 0, YMM: 0},
		{XMM: 1000, YMM: 0},
		{XMM: 1000, YMM: 500},
		{XMM: 500, YMM: 500},
		{XMM: 500, YMM: 1000},
		{XMM: 0, YMM: 1000},
	}
	require.True(t, pointInPolygon(verts, 100, 100))
	require.False(t, pointInPolygon(verts, 800, 800))
}

func TestShrinkToCentroid_DegenerateClusterDoesNotPanic(t *testing.T) {
	verts := []common.Vertex{{XMM: 0, YMM: 0}, {XMM: 0, YMM: 0}, {XMM: 0, YMM: 0}}
	out := shrinkToCentroid(verts, shrinkMM)
	require.Len(t, out, 3)
}
