// Package zoneengine maps confirmed tracks into user-defined polygonal
// zones. It carries no state across frames: each call to Evaluate is a
// pure function of the current tracks and the active zone snapshot, which
// is deliberately how the Zone Engine is specified in §4.3 — there is
// nothing here for a crash or a scheduler hiccup to leave half-updated.
package zoneengine

import (
	"math"

	"github.com/r-mccarty/rs1-firmware/common"
)

// shrinkMM is the boundary-policy inset applied to every polygon vertex
// before the point-in-polygon test, so that a point sitting exactly on an
// edge shared by two zones is reported inside at most one of them.
const shrinkMM = 1

// Evaluate computes, for every zone in `zones` (in declaration order), the
// raw occupancy {occupied, target_count} against the given tracks. Tracks
// that are not Confirmed or Occluded are skipped here (Tracking reports
// both as "confirmed" for zone purposes per §4.3).
//
// Complexity is O(tracks × zones × avg_vertices), matching §4.3's budget.
func Evaluate(zones []common.Zone, tracks []common.Track) map[string]common.ZoneOccupancy {
	out := make(map[string]common.ZoneOccupancy, len(zones))
	shrunk := make([][]common.Vertex, len(zones))
	for i, z := range zones {
		shrunk[i] = shrinkToCentroid(z.Vertices, shrinkMM)
	}

	// A track inside an Include zone is checked against the Exclude zones
	// declared before it (suppressedByEarlierExclude); nothing is cached.
	for i, z := range zones {
		occupied := false
		count := uint8(0)
		for _, tr := range tracks {
			if tr.State != common.TrackConfirmed && tr.State != common.TrackOccluded {
				continue
			}
			inside := pointInPolygon(shrunk[i], tr.X, tr.Y)
			if !inside {
				continue
			}
			if z.Kind == common.ZoneInclude && suppressedByEarlierExclude(zones, shrunk, i, tr.X, tr.Y) {
				continue
			}
			occupied = true
			count++
		}
		out[z.ID] = common.ZoneOccupancy{RawOccupied: occupied, TargetCount: count}
	}
	return out
}

// suppressedByEarlierExclude reports whether (x,y) falls inside any
// Exclude zone declared before index `upTo`, per §4.3's "evaluated in
// declaration order" composition rule.
func suppressedByEarlierExclude(zones []common.Zone, shrunk [][]common.Vertex, upTo int, x, y float64) bool {
	for j := 0; j < upTo; j++ {
		if zones[j].Kind != common.ZoneExclude {
			continue
		}
		if pointInPolygon(shrunk[j], x, y) {
			return true
		}
	}
	return false
}

// pointInPolygon applies the even-odd ray-cast rule.
func pointInPolygon(verts []common.Vertex, x, y float64) bool {
	n := len(verts)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := float64(verts[i].XMM), float64(verts[i].YMM)
		xj, yj := float64(verts[j].XMM), float64(verts[j].YMM)
		if (yi > y) != (yj > y) {
			xCross := xi + (y-yi)/(yj-yi)*(xj-xi)
			if x < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// shrinkToCentroid moves every vertex `insetMM` millimetres toward the
// polygon's centroid. This is the chosen implementation of §4.3's boundary
// policy: any equivalent shrink achieves the same "belongs to exactly one
// of two zones sharing an edge" property, but moving toward the centroid
// is simple, requires no per-edge normal computation, and is stable for
// the convex and near-convex polygons zones are expected to be.
func shrinkToCentroid(verts []common.Vertex, insetMM float64) []common.Vertex {
	if len(verts) == 0 {
		return nil
	}
	var cx, cy float64
	for _, v := range verts {
		cx += float64(v.XMM)
		cy += float64(v.YMM)
	}
	cx /= float64(len(verts))
	cy /= float64(len(verts))

	out := make([]common.Vertex, len(verts))
	for i, v := range verts {
		dx := cx - float64(v.XMM)
		dy := cy - float64(v.YMM)
		dist := math.Hypot(dx, dy)
		if dist <= insetMM || dist == 0 {
			out[i] = common.Vertex{XMM: int32(cx), YMM: int32(cy)}
			continue
		}
		scale := insetMM / dist
		out[i] = common.Vertex{
			XMM: v.XMM + shiftAxis(dx*scale),
			YMM: v.YMM + shiftAxis(dy*scale),
		}
	}
	return out
}

// shiftAxis rounds a per-axis centroid-ward shift to the nearest whole
// millimetre, but never rounds a genuine (nonzero) pull down to zero: a
// component under 0.5mm would otherwise vanish under truncation or
// round-to-nearest, silently defeating the boundary-shrink policy for the
// axis-aligned rectangles most zones are drawn as.
func shiftAxis(delta float64) int32 {
	rounded := int32(math.Round(delta))
	if rounded == 0 && delta != 0 {
		if delta > 0 {
			return 1
		}
		return -1
	}
	return rounded
}
