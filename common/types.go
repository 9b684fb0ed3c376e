// Package common holds the value types shared across the sensing pipeline:
// detections and frames coming out of Radar Ingest, tracks produced by
// Tracking, zones held by the Config Store, and the occupancy values
// produced by the Zone Engine and Presence Smoothing. None of these types
// carry behaviour that touches I/O; they are passed by value (or as short
// read-only slices) between components on the sensing context.
package common

import "fmt"

// RadarKind distinguishes the two radar variants on the board.
type RadarKind int

const (
	RadarLD2410 RadarKind = iota // stationary-presence radar
	RadarLD2450                  // multi-target tracking radar
)

func (k RadarKind) String() string {
	switch k {
	case RadarLD2410:
		return "ld2410"
	case RadarLD2450:
		return "ld2450"
	default:
		return "unknown"
	}
}

// ConnectionState is the liveness of a radar's serial feed.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Detection is one target return in one tracking-radar frame.
//
// Invariant: !Valid ⇒ all numeric fields are zero.
type Detection struct {
	XMM           int16
	YMM           int16
	SpeedCmS      int16
	ResolutionMM  uint16
	SignalQuality uint8
	Valid         bool
}

// MaxTargets is the tracking radar's per-frame target slot count.
const MaxTargets = 3

// DetectionFrame is one decoded tracking-radar (LD2450-style) frame.
//
// Invariant: TargetCount == count of Targets[i].Valid.
type DetectionFrame struct {
	Targets     [MaxTargets]Detection
	TargetCount int
	TimestampMs uint32
	FrameSeq    uint32
}

// PresenceState is the stationary-radar's reported occupancy state.
type PresenceState uint8

const (
	PresenceNone PresenceState = iota
	PresenceMoving
	PresenceStationary
	PresenceBoth
)

func (s PresenceState) String() string {
	switch s {
	case PresenceNone:
		return "none"
	case PresenceMoving:
		return "moving"
	case PresenceStationary:
		return "stationary"
	case PresenceBoth:
		return "both"
	default:
		return "unknown"
	}
}

// GateCount is the number of range gates reported by the presence radar's
// engineering-mode frame. The wire format carries 8; a 9th slot is zero
// padded for downstream compatibility with gate-indexed consumers.
const GateCount = 9

// PresenceFrame is one decoded presence-radar (LD2410-style, engineering
// mode) frame.
//
// Invariant: State == PresenceNone ⇒ MovingEnergy == 0 && StationaryEnergy == 0.
type PresenceFrame struct {
	State                PresenceState
	MovingDistanceCm      uint16
	StationaryDistanceCm  uint16
	MovingEnergy          uint8 // 0..100
	StationaryEnergy      uint8 // 0..100
	MovingGateEnergy      [GateCount]uint8
	StationaryGateEnergy  [GateCount]uint8
	TimestampMs           uint32
}

// TrackState is a Track's lifecycle stage.
type TrackState int

const (
	TrackTentative TrackState = iota
	TrackConfirmed
	TrackOccluded
	TrackRetired
)

func (s TrackState) String() string {
	switch s {
	case TrackTentative:
		return "tentative"
	case TrackConfirmed:
		return "confirmed"
	case TrackOccluded:
		return "occluded"
	case TrackRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Mat4 is a 4x4 matrix in row-major order, used for the Kalman covariance P.
type Mat4 [4][4]float64

// Track is a persistent hypothesis for one real-world target.
//
// Invariants: Confirmed ⇔ State ∈ {TrackConfirmed, TrackOccluded}; P is
// strictly positive-definite while the track is live; none of
// {X,Y,VX,VY,P} is ever NaN/Inf.
type Track struct {
	ID                uint32
	State             TrackState
	X, Y              float64 // mm
	VX, VY            float64 // mm/s
	P                 Mat4
	ConsecutiveHits   uint16
	ConsecutiveMisses uint16
	Confidence        uint8
	LastUpdateMs      uint32
	Confirmed         bool
}

// ZoneKind selects whether a zone asserts or suppresses occupancy.
type ZoneKind int

const (
	ZoneInclude ZoneKind = iota
	ZoneExclude
)

// MaxZoneVertices and MinZoneVertices bound a zone polygon's vertex count.
const (
	MinZoneVertices = 3
	MaxZoneVertices = 8
	MaxZones        = 16
)

// Vertex is a polygon point in millimetres, in the radar's coordinate frame.
type Vertex struct {
	XMM, YMM int32
}

// Zone is a user-defined polygonal region evaluated against confirmed tracks.
//
// Invariant: the polygon formed by Vertices is simple (non-self-intersecting).
type Zone struct {
	ID          string
	Name        string
	Kind        ZoneKind
	Vertices    []Vertex
	Sensitivity uint8 // 0..100
}

func (z Zone) String() string {
	return fmt.Sprintf("Zone{%s %q kind=%d verts=%d}", z.ID, z.Name, z.Kind, len(z.Vertices))
}

// ZoneStore is the versioned, checksummed collection of active zones.
type ZoneStore struct {
	Version   uint32
	UpdatedAt uint32 // unix seconds, set by the Config Store on write
	Zones     []Zone
	Checksum  uint16
}

// ZoneOccupancy is the Zone Engine's raw, frame-local occupancy verdict.
type ZoneOccupancy struct {
	RawOccupied bool
	TargetCount uint8
}

// SmoothedOccupancy is Presence Smoothing's debounced, publishable verdict.
type SmoothedOccupancy struct {
	Stable        bool
	LastChangedMs uint32
}

// ZoneChange pairs a zone id with the occupancy value a consumer should see.
type ZoneChange struct {
	ZoneID      string
	Occupancy   SmoothedOccupancy
	TargetCount uint8
}
