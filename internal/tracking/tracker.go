package tracking

import (
	"math"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/rlog"
)

var trackerLog = rlog.New("tracking")

// PoolCapacity is the fixed number of concurrent track slots (§4.2: more
// than the 3-target radar bound, to tolerate brief double-reports during
// handoffs).
const PoolCapacity = 8

// Config holds the tunables governing gating, lifecycle and noise models.
type Config struct {
	NConfirm               uint16 // consecutive hits to go Tentative → Confirmed
	MDrop                   uint16 // consecutive misses tolerated; the next miss → Retired
	OcclusionTimeoutFrames  uint16 // occluded frames tolerated before forced retirement, whichever is first vs MDrop

	DtMinS, DtMaxS float64 // clamp on predict's dt, seconds

	GateBaseMM        float64
	AssumedMaxSpeedMMPerS float64 // used to scale gate_mm with dt

	Process ProcessNoise
	Measure MeasurementNoise

	InitialPosVar float64
	InitialVelVar float64

	DivergenceEps float64
}

// DefaultConfig returns the tunables named or implied by §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		NConfirm:              2,
		MDrop:                 5,
		OcclusionTimeoutFrames: 10,
		DtMinS:                0.02,
		DtMaxS:                0.5,
		GateBaseMM:            300,
		AssumedMaxSpeedMMPerS: 3000,
		Process:               ProcessNoise{Position: 400, Velocity: 2500},
		Measure:               MeasurementNoise{X: 2500, Y: 2500},
		InitialPosVar:         90000, // (300mm)^2
		InitialVelVar:         1000000,
		DivergenceEps:         1e-6,
	}
}

// Tracker owns the fixed track pool and runs the per-frame predict/gate/
// associate/update/spawn/miss pipeline of §4.2. It is not safe for
// concurrent use; it is driven exclusively from the sensing context's
// single producer loop, per §5.
type Tracker struct {
	cfg    Config
	slots  [PoolCapacity]common.Track
	active [PoolCapacity]bool
	nextID uint32

	tentativeDrops  uint64
	divergenceResets uint64
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Stats reports cumulative lifecycle counters.
type Stats struct {
	TentativeDrops   uint64
	DivergenceResets uint64
}

func (t *Tracker) Stats() Stats {
	return Stats{TentativeDrops: t.tentativeDrops, DivergenceResets: t.divergenceResets}
}

// Tracks returns the live (non-Retired) tracks in slot order, the
// deterministic iteration order §4.2 requires.
func (t *Tracker) Tracks() []common.Track {
	out := make([]common.Track, 0, PoolCapacity)
	for i := 0; i < PoolCapacity; i++ {
		if t.active[i] {
			out = append(out, t.slots[i])
		}
	}
	return out
}

// Process runs one predict/gate/associate/update/spawn/miss cycle over the
// frame's valid detections and returns the resulting live tracks in slot
// order.
func (t *Tracker) Process(frame common.DetectionFrame, nowMs uint32) []common.Track {
	dets := make([]common.Detection, 0, common.MaxTargets)
	for i := 0; i < frame.TargetCount && i < common.MaxTargets; i++ {
		if frame.Targets[i].Valid {
			dets = append(dets, frame.Targets[i])
		}
	}

	dtByTrack := make([]float64, PoolCapacity)
	for i := 0; i < PoolCapacity; i++ {
		if !t.active[i] {
			continue
		}
		dtMs := float64(nowMs - t.slots[i].LastUpdateMs)
		dt := dtMs / 1000.0
		if dt < t.cfg.DtMinS {
			dt = t.cfg.DtMinS
		}
		if dt > t.cfg.DtMaxS {
			dt = t.cfg.DtMaxS
		}
		dtByTrack[i] = dt
		predict(&t.slots[i], dt, t.cfg.Process)
	}

	matchedTrack := make([]bool, PoolCapacity)
	matchedDet := make([]bool, len(dets))
	trackForDet := make([]int, len(dets))
	for i := range trackForDet {
		trackForDet[i] = -1
	}

	type pair struct {
		track, det int
		cost       float64
	}
	var candidates []pair
	for ti := 0; ti < PoolCapacity; ti++ {
		if !t.active[ti] {
			continue
		}
		gate := t.cfg.GateBaseMM + dtByTrack[ti]*t.cfg.AssumedMaxSpeedMMPerS
		for di, d := range dets {
			dx := float64(d.XMM) - t.slots[ti].X
			dy := float64(d.YMM) - t.slots[ti].Y
			dist := math.Hypot(dx, dy)
			if dist <= gate {
				candidates = append(candidates, pair{ti, di, dist})
			}
		}
	}
	// Greedy nearest-neighbour by ascending cost; ties broken by lower
	// track ID via the slot-order-stable sort below (slots are iterated in
	// ID-ascending order already since IDs are issued monotonically and
	// slots are reused, so we additionally compare ID directly).
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			ci, cj := candidates[i], candidates[j]
			swap := cj.cost < ci.cost
			if cj.cost == ci.cost && t.slots[cj.track].ID < t.slots[ci.track].ID {
				swap = true
			}
			if swap {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	for _, c := range candidates {
		if matchedTrack[c.track] || matchedDet[c.det] {
			continue
		}
		matchedTrack[c.track] = true
		matchedDet[c.det] = true
		trackForDet[c.det] = c.track
	}

	for di, d := range dets {
		ti := trackForDet[di]
		if ti < 0 {
			continue
		}
		update(&t.slots[ti], float64(d.XMM), float64(d.YMM), t.cfg.Measure)
		tr := &t.slots[ti]
		tr.LastUpdateMs = nowMs
		if tr.ConsecutiveHits < math.MaxUint16 {
			tr.ConsecutiveHits++
		}
		tr.ConsecutiveMisses = 0
		if tr.Confidence < 100 {
			inc := 15
			if int(tr.Confidence)+inc > 100 {
				tr.Confidence = 100
			} else {
				tr.Confidence += uint8(inc)
			}
		}

		if !isFinite(tr) || !isWellConditioned(tr, t.cfg.DivergenceEps) {
			t.resetDiverged(ti, d, nowMs)
		}

		if tr.State == common.TrackTentative && tr.ConsecutiveHits >= t.cfg.NConfirm {
			tr.State = common.TrackConfirmed
			tr.Confirmed = true
		} else if tr.State == common.TrackOccluded {
			tr.State = common.TrackConfirmed
		}
	}

	for ti := 0; ti < PoolCapacity; ti++ {
		if !t.active[ti] || matchedTrack[ti] {
			continue
		}
		tr := &t.slots[ti]
		switch tr.State {
		case common.TrackTentative:
			t.active[ti] = false
			t.tentativeDrops++
		case common.TrackConfirmed, common.TrackOccluded:
			if tr.ConsecutiveMisses < math.MaxUint16 {
				tr.ConsecutiveMisses++
			}
			tr.State = common.TrackOccluded
			tr.Confirmed = true
			if tr.Confidence > 0 {
				dec := 10
				if int(tr.Confidence)-dec < 0 {
					tr.Confidence = 0
				} else {
					tr.Confidence -= uint8(dec)
				}
			}
			if tr.ConsecutiveMisses > t.cfg.MDrop || tr.ConsecutiveMisses > t.cfg.OcclusionTimeoutFrames {
				tr.State = common.TrackRetired
				tr.Confirmed = false
				t.active[ti] = false
			}
		}
	}

	for di, d := range dets {
		if matchedDet[di] {
			continue
		}
		t.spawn(d, nowMs)
	}

	return t.Tracks()
}

func (t *Tracker) spawn(d common.Detection, nowMs uint32) {
	slot := -1
	for i := 0; i < PoolCapacity; i++ {
		if !t.active[i] {
			slot = i
			break
		}
	}
	if slot < 0 {
		return // pool exhausted; detection is silently not tracked this frame
	}
	t.nextID++
	t.slots[slot] = common.Track{
		ID:                t.nextID,
		State:             common.TrackTentative,
		X:                 float64(d.XMM),
		Y:                 float64(d.YMM),
		VX:                0,
		VY:                0,
		P:                 inflatedCovariance(t.cfg.InitialPosVar, t.cfg.InitialVelVar),
		ConsecutiveHits:   1,
		ConsecutiveMisses: 0,
		Confidence:        20,
		LastUpdateMs:      nowMs,
		Confirmed:         false,
	}
	t.active[slot] = true
}

func (t *Tracker) resetDiverged(slot int, d common.Detection, nowMs uint32) {
	tr := &t.slots[slot]
	tr.X = float64(d.XMM)
	tr.Y = float64(d.YMM)
	tr.VX = 0
	tr.VY = 0
	tr.P = inflatedCovariance(t.cfg.InitialPosVar, t.cfg.InitialVelVar)
	tr.LastUpdateMs = nowMs
	t.divergenceResets++
	trackerLog.Printf("track %d reset after divergence (resets=%d)", tr.ID, t.divergenceResets)
}
