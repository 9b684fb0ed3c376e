// Package smoothing turns the Zone Engine's frame-local occupancy verdicts
// into the debounced, publishable state automations actually consume: a
// zone goes occupied the instant a track appears, but only clears once it
// has been empty continuously for that zone's hold window.
package smoothing

import "github.com/r-mccarty/rs1-firmware/common"

// DefaultPublishThrottleMs is §4.4's single publish-rate constant.
const DefaultPublishThrottleMs = 100

// HoldMsFromSensitivity is the chosen, single mapping from a zone's
// sensitivity to its hold window: higher sensitivity means a shorter hold
// before clearing. At the documented default (sensitivity=50) this yields
// 2500ms, inside the required 1500-2500ms band.
func HoldMsFromSensitivity(sensitivity uint8) uint32 {
	if sensitivity > 100 {
		sensitivity = 100
	}
	ms := int32(100-int32(sensitivity)) * 50
	if ms < 0 {
		ms = 0
	}
	if ms > 5000 {
		ms = 5000
	}
	return uint32(ms)
}

// zoneState is the hysteresis state tracked per zone across frames.
type zoneState struct {
	stable        bool
	lastRawTrueMs uint32
	lastChangeMs  uint32
	targetCount   uint8

	lastPublishedStable      bool
	lastPublishedTargetCount uint8
	lastPublishMs            uint32
	havePublished            bool
}

// Smoother holds per-zone hysteresis state and publish-throttle bookkeeping.
// It is driven exclusively from the sensing context, immediately after the
// Zone Engine, per §5's single-producer pipeline.
type Smoother struct {
	publishThrottleMs uint32
	states            map[string]*zoneState
}

func NewSmoother(publishThrottleMs uint32) *Smoother {
	return &Smoother{
		publishThrottleMs: publishThrottleMs,
		states:            make(map[string]*zoneState),
	}
}

// Process applies one frame's raw zone occupancy against each zone's hold
// window and returns only the changes worth publishing this frame: a zone
// appears in the result when its stable state or target count differs from
// what was last published and the publish throttle has elapsed since the
// last publication for that zone. A zone starts out as unoccupied with no
// targets, so a first frame matching that publishes nothing; while a zone
// is held occupied with no raw occupancy, its last target count is kept.
func (s *Smoother) Process(zones []common.Zone, raw map[string]common.ZoneOccupancy, nowMs uint32) []common.ZoneChange {
	var changes []common.ZoneChange
	for _, z := range zones {
		st, ok := s.states[z.ID]
		if !ok {
			st = &zoneState{}
			s.states[z.ID] = st
		}
		occ := raw[z.ID]

		if occ.RawOccupied {
			st.lastRawTrueMs = nowMs
			if !st.stable {
				st.stable = true
				st.lastChangeMs = nowMs
			}
		} else if st.stable {
			holdMs := HoldMsFromSensitivity(z.Sensitivity)
			if nowMs-st.lastRawTrueMs >= holdMs {
				st.stable = false
				st.lastChangeMs = nowMs
			}
		}
		if occ.RawOccupied || !st.stable {
			st.targetCount = occ.TargetCount
		}

		changed := st.stable != st.lastPublishedStable || st.targetCount != st.lastPublishedTargetCount
		if !changed {
			continue
		}
		if st.havePublished && nowMs-st.lastPublishMs < s.publishThrottleMs {
			continue
		}

		st.lastPublishedStable = st.stable
		st.lastPublishedTargetCount = st.targetCount
		st.lastPublishMs = nowMs
		st.havePublished = true

		changes = append(changes, common.ZoneChange{
			ZoneID: z.ID,
			Occupancy: common.SmoothedOccupancy{
				Stable:        st.stable,
				LastChangedMs: st.lastChangeMs,
			},
			TargetCount: st.targetCount,
		})
	}
	return changes
}

// Reset drops all per-zone hysteresis state, used when the zone set changes
// (a Config Store commit) so stale zone ids don't accumulate.
func (s *Smoother) Reset() {
	s.states = make(map[string]*zoneState)
}
