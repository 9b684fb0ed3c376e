// Package tdm time-division multiplexes the two radars' power rails on
// Pro-variant hardware, so their 24 GHz emissions never overlap. It is
// wired into the Scheduler as a periodic task (§4.7) and exposes a single
// gated-or-not flag per radar that Radar Ingest consults to decide whether
// an arriving frame should be dropped and counted rather than delivered.
package tdm

import "sync/atomic"

// Radar identifies which of the two radars a phase favors.
type Radar int

const (
	RadarTracking Radar = iota // LD2450
	RadarPresence              // LD2410
)

// Phase is the TDM controller's current half-cycle.
type Phase int

const (
	PhaseA Phase = iota // tracking radar powered, presence radar gated off
	PhaseB              // presence radar powered, tracking radar gated off
)

func (p Phase) String() string {
	if p == PhaseA {
		return "A"
	}
	return "B"
}

// DefaultPhaseLengthMs and DefaultSettleMs are §4.7's defaults: a 50ms
// phase length, of which the first 20ms is startup settle time. Neither the
// Controller nor Radar Ingest applies DefaultSettleMs; frames completed
// during the settle time are delivered like any other in-phase frame.
const (
	DefaultPhaseLengthMs = 50
	DefaultSettleMs      = 20
)

// PowerGate is the hardware seam the controller drives: Set(true) energizes
// a radar's power rail, Set(false) de-energizes it.
type PowerGate interface {
	Set(on bool)
}

// Controller runs the Phase A/B power-gating cycle. It is driven as a
// scheduler task at DefaultPhaseLengthMs and is safe to read from (IsGated)
// concurrently from the sensing context, since the gated flags are plain
// atomics per §5's relaxed-stats-counter model.
type Controller struct {
	phaseLengthMs uint32
	trackingGate  PowerGate
	presenceGate  PowerGate

	phase        atomic.Int32
	trackingDrop atomic.Uint64
	presenceDrop atomic.Uint64

	trackingGated atomic.Bool
	presenceGated atomic.Bool

	lastSwitchMs uint32
}

// NewController constructs a Controller starting in Phase A with the
// tracking radar powered.
func NewController(trackingGate, presenceGate PowerGate, phaseLengthMs uint32) *Controller {
	c := &Controller{
		phaseLengthMs: phaseLengthMs,
		trackingGate:  trackingGate,
		presenceGate:  presenceGate,
	}
	c.applyPhase(PhaseA)
	return c
}

func (c *Controller) applyPhase(p Phase) {
	c.phase.Store(int32(p))
	switch p {
	case PhaseA:
		c.trackingGated.Store(false)
		c.presenceGated.Store(true)
		if c.trackingGate != nil {
			c.trackingGate.Set(true)
		}
		if c.presenceGate != nil {
			c.presenceGate.Set(false)
		}
	case PhaseB:
		c.trackingGated.Store(true)
		c.presenceGated.Store(false)
		if c.trackingGate != nil {
			c.trackingGate.Set(false)
		}
		if c.presenceGate != nil {
			c.presenceGate.Set(true)
		}
	}
}

// Tick is the scheduler-task callback: switches phase once phaseLengthMs
// has elapsed since the last switch.
func (c *Controller) Tick(nowMs uint32) {
	if nowMs-c.lastSwitchMs < c.phaseLengthMs {
		return
	}
	c.lastSwitchMs = nowMs
	next := PhaseB
	if Phase(c.phase.Load()) == PhaseB {
		next = PhaseA
	}
	c.applyPhase(next)
}

// Phase returns the controller's current half-cycle.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// IsGated reports whether the given radar is currently powered off and
// Ingest should drop (and count) any frame bytes arriving for it.
func (c *Controller) IsGated(r Radar) bool {
	if r == RadarTracking {
		return c.trackingGated.Load()
	}
	return c.presenceGated.Load()
}

// NoteDropped records that a frame arrived for radar r while it was gated
// and was not delivered, per §4.7's "such frames are counted, not
// reported".
func (c *Controller) NoteDropped(r Radar) {
	if r == RadarTracking {
		c.trackingDrop.Add(1)
	} else {
		c.presenceDrop.Add(1)
	}
}

// Stats reports cumulative gated-frame-drop counts per radar.
type Stats struct {
	TrackingDropped uint64
	PresenceDropped uint64
}

func (c *Controller) Stats() Stats {
	return Stats{
		TrackingDropped: c.trackingDrop.Load(),
		PresenceDropped: c.presenceDrop.Load(),
	}
}
