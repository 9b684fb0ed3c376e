// Package core wires Radar Ingest, Tracking, the Zone Engine and Presence
// Smoothing into the single synchronous call chain the sensing context
// drives per §5, and exposes the typed callback registration surface of
// §6. It is grounded on the teacher's main.go construction order (open
// port → build bus → wire MQTT → start) and on the coordinator/Subscribe
// pattern the other_examples miface.Tracker shows for fanning one
// producer's output out to many registered consumers.
package core

import (
	"sync"
	"sync/atomic"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/ingest"
	"github.com/r-mccarty/rs1-firmware/internal/smoothing"
	"github.com/r-mccarty/rs1-firmware/internal/tracking"
	"github.com/r-mccarty/rs1-firmware/internal/zoneengine"
)

// ZoneSource supplies the active zone snapshot consulted after every
// tracking update. In production this is backed by internal/configstore's
// single-writer/many-readers snapshot; Pipeline only ever reads it.
type ZoneSource interface {
	GetZones() (common.ZoneStore, bool)
}

// Callbacks is the typed registration surface of §6. Any field left nil is
// simply not invoked.
type Callbacks struct {
	OnDetectionFrame func(common.DetectionFrame)
	OnPresenceFrame  func(common.PresenceFrame)
	OnRadarState     func(kind common.RadarKind, state common.ConnectionState)
	OnTrackUpdate    func(tracks []common.Track)
	OnZoneOccupancy  func(changes []common.ZoneChange)
}

// Pipeline assembles Ingest → Tracking → Zone Engine → Smoothing → sink
// dispatch. Process* methods are meant to be invoked from Radar Ingest's
// frame callbacks, which already run on the single sensing-context
// producer loop per §5; on that path Pipeline holds its own mutex for the
// Tracking → Zone Engine → Smoothing chain, plus the zone snapshot's
// lightweight read lease.
type Pipeline struct {
	mu        sync.Mutex // serializes downstream processing across both radars' callbacks
	tracker   *tracking.Tracker
	smoother  *smoothing.Smoother
	zones     ZoneSource
	callbacks Callbacks

	trackUpdateCount atomic.Uint64
}

// New constructs a Pipeline. cfg configures the Kalman tracker;
// publishThrottleMs configures Presence Smoothing's publish rate; zones
// supplies the active zone snapshot; cb is the collaborator's callback
// registration.
func New(cfg tracking.Config, publishThrottleMs uint32, zones ZoneSource, cb Callbacks) *Pipeline {
	return &Pipeline{
		tracker:   tracking.NewTracker(cfg),
		smoother:  smoothing.NewSmoother(publishThrottleMs),
		zones:     zones,
		callbacks: cb,
	}
}

// OnDetectionFrame is registered as a tracking-radar driver's frame
// callback. It runs the full downstream chain: Tracking → Zone Engine →
// Smoothing → sink dispatch.
func (p *Pipeline) OnDetectionFrame(frame common.DetectionFrame) {
	if p.callbacks.OnDetectionFrame != nil {
		p.callbacks.OnDetectionFrame(frame)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tracks := p.tracker.Process(frame, frame.TimestampMs)
	p.trackUpdateCount.Add(1)
	if p.callbacks.OnTrackUpdate != nil {
		p.callbacks.OnTrackUpdate(tracks)
	}

	zs, ok := p.zones.GetZones()
	if !ok {
		return
	}
	raw := zoneengine.Evaluate(zs.Zones, tracks)
	changes := p.smoother.Process(zs.Zones, raw, frame.TimestampMs)
	if len(changes) > 0 && p.callbacks.OnZoneOccupancy != nil {
		p.callbacks.OnZoneOccupancy(changes)
	}
}

// OnPresenceFrame is registered as a presence-radar driver's frame
// callback. The stationary-presence radar does not feed Tracking (it
// reports no per-target coordinates, only gate energies), so it only
// forwards to the collaborator's own callback.
func (p *Pipeline) OnPresenceFrame(frame common.PresenceFrame) {
	if p.callbacks.OnPresenceFrame != nil {
		p.callbacks.OnPresenceFrame(frame)
	}
}

// OnRadarState is registered as both drivers' state-change callback.
func (p *Pipeline) OnRadarState(kind common.RadarKind, state common.ConnectionState) {
	if p.callbacks.OnRadarState != nil {
		p.callbacks.OnRadarState(kind, state)
	}
}

// ResetZoneState drops Presence Smoothing's per-zone hysteresis state; call
// after a Config Store zone-set commit so stale zone ids don't linger.
func (p *Pipeline) ResetZoneState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.smoother.Reset()
}

// TrackUpdateCount reports the lifetime count of detection frames run
// through the tracker, whether or not an OnTrackUpdate callback is
// registered, part of §6's stats getters.
func (p *Pipeline) TrackUpdateCount() uint64 {
	return p.trackUpdateCount.Load()
}

// Tracks returns the tracker's current live tracks, for diagnostics.
func (p *Pipeline) Tracks() []common.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.Tracks()
}

// NewTrackingDriver builds the LD2450-style driver wired directly into this
// Pipeline's OnDetectionFrame/OnRadarState methods, the construction order
// the teacher's main.go uses (open port, then build the consumer that will
// read from it).
func (p *Pipeline) NewTrackingDriver(port ingest.SerialPort, filter ingest.FilterConfig) *ingest.Driver {
	return ingest.NewTrackingDriver(port, filter, p.OnRadarState, p.OnDetectionFrame)
}

// NewPresenceDriver builds the LD2410-style driver wired into this
// Pipeline's OnPresenceFrame/OnRadarState methods.
func (p *Pipeline) NewPresenceDriver(port ingest.SerialPort) *ingest.Driver {
	return ingest.NewPresenceDriver(port, p.OnRadarState, p.OnPresenceFrame)
}
