package ingest

import (
	"sync/atomic"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/rlog"
)

var driverLog = rlog.New("ingest")

// SerialPort is the minimal surface Driver needs from a serial endpoint.
// github.com/tarm/serial.Port satisfies it directly; tests substitute a
// byte-feeding fake, the same seam the teacher's Bus uses around
// *serial.Port.
type SerialPort interface {
	Read(p []byte) (int, error)
}

// DefaultDisconnectTimeoutMs is §4.1's default connection-loss threshold.
const DefaultDisconnectTimeoutMs = 3000

// StateChangeFunc is invoked on Connected/Disconnected transitions only.
type StateChangeFunc func(kind common.RadarKind, state common.ConnectionState)

// Driver owns one radar's serial endpoint and parser. It is not safe for
// concurrent use by more than one reader goroutine; ReadOnce is meant to be
// called from the single "sensing" producer loop for this radar, while
// CheckLiveness and Stats are safe to call from the housekeeping context
// (only plain counters and a state byte are shared, matching §5's
// single-writer/stats-are-relaxed-atomic model).
type Driver struct {
	kind                common.RadarKind
	port                SerialPort
	disconnectTimeoutMs uint32

	trackingParser *LD2450Parser
	presenceParser *LD2410Parser

	onState          StateChangeFunc
	onDetectionFrame func(common.DetectionFrame)
	onPresenceFrame  func(common.PresenceFrame)

	state       atomic.Int32 // common.ConnectionState
	lastFrameMs atomic.Uint32
	gated       atomic.Bool

	framesParsed  atomic.Uint64
	framesInvalid atomic.Uint64
	gatedDropped  atomic.Uint64
}

// NewTrackingDriver constructs a driver for the LD2450-style tracking radar.
func NewTrackingDriver(port SerialPort, filter FilterConfig, onState StateChangeFunc, onFrame func(common.DetectionFrame)) *Driver {
	d := &Driver{
		kind:                common.RadarLD2450,
		port:                port,
		disconnectTimeoutMs: DefaultDisconnectTimeoutMs,
		trackingParser:      NewLD2450Parser(filter),
		onState:             onState,
		onDetectionFrame:    onFrame,
	}
	d.state.Store(int32(common.Disconnected))
	return d
}

// NewPresenceDriver constructs a driver for the LD2410-style presence radar.
func NewPresenceDriver(port SerialPort, onState StateChangeFunc, onFrame func(common.PresenceFrame)) *Driver {
	d := &Driver{
		kind:                common.RadarLD2410,
		port:                port,
		disconnectTimeoutMs: DefaultDisconnectTimeoutMs,
		presenceParser:      NewLD2410Parser(),
		onState:             onState,
		onPresenceFrame:     onFrame,
	}
	d.state.Store(int32(common.Disconnected))
	return d
}

// SetDisconnectTimeoutMs overrides the default liveness threshold.
func (d *Driver) SetDisconnectTimeoutMs(ms uint32) { d.disconnectTimeoutMs = ms }

// SetGated controls whether frames completed while this radar's power
// phase is off (Pro-hardware TDM) are delivered downstream. Gated frames
// are counted but never reach the callbacks or change the connection
// state; they do refresh the last-frame timestamp.
func (d *Driver) SetGated(gated bool) { d.gated.Store(gated) }

// Kind reports which radar variant this driver serves.
func (d *Driver) Kind() common.RadarKind { return d.kind }

// State returns the current connection state.
func (d *Driver) State() common.ConnectionState {
	return common.ConnectionState(d.state.Load())
}

// ReadOnce performs one non-blocking-ish read from the serial port (the
// port's own read deadline bounds how long this can block) and feeds every
// byte received to the parser, dispatching any frame(s) completed. nowMs is
// the caller-supplied monotonic timestamp for the frames produced.
func (d *Driver) ReadOnce(nowMs uint32) error {
	var buf [128]byte
	n, err := d.port.Read(buf[:])
	if n == 0 {
		return err
	}
	for i := 0; i < n; i++ {
		d.feedByte(buf[i], nowMs)
	}
	return err
}

func (d *Driver) feedByte(b byte, nowMs uint32) {
	switch d.kind {
	case common.RadarLD2450:
		frame, ok := d.trackingParser.FeedByte(b, nowMs)
		if !ok {
			return
		}
		d.onFrameComplete(nowMs)
		if d.gated.Load() {
			d.gatedDropped.Add(1)
			return
		}
		d.framesParsed.Add(1)
		if d.onDetectionFrame != nil {
			d.onDetectionFrame(frame)
		}
	case common.RadarLD2410:
		frame, ok := d.presenceParser.FeedByte(b, nowMs)
		if !ok {
			return
		}
		d.onFrameComplete(nowMs)
		if d.gated.Load() {
			d.gatedDropped.Add(1)
			return
		}
		d.framesParsed.Add(1)
		if d.onPresenceFrame != nil {
			d.onPresenceFrame(frame)
		}
	}
}

// onFrameComplete updates liveness and fires the state callback on a
// Disconnected→Connected transition. Gated frames still reset last_frame_ms
// so a radar coming back into its phase isn't immediately flagged lost, but
// do not themselves flip a Disconnected state to Connected (the spec
// reserves that transition for frames that are actually delivered).
func (d *Driver) onFrameComplete(nowMs uint32) {
	d.lastFrameMs.Store(nowMs)
	if d.gated.Load() {
		return
	}
	if common.ConnectionState(d.state.Load()) != common.Connected {
		d.state.Store(int32(common.Connected))
		driverLog.Printf("%s connected", d.kind)
		if d.onState != nil {
			d.onState(d.kind, common.Connected)
		}
	}
}

// CheckLiveness is called periodically (housekeeping context) to detect a
// radar that has gone silent. A gated radar (off phase) is expected to be
// silent and is exempt from this check; TDM clears gating before a radar's
// on-phase begins.
func (d *Driver) CheckLiveness(nowMs uint32) {
	if d.gated.Load() {
		return
	}
	if common.ConnectionState(d.state.Load()) != common.Connected {
		return
	}
	last := d.lastFrameMs.Load()
	if nowMs-last >= d.disconnectTimeoutMs {
		d.state.Store(int32(common.Disconnected))
		driverLog.Printf("%s disconnected: silent for %dms", d.kind, nowMs-last)
		if d.onState != nil {
			d.onState(d.kind, common.Disconnected)
		}
	}
}

// Stats is a point-in-time snapshot of this driver's counters.
type Stats struct {
	FramesParsed  uint64
	FramesInvalid uint64
	GatedDropped  uint64
	State         common.ConnectionState
}

func (d *Driver) Stats() Stats {
	var invalid uint64
	if d.trackingParser != nil {
		invalid = d.trackingParser.Stats().FramesInvalid
	} else if d.presenceParser != nil {
		invalid = d.presenceParser.Stats().FramesInvalid
	}
	return Stats{
		FramesParsed:  d.framesParsed.Load(),
		FramesInvalid: invalid,
		GatedDropped:  d.gatedDropped.Load(),
		State:         d.State(),
	}
}
