// Package ingest decodes the two radar serial protocols into typed frames.
// Both parsers are pure: they consume bytes and hand back completed frames,
// with no I/O of their own (the I/O lives in Driver). This mirrors the
// teacher's split between a byte-draining reader goroutine and a frame
// parser, generalized from J1587's inter-frame-gap framing to the fixed
// and variable header/footer framing the two radars actually use.
package ingest

import "github.com/r-mccarty/rs1-firmware/common"

// ld2450FrameLen is the fixed tracking-radar frame size: 4-byte header,
// three 8-byte target records (int16 x, int16 y, int16 speed, uint16
// resolution), 2-byte checksum, 2-byte footer.
const ld2450FrameLen = 4 + 3*8 + 2 + 2
const ld2450TargetRecordLen = 8
const ld2450ChecksumStart = 4
const ld2450ChecksumEnd = ld2450ChecksumStart + 3*ld2450TargetRecordLen // exclusive

var ld2450Header = [4]byte{0xAA, 0xFF, 0x03, 0x00}
var ld2450Footer = [2]byte{0x55, 0xCC}

type parserState int

const (
	stateWaitHeader parserState = iota
	stateReceiveData
)

// FilterConfig bounds the targets the tracking-radar parser accepts.
type FilterConfig struct {
	MinRangeMM  int16
	MaxRangeMM  int16
	MaxSpeedCmS int16
}

// DefaultFilterConfig matches the coordinate envelope in §3 of the spec.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{MinRangeMM: 0, MaxRangeMM: 6000, MaxSpeedCmS: 1000}
}

// LD2450Parser decodes the tracking-radar's 32-byte frames (4-byte header,
// three 8-byte target records, 2-byte checksum, 2-byte footer) from a raw
// byte stream. It is a pure state machine: WaitHeader matches the 4-byte
// header
// one byte at a time; ReceiveData fills a fixed buffer until the frame is
// complete, then validates and resets to WaitHeader regardless of outcome.
type LD2450Parser struct {
	state     parserState
	headerIdx int
	buf       [ld2450FrameLen]byte
	bufLen    int

	filter FilterConfig

	frameSeq      uint32
	framesParsed  uint64
	framesInvalid uint64
}

// NewLD2450Parser constructs a parser with the given target filter.
func NewLD2450Parser(filter FilterConfig) *LD2450Parser {
	return &LD2450Parser{filter: filter}
}

// Stats reports cumulative parse counters.
type ParserStats struct {
	FramesParsed  uint64
	FramesInvalid uint64
}

func (p *LD2450Parser) Stats() ParserStats {
	return ParserStats{FramesParsed: p.framesParsed, FramesInvalid: p.framesInvalid}
}

// FeedByte advances the state machine by one byte. It returns a decoded,
// filtered frame and true when byte completes a valid frame.
func (p *LD2450Parser) FeedByte(b byte, nowMs uint32) (common.DetectionFrame, bool) {
	switch p.state {
	case stateWaitHeader:
		if b == ld2450Header[p.headerIdx] {
			p.headerIdx++
			if p.headerIdx == len(ld2450Header) {
				p.bufLen = copy(p.buf[:], ld2450Header[:])
				p.headerIdx = 0
				p.state = stateReceiveData
			}
			return common.DetectionFrame{}, false
		}
		// Mismatch: reset progress, but the current byte may itself start
		// a new header — re-evaluate it as header[0] immediately.
		if b == ld2450Header[0] {
			p.headerIdx = 1
		} else {
			p.headerIdx = 0
		}
		return common.DetectionFrame{}, false

	case stateReceiveData:
		p.buf[p.bufLen] = b
		p.bufLen++
		if p.bufLen < ld2450FrameLen {
			return common.DetectionFrame{}, false
		}
		p.state = stateWaitHeader
		p.headerIdx = 0
		p.bufLen = 0
		frame, ok := p.validateAndDecode(nowMs)
		if ok {
			p.framesParsed++
		} else {
			p.framesInvalid++
		}
		return frame, ok
	}
	return common.DetectionFrame{}, false
}

func (p *LD2450Parser) validateAndDecode(nowMs uint32) (common.DetectionFrame, bool) {
	buf := p.buf
	if buf[ld2450FrameLen-2] != ld2450Footer[0] || buf[ld2450FrameLen-1] != ld2450Footer[1] {
		return common.DetectionFrame{}, false
	}

	var sum uint32
	for i := ld2450ChecksumStart; i < ld2450ChecksumEnd; i++ {
		sum += uint32(buf[i])
	}
	checksum := uint16(buf[ld2450ChecksumEnd]) | uint16(buf[ld2450ChecksumEnd+1])<<8
	// Checksum 0x0000 is accepted as the legacy unchecksummed variant.
	if checksum != 0 && checksum != uint16(sum) {
		return common.DetectionFrame{}, false
	}

	var frame common.DetectionFrame
	frame.TimestampMs = nowMs
	p.frameSeq++
	frame.FrameSeq = p.frameSeq

	count := 0
	for i := 0; i < common.MaxTargets; i++ {
		off := ld2450ChecksumStart + i*ld2450TargetRecordLen
		x := int16(uint16(buf[off]) | uint16(buf[off+1])<<8)
		y := int16(uint16(buf[off+2]) | uint16(buf[off+3])<<8)
		speed := int16(uint16(buf[off+4]) | uint16(buf[off+5])<<8)
		res := uint16(buf[off+6]) | uint16(buf[off+7])<<8

		empty := x == -32768 || (x == 0 && y == 0 && speed == 0 && res == 0)
		if empty {
			continue
		}

		det := common.Detection{
			XMM: x, YMM: y, SpeedCmS: speed, ResolutionMM: res,
			SignalQuality: signalQualityFromResolution(res),
			Valid:         true,
		}
		if !p.filter.accepts(det) {
			continue
		}
		frame.Targets[count] = det
		count++
	}
	frame.TargetCount = count
	return frame, true
}

func (f FilterConfig) accepts(d common.Detection) bool {
	if d.YMM < f.MinRangeMM || d.YMM > f.MaxRangeMM {
		return false
	}
	if d.XMM < -6000 || d.XMM > 6000 {
		return false
	}
	speed := d.SpeedCmS
	if speed < 0 {
		speed = -speed
	}
	if speed > f.MaxSpeedCmS {
		return false
	}
	return true
}

// signalQualityFromResolution maps the LD2450's resolution field (mm) to a
// 0..100 quality score: best at res<=100mm, worst at res>=1000mm, linear
// between.
func signalQualityFromResolution(res uint16) uint8 {
	switch {
	case res <= 100:
		return 100
	case res >= 1000:
		return 0
	default:
		q := 100 - (int(res)-100)*100/900
		if q < 0 {
			q = 0
		}
		if q > 100 {
			q = 100
		}
		return uint8(q)
	}
}
