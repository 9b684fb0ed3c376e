package ingest

import "github.com/r-mccarty/rs1-firmware/common"

var ld2410Header = [4]byte{0xF4, 0xF3, 0xF2, 0xF1}
var ld2410Footer = [4]byte{0xF8, 0xF7, 0xF6, 0xF5}

const (
	ld2410InnerHead        = 0xAA
	ld2410InnerTail        = 0x55
	ld2410EngineeringType  = 0x01
	ld2410PayloadLen       = 29 // bytes between the length field and the footer
	ld2410FrameLen         = 4 + 2 + ld2410PayloadLen + 4
	ld2410MaxFrame         = 64 // generous scratch buffer; real frames are 39 bytes
)

// LD2410Parser decodes the presence radar's variable-length engineering-mode
// frames. Like LD2450Parser it is a pure byte-at-a-time state machine:
// WaitHeader matches the 4-byte header, ReceiveData reads the little-endian
// length field once seen, then fills until the declared frame length is
// reached before validating header/footer/inner markers/data type.
type LD2410Parser struct {
	state     parserState
	headerIdx int
	buf       [ld2410MaxFrame]byte
	bufLen    int
	lenKnown  bool
	totalLen  int

	framesParsed  uint64
	framesInvalid uint64
}

func NewLD2410Parser() *LD2410Parser {
	return &LD2410Parser{}
}

func (p *LD2410Parser) Stats() ParserStats {
	return ParserStats{FramesParsed: p.framesParsed, FramesInvalid: p.framesInvalid}
}

// FeedByte advances the state machine by one byte, returning a decoded
// frame and true when the byte completes a valid engineering-mode frame.
func (p *LD2410Parser) FeedByte(b byte, nowMs uint32) (common.PresenceFrame, bool) {
	switch p.state {
	case stateWaitHeader:
		if b == ld2410Header[p.headerIdx] {
			p.headerIdx++
			if p.headerIdx == len(ld2410Header) {
				p.bufLen = copy(p.buf[:], ld2410Header[:])
				p.headerIdx = 0
				p.lenKnown = false
				p.state = stateReceiveData
			}
			return common.PresenceFrame{}, false
		}
		if b == ld2410Header[0] {
			p.headerIdx = 1
		} else {
			p.headerIdx = 0
		}
		return common.PresenceFrame{}, false

	case stateReceiveData:
		if p.bufLen >= len(p.buf) {
			// Scratch buffer exhausted without a resolvable length: resync.
			p.resetToWaitHeader()
			p.framesInvalid++
			return common.PresenceFrame{}, false
		}
		p.buf[p.bufLen] = b
		p.bufLen++

		if !p.lenKnown && p.bufLen == 6 {
			length := int(p.buf[4]) | int(p.buf[5])<<8
			p.totalLen = 6 + length + 4
			p.lenKnown = true
			if p.totalLen > len(p.buf) || p.totalLen < 6+4 {
				p.resetToWaitHeader()
				p.framesInvalid++
				return common.PresenceFrame{}, false
			}
		}

		if p.lenKnown && p.bufLen == p.totalLen {
			frame, ok := p.validateAndDecode(nowMs)
			p.resetToWaitHeader()
			if ok {
				p.framesParsed++
			} else {
				p.framesInvalid++
			}
			return frame, ok
		}
		return common.PresenceFrame{}, false
	}
	return common.PresenceFrame{}, false
}

func (p *LD2410Parser) resetToWaitHeader() {
	p.state = stateWaitHeader
	p.headerIdx = 0
	p.bufLen = 0
	p.lenKnown = false
}

func (p *LD2410Parser) validateAndDecode(nowMs uint32) (common.PresenceFrame, bool) {
	n := p.totalLen
	buf := p.buf[:n]

	if n != ld2410FrameLen {
		return common.PresenceFrame{}, false
	}
	if buf[n-4] != ld2410Footer[0] || buf[n-3] != ld2410Footer[1] ||
		buf[n-2] != ld2410Footer[2] || buf[n-1] != ld2410Footer[3] {
		return common.PresenceFrame{}, false
	}
	if buf[6] != ld2410InnerHead {
		return common.PresenceFrame{}, false
	}
	if buf[7] != ld2410EngineeringType {
		return common.PresenceFrame{}, false
	}
	if buf[33] != ld2410InnerTail {
		return common.PresenceFrame{}, false
	}

	var sum byte
	for i := 6; i < 34; i++ {
		sum += buf[i]
	}
	if buf[34] != sum {
		return common.PresenceFrame{}, false
	}

	var frame common.PresenceFrame
	frame.TimestampMs = nowMs
	frame.State = common.PresenceState(buf[8])
	frame.MovingDistanceCm = uint16(buf[9]) | uint16(buf[10])<<8
	frame.MovingEnergy = buf[11]
	frame.StationaryDistanceCm = uint16(buf[12]) | uint16(buf[13])<<8
	frame.StationaryEnergy = buf[14]
	// buf[15:17] carries the detection distance; not surfaced on PresenceFrame.
	copy(frame.MovingGateEnergy[:8], buf[17:25])
	copy(frame.StationaryGateEnergy[:8], buf[25:33])
	// 9th gate slot stays zero for compatibility, per §4.1.

	if frame.State == common.PresenceNone {
		frame.MovingEnergy = 0
		frame.StationaryEnergy = 0
	}

	return frame, true
}

// buildCommand wraps a command word and payload in the presence radar's
// command frame: FD FC FB FA [len LE] [cmd LE] [data…] 04 03 02 01.
func buildCommand(cmd uint16, data []byte) []byte {
	payloadLen := 2 + len(data)
	out := make([]byte, 0, 4+2+payloadLen+4)
	out = append(out, 0xFD, 0xFC, 0xFB, 0xFA)
	out = append(out, byte(payloadLen), byte(payloadLen>>8))
	out = append(out, byte(cmd), byte(cmd>>8))
	out = append(out, data...)
	out = append(out, 0x04, 0x03, 0x02, 0x01)
	return out
}

const (
	cmdEnableConfig       = 0x00FF
	cmdEnableEngineering  = 0x0062
	cmdDisableConfig      = 0x00FE
)

// EngineeringModeCommands returns the startup command sequence that
// switches the presence radar into engineering-mode output: enable-config,
// enable-engineering-output, disable-config. The caller is responsible for
// writing each frame and waiting the settle delay between them.
func EngineeringModeCommands() [][]byte {
	return [][]byte{
		buildCommand(cmdEnableConfig, nil),
		buildCommand(cmdEnableEngineering, nil),
		buildCommand(cmdDisableConfig, nil),
	}
}

// CommandSettleDelayMs is the pause observed after each engineering-mode
// startup command before sending the next.
const CommandSettleDelayMs = 50
