package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildLD2450Frame(t1, t2, t3 [8]byte, checksumOverride *uint16) []byte {
	buf := make([]byte, 0, ld2450FrameLen)
	buf = append(buf, ld2450Header[:]...)
	buf = append(buf, t1[:]...)
	buf = append(buf, t2[:]...)
	buf = append(buf, t3[:]...)

	var sum uint32
	for _, b := range buf[4:] {
		sum += uint32(b)
	}
	checksum := uint16(sum)
	if checksumOverride != nil {
		checksum = *checksumOverride
	}
	buf = append(buf, byte(checksum), byte(checksum>>8))
	buf = append(buf, ld2450Footer[:]...)
	return buf
}

func le16(v int16) [2]byte { return [2]byte{byte(v), byte(uint16(v) >> 8)} }
func leu16(v uint16) [2]byte { return [2]byte{byte(v), byte(v >> 8)} }

func target(x, y, speed int16, res uint16) [8]byte {
	var out [8]byte
	xb := le16(x)
	yb := le16(y)
	sb := le16(speed)
	rb := leu16(res)
	copy(out[0:2], xb[:])
	copy(out[2:4], yb[:])
	copy(out[4:6], sb[:])
	copy(out[6:8], rb[:])
	return out
}

func TestLD2450_CleanFrame(t *testing.T) {
	p := NewLD2450Parser(DefaultFilterConfig())
	empty := [8]byte{}
	frame := buildLD2450Frame(target(1000, 2000, 10, 100), empty, empty, nil)

	var got = -1
	for i, b := range frame {
		f, ok := p.FeedByte(b, 1234)
		if ok {
			got = i
			require.Equal(t, 1, f.TargetCount)
			require.Equal(t, int16(1000), f.Targets[0].XMM)
			require.Equal(t, int16(2000), f.Targets[0].YMM)
			require.EqualValues(t, 100, f.Targets[0].SignalQuality)
			require.True(t, f.Targets[0].Valid)
		}
	}
	require.Equal(t, len(frame)-1, got, "frame should complete on its last byte")
	require.EqualValues(t, 1, p.Stats().FramesParsed)
	require.EqualValues(t, 0, p.Stats().FramesInvalid)
}

func TestLD2450_LegacyZeroChecksum(t *testing.T) {
	p := NewLD2450Parser(DefaultFilterConfig())
	empty := [8]byte{}
	zero := uint16(0)
	frame := buildLD2450Frame(target(1000, 2000, 10, 100), empty, empty, &zero)

	var ok bool
	var f struct{ TargetCount int }
	for _, b := range frame {
		decoded, done := p.FeedByte(b, 0)
		if done {
			ok = true
			f.TargetCount = decoded.TargetCount
		}
	}
	require.True(t, ok)
	require.Equal(t, 1, f.TargetCount)
	require.EqualValues(t, 1, p.Stats().FramesParsed)
	require.EqualValues(t, 0, p.Stats().FramesInvalid, "legacy zero checksum must not count as invalid")
}

func TestLD2450_GateRejection(t *testing.T) {
	filter := DefaultFilterConfig()
	filter.MaxRangeMM = 6000
	p := NewLD2450Parser(filter)
	empty := [8]byte{}
	frame := buildLD2450Frame(target(100, 7000, 0, 100), empty, empty, nil)

	var f struct {
		TargetCount int
		seen        bool
	}
	for _, b := range frame {
		decoded, done := p.FeedByte(b, 0)
		if done {
			f.TargetCount = decoded.TargetCount
			f.seen = true
		}
	}
	require.True(t, f.seen)
	require.Equal(t, 0, f.TargetCount)
	require.EqualValues(t, 1, p.Stats().FramesParsed, "filter rejection must not mark the frame invalid")
}

func TestLD2450_ResyncAfterNoise(t *testing.T) {
	p := NewLD2450Parser(DefaultFilterConfig())
	empty := [8]byte{}
	frame := buildLD2450Frame(target(1500, 2000, 5, 50), empty, empty, nil)

	noisy := append([]byte{0x11, 0x22, 0xAA, 0xFF, 0x33}, frame...)
	noisy = append(noisy, 0x00, 0x01, 0x02)

	found := 0
	for _, b := range noisy {
		_, ok := p.FeedByte(b, 0)
		if ok {
			found++
		}
	}
	require.Equal(t, 1, found)
	require.EqualValues(t, 1, p.Stats().FramesParsed)
}

func TestLD2450_InvalidChecksumIncrementsInvalid(t *testing.T) {
	p := NewLD2450Parser(DefaultFilterConfig())
	empty := [8]byte{}
	bad := uint16(0xDEAD)
	frame := buildLD2450Frame(target(1000, 2000, 10, 100), empty, empty, &bad)

	for _, b := range frame {
		p.FeedByte(b, 0)
	}
	require.EqualValues(t, 0, p.Stats().FramesParsed)
	require.EqualValues(t, 1, p.Stats().FramesInvalid)
}

func TestSignalQualityFromResolution(t *testing.T) {
	require.EqualValues(t, 100, signalQualityFromResolution(0))
	require.EqualValues(t, 100, signalQualityFromResolution(100))
	require.EqualValues(t, 0, signalQualityFromResolution(1000))
	require.EqualValues(t, 0, signalQualityFromResolution(5000))
	mid := signalQualityFromResolution(550)
	require.InDelta(t, 50, int(mid), 2)
}
