package ingest

import (
	"io"
	"testing"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/stretchr/testify/require"
)

// fakePort feeds a fixed byte slice to Driver.ReadOnce, a handful of bytes
// per call, the way a real serial read returns whatever is currently
// buffered rather than the whole stream at once.
type fakePort struct {
	data   []byte
	offset int
	chunk  int
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.offset >= len(f.data) {
		return 0, nil
	}
	n := f.chunk
	if n == 0 || n > len(p) {
		n = len(p)
	}
	if f.offset+n > len(f.data) {
		n = len(f.data) - f.offset
	}
	copy(p, f.data[f.offset:f.offset+n])
	f.offset += n
	return n, nil
}

var _ io.Reader = (*fakePort)(nil)

func TestDriver_ConnectsOnFirstFrame(t *testing.T) {
	empty := [8]byte{}
	frame := buildLD2450Frame(target(1000, 2000, 10, 100), empty, empty, nil)
	port := &fakePort{data: frame, chunk: 7}

	var transitions []common.ConnectionState
	var frames []common.DetectionFrame
	d := NewTrackingDriver(port, DefaultFilterConfig(), func(k common.RadarKind, s common.ConnectionState) {
		transitions = append(transitions, s)
	}, func(f common.DetectionFrame) {
		frames = append(frames, f)
	})

	require.Equal(t, common.Disconnected, d.State())
	for d.State() != common.Connected {
		if err := d.ReadOnce(100); err != nil {
			break
		}
	}
	require.Equal(t, common.Connected, d.State())
	require.Equal(t, []common.ConnectionState{common.Connected}, transitions)
	require.Len(t, frames, 1)
	require.Equal(t, 1, frames[0].TargetCount)
}

func TestDriver_DisconnectsAfterTimeout(t *testing.T) {
	empty := [8]byte{}
	frame := buildLD2450Frame(target(1000, 2000, 10, 100), empty, empty, nil)
	port := &fakePort{data: frame}

	var transitions []common.ConnectionState
	d := NewTrackingDriver(port, DefaultFilterConfig(), func(k common.RadarKind, s common.ConnectionState) {
		transitions = append(transitions, s)
	}, func(common.DetectionFrame) {})
	d.SetDisconnectTimeoutMs(1000)

	require.NoError(t, d.ReadOnce(0))
	require.Equal(t, common.Connected, d.State())

	d.CheckLiveness(500)
	require.Equal(t, common.Connected, d.State())

	d.CheckLiveness(1001)
	require.Equal(t, common.Disconnected, d.State())
	require.Equal(t, []common.ConnectionState{common.Connected, common.Disconnected}, transitions)
}

func TestDriver_GatedFramesAreCountedNotDelivered(t *testing.T) {
	empty := [8]byte{}
	frame := buildLD2450Frame(target(1000, 2000, 10, 100), empty, empty, nil)
	port := &fakePort{data: frame}

	var delivered int
	d := NewTrackingDriver(port, DefaultFilterConfig(), nil, func(common.DetectionFrame) {
		delivered++
	})
	d.SetGated(true)

	require.NoError(t, d.ReadOnce(0))
	require.Equal(t, 0, delivered)
	require.EqualValues(t, 1, d.Stats().GatedDropped)
	require.Equal(t, common.Disconnected, d.State(), "a gated frame must not flip connection state")
}
