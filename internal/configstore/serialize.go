package configstore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/r-mccarty/rs1-firmware/common"
)

// Fixed on-flash field widths for the ZoneStore record, per §4.6/§6: a flat
// little-endian byte image of fixed-size structs so a crash mid-write
// leaves a record that either fails its checksum outright or decodes
// cleanly — never a partially-applied in-place mutation.
const (
	zoneIDWidth   = 16
	zoneNameWidth = 32

	// zoneRecordWidth = id + name + kind + vertexCount + sensitivity + pad
	// + MaxZoneVertices * (int32 x + int32 y)
	zoneRecordWidth = zoneIDWidth + zoneNameWidth + 1 + 1 + 1 + 1 + common.MaxZoneVertices*8

	// zoneStoreWidth = version + updated_at + zone_count + pad(3) +
	// MaxZones*zoneRecordWidth + checksum
	zoneStoreWidth = 4 + 4 + 1 + 3 + common.MaxZones*zoneRecordWidth + 2
)

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	n := bytes.IndexByte(src, 0)
	if n < 0 {
		n = len(src)
	}
	return string(src[:n])
}

func encodeZone(dst []byte, z common.Zone) {
	putFixedString(dst[0:zoneIDWidth], z.ID)
	putFixedString(dst[zoneIDWidth:zoneIDWidth+zoneNameWidth], z.Name)
	off := zoneIDWidth + zoneNameWidth
	dst[off] = byte(z.Kind)
	dst[off+1] = byte(len(z.Vertices))
	dst[off+2] = z.Sensitivity
	dst[off+3] = 0 // padding
	off += 4
	for i := 0; i < common.MaxZoneVertices; i++ {
		var v common.Vertex
		if i < len(z.Vertices) {
			v = z.Vertices[i]
		}
		binary.LittleEndian.PutUint32(dst[off:], uint32(v.XMM))
		binary.LittleEndian.PutUint32(dst[off+4:], uint32(v.YMM))
		off += 8
	}
}

func decodeZone(src []byte) common.Zone {
	id := getFixedString(src[0:zoneIDWidth])
	name := getFixedString(src[zoneIDWidth : zoneIDWidth+zoneNameWidth])
	off := zoneIDWidth + zoneNameWidth
	kind := common.ZoneKind(src[off])
	vertexCount := int(src[off+1])
	sensitivity := src[off+2]
	off += 4

	verts := make([]common.Vertex, 0, vertexCount)
	for i := 0; i < common.MaxZoneVertices; i++ {
		x := int32(binary.LittleEndian.Uint32(src[off:]))
		y := int32(binary.LittleEndian.Uint32(src[off+4:]))
		if i < vertexCount {
			verts = append(verts, common.Vertex{XMM: x, YMM: y})
		}
		off += 8
	}
	return common.Zone{ID: id, Name: name, Kind: kind, Vertices: verts, Sensitivity: sensitivity}
}

// EncodeZoneStore produces the flat byte image described in §6, computing
// and filling in the trailing CRC16-CCITT over everything preceding it.
func EncodeZoneStore(zs common.ZoneStore) ([]byte, error) {
	if len(zs.Zones) > common.MaxZones {
		return nil, fmt.Errorf("configstore: zone count %d exceeds MaxZones %d", len(zs.Zones), common.MaxZones)
	}
	buf := make([]byte, zoneStoreWidth)
	binary.LittleEndian.PutUint32(buf[0:], zs.Version)
	binary.LittleEndian.PutUint32(buf[4:], zs.UpdatedAt)
	buf[8] = byte(len(zs.Zones))
	// buf[9:12] padding, already zero.
	off := 12
	for i := 0; i < common.MaxZones; i++ {
		rec := buf[off : off+zoneRecordWidth]
		if i < len(zs.Zones) {
			encodeZone(rec, zs.Zones[i])
		}
		off += zoneRecordWidth
	}
	crc := common.CRC16CCITT(buf[:off])
	binary.LittleEndian.PutUint16(buf[off:], crc)
	return buf, nil
}

// DecodeZoneStore parses a flat byte image produced by EncodeZoneStore and
// verifies its trailing checksum.
func DecodeZoneStore(buf []byte) (common.ZoneStore, error) {
	if len(buf) != zoneStoreWidth {
		return common.ZoneStore{}, fmt.Errorf("configstore: zone store record has wrong length %d, want %d", len(buf), zoneStoreWidth)
	}
	version := binary.LittleEndian.Uint32(buf[0:])
	updatedAt := binary.LittleEndian.Uint32(buf[4:])
	zoneCount := int(buf[8])
	off := 12
	zones := make([]common.Zone, 0, zoneCount)
	for i := 0; i < common.MaxZones; i++ {
		rec := buf[off : off+zoneRecordWidth]
		if i < zoneCount {
			zones = append(zones, decodeZone(rec))
		}
		off += zoneRecordWidth
	}
	wantCRC := binary.LittleEndian.Uint16(buf[off:])
	gotCRC := common.CRC16CCITT(buf[:off])
	if gotCRC != wantCRC {
		return common.ZoneStore{}, ErrChecksum
	}
	return common.ZoneStore{Version: version, UpdatedAt: updatedAt, Zones: zones, Checksum: wantCRC}, nil
}
