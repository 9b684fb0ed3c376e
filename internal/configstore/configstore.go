// Package configstore persists the Zone Engine's zone set and a handful of
// typed device records to flash, grounded on the teacher's bbolt-backed
// pkg/storage (its OpenDB/bucket-per-concern shape), generalized from a
// single DTC bucket into the shadow-key write protocol §4.6 requires and
// the encrypted records §4.6 calls for on the network/security keys.
package configstore

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/rlog"
	bolt "go.etcd.io/bbolt"
)

var storeLog = rlog.New("configstore")

var (
	// ErrInvalid is returned by SetZones when the candidate fails
	// validation; the active snapshot is left unchanged.
	ErrInvalid = errors.New("configstore: invalid zone store")
	// ErrChecksum is returned when a decoded record fails its CRC16.
	ErrChecksum = errors.New("configstore: checksum mismatch")
	// ErrFlash is returned when the underlying bbolt write fails; the
	// previous snapshot remains active since the shadow-key protocol never
	// exposes a partial write.
	ErrFlash = errors.New("configstore: flash write failed")
	// ErrNotInitialized completes the typed error set; no Store method
	// returns it, since a Store only exists once Open succeeds.
	ErrNotInitialized = errors.New("configstore: store not initialized")
)

const (
	bucketName = "config"

	keyZones     = "zones"
	keyZonesPrev = "zones_prev"
	keyZonesNew  = "zones_new"
	keyDevice    = "device"
	keyNetwork   = "network"
	keySecurity  = "security"
	keyCalib     = "calibration"
)

var zoneIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,16}$`)

// Store is the atomic, versioned persistence layer over a bbolt file.
// ZoneStore reads go through an in-memory active snapshot guarded by a
// mutex held only for the swap, per §5's single-writer/many-readers model;
// all other records are read directly from bbolt since they are only
// touched from the housekeeping context.
type Store struct {
	db  *bolt.DB
	key [32]byte

	mu       sync.RWMutex
	active   *common.ZoneStore // nil until first successful load/set
	commits  atomic.Uint64
}

// Open opens (or creates) the bbolt file at path, ensures the config
// bucket exists, derives the device-bound encryption key from mac, and
// loads the active ZoneStore snapshot, performing the crash-recovery
// procedure of §4.6 if needed.
func Open(path string, mac []byte) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("configstore: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("configstore: create bucket: %w", err)
	}

	s := &Store{db: db, key: deriveKey(mac)}
	if err := s.recoverAndLoad(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// recoverAndLoad implements §4.6's crash-recovery procedure: any leftover
// zones_new is discarded (the write never reached the point of being
// authoritative); if zones itself is corrupt, zones_prev is restored if it
// validates; otherwise the store starts empty.
func (s *Store) recoverAndLoad() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(keyZonesNew)) != nil {
			if err := b.Delete([]byte(keyZonesNew)); err != nil {
				return err
			}
		}

		decodeValid := func(raw []byte) (common.ZoneStore, bool) {
			zs, err := DecodeZoneStore(raw)
			if err != nil {
				return zs, false
			}
			_, verr := validateZoneStore(zs)
			return zs, verr == nil
		}

		if raw := b.Get([]byte(keyZones)); raw != nil {
			if zs, ok := decodeValid(raw); ok {
				s.mu.Lock()
				s.active = &zs
				s.mu.Unlock()
				return nil
			}
		}

		if raw := b.Get([]byte(keyZonesPrev)); raw != nil {
			if zs, ok := decodeValid(raw); ok {
				storeLog.Printf("zones record failed validation at boot, rolled back to zones_prev (version=%d)", zs.Version)
				s.mu.Lock()
				s.active = &zs
				s.mu.Unlock()
				return b.Put([]byte(keyZones), raw)
			}
		}

		// Neither record is usable: device boots with no zones.
		storeLog.Printf("no valid zones record at boot; starting with an empty zone set")
		return nil
	})
}

// GetZones returns the active ZoneStore snapshot, or ok=false if none has
// ever been committed.
func (s *Store) GetZones() (zs common.ZoneStore, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return common.ZoneStore{}, false
	}
	return *s.active, true
}

// GetZone returns one zone from the active snapshot by id.
func (s *Store) GetZone(id string) (common.Zone, bool) {
	zs, ok := s.GetZones()
	if !ok {
		return common.Zone{}, false
	}
	for _, z := range zs.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return common.Zone{}, false
}

// validateZoneStore applies §4.6's validation checks. It returns nil plus
// any non-fatal warnings (currently: vertices outside the nominal radar
// range), or a wrapped ErrInvalid describing the first failing check.
func validateZoneStore(zs common.ZoneStore) (warnings []string, err error) {
	if len(zs.Zones) > common.MaxZones {
		return nil, fmt.Errorf("%w: %d zones exceeds MaxZones %d", ErrInvalid, len(zs.Zones), common.MaxZones)
	}
	seen := make(map[string]bool, len(zs.Zones))
	for _, z := range zs.Zones {
		if len(z.Vertices) < common.MinZoneVertices || len(z.Vertices) > common.MaxZoneVertices {
			return nil, fmt.Errorf("%w: zone %q has %d vertices, want %d..%d", ErrInvalid, z.ID, len(z.Vertices), common.MinZoneVertices, common.MaxZoneVertices)
		}
		if z.Sensitivity > 100 {
			return nil, fmt.Errorf("%w: zone %q sensitivity %d out of range", ErrInvalid, z.ID, z.Sensitivity)
		}
		if !zoneIDPattern.MatchString(z.ID) {
			return nil, fmt.Errorf("%w: zone id %q does not match required pattern", ErrInvalid, z.ID)
		}
		if z.Name == "" {
			return nil, fmt.Errorf("%w: zone %q has empty name", ErrInvalid, z.ID)
		}
		if seen[z.ID] {
			return nil, fmt.Errorf("%w: duplicate zone id %q", ErrInvalid, z.ID)
		}
		seen[z.ID] = true
		if !isSimplePolygon(z.Vertices) {
			return nil, fmt.Errorf("%w: zone %q polygon is self-intersecting", ErrInvalid, z.ID)
		}
		for _, v := range z.Vertices {
			const nominalRangeMM = 6000
			if v.XMM < -nominalRangeMM || v.XMM > nominalRangeMM || v.YMM < 0 || v.YMM > nominalRangeMM {
				warnings = append(warnings, fmt.Sprintf("zone %q vertex (%d,%d) outside nominal radar range", z.ID, v.XMM, v.YMM))
			}
		}
	}
	return warnings, nil
}

// isSimplePolygon reports whether no two non-adjacent edges of the polygon
// intersect.
func isSimplePolygon(verts []common.Vertex) bool {
	n := len(verts)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := verts[i], verts[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if j == i || (j+1)%n == i {
				continue
			}
			b1, b2 := verts[j], verts[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

func orientation(a, b, c common.Vertex) int {
	val := int64(b.YMM-a.YMM)*int64(c.XMM-b.XMM) - int64(b.XMM-a.XMM)*int64(c.YMM-b.YMM)
	switch {
	case val > 0:
		return 1
	case val < 0:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p common.Vertex) bool {
	return p.XMM <= max32(a.XMM, b.XMM) && p.XMM >= min32(a.XMM, b.XMM) &&
		p.YMM <= max32(a.YMM, b.YMM) && p.YMM >= min32(a.YMM, b.YMM)
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func segmentsIntersect(p1, q1, p2, q2 common.Vertex) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(p1, q1, p2) {
		return true
	}
	if o2 == 0 && onSegment(p1, q1, q2) {
		return true
	}
	if o3 == 0 && onSegment(p2, q2, p1) {
		return true
	}
	if o4 == 0 && onSegment(p2, q2, q1) {
		return true
	}
	return false
}

// SetZones validates the candidate and, if it passes, runs the atomic
// shadow-key write protocol of §4.6: write zones_new, shift zones →
// zones_prev, overwrite zones, erase zones_new, then swap the in-memory
// active snapshot under the lock. On any failure the active snapshot is
// left unchanged and a typed error is returned.
func (s *Store) SetZones(zs common.ZoneStore) (warnings []string, err error) {
	warnings, verr := validateZoneStore(zs)
	if verr != nil {
		return warnings, verr
	}

	prior, hadPrior := s.GetZones()
	zs.Version = 0
	if hadPrior {
		zs.Version = prior.Version
	}
	zs.Version++
	zs.UpdatedAt = uint32(time.Now().Unix())

	encoded, eerr := EncodeZoneStore(zs)
	if eerr != nil {
		return warnings, fmt.Errorf("%w: %v", ErrInvalid, eerr)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if err := b.Put([]byte(keyZonesNew), encoded); err != nil {
			return err
		}
		if existing := b.Get([]byte(keyZones)); existing != nil {
			prevCopy := append([]byte(nil), existing...)
			if err := b.Put([]byte(keyZonesPrev), prevCopy); err != nil {
				return err
			}
		}
		if err := b.Put([]byte(keyZones), encoded); err != nil {
			return err
		}
		return b.Delete([]byte(keyZonesNew))
	})
	if err != nil {
		return warnings, fmt.Errorf("%w: %v", ErrFlash, err)
	}

	s.mu.Lock()
	s.active = &zs
	s.mu.Unlock()
	s.commits.Add(1)
	return warnings, nil
}

// RollbackZones restores zones_prev as the active snapshot, if present and
// valid.
func (s *Store) RollbackZones() error {
	var decoded common.ZoneStore
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		raw := b.Get([]byte(keyZonesPrev))
		if raw == nil {
			return fmt.Errorf("configstore: no rollback snapshot available")
		}
		zs, derr := DecodeZoneStore(raw)
		if derr != nil {
			return derr
		}
		decoded = zs
		return b.Put([]byte(keyZones), raw)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.active = &decoded
	s.mu.Unlock()
	s.commits.Add(1)
	return nil
}

// HasZoneRollback reports whether a zones_prev snapshot is present.
func (s *Store) HasZoneRollback() bool {
	has := false
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		has = b.Get([]byte(keyZonesPrev)) != nil
		return nil
	})
	return has
}

// FactoryReset erases every configstore key, preserving only whatever
// device identity the collaborator holds outside this store (e.g. in
// hardware fuses), per §4.6.
func (s *Store) FactoryReset() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		for _, k := range []string{keyZones, keyZonesPrev, keyZonesNew, keyDevice, keyNetwork, keySecurity, keyCalib} {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("configstore: factory reset: %w", err)
	}
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	s.commits.Add(1)
	return nil
}

// CommitCount returns the lifetime count of flash-mutating operations,
// exposed to the scheduler as commit telemetry per §4.6's durability
// policy.
func (s *Store) CommitCount() uint64 {
	return s.commits.Load()
}
