package configstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// DeviceRecord holds device-identity-adjacent settings (not the immutable
// identity itself, which per §4.6 lives outside this store in hardware
// fuses).
type DeviceRecord struct {
	Name         string `json:"name"`
	LocationHint string `json:"location_hint"`
}

// DefaultDeviceRecord is returned by GetDevice when no record is stored.
func DefaultDeviceRecord() DeviceRecord {
	return DeviceRecord{Name: "rs1-sensor"}
}

// NetworkRecord holds network credentials; encrypted at rest per §4.6.
type NetworkRecord struct {
	SSID       string `json:"ssid"`
	PSK        string `json:"psk"`
	StaticIPv4 string `json:"static_ipv4,omitempty"`
}

func DefaultNetworkRecord() NetworkRecord { return NetworkRecord{} }

// SecurityRecord holds key material used by out-of-core transport/API
// layers; encrypted at rest per §4.6.
type SecurityRecord struct {
	APITokenHash string `json:"api_token_hash"`
}

func DefaultSecurityRecord() SecurityRecord { return SecurityRecord{} }

// CalibrationRecord holds per-device radar mounting calibration.
type CalibrationRecord struct {
	MountHeightMM  int32   `json:"mount_height_mm"`
	MountYawMDeg   int32   `json:"mount_yaw_mdeg"`
	RangeOffsetMM  int32   `json:"range_offset_mm"`
}

func DefaultCalibrationRecord() CalibrationRecord {
	return CalibrationRecord{MountHeightMM: 2400}
}

func (s *Store) GetDevice() (DeviceRecord, error) {
	var rec DeviceRecord
	ok, err := s.getPlain(keyDevice, &rec)
	if err != nil {
		return DeviceRecord{}, err
	}
	if !ok {
		return DefaultDeviceRecord(), nil
	}
	return rec, nil
}

func (s *Store) SetDevice(rec DeviceRecord) error {
	return s.setPlain(keyDevice, rec)
}

func (s *Store) GetNetwork() (NetworkRecord, error) {
	var rec NetworkRecord
	ok, err := s.getEncrypted(keyNetwork, &rec)
	if err != nil {
		return NetworkRecord{}, err
	}
	if !ok {
		return DefaultNetworkRecord(), nil
	}
	return rec, nil
}

func (s *Store) SetNetwork(rec NetworkRecord) error {
	return s.setEncrypted(keyNetwork, rec)
}

func (s *Store) GetSecurity() (SecurityRecord, error) {
	var rec SecurityRecord
	ok, err := s.getEncrypted(keySecurity, &rec)
	if err != nil {
		return SecurityRecord{}, err
	}
	if !ok {
		return DefaultSecurityRecord(), nil
	}
	return rec, nil
}

func (s *Store) SetSecurity(rec SecurityRecord) error {
	return s.setEncrypted(keySecurity, rec)
}

func (s *Store) GetCalibration() (CalibrationRecord, error) {
	var rec CalibrationRecord
	ok, err := s.getPlain(keyCalib, &rec)
	if err != nil {
		return CalibrationRecord{}, err
	}
	if !ok {
		return DefaultCalibrationRecord(), nil
	}
	return rec, nil
}

func (s *Store) SetCalibration(rec CalibrationRecord) error {
	return s.setPlain(keyCalib, rec)
}

func (s *Store) getPlain(key string, out any) (bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("configstore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setPlain(key string, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("configstore: encode %s: %w", key, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("configstore: write %s: %w", key, err)
	}
	s.commits.Add(1)
	return nil
}

func (s *Store) getEncrypted(key string, out any) (bool, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(key))
		if v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if blob == nil {
		return false, nil
	}
	plain, err := openRecord(s.key, blob)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return false, fmt.Errorf("configstore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setEncrypted(key string, in any) error {
	plain, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("configstore: encode %s: %w", key, err)
	}
	blob, err := sealRecord(s.key, plain)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), blob)
	})
	if err != nil {
		return fmt.Errorf("configstore: write %s: %w", key, err)
	}
	s.commits.Add(1)
	return nil
}
