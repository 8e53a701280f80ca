package core

import (
	"fmt"
	"time"

	"stereo-service/internal/types"
)

const (
	maxDeviceProfiles = 5
	profileBlobSize   = 9 // 6 bytes MAC + 3 volume bytes
)

// DeviceProfile remembers per-device volume settings so reconnecting a phone
// restores the levels it was last used with. LastSeen orders eviction and is
// not persisted.
type DeviceProfile struct {
	MAC              [6]byte
	A2DPVolume       uint8
	HFPSpeakerVolume uint8
	HFPMicVolume     uint8
	LastSeen         time.Time
}

// ProfileTable is the in-memory paired-device table, bounded at
// maxDeviceProfiles entries. Not goroutine safe; the consumer goroutine is
// its only user.
type ProfileTable struct {
	profiles []DeviceProfile
}

func NewProfileTable() *ProfileTable {
	return &ProfileTable{}
}

// Lookup returns the profile for mac, or nil.
func (t *ProfileTable) Lookup(mac [6]byte) *DeviceProfile {
	for i := range t.profiles {
		if t.profiles[i].MAC == mac {
			return &t.profiles[i]
		}
	}
	return nil
}

// Remember updates the profile for mac, inserting it if unknown. A full
// table evicts the profile with the oldest LastSeen, never blindly slot 0.
func (t *ProfileTable) Remember(mac [6]byte, a2dp, hfpSpeaker, hfpMic uint8, now time.Time) {
	if p := t.Lookup(mac); p != nil {
		p.A2DPVolume = a2dp
		p.HFPSpeakerVolume = hfpSpeaker
		p.HFPMicVolume = hfpMic
		p.LastSeen = now
		return
	}

	entry := DeviceProfile{
		MAC:              mac,
		A2DPVolume:       a2dp,
		HFPSpeakerVolume: hfpSpeaker,
		HFPMicVolume:     hfpMic,
		LastSeen:         now,
	}

	if len(t.profiles) < maxDeviceProfiles {
		t.profiles = append(t.profiles, entry)
		return
	}

	oldest := 0
	for i := 1; i < len(t.profiles); i++ {
		if t.profiles[i].LastSeen.Before(t.profiles[oldest].LastSeen) {
			oldest = i
		}
	}
	t.profiles[oldest] = entry
}

// Touch refreshes the eviction timestamp for mac if it is known.
func (t *ProfileTable) Touch(mac [6]byte, now time.Time) {
	if p := t.Lookup(mac); p != nil {
		p.LastSeen = now
	}
}

func (t *ProfileTable) Len() int {
	return len(t.profiles)
}

// Encode serializes the table to fixed-size blobs for persistence.
func (t *ProfileTable) Encode() [][]byte {
	blobs := make([][]byte, 0, len(t.profiles))
	for _, p := range t.profiles {
		blob := make([]byte, profileBlobSize)
		copy(blob[0:6], p.MAC[:])
		blob[6] = p.A2DPVolume
		blob[7] = p.HFPSpeakerVolume
		blob[8] = p.HFPMicVolume
		blobs = append(blobs, blob)
	}
	return blobs
}

// DecodeProfiles rebuilds a table from persisted blobs. Malformed blobs are
// skipped; LastSeen starts equal for all entries and only diverges as
// devices reconnect.
func DecodeProfiles(blobs [][]byte, now time.Time) *ProfileTable {
	t := NewProfileTable()
	for _, blob := range blobs {
		if len(blob) != profileBlobSize || len(t.profiles) >= maxDeviceProfiles {
			continue
		}
		var p DeviceProfile
		copy(p.MAC[:], blob[0:6])
		p.A2DPVolume = clampVolume(blob[6])
		p.HFPSpeakerVolume = clampVolume(blob[7])
		p.HFPMicVolume = clampVolume(blob[8])
		p.LastSeen = now
		t.profiles = append(t.profiles, p)
	}
	return t
}

func clampVolume(v uint8) uint8 {
	if v > types.MaxVolume {
		return types.MaxVolume
	}
	return v
}

// ParseMAC parses the colon-separated address used on the wire.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5])
	if err != nil || n != 6 {
		return mac, fmt.Errorf("malformed device address: %q", s)
	}
	return mac, nil
}

func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
