package recon

import (
	"strings"

	"github.com/HerbHall/relayscan/pkg/models"
)

// identityIndex resolves probe results to a customer's known devices. MAC
// wins over identifier; MAC keys are lower-cased. Devices discovered during
// the scan are appended so the offline pass sees the full set.
type identityIndex struct {
	byMAC map[string]*models.Device
	byID  map[string]*models.Device
	order []*models.Device
	seen  map[string]bool // device ID -> observed online this scan
}

func newIdentityIndex(devices []models.Device) *identityIndex {
	idx := &identityIndex{
		byMAC: make(map[string]*models.Device, len(devices)),
		byID:  make(map[string]*models.Device, len(devices)),
		seen:  make(map[string]bool),
	}
	for i := range devices {
		d := &devices[i]
		idx.order = append(idx.order, d)
		idx.put(d)
	}
	return idx
}

func macKey(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

func (x *identityIndex) put(d *models.Device) {
	if d.DeviceIdentifier != "" {
		x.byID[d.DeviceIdentifier] = d
	}
	if k := macKey(d.MAC); k != "" {
		x.byMAC[k] = d
	}
}

// resolve returns the known device for a probe result, or nil.
func (x *identityIndex) resolve(mac, identifier string) *models.Device {
	if k := macKey(mac); k != "" {
		if d, ok := x.byMAC[k]; ok {
			return d
		}
	}
	return x.byID[identifier]
}

// record stores the persisted state of a device observed online. prev is the
// entry resolve returned, or nil for a new device. Keys the device no longer
// carries are dropped so later results cannot resolve to stale identity.
func (x *identityIndex) record(prev *models.Device, cur *models.Device) {
	if prev == nil || prev.ID != cur.ID {
		// The store may match a different row than the index did.
		prev = x.find(cur.ID)
	}
	if prev == nil {
		x.order = append(x.order, cur)
	} else {
		if prev.DeviceIdentifier != cur.DeviceIdentifier && x.byID[prev.DeviceIdentifier] == prev {
			delete(x.byID, prev.DeviceIdentifier)
		}
		if macKey(cur.MAC) == "" {
			cur.MAC = prev.MAC
		}
		if k := macKey(prev.MAC); k != "" && k != macKey(cur.MAC) && x.byMAC[k] == prev {
			delete(x.byMAC, k)
		}
		*prev = *cur
		cur = prev
	}
	x.put(cur)
	x.seen[cur.ID] = true
}

func (x *identityIndex) find(id string) *models.Device {
	for _, d := range x.order {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// unseen returns known devices not observed online, in load order.
func (x *identityIndex) unseen() []*models.Device {
	var out []*models.Device
	for _, d := range x.order {
		if !x.seen[d.ID] {
			out = append(out, d)
		}
	}
	return out
}
