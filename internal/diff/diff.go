// Package diff classifies a freshly probed device against its most recent
// stored snapshot and describes what changed.
package diff

import (
	"strings"

	"github.com/HerbHall/relayscan/pkg/models"
)

// Fixed notes for the classifications that carry no field detail.
const (
	NewNote       = "New device detected"
	UnchangedNote = "No changes detected"
	OfflineNote   = "Device not found during scan"
	FallbackNote  = "Change detected"
)

// field is one compared attribute and the label used in change notes.
type field struct {
	label string
	get   func(models.Attributes) string
}

// compared lists the attributes that decide between changed and unchanged,
// in note order. RSSI, uptime, model and MAC drift without being reported.
var compared = []field{
	{"Firmware", func(a models.Attributes) string { return a.FirmwareVersion }},
	{"IP", func(a models.Attributes) string { return a.IP }},
	{"Wi-Fi", func(a models.Attributes) string { return a.WifiSSID }},
	{"Hostname", func(a models.Attributes) string { return a.Hostname }},
	{"App", func(a models.Attributes) string { return a.App }},
	{"Generation", func(a models.Attributes) string { return a.Generation }},
}

// Change is one differing attribute.
type Change struct {
	Label    string `json:"label"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

func (c Change) String() string {
	return c.Label + ": " + orDash(c.Previous) + " -> " + orDash(c.Current)
}

// Changes returns the compared attributes that differ between prev and cur.
func Changes(prev, cur models.Attributes) []Change {
	var out []Change
	for _, f := range compared {
		p, c := f.get(prev), f.get(cur)
		if p != c {
			out = append(out, Change{Label: f.label, Previous: p, Current: c})
		}
	}
	return out
}

// Classify compares cur against prev, the device's most recent snapshot or
// nil when the device has never been recorded.
func Classify(prev *models.Snapshot, cur models.Attributes) (models.DiffStatus, string) {
	if prev == nil {
		return models.DiffNew, NewNote
	}
	changes := Changes(prev.Attributes(), cur)
	if len(changes) == 0 {
		return models.DiffUnchanged, UnchangedNote
	}
	return models.DiffChanged, Note(changes)
}

// Note joins changes into a single line, or FallbackNote when empty.
func Note(changes []Change) string {
	if len(changes) == 0 {
		return FallbackNote
	}
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
