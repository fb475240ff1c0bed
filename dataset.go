package bezelagent

import "strings"

// Device categories used as top-level keys under "devices".
const (
	CategoryIPad   = "iPad"
	CategoryIPhone = "iPhone"
	CategoryIPod   = "iPod"
)

// Metadata carries static attribution fields. The pipeline never mutates it.
type Metadata struct {
	Author  string `json:"author"`
	Project string `json:"project"`
	Website string `json:"website"`
}

// DeviceRecord is one measured device: bezel radius in points plus the
// human-readable simulator profile name it was measured on.
type DeviceRecord struct {
	Bezel float64 `json:"bezel"`
	Name  string  `json:"name"`
}

// PendingEntry queues an identifier for measurement under its profile name.
// The same shape is used for problematic entries.
type PendingEntry struct {
	Name string `json:"name"`
}

// DeviceDataset is the full persistent record set. Devices maps category
// (iPad/iPhone/iPod) to device identifier (e.g. "iPhone17,1") to its record.
// Pending holds identifiers queued for measurement; Problematic holds
// identifiers whose previous runs failed and are retried on every run.
//
// After any successful pipeline run the three identifier sets are pairwise
// disjoint, with Devices authoritative: an identifier present there must be
// absent from both Pending and Problematic.
type DeviceDataset struct {
	Metadata    Metadata                           `json:"_metadata"`
	Devices     map[string]map[string]DeviceRecord `json:"devices"`
	Pending     map[string]PendingEntry            `json:"pending"`
	Problematic map[string]PendingEntry            `json:"problematic"`
}

// Clone returns a deep copy. Pipeline stages treat datasets as immutable
// values: the reconciler builds a new dataset instead of rewriting maps that
// other stages may still hold.
func (ds DeviceDataset) Clone() DeviceDataset {
	out := DeviceDataset{Metadata: ds.Metadata}
	if ds.Devices != nil {
		out.Devices = make(map[string]map[string]DeviceRecord, len(ds.Devices))
		for category, records := range ds.Devices {
			clone := make(map[string]DeviceRecord, len(records))
			for id, rec := range records {
				clone[id] = rec
			}
			out.Devices[category] = clone
		}
	}
	out.Pending = clonePendingMap(ds.Pending)
	out.Problematic = clonePendingMap(ds.Problematic)
	return out
}

func clonePendingMap(in map[string]PendingEntry) map[string]PendingEntry {
	if in == nil {
		return nil
	}
	out := make(map[string]PendingEntry, len(in))
	for id, entry := range in {
		out[id] = entry
	}
	return out
}

// HasDevice reports whether the identifier is already recorded under any
// category.
func (ds DeviceDataset) HasDevice(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false
	}
	for _, records := range ds.Devices {
		if _, ok := records[identifier]; ok {
			return true
		}
	}
	return false
}

// DeviceIdentifiers returns the set of identifiers recorded under Devices.
func (ds DeviceDataset) DeviceIdentifiers() map[string]struct{} {
	out := make(map[string]struct{})
	for _, records := range ds.Devices {
		for id := range records {
			out[id] = struct{}{}
		}
	}
	return out
}

// CountDevices returns the total number of recorded identifiers.
func (ds DeviceDataset) CountDevices() int {
	total := 0
	for _, records := range ds.Devices {
		total += len(records)
	}
	return total
}
