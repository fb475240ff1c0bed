package bezelagent

import "strings"

// categoryForName maps a display name to its dataset category using the
// name's first whitespace-delimited token. Anything that is not exactly
// iPad or iPod counts as iPhone, misspellings included; tightening this
// would silently reclassify existing data.
func categoryForName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return CategoryIPhone
	}
	switch fields[0] {
	case CategoryIPad:
		return CategoryIPad
	case CategoryIPod:
		return CategoryIPod
	}
	return CategoryIPhone
}

// Reconcile folds one batch's results and failures into a new dataset value;
// the input dataset is left untouched. Every identifier of a measured group
// lands under its category, pending is reset (each candidate either succeeded
// or was explicitly failed), failed identifiers move to problematic without
// overwriting entries already there, and anything now measured is dropped
// from problematic so the three identifier sets stay pairwise disjoint.
func Reconcile(ds DeviceDataset, results []GroupResult, failures []FailedGroup) DeviceDataset {
	out := ds.Clone()
	out.normalize()

	for _, res := range results {
		category := categoryForName(res.Group.DisplayName)
		records := out.Devices[category]
		if records == nil {
			records = make(map[string]DeviceRecord, len(res.Group.Identifiers))
			out.Devices[category] = records
		}
		for _, id := range res.Group.Identifiers {
			records[id] = DeviceRecord{Bezel: res.Bezel, Name: res.Group.DisplayName}
		}
	}

	out.Pending = make(map[string]PendingEntry)

	for _, failure := range failures {
		for _, id := range failure.Group.Identifiers {
			if _, ok := out.Problematic[id]; ok {
				continue
			}
			out.Problematic[id] = PendingEntry{Name: failure.Group.DisplayName}
		}
	}

	// A manual edit or a same-run success may have measured an identifier
	// that was still queued as problematic.
	for id := range out.Problematic {
		if out.HasDevice(id) {
			delete(out.Problematic, id)
		}
	}
	return out
}
