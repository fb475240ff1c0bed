package bezelagent

import "sort"

// WorkGroup is one unit of lifecycle work. Distinct identifiers that share a
// display name (connectivity variants of one model) ride on a single
// provisioned target, so they are measured together and succeed or fail
// together.
type WorkGroup struct {
	Identifiers []string
	DisplayName string
}

// ResolvePending computes the work groups for one run: the union of pending
// and problematic, minus anything already classified under devices. A
// pending entry wins over a stale problematic entry for the same identifier.
// Group order follows display name and identifiers within a group follow
// dataset order, so resolving twice over the same dataset yields the same
// groups.
func ResolvePending(ds DeviceDataset) []WorkGroup {
	candidates := make(map[string]string, len(ds.Pending)+len(ds.Problematic))
	for id, entry := range ds.Problematic {
		candidates[id] = entry.Name
	}
	for id, entry := range ds.Pending {
		candidates[id] = entry.Name
	}

	byName := make(map[string][]string)
	for id, name := range candidates {
		if ds.HasDevice(id) {
			// Already measured, possibly by a manual edit. Dropping it here
			// lets the dataset self-heal without explicit queue cleanup.
			continue
		}
		byName[name] = append(byName[name], id)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]WorkGroup, 0, len(names))
	for _, name := range names {
		ids := byName[name]
		SortIdentifiers(ids)
		groups = append(groups, WorkGroup{Identifiers: ids, DisplayName: name})
	}
	return groups
}
