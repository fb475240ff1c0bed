package bezelagent

import "strings"

const (
	// EnvOnlyDevices optionally restricts an update run to a subset of display
	// names. The value is a comma/semicolon/pipe-separated list; spaces stay
	// part of the name, for example:
	//   BEZEL_ONLY_DEVICES="iPhone 16 Pro,iPad Air 11-inch (M2)"
	EnvOnlyDevices = "BEZEL_ONLY_DEVICES"
)

// ParseNameList splits a separator-delimited display name list, trimming
// blanks and dropping duplicates while preserving first-seen order.
func ParseNameList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '|':
			return true
		default:
			return false
		}
	})
	return normalizeNameList(parts)
}

func normalizeNameList(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// FilterGroups keeps the groups whose display name appears in names. An empty
// filter keeps every group.
func FilterGroups(groups []WorkGroup, names []string) []WorkGroup {
	names = normalizeNameList(names)
	if len(names) == 0 {
		return groups
	}
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		allowed[name] = struct{}{}
	}
	kept := make([]WorkGroup, 0, len(groups))
	for _, group := range groups {
		if _, ok := allowed[group.DisplayName]; ok {
			kept = append(kept, group)
		}
	}
	return kept
}
