package bezelagent

import (
	"math"
	"regexp"
	"sort"
	"strconv"
)

// identifierNumber matches the first digit run in a device identifier,
// optionally followed by a comma and a second run ("iPhone14,1" -> 14,1).
var identifierNumber = regexp.MustCompile(`(\d+)(?:,(\d+))?`)

// identifierSortKey maps a device identifier to its numeric ordering key:
// the embedded comma becomes a decimal point, so "iPhone14,1" sorts as 14.1.
// Identifiers without digits sort after everything else.
func identifierSortKey(identifier string) float64 {
	m := identifierNumber.FindStringSubmatch(identifier)
	if m == nil {
		return math.Inf(1)
	}
	num := m[1]
	if m[2] != "" {
		num += "." + m[2]
	}
	val, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return math.Inf(1)
	}
	return val
}

// SortIdentifiers orders identifiers by their numeric key, breaking ties
// with plain lexicographic order. This is the ordering rule for every
// identifier-keyed object in the serialized dataset and for identifier
// listings shown to users.
func SortIdentifiers(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := identifierSortKey(ids[i]), identifierSortKey(ids[j])
		if a != b {
			return a < b
		}
		// Equal keys (including two +Inf digitless identifiers) fall back to
		// plain string order.
		return ids[i] < ids[j]
	})
}

// sortedIdentifierKeys returns map keys in dataset order.
func sortedIdentifierKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortIdentifiers(keys)
	return keys
}

// sortedCategoryKeys returns category names lexicographically, which yields
// the conventional iPad, iPhone, iPod order.
func sortedCategoryKeys(m map[string]map[string]DeviceRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if len(m[k]) == 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
