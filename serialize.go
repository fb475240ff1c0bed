package bezelagent

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// orderedJSON is an object whose members marshal in insertion order. The
// dataset files are public, diffed artifacts, so key order must be fixed by
// the serializer rather than by map iteration. Member values are limited to
// what the dataset needs: string, float64 and nested orderedJSON.
type orderedJSON struct {
	members []jsonMember
}

type jsonMember struct {
	key   string
	value any
}

func (o *orderedJSON) add(key string, value any) {
	o.members = append(o.members, jsonMember{key: key, value: value})
}

func (o orderedJSON) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 16*len(o.members)+2)
	buf = append(buf, '{')
	for i, m := range o.members {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSONString(buf, m.key)
		buf = append(buf, ':')
		switch v := m.value.(type) {
		case string:
			buf = appendJSONString(buf, v)
		case float64:
			var err error
			buf, err = appendJSONNumber(buf, v)
			if err != nil {
				return nil, errors.Wrapf(err, "member %q", m.key)
			}
		case orderedJSON:
			nested, err := v.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, nested...)
		default:
			return nil, errors.Errorf("unsupported member type %T for %q", m.value, m.key)
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

// appendJSONString encodes s exactly like encoding/json with HTML escaping
// disabled, so names and URLs keep their literal characters.
func appendJSONString(dst []byte, s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a plain string cannot fail.
	_ = enc.Encode(s)
	return append(dst, bytes.TrimRight(buf.Bytes(), "\n")...)
}

// appendJSONNumber renders f in the shortest form that round-trips, the same
// rule encoding/json applies: whole values print without a decimal point
// (62 rather than 62.0), matching what every prior writer of these files
// produced.
func appendJSONNumber(dst []byte, f float64) ([]byte, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, errors.Errorf("unsupported value %v", f)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	out := strconv.AppendFloat(dst, f, format, -1, 64)
	if format == 'e' {
		// strconv pads single-digit exponents; trim e-09 to e-9.
		if n := len(out); n >= 4 && out[n-4] == 'e' && out[n-3] == '-' && out[n-2] == '0' {
			out[n-2] = out[n-1]
			out = out[:n-1]
		}
	}
	return out, nil
}

func datasetValue(ds DeviceDataset, includeQueues bool) orderedJSON {
	var root orderedJSON

	var meta orderedJSON
	meta.add("author", ds.Metadata.Author)
	meta.add("project", ds.Metadata.Project)
	meta.add("website", ds.Metadata.Website)
	root.add("_metadata", meta)

	var devices orderedJSON
	for _, category := range sortedCategoryKeys(ds.Devices) {
		records := ds.Devices[category]
		var group orderedJSON
		for _, id := range sortedIdentifierKeys(records) {
			rec := records[id]
			var entry orderedJSON
			entry.add("bezel", rec.Bezel)
			entry.add("name", rec.Name)
			group.add(id, entry)
		}
		devices.add(category, group)
	}
	root.add("devices", devices)

	if includeQueues {
		root.add("pending", pendingValue(ds.Pending))
		root.add("problematic", pendingValue(ds.Problematic))
	}
	return root
}

func pendingValue(entries map[string]PendingEntry) orderedJSON {
	var out orderedJSON
	for _, id := range sortedIdentifierKeys(entries) {
		var entry orderedJSON
		entry.add("name", entries[id].Name)
		out.add(id, entry)
	}
	return out
}

// MarshalFull renders the dataset as two-space indented JSON including the
// pending and problematic queues. Output is byte-stable for equal datasets
// and ends with a newline.
func MarshalFull(ds DeviceDataset) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(datasetValue(ds, true)); err != nil {
		return nil, errors.Wrap(err, "encode full dataset failed")
	}
	return buf.Bytes(), nil
}

// MarshalMinified renders the single-line distribution form. Pending and
// problematic are omitted entirely: the shipped artifact must not leak
// in-progress state.
func MarshalMinified(ds DeviceDataset) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(datasetValue(ds, false)); err != nil {
		return nil, errors.Wrap(err, "encode minified dataset failed")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
