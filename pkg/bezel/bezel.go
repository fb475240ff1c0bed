// Package bezel reads the distribution artifact produced by the agent so Go
// consumers can look up bezel radii without depending on the pipeline.
package bezel

import (
	"os"
	"strings"

	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/pkg/errors"
)

// Dataset is a read-only view over a dataset artifact. Both the minified
// distribution file and the full working file decode into it.
type Dataset struct {
	ds bezelagent.DeviceDataset
}

// Load reads and decodes the artifact at path.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "bezel: read %s", path)
	}
	return Decode(raw)
}

// Decode parses artifact bytes.
func Decode(raw []byte) (*Dataset, error) {
	ds, err := bezelagent.DecodeDataset(raw)
	if err != nil {
		return nil, errors.Wrap(err, "bezel: decode dataset")
	}
	return &Dataset{ds: ds}, nil
}

func (d *Dataset) lookup(identifier string) (bezelagent.DeviceRecord, bool) {
	if d == nil {
		return bezelagent.DeviceRecord{}, false
	}
	id := strings.TrimSpace(identifier)
	for _, records := range d.ds.Devices {
		if rec, ok := records[id]; ok {
			return rec, true
		}
	}
	return bezelagent.DeviceRecord{}, false
}

// Radius returns the bezel radius in points recorded for identifier.
func (d *Dataset) Radius(identifier string) (float64, bool) {
	rec, ok := d.lookup(identifier)
	return rec.Bezel, ok
}

// Name returns the display name recorded for identifier.
func (d *Dataset) Name(identifier string) (string, bool) {
	rec, ok := d.lookup(identifier)
	return rec.Name, ok
}

// Identifiers lists every recorded identifier in dataset order.
func (d *Dataset) Identifiers() []string {
	if d == nil {
		return nil
	}
	ids := make([]string, 0, 64)
	for _, records := range d.ds.Devices {
		for id := range records {
			ids = append(ids, id)
		}
	}
	bezelagent.SortIdentifiers(ids)
	return ids
}
