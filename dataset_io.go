package bezelagent

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DatasetPaths names the two on-disk renditions of the dataset.
type DatasetPaths struct {
	// Full is the pretty-printed working file, including the pending and
	// problematic queues.
	Full string
	// Minified is the single-line distribution artifact.
	Minified string
}

// LoadDataset reads and decodes the full dataset file. Any failure wraps
// ErrDatasetLoad so callers can tell a fatal store problem from a per-group
// one.
func LoadDataset(path string) (DeviceDataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DeviceDataset{}, errors.Wrapf(ErrDatasetLoad, "read %s: %v", path, err)
	}
	ds, err := DecodeDataset(raw)
	if err != nil {
		return DeviceDataset{}, errors.Wrapf(ErrDatasetLoad, "decode %s: %v", path, err)
	}
	return ds, nil
}

// DecodeDataset parses raw JSON into a dataset with all maps usable, so a
// hand-edited file missing a section does not leave nil maps behind.
func DecodeDataset(raw []byte) (DeviceDataset, error) {
	var ds DeviceDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return DeviceDataset{}, err
	}
	ds.normalize()
	return ds, nil
}

func (d *DeviceDataset) normalize() {
	if d.Devices == nil {
		d.Devices = make(map[string]map[string]DeviceRecord)
	}
	for category, records := range d.Devices {
		if records == nil {
			d.Devices[category] = make(map[string]DeviceRecord)
		}
	}
	if d.Pending == nil {
		d.Pending = make(map[string]PendingEntry)
	}
	if d.Problematic == nil {
		d.Problematic = make(map[string]PendingEntry)
	}
}

// WriteDataset persists both renditions. Both are marshalled before either
// file is touched, and each file is replaced atomically, so a failure never
// leaves a half-written or mismatched pair. Failures wrap ErrDatasetWrite.
func WriteDataset(ds DeviceDataset, paths DatasetPaths) error {
	full, err := MarshalFull(ds)
	if err != nil {
		return errors.Wrapf(ErrDatasetWrite, "%v", err)
	}
	min, err := MarshalMinified(ds)
	if err != nil {
		return errors.Wrapf(ErrDatasetWrite, "%v", err)
	}
	if err := writeFileAtomic(paths.Full, full); err != nil {
		return errors.Wrapf(ErrDatasetWrite, "write %s: %v", paths.Full, err)
	}
	if err := writeFileAtomic(paths.Minified, min); err != nil {
		return errors.Wrapf(ErrDatasetWrite, "write %s: %v", paths.Minified, err)
	}
	return nil
}

// writeFileAtomic stages data in a temp file beside path and renames it into
// place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bezel-*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
