package simctl

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	bezelagent "github.com/bezelkit/BezelAgent"
)

// simctl's `list -j` output shapes, reduced to the fields the agent reads.
type deviceList struct {
	Devices map[string][]deviceEntry `json:"devices"`
}

type deviceEntry struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

type runtimeList struct {
	Runtimes []runtimeEntry `json:"runtimes"`
}

type runtimeEntry struct {
	Version              string            `json:"version"`
	Identifier           string            `json:"identifier"`
	IsAvailable          bool              `json:"isAvailable"`
	SupportedDeviceTypes []deviceTypeEntry `json:"supportedDeviceTypes"`
}

type deviceTypeEntry struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// ListTargets enumerates every provisioned simulator across all runtimes.
func (c *CLI) ListTargets(ctx context.Context) ([]bezelagent.Target, error) {
	out, err := c.run(ctx, "list", "-j", "devices")
	if err != nil {
		return nil, err
	}
	return parseTargets([]byte(out))
}

// ListProfiles enumerates installed runtimes with the device names each one
// can provision.
func (c *CLI) ListProfiles(ctx context.Context) ([]bezelagent.Profile, error) {
	out, err := c.run(ctx, "list", "-j", "runtimes")
	if err != nil {
		return nil, err
	}
	return parseProfiles([]byte(out))
}

// parseTargets flattens the per-runtime device map. Runtime keys are sorted
// first so the flattened order, and with it reuse decisions, never depend on
// map iteration.
func parseTargets(raw []byte) ([]bezelagent.Target, error) {
	var list deviceList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decode simctl device list")
	}
	runtimes := make([]string, 0, len(list.Devices))
	for runtime := range list.Devices {
		runtimes = append(runtimes, runtime)
	}
	sort.Strings(runtimes)

	var targets []bezelagent.Target
	for _, runtime := range runtimes {
		for _, entry := range list.Devices[runtime] {
			targets = append(targets, bezelagent.Target{
				Name:        entry.Name,
				Handle:      entry.UDID,
				State:       entry.State,
				IsAvailable: entry.IsAvailable,
			})
		}
	}
	return targets, nil
}

func parseProfiles(raw []byte) ([]bezelagent.Profile, error) {
	var list runtimeList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decode simctl runtime list")
	}
	profiles := make([]bezelagent.Profile, 0, len(list.Runtimes))
	for _, entry := range list.Runtimes {
		profile := bezelagent.Profile{
			Version:     entry.Version,
			Identifier:  entry.Identifier,
			IsAvailable: entry.IsAvailable,
		}
		for _, device := range entry.SupportedDeviceTypes {
			profile.SupportedNames = append(profile.SupportedNames, bezelagent.SupportedName{
				Name:       device.Name,
				Identifier: device.Identifier,
			})
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}
