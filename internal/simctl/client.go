// Package simctl drives Apple's CoreSimulator tooling (`xcrun simctl` and
// `xcodebuild`) to implement the agent's target lifecycle. Callers outside
// the agent should construct clients through bezelagent.NewPipeline wiring.
package simctl

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	bezelagent "github.com/bezelkit/BezelAgent"
)

// Config controls the CLI client.
type Config struct {
	// Tool is the xcrun binary name or path.
	Tool string
	// ResultFile is the file the probe writes under its data container's
	// Documents directory.
	ResultFile string
	Logger     zerolog.Logger
}

// CLI implements bezelagent.TargetClient by shelling out to simctl.
type CLI struct {
	cfg Config
	// run is replaced in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

// New returns a CLI client with defaults applied.
func New(cfg Config) *CLI {
	if strings.TrimSpace(cfg.Tool) == "" {
		cfg.Tool = "xcrun"
	}
	if strings.TrimSpace(cfg.ResultFile) == "" {
		cfg.ResultFile = bezelagent.DefaultResultFile
	}
	c := &CLI{cfg: cfg}
	c.run = c.execRun
	return c
}

// execRun invokes `xcrun simctl args...` and returns stdout. On failure the
// error carries the command line and trimmed stderr, which is where simctl
// reports everything useful.
func (c *CLI) execRun(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"simctl"}, args...)
	cmd := exec.CommandContext(ctx, c.cfg.Tool, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	c.cfg.Logger.Debug().Str("cmd", c.cfg.Tool+" "+strings.Join(argv, " ")).Msg("exec")
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return "", errors.Wrapf(err, "simctl %s: %s", args[0], detail)
		}
		return "", errors.Wrapf(err, "simctl %s", args[0])
	}
	return stdout.String(), nil
}

// Provision creates a new simulator and returns its UDID.
func (c *CLI) Provision(ctx context.Context, name, deviceTypeID, profileID string) (string, error) {
	out, err := c.run(ctx, "create", name, deviceTypeID, profileID)
	if err != nil {
		return "", err
	}
	handle := strings.TrimSpace(out)
	if handle == "" {
		return "", errors.Errorf("simctl create %q returned no device handle", name)
	}
	return handle, nil
}

// Shutdown forces the target to the quiescent state. A target that is
// already shut down is not an error.
func (c *CLI) Shutdown(ctx context.Context, handle string) error {
	_, err := c.run(ctx, "shutdown", handle)
	if err != nil && strings.Contains(err.Error(), "current state: Shutdown") {
		return nil
	}
	return err
}

// Boot boots the target and blocks until it reports ready.
func (c *CLI) Boot(ctx context.Context, handle string) error {
	// bootstatus -b boots when needed and waits for the ready signal in
	// one call, unlike plain `boot` which returns immediately.
	_, err := c.run(ctx, "bootstatus", handle, "-b")
	return err
}

// Install installs the probe payload onto the target.
func (c *CLI) Install(ctx context.Context, handle, payloadPath string) error {
	_, err := c.run(ctx, "install", handle, payloadPath)
	return err
}

// Launch starts the installed probe.
func (c *CLI) Launch(ctx context.Context, handle, payloadID string) error {
	_, err := c.run(ctx, "launch", handle, payloadID)
	return err
}

// ReadResult locates the probe's data container and decodes the result file
// it left in Documents.
func (c *CLI) ReadResult(ctx context.Context, handle, payloadID string) (bezelagent.ProbeResult, error) {
	out, err := c.run(ctx, "get_app_container", handle, payloadID, "data")
	if err != nil {
		return bezelagent.ProbeResult{}, err
	}
	path := filepath.Join(strings.TrimSpace(out), "Documents", c.cfg.ResultFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return bezelagent.ProbeResult{}, errors.Wrapf(err, "read probe result %s", path)
	}
	var result bezelagent.ProbeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return bezelagent.ProbeResult{}, errors.Wrapf(err, "decode probe result %s", path)
	}
	return result, nil
}

// Terminate stops the running probe.
func (c *CLI) Terminate(ctx context.Context, handle, payloadID string) error {
	_, err := c.run(ctx, "terminate", handle, payloadID)
	return err
}

// Uninstall removes the probe from the target.
func (c *CLI) Uninstall(ctx context.Context, handle, payloadID string) error {
	_, err := c.run(ctx, "uninstall", handle, payloadID)
	return err
}
