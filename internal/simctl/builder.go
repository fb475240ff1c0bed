package simctl

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// BuilderConfig controls the probe payload build.
type BuilderConfig struct {
	// ProjectDir contains the probe's Xcode project.
	ProjectDir string
	// Scheme is the xcodebuild scheme producing the probe app.
	Scheme string
	// Configuration defaults to Debug.
	Configuration string
	// DerivedDataPath receives build products; the payload lands under
	// Build/Products/<Configuration>-iphonesimulator.
	DerivedDataPath string
	Logger          zerolog.Logger
}

// Builder compiles the measurement probe against the simulator SDK. It runs
// once per batch; every target installs the same payload.
type Builder struct {
	cfg BuilderConfig
	// run is replaced in tests.
	run func(ctx context.Context, dir, name string, args ...string) (string, error)
}

// NewBuilder returns a Builder with defaults applied.
func NewBuilder(cfg BuilderConfig) *Builder {
	if strings.TrimSpace(cfg.Scheme) == "" {
		cfg.Scheme = "BezelProbe"
	}
	if strings.TrimSpace(cfg.Configuration) == "" {
		cfg.Configuration = "Debug"
	}
	if strings.TrimSpace(cfg.DerivedDataPath) == "" {
		cfg.DerivedDataPath = filepath.Join(os.TempDir(), "bezelagent-derived")
	}
	b := &Builder{cfg: cfg}
	b.run = execBuild
	return b
}

// Build compiles the probe and returns the path to the built .app bundle.
func (b *Builder) Build(ctx context.Context) (string, error) {
	args := []string{
		"-scheme", b.cfg.Scheme,
		"-configuration", b.cfg.Configuration,
		"-sdk", "iphonesimulator",
		"-derivedDataPath", b.cfg.DerivedDataPath,
		"build",
	}
	b.cfg.Logger.Info().Str("scheme", b.cfg.Scheme).Msg("building probe payload")
	if _, err := b.run(ctx, b.cfg.ProjectDir, "xcodebuild", args...); err != nil {
		return "", err
	}
	appPath := filepath.Join(b.cfg.DerivedDataPath, "Build", "Products",
		b.cfg.Configuration+"-iphonesimulator", b.cfg.Scheme+".app")
	if _, err := os.Stat(appPath); err != nil {
		return "", errors.Wrapf(err, "built payload missing at %s", appPath)
	}
	b.cfg.Logger.Info().Str("payload", appPath).Msg("probe payload built")
	return appPath, nil
}

func execBuild(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		// xcodebuild output runs to thousands of lines; keep the tail,
		// which is where it prints the failing step.
		if len(detail) > 2000 {
			detail = "... " + detail[len(detail)-2000:]
		}
		if detail != "" {
			return "", errors.Wrapf(err, "%s: %s", name, detail)
		}
		return "", errors.Wrap(err, name)
	}
	return stdout.String(), nil
}
