package simctl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func TestBuildReturnsPayloadPath(t *testing.T) {
	derived := t.TempDir()
	b := NewBuilder(BuilderConfig{
		ProjectDir:      "/tmp/probe-project",
		DerivedDataPath: derived,
		Logger:          zerolog.Nop(),
	})

	var gotDir, gotName string
	var gotArgs []string
	b.run = func(ctx context.Context, dir, name string, args ...string) (string, error) {
		gotDir, gotName, gotArgs = dir, name, args
		appPath := filepath.Join(derived, "Build", "Products", "Debug-iphonesimulator", "BezelProbe.app")
		if err := os.MkdirAll(appPath, 0o755); err != nil {
			t.Fatalf("create build product: %v", err)
		}
		return "", nil
	}

	path, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	want := filepath.Join(derived, "Build", "Products", "Debug-iphonesimulator", "BezelProbe.app")
	if path != want {
		t.Fatalf("Build() = %q, want %q", path, want)
	}
	if gotDir != "/tmp/probe-project" || gotName != "xcodebuild" {
		t.Fatalf("unexpected command: dir=%q name=%q", gotDir, gotName)
	}
	for i, arg := range gotArgs {
		if arg == "-sdk" && gotArgs[i+1] != "iphonesimulator" {
			t.Fatalf("expected simulator sdk, got args %v", gotArgs)
		}
	}
	if gotArgs[len(gotArgs)-1] != "build" {
		t.Fatalf("expected trailing build action, got %v", gotArgs)
	}
}

func TestBuildFailsWhenProductMissing(t *testing.T) {
	b := NewBuilder(BuilderConfig{DerivedDataPath: t.TempDir(), Logger: zerolog.Nop()})
	b.run = func(ctx context.Context, dir, name string, args ...string) (string, error) {
		return "", nil
	}
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected error when the build product is missing")
	}
}

func TestBuildPropagatesCommandFailure(t *testing.T) {
	b := NewBuilder(BuilderConfig{DerivedDataPath: t.TempDir(), Logger: zerolog.Nop()})
	b.run = func(ctx context.Context, dir, name string, args ...string) (string, error) {
		return "", errors.New("xcodebuild: error: scheme not found")
	}
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("expected build failure to propagate")
	}
}

func TestNewBuilderDefaults(t *testing.T) {
	b := NewBuilder(BuilderConfig{})
	if b.cfg.Scheme != "BezelProbe" {
		t.Fatalf("default scheme = %q", b.cfg.Scheme)
	}
	if b.cfg.Configuration != "Debug" {
		t.Fatalf("default configuration = %q", b.cfg.Configuration)
	}
	if b.cfg.DerivedDataPath == "" {
		t.Fatal("expected a default derived data path")
	}
}
