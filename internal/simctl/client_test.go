package simctl

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func newFakeCLI(output string, err error) (*CLI, *[][]string) {
	c := New(Config{Logger: zerolog.Nop()})
	var calls [][]string
	c.run = func(ctx context.Context, args ...string) (string, error) {
		calls = append(calls, args)
		return output, err
	}
	return c, &calls
}

func TestCommandArguments(t *testing.T) {
	c, calls := newFakeCLI("", nil)
	ctx := context.Background()

	if err := c.Boot(ctx, "UDID-1"); err != nil {
		t.Fatalf("Boot returned error: %v", err)
	}
	if err := c.Install(ctx, "UDID-1", "/tmp/BezelProbe.app"); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if err := c.Launch(ctx, "UDID-1", "com.bezelkit.BezelProbe"); err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	if err := c.Terminate(ctx, "UDID-1", "com.bezelkit.BezelProbe"); err != nil {
		t.Fatalf("Terminate returned error: %v", err)
	}
	if err := c.Uninstall(ctx, "UDID-1", "com.bezelkit.BezelProbe"); err != nil {
		t.Fatalf("Uninstall returned error: %v", err)
	}

	want := [][]string{
		{"bootstatus", "UDID-1", "-b"},
		{"install", "UDID-1", "/tmp/BezelProbe.app"},
		{"launch", "UDID-1", "com.bezelkit.BezelProbe"},
		{"terminate", "UDID-1", "com.bezelkit.BezelProbe"},
		{"uninstall", "UDID-1", "com.bezelkit.BezelProbe"},
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("unexpected simctl invocations:\n got %v\nwant %v", *calls, want)
	}
}

func TestProvisionTrimsHandle(t *testing.T) {
	c, calls := newFakeCLI("ABCD-1234\n", nil)
	handle, err := c.Provision(context.Background(), "iPhone 16 Pro", "devtype-16-pro", "profile-ios-18")
	if err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if handle != "ABCD-1234" {
		t.Fatalf("expected trimmed handle, got %q", handle)
	}
	want := []string{"create", "iPhone 16 Pro", "devtype-16-pro", "profile-ios-18"}
	if !reflect.DeepEqual((*calls)[0], want) {
		t.Fatalf("unexpected create args: %v", (*calls)[0])
	}
}

func TestProvisionEmptyOutputFails(t *testing.T) {
	c, _ := newFakeCLI("  \n", nil)
	if _, err := c.Provision(context.Background(), "iPhone 16 Pro", "d", "p"); err == nil {
		t.Fatal("expected error for empty create output")
	}
}

func TestShutdownAlreadyQuiescent(t *testing.T) {
	c, _ := newFakeCLI("", errors.New(`simctl shutdown: Unable to shutdown device in current state: Shutdown`))
	if err := c.Shutdown(context.Background(), "UDID-1"); err != nil {
		t.Fatalf("already-quiescent shutdown must not error, got %v", err)
	}

	c, _ = newFakeCLI("", errors.New("simctl shutdown: device not found"))
	if err := c.Shutdown(context.Background(), "UDID-1"); err == nil {
		t.Fatal("expected real shutdown error to propagate")
	}
}

func TestReadResultDecodesResultFile(t *testing.T) {
	container := t.TempDir()
	docs := filepath.Join(container, "Documents")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatalf("create documents dir: %v", err)
	}
	payload := []byte(`{"identifier":"iPhone17,1","bezel":62}`)
	if err := os.WriteFile(filepath.Join(docs, "bezel.json"), payload, 0o644); err != nil {
		t.Fatalf("write result fixture: %v", err)
	}

	c, calls := newFakeCLI(container+"\n", nil)
	result, err := c.ReadResult(context.Background(), "UDID-1", "com.bezelkit.BezelProbe")
	if err != nil {
		t.Fatalf("ReadResult returned error: %v", err)
	}
	if result.Identifier != "iPhone17,1" || result.Bezel != 62 {
		t.Fatalf("unexpected result: %+v", result)
	}
	want := []string{"get_app_container", "UDID-1", "com.bezelkit.BezelProbe", "data"}
	if !reflect.DeepEqual((*calls)[0], want) {
		t.Fatalf("unexpected container args: %v", (*calls)[0])
	}
}

func TestReadResultMissingFile(t *testing.T) {
	c, _ := newFakeCLI(t.TempDir(), nil)
	if _, err := c.ReadResult(context.Background(), "UDID-1", "com.bezelkit.BezelProbe"); err == nil {
		t.Fatal("expected error for missing result file")
	}
}

func TestReadResultMalformedFile(t *testing.T) {
	container := t.TempDir()
	docs := filepath.Join(container, "Documents")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatalf("create documents dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(docs, "bezel.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	c, _ := newFakeCLI(container, nil)
	if _, err := c.ReadResult(context.Background(), "UDID-1", "com.bezelkit.BezelProbe"); err == nil {
		t.Fatal("expected decode error")
	}
}
