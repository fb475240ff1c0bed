package bezel

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleArtifact = `{"_metadata":{"author":"BezelKit Maintainers","project":"BezelKit","website":"https://example.com"},"devices":{"iPad":{"iPad13,18":{"bezel":18,"name":"iPad (10th generation)"}},"iPhone":{"iPhone17,1":{"bezel":62,"name":"iPhone 16 Pro"},"iPhone8,4":{"bezel":10.5,"name":"iPhone SE (1st generation)"}}}}`

func TestDecodeAndLookup(t *testing.T) {
	ds, err := Decode([]byte(sampleArtifact))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	radius, ok := ds.Radius("iPhone17,1")
	if !ok || radius != 62 {
		t.Fatalf("Radius(iPhone17,1) = %v, %v", radius, ok)
	}
	name, ok := ds.Name("iPad13,18")
	if !ok || name != "iPad (10th generation)" {
		t.Fatalf("Name(iPad13,18) = %q, %v", name, ok)
	}
	if radius, ok := ds.Radius("  iPhone8,4  "); !ok || radius != 10.5 {
		t.Fatalf("Radius with padding = %v, %v", radius, ok)
	}
	if _, ok := ds.Radius("iPhone99,9"); ok {
		t.Fatal("unknown identifier must not resolve")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bezel.min.json")
	if err := os.WriteFile(path, []byte(sampleArtifact), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if radius, ok := ds.Radius("iPhone17,1"); !ok || radius != 62 {
		t.Fatalf("Radius after Load = %v, %v", radius, ok)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIdentifiersOrdered(t *testing.T) {
	ds, err := Decode([]byte(sampleArtifact))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	want := []string{"iPhone8,4", "iPad13,18", "iPhone17,1"}
	if got := ds.Identifiers(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Identifiers() = %v, want %v", got, want)
	}
}

func TestNilDataset(t *testing.T) {
	var ds *Dataset
	if _, ok := ds.Radius("iPhone17,1"); ok {
		t.Fatal("nil dataset must not resolve identifiers")
	}
	if ids := ds.Identifiers(); ids != nil {
		t.Fatalf("nil dataset identifiers = %v", ids)
	}
}
