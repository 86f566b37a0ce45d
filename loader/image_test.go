package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ignoreValues drops the YAML-only constant values, which CBOR does not
// carry.
var ignoreValues = cmpopts.IgnoreFields(FieldDef{}, "Value")

func TestMarshalRoundTrip(t *testing.T) {
	img, err := Compile([]byte(shapesYAML))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(img, got, ignoreValues, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	again, err := Marshal(got)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(again) != string(data) {
		t.Error("canonical encoding should be stable")
	}
}

func TestUnmarshalErrors(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("garbage should not decode")
	}
	data, err := Marshal(&Image{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("an image without a module name should be rejected")
	}
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shapes.yaml")
	if err := os.WriteFile(src, []byte(shapesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile(yaml): %v", err)
	}

	bin := filepath.Join(dir, "shapes.img")
	if err := WriteFile(bin, img); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(bin)
	if err != nil {
		t.Fatalf("ReadFile(cbor): %v", err)
	}
	if diff := cmp.Diff(img, got, ignoreValues, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("file round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.img")); err == nil {
		t.Error("reading a missing file should fail")
	}
	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("module: corlib"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(bad); err == nil {
		t.Error("an invalid definition should fail to compile")
	}
}
