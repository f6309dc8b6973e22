package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// writeTestTarBz2 isn't possible without a bzip2 encoder in the standard
// library (compress/bzip2 is decode-only), so this test instead exercises
// extractTar directly against a plain tar stream and relies on
// TestKindFromFilename for the compressed-format paths.
func TestExtractTarWritesFilesDirsAndSymlinks(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mustWriteTarEntry(t, tw, &tar.Header{Name: "info/", Typeflag: tar.TypeDir, Mode: 0o755}, nil)
	mustWriteTarEntry(t, tw, &tar.Header{Name: "info/index.json", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len("{}"))}, []byte("{}"))
	if err := tw.Close(); err != nil {
		t.Fatalf("tar.Close: %v", err)
	}

	dir := t.TempDir()
	if err := extractTar(&buf, dir); err != nil {
		t.Fatalf("extractTar: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "info", "index.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "{}" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestExtractTarRejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mustWriteTarEntry(t, tw, &tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 4}, []byte("evil"))
	if err := tw.Close(); err != nil {
		t.Fatalf("tar.Close: %v", err)
	}

	dir := t.TempDir()
	if err := extractTar(&buf, dir); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestExtractTarCanonicalizesRedundantPathSegments(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mustWriteTarEntry(t, tw, &tar.Header{Name: "./info//index.json", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len("{}"))}, []byte("{}"))
	if err := tw.Close(); err != nil {
		t.Fatalf("tar.Close: %v", err)
	}

	dir := t.TempDir()
	if err := extractTar(&buf, dir); err != nil {
		t.Fatalf("extractTar: %v", err)
	}

	if _, err := os.ReadFile(filepath.Join(dir, "info", "index.json")); err != nil {
		t.Fatalf("expected canonicalized path info/index.json to exist: %v", err)
	}
}

func TestKindFromFilename(t *testing.T) {
	cases := map[string]Kind{
		"python-3.11.0-h9a09f29_0.tar.bz2": KindTarBz2,
		"python-3.11.0-h9a09f29_0.conda":   KindConda,
		"python-3.11.0-h9a09f29_0.zip":     KindUnknown,
	}
	for name, want := range cases {
		if got := KindFromFilename(name); got != want {
			t.Errorf("KindFromFilename(%q) = %v, want %v", name, got, want)
		}
	}
}

func mustWriteTarEntry(t *testing.T, tw *tar.Writer, hdr *tar.Header, body []byte) {
	t.Helper()
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if body != nil {
		if _, err := tw.Write(body); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
}
