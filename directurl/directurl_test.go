package directurl

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/mamba-org/rattler-go/packagecache"
	"github.com/mamba-org/rattler-go/transport"
)

// buildCondaArchive assembles a minimal ".conda" archive (a zip containing
// zstd-compressed tars) whose info/index.json decodes to indexJSONBody, the
// same layout archive.ExtractConda reads.
func buildCondaArchive(t *testing.T, indexJSONBody string) []byte {
	t.Helper()

	var infoTar bytes.Buffer
	tw := tar.NewWriter(&infoTar)
	body := []byte(indexJSONBody)
	if err := tw.WriteHeader(&tar.Header{Name: "info/index.json", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar.Close: %v", err)
	}

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	writeZstdMember(t, zw, "info-x-x-x.tar.zst", infoTar.Bytes())
	writeZstdMember(t, zw, "pkg-x-x-x.tar.zst", emptyTar(t))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close: %v", err)
	}
	return zipBuf.Bytes()
}

func emptyTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.Close(); err != nil {
		t.Fatalf("tar.Close: %v", err)
	}
	return buf.Bytes()
}

func writeZstdMember(t *testing.T, zw *zip.Writer, name string, raw []byte) {
	t.Helper()
	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	if _, err := encoder.Write(raw); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}

	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip.Create: %v", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		t.Fatalf("zip write: %v", err)
	}
}

func TestResolveLocalCondaArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "python-3.11.0-h9a09f29_0.conda")
	data := buildCondaArchive(t, `{"name":"python","version":"3.11.0","build":"h9a09f29_0","build_number":0,"subdir":"linux-64","depends":["libffi >=3.4"]}`)
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	q := &Query{URL: archivePath}
	record, err := q.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if record.Name != "python" || record.Build != "h9a09f29_0" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.SHA256 == "" || record.MD5 == "" || record.Size == 0 {
		t.Fatalf("expected hashes and size to be computed, got %+v", record.PackageRecord)
	}
}

type fakeFetcher struct{ body []byte }

func (f *fakeFetcher) Get(_ context.Context, _ string, _ http.Header) (*transport.Response, error) {
	return &transport.Response{Status: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestResolveRemoteCondaArchive(t *testing.T) {
	data := buildCondaArchive(t, `{"name":"libffi","version":"3.4.2","build":"h9c3ff4c_0","build_number":0,"subdir":"linux-64"}`)
	cacheDir := t.TempDir()
	cache, err := packagecache.New(cacheDir)
	if err != nil {
		t.Fatalf("packagecache.New: %v", err)
	}

	q := &Query{
		URL:     "https://repo.example/conda/linux-64/libffi-3.4.2-h9c3ff4c_0.conda",
		Cache:   cache,
		Fetcher: &fakeFetcher{body: data},
	}
	record, err := q.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if record.Name != "libffi" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.FileName != "libffi-3.4.2-h9c3ff4c_0.conda" {
		t.Fatalf("unexpected filename: %q", record.FileName)
	}
}

func TestResolveRejectsUnparseableRemoteFilename(t *testing.T) {
	cacheDir := t.TempDir()
	cache, _ := packagecache.New(cacheDir)
	q := &Query{URL: "https://repo.example/conda/linux-64/invalidname.conda", Cache: cache, Fetcher: &fakeFetcher{}}
	if _, err := q.Resolve(context.Background()); err == nil {
		t.Fatal("expected error for unparseable archive identifier")
	}
}
