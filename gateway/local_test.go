package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	rattler "github.com/mamba-org/rattler-go"
)

func TestLocalSourceReadsRepodataFromDisk(t *testing.T) {
	dir := t.TempDir()
	subdirPath := filepath.Join(dir, "linux-64")
	if err := os.MkdirAll(subdirPath, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(subdirPath, "repodata.json"), []byte(linuxPython), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := &localSource{root: dir, subdir: "linux-64"}
	payload, err := src.fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(payload.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(payload.Records))
	}
}

func TestLocalSourceMissingFileIsIoError(t *testing.T) {
	dir := t.TempDir()
	src := &localSource{root: dir, subdir: "linux-64"}
	_, err := src.fetch(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for missing repodata.json")
	}
	var de *rattler.DomainError
	if !errors.As(err, &de) || de.Disc != rattler.DiscIoError {
		t.Fatalf("got %v, want DiscIoError", err)
	}
}
