package gateway

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDecodeShardedRepodataRoundTrip(t *testing.T) {
	doc := shardedDoc{Shards: map[string][]repodataPackage{
		"python": {
			{Name: "python", Version: "3.11.0", Build: "h9a09f29_0", BuildNumber: 0, Subdir: "linux-64"},
		},
	}}

	var packed bytes.Buffer
	if err := msgpack.NewEncoder(&packed).Encode(&doc); err != nil {
		t.Fatalf("msgpack encode: %v", err)
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	if _, err := zw.Write(packed.Bytes()); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}

	records, err := decodeShardedRepodata(&compressed, "https://repo.example/conda", "linux-64")
	if err != nil {
		t.Fatalf("decodeShardedRepodata: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Name != "python" {
		t.Fatalf("expected python, got %q", records[0].Name)
	}
	if records[0].FileName != "python-3.11.0-h9a09f29_0.conda" {
		t.Fatalf("unexpected synthesized filename: %q", records[0].FileName)
	}
}
