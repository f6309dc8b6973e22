package gateway

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	rattler "github.com/mamba-org/rattler-go"
)

// shardedDoc is this core's reading of a repodata_shards.msgpack(.zst)
// payload: package metadata grouped by name, msgpack-encoded instead of
// JSON. Upstream's sharded index additionally indirects through per-name
// byte ranges into a second blob fetched lazily; this core decodes a single
// self-contained document instead (see DESIGN.md for the tradeoff).
type shardedDoc struct {
	Shards map[string][]repodataPackage `msgpack:"shards"`
}

// decodeShardedRepodata decodes a zstd-compressed msgpack shards document.
func decodeShardedRepodata(r io.Reader, channelURL, subdir string) ([]rattler.RepoDataRecord, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "malformed zstd stream", Op: "gateway.decodeShardedRepodata"}
	}
	defer zr.Close()

	var doc shardedDoc
	if err := msgpack.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "malformed shards document", Op: "gateway.decodeShardedRepodata"}
	}

	var out []rattler.RepoDataRecord
	for name, pkgs := range doc.Shards {
		for _, p := range pkgs {
			filename := name + "-" + p.Version + "-" + p.Build + ".conda"
			out = append(out, recordFrom(filename, p, channelURL, subdir))
		}
	}
	return out, nil
}
