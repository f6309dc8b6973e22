package gateway

import (
	"io"

	"encoding/json"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/version"
)

// repodataJSON mirrors the conda repodata.json wire schema's relevant
// subset: a map of filename to package metadata, split between
// unpacked ("packages") and ".conda"-packed ("packages.conda") entries.
type repodataJSON struct {
	Packages      map[string]repodataPackage `json:"packages"`
	PackagesConda map[string]repodataPackage `json:"packages.conda"`
}

type repodataPackage struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	BuildNumber   uint64   `json:"build_number"`
	Subdir        string   `json:"subdir"`
	Depends       []string `json:"depends"`
	Constrains    []string `json:"constrains"`
	TrackFeatures []string `json:"track_features"`
	Features      []string `json:"features"`
	License       string   `json:"license"`
	LicenseFamily string   `json:"license_family"`
	Timestamp     int64    `json:"timestamp"`
	Noarch        string   `json:"noarch"`
	MD5           string   `json:"md5"`
	SHA256        string   `json:"sha256"`
	Size          int64    `json:"size"`
}

// decodeRepodataJSON decodes a plain (uncompressed) repodata.json stream.
func decodeRepodataJSON(r io.Reader, channelURL, subdir string) ([]rattler.RepoDataRecord, error) {
	var doc repodataJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscDecodingError,
			Reason: "malformed repodata.json",
			Op:     "gateway.decodeRepodataJSON",
		}
	}
	out := make([]rattler.RepoDataRecord, 0, len(doc.Packages)+len(doc.PackagesConda))
	for fn, p := range doc.Packages {
		out = append(out, recordFrom(fn, p, channelURL, subdir))
	}
	for fn, p := range doc.PackagesConda {
		out = append(out, recordFrom(fn, p, channelURL, subdir))
	}
	return out, nil
}

func recordFrom(filename string, p repodataPackage, channelURL, subdir string) rattler.RepoDataRecord {
	sd := p.Subdir
	if sd == "" {
		sd = subdir
	}
	return rattler.RepoDataRecord{
		PackageRecord: rattler.PackageRecord{
			Name:          p.Name,
			Version:       mustParseOrZero(p.Version),
			Build:         p.Build,
			BuildNumber:   p.BuildNumber,
			Subdir:        sd,
			Depends:       p.Depends,
			Constrains:    p.Constrains,
			TrackFeatures: p.TrackFeatures,
			Features:      p.Features,
			License:       p.License,
			LicenseFamily: p.LicenseFamily,
			Timestamp:     p.Timestamp,
			Noarch:        rattler.NoarchKind(p.Noarch),
			MD5:           p.MD5,
			SHA256:        p.SHA256,
			Size:          p.Size,
		},
		ChannelURL: channelURL,
		FileName:   filename,
	}
}

// mustParseOrZero parses a version string, falling back to the zero
// Version ("0") for a malformed or empty value rather than failing the
// whole subdir decode over one bad record.
func mustParseOrZero(s string) version.Version {
	if s == "" {
		return version.MustParse("0")
	}
	v, err := version.Parse(s)
	if err != nil {
		return version.MustParse("0")
	}
	return v
}
