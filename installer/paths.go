package installer

import (
	"encoding/json"
	"os"
	"path/filepath"

	rattler "github.com/mamba-org/rattler-go"
)

// packagePathsJSON mirrors info/paths.json (paths_version 1) in full,
// including the prefix-rewriting fields that validate.Directory's narrower
// decoder doesn't need.
type packagePathsJSON struct {
	PathsVersion int                    `json:"paths_version"`
	Paths        []packagePathsJSONItem `json:"paths"`
}

type packagePathsJSONItem struct {
	RelativePath      string `json:"_path"`
	PathType          string `json:"path_type"`
	SHA256            string `json:"sha256,omitempty"`
	SizeInBytes       int64  `json:"size_in_bytes,omitempty"`
	NoLink            bool   `json:"no_link,omitempty"`
	PrefixPlaceholder string `json:"prefix_placeholder,omitempty"`
	FileMode          string `json:"file_mode,omitempty"`
}

// readPackagePaths reads packageDir's info/paths.json, the manifest of
// files a package's archive was extracted to before linking.
func readPackagePaths(packageDir string) ([]rattler.PathsEntry, error) {
	pj := filepath.Join(packageDir, "info", "paths.json")
	f, err := os.Open(pj)
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscReadPathsJson, Path: pj, Reason: "failed to read paths.json", Op: "installer.readPackagePaths"}
	}
	defer f.Close()

	var doc packagePathsJSON
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscReadPathsJson, Path: pj, Reason: "malformed paths.json", Op: "installer.readPackagePaths"}
	}

	out := make([]rattler.PathsEntry, len(doc.Paths))
	for i, e := range doc.Paths {
		out[i] = rattler.PathsEntry{
			RelativePath:      e.RelativePath,
			PathType:          rattler.LinkType(e.PathType),
			NoLink:            e.NoLink,
			SHA256:            e.SHA256,
			SizeInBytes:       e.SizeInBytes,
			PrefixPlaceholder: e.PrefixPlaceholder,
			FileMode:          rattler.FileMode(e.FileMode),
		}
	}
	return out, nil
}
