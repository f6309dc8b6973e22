package rattler

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/mamba-org/rattler-go/version"
)

// NoarchKind classifies a package's platform independence.
type NoarchKind string

const (
	NoarchNone    NoarchKind = ""
	NoarchGeneric NoarchKind = "generic"
	NoarchPython  NoarchKind = "python"
)

// PackageRecord is the immutable identity and payload of one package
// candidate, as parsed from a repodata index entry.
type PackageRecord struct {
	Name        string
	Version     version.Version
	Build       string
	BuildNumber uint64
	Subdir      string

	Depends            []string
	Constrains         []string
	TrackFeatures      []string
	Features           []string
	License            string
	LicenseFamily      string
	Timestamp          int64 // Unix millis; 0 if unknown.
	Noarch             NoarchKind
	MD5                string
	SHA256             string
	Size               int64
	PythonSitePackages string
	Platform           string
	Arch               string
}

// Identity is the (name, version, build, build_number, subdir) tuple that
// uniquely identifies a PackageRecord.
func (p *PackageRecord) Identity() string {
	return fmt.Sprintf("%s-%s-%s-%d-%s", p.Name, p.Version, p.Build, p.BuildNumber, p.Subdir)
}

// Filename returns the canonical archive file name for the record, assuming
// the ".conda" package format.
func (p *PackageRecord) Filename() string {
	return fmt.Sprintf("%s-%s-%s.conda", p.Name, p.Version, p.Build)
}

// RepoDataRecord wraps a PackageRecord with where it was found.
type RepoDataRecord struct {
	PackageRecord
	URL        string
	ChannelURL string
	FileName   string
}

// PackageURL returns a package-url identifying this record for
// interoperability with SBOM and provenance tooling.
func (r *RepoDataRecord) PackageURL() string {
	qualifiers := map[string]string{
		"build":  r.Build,
		"subdir": r.Subdir,
	}
	if r.ChannelURL != "" {
		qualifiers["channel"] = r.ChannelURL
	}
	purl := packageurl.PackageURL{
		Type:       "conda",
		Name:       r.Name,
		Version:    r.Version.String(),
		Qualifiers: packageurl.QualifiersFromMap(qualifiers),
	}
	return purl.ToString()
}

// LinkType is the placement strategy chosen for one installed file.
type LinkType string

const (
	LinkHardLink  LinkType = "hardlink"
	LinkSoftLink  LinkType = "softlink"
	LinkCopy      LinkType = "copy"
	LinkDirectory LinkType = "directory"
)

// FileMode controls how a PathsEntry's prefix placeholder is rewritten.
type FileMode string

const (
	FileModeBinary FileMode = "binary"
	FileModeText   FileMode = "text"
)

// PathsEntry is one entry of a package archive's info/paths.json, describing
// a file as it exists in the package cache before installation.
type PathsEntry struct {
	RelativePath      string
	PathType          LinkType
	NoLink            bool
	SHA256            string
	SizeInBytes       int64
	PrefixPlaceholder string
	FileMode          FileMode
}

// PrefixPathsEntry augments a PathsEntry with the runtime metadata recorded
// once a file has actually been placed into a prefix.
type PrefixPathsEntry struct {
	PathsEntry
	OriginalPath   string
	LinkType       LinkType
	SHA256InPrefix string
}

// Link records how a package's files were sourced into the prefix.
type Link struct {
	Source   string
	LinkType LinkType
}

// PrefixRecord wraps a RepoDataRecord with the metadata needed to validate,
// diff, and remove an installed package.
type PrefixRecord struct {
	RepoDataRecord
	Files     []string
	Paths     []PrefixPathsEntry
	Link      Link
	Requested bool
}

// MinimalPrefixRecord is a cheap-to-compare projection of a PrefixRecord,
// used for change detection during transaction diffing.
type MinimalPrefixRecord struct {
	Name        string
	Version     version.Version
	Build       string
	BuildNumber uint64
	SHA256      string
}

// Minimal projects a PrefixRecord down to its identity and content hash.
func (p *PrefixRecord) Minimal() MinimalPrefixRecord {
	return MinimalPrefixRecord{
		Name:        p.Name,
		Version:     p.Version,
		Build:       p.Build,
		BuildNumber: p.BuildNumber,
		SHA256:      p.SHA256,
	}
}

// ConfFile returns the conda-meta file name this record is stored under.
func (p *PrefixRecord) ConfFile() string {
	return fmt.Sprintf("%s-%s-%s.json", p.Name, p.Version, p.Build)
}

// CacheKey identifies a package cache entry, independent of its source.
type CacheKey struct {
	Name    string
	Version string
	Build   string
	SHA256  string
	MD5     string
}

// String renders the cache key's directory name, narrowing with SHA256 when
// present to disambiguate packages that otherwise share (name, version,
// build) across channels.
func (k CacheKey) String() string {
	s := fmt.Sprintf("%s-%s-%s", k.Name, k.Version, k.Build)
	if k.SHA256 != "" {
		n := k.SHA256
		if len(n) > 8 {
			n = n[:8]
		}
		s += "-" + n
	}
	return s
}

// NewCacheKey derives a CacheKey from a package record.
func NewCacheKey(p *PackageRecord, sha256, md5 string) CacheKey {
	return CacheKey{
		Name:    normalizeName(p.Name),
		Version: p.Version.String(),
		Build:   p.Build,
		SHA256:  sha256,
		MD5:     md5,
	}
}

func normalizeName(name string) string {
	return strings.ToLower(name)
}
