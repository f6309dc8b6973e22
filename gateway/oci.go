package gateway

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	rattler "github.com/mamba-org/rattler-go"
)

// ociSource resolves a channel's subdir repodata from an OCI registry: the
// channel names a repository reference, and each subdir's repodata.json is
// the last layer of the image tagged with the subdir name.
type ociSource struct {
	ref    name.Reference
	subdir string
}

// newOCISource builds an ociSource from a channel URL of the form
// "oci://host/repository[:tag]". The subdir is appended as the image tag
// when the URL did not already specify one.
func newOCISource(u *url.URL, subdir string) (*ociSource, error) {
	repo := strings.TrimPrefix(u.Host+u.Path, "/")
	refStr := repo
	if !strings.Contains(lastSegment(repo), ":") {
		refStr = repo + ":" + subdir
	}
	ref, err := name.ParseReference(refStr)
	if err != nil {
		return nil, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscInvalidUrl,
			Path:   u.String(),
			Reason: "malformed OCI channel reference",
			Op:     "gateway.newOCISource",
		}
	}
	return &ociSource{ref: ref, subdir: subdir}, nil
}

func lastSegment(s string) string {
	if i := strings.LastIndexByte(s, '/'); i != -1 {
		return s[i+1:]
	}
	return s
}

func (s *ociSource) fetch(ctx context.Context, prev *CachePolicy) (Payload, error) {
	img, err := remote.Image(s.ref, remote.WithContext(ctx))
	if err != nil {
		return Payload{}, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrTransient,
			Disc:   rattler.DiscIoError,
			Path:   s.ref.String(),
			Reason: "failed to resolve OCI image",
			Op:     "ociSource.fetch",
		}
	}

	digest, err := img.Digest()
	if err != nil {
		return Payload{}, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscIoError, Path: s.ref.String(), Reason: "failed to read image digest", Op: "ociSource.fetch"}
	}
	if prev != nil && prev.ETag == digest.String() {
		return Payload{Policy: prev.Refresh(timeNow())}, nil
	}

	records, err := s.decodeManifestLayer(img)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Records: records,
		Policy: CachePolicy{
			ETag:      digest.String(),
			FetchedAt: timeNow(),
			MaxAge:    time.Hour,
		},
	}, nil
}

func (s *ociSource) decodeManifestLayer(img v1.Image) ([]rattler.RepoDataRecord, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "failed to read image layers", Op: "ociSource.fetch"}
	}
	if len(layers) == 0 {
		return nil, &rattler.DomainError{Kind: rattler.ErrInvalid, Disc: rattler.DiscSubdirNotFound, Path: s.ref.String(), Reason: "OCI image has no layers", Op: "ociSource.fetch"}
	}

	rc, err := layers[len(layers)-1].Uncompressed()
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "failed to read image layer", Op: "ociSource.fetch"}
	}
	defer rc.Close()

	records, err := decodeOCILayerTar(rc, s.ref.Context().String(), s.subdir)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// decodeOCILayerTar reads the "repodata.json" entry out of the layer's tar
// stream and decodes it as plain repodata.
func decodeOCILayerTar(r io.Reader, channelURL, subdir string) ([]rattler.RepoDataRecord, error) {
	tr := newTarFinder(r)
	body, err := tr.find("repodata.json")
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "repodata.json not found in OCI layer", Op: "gateway.decodeOCILayerTar"}
	}
	return decodeRepodataJSON(body, channelURL, subdir)
}
