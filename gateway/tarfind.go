package gateway

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
)

// tarFinder locates a single named entry inside a tar stream, used to pull
// repodata.json out of an OCI image layer without staging the whole layer
// to disk.
type tarFinder struct {
	r io.Reader
}

func newTarFinder(r io.Reader) *tarFinder {
	return &tarFinder{r: r}
}

// find returns the contents of the first entry in the stream whose base
// name matches name.
func (t *tarFinder) find(name string) (io.Reader, error) {
	tr := tar.NewReader(t.r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("tar stream exhausted without finding %q", name)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if path.Base(hdr.Name) != name {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}
		return &buf, nil
	}
}
