package artifact

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Fixed header values so the same tree always produces the same bytes
var epoch = time.Unix(0, 0).UTC()

const (
	fileMode = 0o644
	execMode = 0o755
	linkMode = 0o777
)

// writeBundle writes files as a gzip'd tar to path via a temp file and rename
func writeBundle(path string, files []sourceFile) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := writeTarGz(tmp, files); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeTarGz(w io.Writer, files []sourceFile) error {
	gz := gzip.NewWriter(w)
	gz.ModTime = epoch
	tw := tar.NewWriter(gz)

	for _, f := range files {
		if err := writeEntry(tw, f); err != nil {
			return fmt.Errorf("add %s: %w", f.rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeEntry(tw *tar.Writer, f sourceFile) error {
	hdr := &tar.Header{
		Name:    f.rel,
		ModTime: epoch,
		Format:  tar.FormatPAX,
	}
	if f.link != "" {
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = f.link
		hdr.Mode = linkMode
		return tw.WriteHeader(hdr)
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = f.info.Size()
	hdr.Mode = fileMode
	if f.executable() {
		hdr.Mode = execMode
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	file, err := os.Open(f.abs) //nolint:gosec // path comes from walking the source tree
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	n, err := io.Copy(tw, file)
	if err != nil {
		return err
	}
	if n != hdr.Size {
		return fmt.Errorf("file changed while bundling: wrote %d of %d bytes", n, hdr.Size)
	}
	return nil
}
