// Package archive extracts a single named entry out of a .tar.gz or .zip
// release archive, matching it case-insensitively by basename. Grounded on
// the marketplace installer's extractTarGz/extractZip (§4.5 step 3, §4.10
// step 3): same streaming-copy shape, adapted from "find the plugin .so"
// to "find the file whose name matches". Nothing is written to disk, so
// entry paths are only reduced to their basename for matching.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format identifies an archive's container format.
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// DetectFormat picks a format from a file name's suffix.
func DetectFormat(fileName string) (Format, error) {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	default:
		return "", fmt.Errorf("archive: cannot detect format from %q", fileName)
	}
}

// ExtractNamed reads the archive in data and returns the bytes of the
// single entry whose basename matches wantName case-insensitively.
func ExtractNamed(format Format, data []byte, wantName string) ([]byte, error) {
	switch format {
	case FormatTarGz:
		return extractTarGzNamed(data, wantName)
	case FormatZip:
		return extractZipNamed(data, wantName)
	default:
		return nil, fmt.Errorf("archive: unsupported format %q", format)
	}
}

func extractTarGzNamed(data []byte, wantName string) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("archive: open gzip: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if !strings.EqualFold(filepath.Base(header.Name), wantName) {
			continue
		}
		buf := make([]byte, 0, header.Size)
		w := bytes.NewBuffer(buf)
		if _, err := io.Copy(w, tr); err != nil {
			return nil, fmt.Errorf("archive: extract %s: %w", header.Name, err)
		}
		return w.Bytes(), nil
	}
	return nil, fmt.Errorf("archive: entry %q not found in tar.gz", wantName)
}

func extractZipNamed(data []byte, wantName string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: open zip: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Base(f.Name), wantName) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: open %s: %w", f.Name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("archive: extract %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("archive: entry %q not found in zip", wantName)
}
