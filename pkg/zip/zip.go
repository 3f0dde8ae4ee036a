// Package zip bundles generated creatives into a single download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// Write streams assets into a zip archive on w. Duplicate names get a
// numeric suffix; entries without data are skipped.
func Write(w io.Writer, assets []Asset) (int, error) {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(assets))
	written := 0
	for _, asset := range assets {
		if len(asset.Data) == 0 {
			continue
		}
		name := uniqueName(used, asset.Filename)
		hdr := &zip.FileHeader{Name: name, Method: zip.Store}
		if !asset.Modified.IsZero() {
			hdr.Modified = asset.Modified
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return written, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return written, fmt.Errorf("zip: write %s: %w", name, err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("zip: close: %w", err)
	}
	return written, nil
}

func uniqueName(used map[string]int, name string) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" {
		name = "file"
	}
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
