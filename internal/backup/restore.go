package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxEntrySize bounds each extracted file against decompression bombs.
const maxEntrySize = 10 << 30

// Restore extracts an archive written by Backup into targetDir and returns
// its manifest. Existing files are kept unless force is set. Archives from
// other tools are accepted when they hold a .db file; their manifest is nil.
func Restore(ctx context.Context, archivePath, targetDir string, force bool) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create target directory: %w", err)
	}

	var (
		manifest *Manifest
		sawDB    bool
	)
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive entry: %w", err)
		}
		if err := checkEntryName(hdr.Name, targetDir); err != nil {
			return nil, err
		}

		if hdr.Name == ManifestName {
			var m Manifest
			if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&m); err != nil {
				return nil, fmt.Errorf("decode manifest: %w", err)
			}
			manifest = &m
			continue
		}
		if strings.HasSuffix(hdr.Name, ".db") {
			sawDB = true
		}

		dest := filepath.Join(targetDir, filepath.Clean(hdr.Name)) //nolint:gosec // G305: checked by checkEntryName
		if !force {
			if _, err := os.Stat(dest); err == nil {
				return nil, fmt.Errorf("file already exists (use -force to overwrite): %s", dest)
			}
		}
		if err := extract(tr, hdr, dest); err != nil {
			return nil, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		if strings.HasSuffix(hdr.Name, ".db") {
			// A leftover WAL from the replaced database would be replayed
			// over the restored one.
			for _, suffix := range []string{"-wal", "-shm"} {
				if err := os.Remove(dest + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("remove stale %s: %w", suffix, err)
				}
			}
		}
	}

	if !sawDB {
		return nil, errors.New("invalid backup: archive does not contain a .db file")
	}
	return manifest, nil
}

// checkEntryName rejects absolute names and names that resolve outside
// targetDir.
func checkEntryName(name, targetDir string) error {
	if filepath.IsAbs(name) {
		return fmt.Errorf("path traversal detected: absolute path %q", name)
	}
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %q", name)
	}

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolve target directory: %w", err)
	}
	dest, err := filepath.Abs(filepath.Join(targetDir, cleaned))
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}
	if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %q resolves outside target", name)
	}
	return nil
}

func extract(tr *tar.Reader, hdr *tar.Header, dest string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		// A failed copy must leave dest untouched.
		tmp := dest + ".restoring"
		out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, io.LimitReader(tr, maxEntrySize)); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, dest)
	default:
		// Links and devices are skipped.
		return nil
	}
}
