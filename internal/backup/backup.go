// Package backup writes and restores point-in-time archives of the RelayScan
// database and, optionally, its configuration file.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the archive entry describing its contents.
const ManifestName = "manifest.json"

// Manifest records what an archive holds and which binary wrote it.
type Manifest struct {
	AppVersion string    `json:"app_version"`
	CreatedAt  time.Time `json:"created_at"`
	Database   string    `json:"database"`
	Config     string    `json:"config,omitempty"`
}

// Backup snapshots the live database with VACUUM INTO, so it is safe while
// the server is running, and writes a gzip tar to archivePath holding the
// snapshot under dbName, the config file when configPath is set and a
// manifest.
func Backup(ctx context.Context, db *sql.DB, dbName, configPath, archivePath, appVersion string) (*Manifest, error) {
	tmpDir, err := os.MkdirTemp("", "relayscan-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, dbName)
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}

	m := &Manifest{
		AppVersion: appVersion,
		CreatedAt:  time.Now().UTC(),
		Database:   dbName,
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		m.Config = filepath.Base(configPath)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	if err := writeArchive(f, m, snapshot, configPath); err != nil {
		f.Close()
		os.Remove(archivePath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return m, nil
}

func writeArchive(w io.Writer, m *Manifest, snapshot, configPath string) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := addBytes(tw, ManifestName, manifest, m.CreatedAt); err != nil {
		return err
	}
	if err := addFile(tw, m.Database, snapshot); err != nil {
		return err
	}
	if configPath != "" {
		if err := addFile(tw, m.Config, configPath); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finish gzip: %w", err)
	}
	return nil
}

func addBytes(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	hdr := &tar.Header{Name: name, Mode: 0o600, Size: int64(len(data)), ModTime: mod}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func addFile(tw *tar.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return errors.New(name + " is not a regular file")
	}
	hdr := &tar.Header{Name: name, Mode: 0o600, Size: info.Size(), ModTime: info.ModTime()}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
