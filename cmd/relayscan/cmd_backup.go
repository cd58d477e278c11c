package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/relayscan/internal/backup"
	"github.com/HerbHall/relayscan/internal/store"
	"github.com/HerbHall/relayscan/internal/version"
	"go.uber.org/zap"
)

// runBackup writes an archive of the configured database and config file.
func runBackup(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	out := fs.String("out", "", "archive path (default relayscan-backup-<timestamp>.tar.gz)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	archive := *out
	if archive == "" {
		archive = fmt.Sprintf("relayscan-backup-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	}

	dbPath := v.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		logger.Error("open database", zap.String("path", dbPath), zap.Error(err))
		return 1
	}
	defer db.Close()

	m, err := backup.Backup(context.Background(), db.DB(), filepath.Base(dbPath), v.ConfigFileUsed(), archive, version.Short())
	if err != nil {
		logger.Error("backup failed", zap.Error(err))
		return 1
	}
	logger.Info("backup written",
		zap.String("archive", archive),
		zap.String("database", m.Database),
		zap.String("config", m.Config),
	)
	return 0
}

// runRestore extracts an archive next to the configured database. The
// server must be stopped first.
func runRestore(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	in := fs.String("in", "", "archive to restore (required)")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(os.Stderr, "restore: -in is required")
		return 2
	}

	v, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	dbPath := v.GetString("database.path")
	m, err := backup.Restore(context.Background(), *in, filepath.Dir(dbPath), *force)
	if err != nil {
		logger.Error("restore failed", zap.Error(err))
		return 1
	}
	if m != nil && m.Database != filepath.Base(dbPath) {
		logger.Warn("restored database name differs from database.path",
			zap.String("restored", m.Database),
			zap.String("configured", filepath.Base(dbPath)),
		)
	}
	logger.Info("restore complete", zap.String("archive", *in), zap.String("dir", filepath.Dir(dbPath)))
	return 0
}
