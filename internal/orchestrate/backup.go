package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// runBackup copies the source database file aside and verifies the copy by
// size before declaring rollback available. SQLite databases are single
// files, so a file copy taken before any write is a complete backup.
func (o *Orchestrator) runBackup(ctx context.Context) error {
	dir := o.cfg.BackupDir
	if dir == "" {
		dir = filepath.Dir(o.cfg.SourcePath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	ts := time.Now()
	base := filepath.Base(o.cfg.SourcePath)
	dst := filepath.Join(dir, fmt.Sprintf("%s.backup-%s", base, ts.Format("20060102-150405")))

	size, err := copyFile(o.cfg.SourcePath, dst)
	if err != nil {
		return err
	}

	src, err := os.Stat(o.cfg.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to stat source database: %w", err)
	}
	if size != src.Size() {
		os.Remove(dst)
		return fmt.Errorf("backup verification failed: copied %d bytes, source is %d bytes", size, src.Size())
	}

	o.backup = &BackupArtifact{Path: dst, SizeBytes: size, Timestamp: ts}
	o.rollback = RollbackInfo{
		Available:  true,
		BackupPath: dst,
		Instructions: []string{
			fmt.Sprintf("restore the source database: cp %s %s", dst, o.cfg.SourcePath),
			"drop the migrated tables from the target schema, or rerun with --drop-existing",
		},
	}
	o.log.Info().Str("path", dst).Int64("bytes", size).Msg("backup created")
	return nil
}

// Rollback restores the source database from the backup artifact. It is
// never invoked automatically; the caller decides.
func (o *Orchestrator) Rollback() error {
	if !o.rollback.Available {
		return errors.New("no backup available, rollback is not possible")
	}
	if _, err := copyFile(o.rollback.BackupPath, o.cfg.SourcePath); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	o.state = PhaseRolledBack
	o.log.Info().Str("backup", o.rollback.BackupPath).Msg("source database restored")
	return nil
}

// RestoreBackup copies a backup artifact back over the source database.
// Used by the standalone rollback command, where no orchestrator run is in
// scope.
func RestoreBackup(backupPath, sourcePath string) error {
	info, err := os.Stat(backupPath)
	if err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}
	n, err := copyFile(backupPath, sourcePath)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	if n != info.Size() {
		return fmt.Errorf("rollback verification failed: restored %d bytes, backup is %d bytes", n, info.Size())
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	return n, nil
}
