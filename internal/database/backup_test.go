package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	storagePath := filepath.Join(tempDir, "backups")
	logger := zerolog.Nop()

	db, err := NewDB(filepath.Join(tempDir, "turnover.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	seedTurnover(t, db)

	s := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: storagePath, RetentionDays: 1}, &logger)
	ctx := context.Background()

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(ctx)
		require.NoError(t, err)
		assert.FileExists(t, path)

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()
		task, err := restored.GetTask(ctx, "cleaning")
		require.NoError(t, err)
		assert.Equal(t, "b1", task.BookingID)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, backupPrefix+"old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		unrelated := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
		require.NoError(t, os.Chtimes(unrelated, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())
		assert.NoFileExists(t, oldFile)
		assert.FileExists(t, unrelated)
	})

	t.Run("Disabled", func(t *testing.T) {
		disabled := NewBackupService(db, BackupConfig{StoragePath: filepath.Join(tempDir, "none")}, &logger)
		require.NoError(t, disabled.Run(ctx))
		assert.NoDirExists(t, filepath.Join(tempDir, "none"))
	})

	t.Run("InMemory", func(t *testing.T) {
		mem := setupTestDB(t)
		_, err := NewBackupService(mem, BackupConfig{Enabled: true, StoragePath: storagePath}, &logger).PerformBackup(ctx)
		assert.Error(t, err)
	})
}
