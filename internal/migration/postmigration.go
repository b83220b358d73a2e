package migration

import (
	"os"
	"path/filepath"
)

// PostMigrationFile is dropped into the target home when the source side
// leaves outstanding tasks for the rehydrated agent. Absence is the
// normal steady state.
const PostMigrationFile = "POST_MIGRATION.md"

// WritePostMigrationNote drops a handshake note into the home.
func WritePostMigrationNote(homePath, note string) error {
	return os.WriteFile(filepath.Join(homePath, PostMigrationFile), []byte(note), 0644)
}

// HasPostMigrationNote reports whether the home carries a handshake note.
func HasPostMigrationNote(homePath string) bool {
	_, err := os.Stat(filepath.Join(homePath, PostMigrationFile))
	return err == nil
}

// ReadPostMigrationNote returns the note contents, or "" when absent.
func ReadPostMigrationNote(homePath string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(homePath, PostMigrationFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ClearPostMigrationNote acknowledges and removes the note.
func ClearPostMigrationNote(homePath string) error {
	err := os.Remove(filepath.Join(homePath, PostMigrationFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
