package migration

import (
	"strings"
	"testing"
)

func TestPostMigrationNote_Lifecycle(t *testing.T) {
	home := t.TempDir()

	if HasPostMigrationNote(home) {
		t.Fatal("fresh home reports a note")
	}
	if note, err := ReadPostMigrationNote(home); err != nil || note != "" {
		t.Fatalf("read on fresh home = %q, %v", note, err)
	}
	// Clearing an absent note is a no-op.
	if err := ClearPostMigrationNote(home); err != nil {
		t.Fatalf("clear on fresh home: %v", err)
	}

	if err := WritePostMigrationNote(home, "resume the weekly report"); err != nil {
		t.Fatal(err)
	}
	if !HasPostMigrationNote(home) {
		t.Fatal("written note not detected")
	}
	note, err := ReadPostMigrationNote(home)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(note, "weekly report") {
		t.Errorf("note = %q", note)
	}

	if err := ClearPostMigrationNote(home); err != nil {
		t.Fatal(err)
	}
	if HasPostMigrationNote(home) {
		t.Error("note survived clear")
	}
}
