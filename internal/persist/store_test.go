package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	want := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

	if err := store.WriteTime("splunk", "c2-beacons", FieldLastEndTime, want); err != nil {
		t.Fatalf("WriteTime: %v", err)
	}

	got, ok, err := store.ReadTime("splunk", "c2-beacons", FieldLastEndTime)
	if err != nil {
		t.Fatalf("ReadTime: %v", err)
	}
	if !ok {
		t.Fatal("ReadTime reported value absent after write")
	}
	if !got.Equal(want) {
		t.Errorf("ReadTime = %v, want %v", got, want)
	}
}

func TestReadAbsent(t *testing.T) {
	store := NewStore(t.TempDir())

	_, ok, err := store.ReadTime("splunk", "never-ran", FieldLastExecutedTime)
	if err != nil {
		t.Fatalf("ReadTime: %v", err)
	}
	if ok {
		t.Error("ReadTime reported a value for a hunt that never recorded one")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	if err := store.WriteTime("cat", "hunt", FieldLastAlertTime, time.Now()); err != nil {
		t.Fatalf("WriteTime: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "cat", "hunt"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSanitizedNames(t *testing.T) {
	store := NewStore(t.TempDir())
	want := time.Now().UTC().Truncate(time.Second)

	if err := store.WriteTime("cat", "weird/hunt:name", FieldLastExecutedTime, want); err != nil {
		t.Fatalf("WriteTime: %v", err)
	}
	got, ok, err := store.ReadTime("cat", "weird/hunt:name", FieldLastExecutedTime)
	if err != nil || !ok {
		t.Fatalf("ReadTime: ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) {
		t.Errorf("ReadTime = %v, want %v", got, want)
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.WriteTime("cat", "hunt", FieldLastEndTime, time.Now()); err != nil {
		t.Fatalf("WriteTime: %v", err)
	}
	if err := store.Delete("cat", "hunt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.ReadTime("cat", "hunt", FieldLastEndTime); ok {
		t.Error("value still present after Delete")
	}
}
