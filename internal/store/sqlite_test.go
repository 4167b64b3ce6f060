package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// TestSQLiteRecoversAfterStepError makes every statement fail once by
// renaming the table behind the pool's back, then checks the same pooled
// connection serves the cached statements normally afterwards.
func TestSQLiteRecoversAfterStepError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "objects.db")
	db, err := OpenSQLite(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	obj := CalendarObject{
		Calendar:     "work",
		URI:          "a.ics",
		UID:          "a",
		Data:         "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n",
		ETag:         `"1"`,
		LastModified: time.Unix(1700000000, 0).UTC(),
	}
	if err := db.Put(ctx, obj); err != nil {
		t.Fatal(err)
	}
	// Warm the statement cache.
	if _, _, err := db.Lookup(ctx, "work", "a"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.Get(ctx, "work", "a.ics"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.List(ctx, "work"); err != nil {
		t.Fatal(err)
	}

	admin, err := sqlite.OpenConn(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()
	rename := func(from, to string) {
		t.Helper()
		if err := sqlitex.ExecTransient(admin, "ALTER TABLE "+from+" RENAME TO "+to+";", nil); err != nil {
			t.Fatal(err)
		}
	}

	rename("CalendarObjects", "CalendarObjectsAway")
	if _, _, err := db.Lookup(ctx, "work", "a"); err == nil {
		t.Error("Lookup succeeded without the table")
	}
	if _, _, err := db.Get(ctx, "work", "a.ics"); err == nil {
		t.Error("Get succeeded without the table")
	}
	if _, err := db.List(ctx, "work"); err == nil {
		t.Error("List succeeded without the table")
	}
	if err := db.Put(ctx, obj); err == nil {
		t.Error("Put succeeded without the table")
	}
	rename("CalendarObjectsAway", "CalendarObjects")

	obj.URI, obj.UID = "b.ics", "b"
	if err := db.Put(ctx, obj); err != nil {
		t.Fatalf("Put after recovery: %v", err)
	}
	if uri, found, err := db.Lookup(ctx, "work", "b"); err != nil || !found || uri != "b.ics" {
		t.Errorf("Lookup after recovery = %q, %v, %v", uri, found, err)
	}
	if got, found, err := db.Get(ctx, "work", "a.ics"); err != nil || !found || got.UID != "a" {
		t.Errorf("Get after recovery = %+v, %v, %v", got, found, err)
	}
	list, err := db.List(ctx, "work")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("List after recovery has %d rows, want 2", len(list))
	}
}
