package store

import (
	"context"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"calimport/internal/model"
)

const createSQL = `
CREATE TABLE IF NOT EXISTS CalendarObjects (
	CalendarID    TEXT NOT NULL,
	URI           TEXT NOT NULL,
	UID           TEXT NOT NULL,
	ComponentType TEXT NOT NULL,
	Data          TEXT NOT NULL,
	ETag          TEXT NOT NULL,
	LastModified  INTEGER NOT NULL, -- unix nanoseconds

	PRIMARY KEY (CalendarID, URI)
);

CREATE INDEX IF NOT EXISTS CalendarObjectsUID ON CalendarObjects (CalendarID, UID);
`

// SQLite is a Backend storing one row per calendar object.
type SQLite struct {
	pool *sqlitex.Pool
}

// OpenSQLite opens (creating if needed) the database at path. poolSize
// bounds the number of open connections.
func OpenSQLite(path string, poolSize int) (*SQLite, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, fmt.Errorf("store.OpenSQLite: init open: %v", err)
	}
	if err := initSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store.OpenSQLite: init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("store.OpenSQLite: init close: %v", err)
	}
	pool, err := sqlitex.Open(path, 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("store.OpenSQLite: pool: %v", err)
	}
	return &SQLite{pool: pool}, nil
}

func initSchema(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	return sqlitex.ExecScript(conn, createSQL)
}

func (s *SQLite) get(ctx context.Context) (*sqlite.Conn, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("store: no database connection available")
	}
	return conn, nil
}

func (s *SQLite) Lookup(ctx context.Context, calendar, uid string) (uri string, found bool, err error) {
	conn, err := s.get(ctx)
	if err != nil {
		return "", false, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT URI FROM CalendarObjects
		WHERE CalendarID = $calendar AND UID = $uid
		ORDER BY URI LIMIT 1;`)
	defer stmt.Reset()
	stmt.SetText("$calendar", calendar)
	stmt.SetText("$uid", uid)
	if hasRow, err := stmt.Step(); err != nil {
		return "", false, err
	} else if !hasRow {
		return "", false, nil
	}
	uri = stmt.GetText("URI")
	return uri, true, nil
}

// Put replaces the row at (calendar, URI) inside a savepoint.
func (s *SQLite) Put(ctx context.Context, obj CalendarObject) (err error) {
	conn, err := s.get(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT OR REPLACE INTO CalendarObjects (
			CalendarID, URI, UID, ComponentType, Data, ETag, LastModified
		) VALUES (
			$calendar, $uri, $uid, $type, $data, $etag, $lastModified
		);`)
	defer stmt.Reset()
	stmt.SetText("$calendar", obj.Calendar)
	stmt.SetText("$uri", obj.URI)
	stmt.SetText("$uid", obj.UID)
	stmt.SetText("$type", string(obj.ComponentType))
	stmt.SetText("$data", obj.Data)
	stmt.SetText("$etag", obj.ETag)
	stmt.SetInt64("$lastModified", obj.LastModified.UnixNano())
	if _, err := stmt.Step(); err != nil {
		return fmt.Errorf("store: put %s/%s: %v", obj.Calendar, obj.URI, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, calendar, uri string) (CalendarObject, bool, error) {
	conn, err := s.get(ctx)
	if err != nil {
		return CalendarObject{}, false, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT UID, ComponentType, Data, ETag, LastModified
		FROM CalendarObjects WHERE CalendarID = $calendar AND URI = $uri;`)
	defer stmt.Reset()
	stmt.SetText("$calendar", calendar)
	stmt.SetText("$uri", uri)
	if hasRow, err := stmt.Step(); err != nil {
		return CalendarObject{}, false, err
	} else if !hasRow {
		return CalendarObject{}, false, nil
	}
	obj := CalendarObject{
		Calendar:      calendar,
		URI:           uri,
		UID:           stmt.GetText("UID"),
		ComponentType: model.ComponentType(stmt.GetText("ComponentType")),
		Data:          stmt.GetText("Data"),
		ETag:          stmt.GetText("ETag"),
		LastModified:  time.Unix(0, stmt.GetInt64("LastModified")).UTC(),
	}
	return obj, true, nil
}

func (s *SQLite) List(ctx context.Context, calendar string) ([]Summary, error) {
	conn, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT URI, UID, ComponentType, ETag, LastModified
		FROM CalendarObjects WHERE CalendarID = $calendar ORDER BY URI;`)
	defer stmt.Reset()
	stmt.SetText("$calendar", calendar)

	out := []Summary{}
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		out = append(out, Summary{
			URI:           stmt.GetText("URI"),
			UID:           stmt.GetText("UID"),
			ComponentType: model.ComponentType(stmt.GetText("ComponentType")),
			ETag:          stmt.GetText("ETag"),
			LastModified:  time.Unix(0, stmt.GetInt64("LastModified")).UTC(),
		})
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return s.pool.Close()
}
