// Package journal keeps an append-only SQLite record of marker commits and
// deletions: who added or removed which marker, and when.
//
// The journal is write-only from the service's point of view. The marker
// store is never rebuilt from it; the "mapfeed journal" command reads it for
// operators.
//
// The database uses modernc.org/sqlite (pure Go) in WAL mode:
//
//	j, err := journal.Open("~/.local/share/mapfeed/journal.db", logger)
//	err = j.Record(ctx, journal.Entry{Action: journal.ActionAdd, ...})
//	entries, err := j.List(ctx, journal.Filter{Limit: 50})
package journal
