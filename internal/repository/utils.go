package repository

import "time"

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// boolToInt converts a boolean to an integer (1 or 0) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sqliteNow formats the current UTC time the way SQLite's
// CURRENT_TIMESTAMP does.
func sqliteNow() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
