package replica

import (
	"database/sql"
	"fmt"
	"time"
)

// WMFTimestamp is the 14-digit timestamp format MediaWiki stores in
// binary(14) columns.
const WMFTimestamp = "20060102150405"

// FormatTimestamp renders t (in UTC) as a MediaWiki timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(WMFTimestamp)
}

// ParseTimestamp parses a MediaWiki timestamp as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(WMFTimestamp, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid wmf timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullTimestamp converts a nullable timestamp column; null and empty are nil.
func nullTimestamp(ns sql.NullString) (any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	return ParseTimestamp(ns.String)
}

// nullText decodes a nullable binary text column; null and empty are nil.
func nullText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullInt(n sql.NullInt64) any {
	if !n.Valid {
		return nil
	}
	return n.Int64
}
