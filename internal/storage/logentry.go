package storage

import "time"

// RecentWindow is how far back a log entry still counts as recent.
const RecentWindow = 24 * time.Hour

// LogEntry is an activity record. Only Datetime matters for recency.
type LogEntry struct {
	ID       int64     `db:"id"`
	Datetime time.Time `db:"datetime"`
	Level    string    `db:"level"`
	Message  string    `db:"message"`
	Actor    string    `db:"actor"`
}

// Recent reports whether the entry was written within the last 24 hours.
func (e *LogEntry) Recent() bool {
	return e.RecentAt(time.Now())
}

// RecentAt is Recent evaluated at now. An entry exactly RecentWindow old is
// not recent; timestamps after now are.
func (e *LogEntry) RecentAt(now time.Time) bool {
	return now.Sub(e.Datetime) < RecentWindow
}
