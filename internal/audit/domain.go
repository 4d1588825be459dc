// Package audit exposes a read-only timeline over audit_logs so operators can
// trace who touched what and when inside a company.
package audit

import (
	"errors"
	"time"
)

// Entry is one recorded action on the timeline.
type Entry struct {
	ID        int64
	CompanyID int64
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// Filters narrows the timeline listing. Zero values mean "no filter".
type Filters struct {
	From    time.Time
	To      time.Time
	ActorID int64
	Entity  string
	Action  string
	Page    int
	PerPage int
}

// ErrInvalidRange is returned when From is after To.
var ErrInvalidRange = errors.New("audit: from must not be after to")
