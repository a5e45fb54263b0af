package domain

import "time"

// DateLayout is the format of Match.MatchDate.
const DateLayout = "2006-01-02"

// MatchDate returns the cycle day that t falls on in loc. A nil loc means UTC.
func MatchDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
