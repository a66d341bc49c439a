package quota

import "time"

// dayLayout matches the "Tue Mar 03 2026" form the extension stored.
const dayLayout = "Mon Jan 02 2006"

// DayMarker returns the calendar-day marker for now in now's location.
func DayMarker(now time.Time) string {
	return now.Format(dayLayout)
}

// IsSameDay reports whether marker names the calendar day containing now.
func IsSameDay(marker string, now time.Time) bool {
	return marker != "" && marker == DayMarker(now)
}

// ResetTime returns the start of the calendar day after now, in now's location.
func ResetTime(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
