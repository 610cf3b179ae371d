package alert

import "time"

// DaysRemaining returns the number of whole days between today and the expiry
// date, both truncated to midnight. Negative when the date has passed.
func DaysRemaining(expiry, today time.Time) int {
	e := truncateDay(expiry)
	t := truncateDay(today)
	return int(e.Sub(t).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Classify derives the severity tier for an expiry date against a reference
// clock. The clock is captured once per scan run and threaded through, so a
// long scan cannot straddle a day boundary inconsistently.
//
// The expiry day itself already counts as expired: non-compliance starts the
// moment the document stops being valid, not the day after. The urgent window
// therefore begins the day after expiry.
func Classify(expiry *time.Time, today time.Time, t Thresholds) Severity {
	if expiry == nil {
		return SeverityMissing
	}

	days := DaysRemaining(*expiry, today)
	switch {
	case days <= 0:
		return SeverityExpired
	case days <= t.UrgentDays:
		return SeverityUrgent
	case days <= t.WarningDays:
		return SeverityWarning
	default:
		return SeverityNone
	}
}
