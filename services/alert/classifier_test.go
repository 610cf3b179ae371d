package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDaysRemaining(t *testing.T) {
	today := date(2026, time.March, 15)

	require.Equal(t, 0, DaysRemaining(date(2026, time.March, 15), today))
	require.Equal(t, 1, DaysRemaining(date(2026, time.March, 16), today))
	require.Equal(t, -1, DaysRemaining(date(2026, time.March, 14), today))
	require.Equal(t, 31, DaysRemaining(date(2026, time.April, 15), today))

	// Intra-day times are ignored; only the calendar day counts.
	late := time.Date(2026, time.March, 16, 23, 59, 0, 0, time.UTC)
	require.Equal(t, 1, DaysRemaining(late, today))
}

func TestClassifyBoundaries(t *testing.T) {
	today := date(2026, time.March, 15)
	th := DefaultThresholds

	cases := []struct {
		name   string
		expiry time.Time
		want   Severity
	}{
		{"expires today is already expired", date(2026, time.March, 15), SeverityExpired},
		{"past date", date(2026, time.February, 1), SeverityExpired},
		{"tomorrow is urgent", date(2026, time.March, 16), SeverityUrgent},
		{"day 7 is urgent", date(2026, time.March, 22), SeverityUrgent},
		{"day 8 is warning", date(2026, time.March, 23), SeverityWarning},
		{"day 30 is warning", date(2026, time.April, 14), SeverityWarning},
		{"day 31 is clean", date(2026, time.April, 15), SeverityNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expiry := tc.expiry
			require.Equal(t, tc.want, Classify(&expiry, today, th))
		})
	}
}

func TestClassifyMissingDate(t *testing.T) {
	require.Equal(t, SeverityMissing, Classify(nil, date(2026, time.March, 15), DefaultThresholds))
}

func TestClassifyCustomThresholds(t *testing.T) {
	today := date(2026, time.March, 15)
	th := Thresholds{UrgentDays: 3, WarningDays: 14}

	day5 := date(2026, time.March, 20)
	require.Equal(t, SeverityWarning, Classify(&day5, today, th))

	day3 := date(2026, time.March, 18)
	require.Equal(t, SeverityUrgent, Classify(&day3, today, th))

	day15 := date(2026, time.March, 30)
	require.Equal(t, SeverityNone, Classify(&day15, today, th))
}

func TestSeverityRankOrdering(t *testing.T) {
	require.Greater(t, SeverityWarning.Rank(), SeverityNone.Rank())
	require.Greater(t, SeverityUrgent.Rank(), SeverityWarning.Rank())
	require.Greater(t, SeverityExpired.Rank(), SeverityUrgent.Rank())
	// missing is treated as severe as expired
	require.Equal(t, SeverityExpired.Rank(), SeverityMissing.Rank())
}
