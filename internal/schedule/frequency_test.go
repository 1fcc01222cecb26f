package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	t.Parallel()

	cases := map[string]Frequency{
		"once":           Once(),
		"Hourly":         Hourly(),
		" daily ":        Daily(),
		"weekly:monday":  Weekly(time.Monday),
		"weekly:sun":     Weekly(time.Sunday),
		"WEEKLY:Friday":  Weekly(time.Friday),
		"one_time":       Once(),
	}
	for in, want := range cases {
		got, err := ParseFrequency(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "weekly", "weekly:someday", "monthly"} {
		_, err := ParseFrequency(bad)
		require.ErrorIs(t, err, ErrInvalidSchedule, bad)
	}
}

func TestFrequencyTextRoundTrip(t *testing.T) {
	t.Parallel()

	var f Frequency
	require.NoError(t, f.UnmarshalText([]byte("weekly:tuesday")))
	b, err := f.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "weekly:tuesday", string(b))

	_, err = Frequency{}.MarshalText()
	require.Error(t, err)
}

func TestScheduleDueAt(t *testing.T) {
	t.Parallel()

	now := ts("2024-01-01T09:00:00Z")
	anchor := now
	s := Schedule{Enabled: true, AnchorTime: &anchor, NextRun: ptr(now.Add(3 * time.Minute))}

	require.False(t, s.DueAt(now, 0))
	require.True(t, s.DueAt(now, 5*time.Minute))

	s.Enabled = false
	require.False(t, s.DueAt(now, time.Hour))

	s.Enabled = true
	s.AnchorTime = nil
	require.True(t, s.IsLegacy())
	require.False(t, s.DueAt(now, time.Hour))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Nil(t, NormalizeKeywords([]string{" ", ""}))
	require.Equal(t, []string{"Go", "rust"}, NormalizeKeywords([]string{"Go", " go ", "rust"}))
	require.Equal(t, "golang", NormalizeSubject(PlatformReddit, "/r/golang"))
	require.Equal(t, "jack", NormalizeSubject(PlatformTwitter, "@jack"))
}
