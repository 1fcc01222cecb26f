package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func TestNextRun(t *testing.T) {
	t.Parallel()

	anchor := ts("2024-01-01T09:00:00Z") // Monday

	cases := []struct {
		name string
		freq Frequency
		now  string
		want string
	}{
		{"daily exact instant rolls to tomorrow", Daily(), "2024-01-01T09:00:00Z", "2024-01-02T09:00:00Z"},
		{"daily before time stays today", Daily(), "2024-01-01T08:59:00Z", "2024-01-01T09:00:00Z"},
		{"daily sub-second after rolls", Daily(), "2024-01-01T09:00:00.5Z", "2024-01-02T09:00:00Z"},
		{"hourly keeps anchor minute", Hourly(), "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z"},
		{"hourly mid-hour", Hourly(), "2024-01-01T13:27:00Z", "2024-01-01T14:00:00Z"},
		{"weekly same day same instant rolls a week", Weekly(time.Monday), "2024-01-01T09:00:00Z", "2024-01-08T09:00:00Z"},
		{"weekly same day earlier", Weekly(time.Monday), "2024-01-08T08:00:00Z", "2024-01-08T09:00:00Z"},
		{"weekly other day", Weekly(time.Friday), "2024-01-01T09:00:00Z", "2024-01-05T09:00:00Z"},
		{"non-utc now is normalized", Daily(), "2024-01-01T10:30:00+02:00", "2024-01-02T09:00:00Z"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextRun(tc.freq, &anchor, ts(tc.now))
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, ts(tc.want).UTC(), *got)
			require.Equal(t, time.UTC, got.Location())
			require.True(t, got.After(ts(tc.now)))
		})
	}
}

func TestNextRunOnceIsNil(t *testing.T) {
	t.Parallel()

	anchor := ts("2024-01-01T09:00:00Z")
	got, err := NextRun(Once(), &anchor, anchor)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestNextRunRequiresAnchor(t *testing.T) {
	t.Parallel()

	_, err := NextRun(Daily(), nil, time.Now())
	require.True(t, errors.Is(err, ErrInvalidSchedule))

	_, err = NextRun(Frequency{}, ptr(time.Now()), time.Now())
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestNextRunStrictlyFutureSweep(t *testing.T) {
	t.Parallel()

	anchor := ts("2024-03-10T23:59:00Z")
	now := ts("2024-03-01T00:00:00Z")
	for _, f := range []Frequency{Hourly(), Daily(), Weekly(time.Sunday), Weekly(time.Wednesday)} {
		cur := now
		for i := 0; i < 200; i++ {
			next, err := NextRun(f, &anchor, cur)
			require.NoError(t, err)
			require.True(t, next.After(cur), "%s: %s !> %s", f, next, cur)
			require.Equal(t, 59, next.Minute())
			cur = *next
		}
	}
}

func TestAnchorFor(t *testing.T) {
	t.Parallel()

	now := ts("2024-01-03T12:00:00Z") // Wednesday
	a, err := AnchorFor(Daily(), "09:30", now)
	require.NoError(t, err)
	require.Equal(t, ts("2024-01-04T09:30:00Z"), a)

	a, err = AnchorFor(Weekly(time.Wednesday), "12:00", now)
	require.NoError(t, err)
	require.Equal(t, ts("2024-01-10T12:00:00Z"), a)

	_, err = AnchorFor(Daily(), "25:00", now)
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestCheckAnchor(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	got, err := CheckAnchor(Once(), time.Date(2024, 3, 15, 14, 30, 45, 0, time.FixedZone("x", 2*3600)), now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC), got)

	_, err = CheckAnchor(Daily(), now, now)
	assert.ErrorIs(t, err, ErrInvalidSchedule, "equal to now is not future")
	_, err = CheckAnchor(Daily(), now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	// 2024-01-09 is a Tuesday.
	_, err = CheckAnchor(Weekly(time.Monday), time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC), now)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = CheckAnchor(Weekly(time.Tuesday), time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC), now)
	assert.NoError(t, err)
}
