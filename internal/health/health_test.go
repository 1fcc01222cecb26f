package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwatch/internal/notifier"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	logx "socialwatch/pkg/logx"
)

type listStore []schedule.Schedule

func (l listStore) ListSchedules(context.Context, storage.ScheduleFilter) ([]schedule.Schedule, error) {
	return l, nil
}

type captured struct {
	got [][]Stale
	err error
}

func (c *captured) Notify(_ context.Context, s []Stale) error {
	c.got = append(c.got, s)
	return c.err
}

type queue struct{ msgs []notifier.Message }

func (q *queue) Notify(_ context.Context, m notifier.Message) error {
	q.msgs = append(q.msgs, m)
	return nil
}

func at(h int) time.Time { return time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC).Add(-time.Duration(h) * time.Hour) }

func ptr(t time.Time) *time.Time { return &t }

func TestCheckFindsStaleSchedules(t *testing.T) {
	t.Parallel()
	now := at(0)
	anchor := ptr(at(500))
	store := listStore{
		{ID: 1, Platform: schedule.PlatformTwitter, Subject: "fresh", Frequency: schedule.Daily(), AnchorTime: anchor, Enabled: true, LastRun: ptr(at(2)), CreatedAt: at(400)},
		{ID: 2, Platform: schedule.PlatformReddit, Subject: "golang", Frequency: schedule.Weekly(time.Monday), AnchorTime: anchor, Enabled: true, LastRun: ptr(at(72)), CreatedAt: at(400)},
		{ID: 3, Platform: schedule.PlatformTwitter, Subject: "new", Frequency: schedule.Hourly(), AnchorTime: anchor, Enabled: true, CreatedAt: at(10)},
		{ID: 4, Platform: schedule.PlatformTwitter, Subject: "forgotten", Frequency: schedule.Hourly(), AnchorTime: anchor, Enabled: true, CreatedAt: at(100)},
		{ID: 5, Platform: schedule.PlatformTwitter, Subject: "legacy", Frequency: schedule.Daily(), Enabled: true, CreatedAt: at(400)},
	}
	n := &captured{}
	stale, err := NewChecker(store, n, 0, logx.Nop()).Check(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, int64(4), stale[0].Schedule.ID)
	assert.True(t, stale[0].NeverRan)
	assert.Equal(t, int64(2), stale[1].Schedule.ID)
	assert.Equal(t, 72*time.Hour, stale[1].Age)
	require.Len(t, n.got, 1)
}

func TestCheckQuietWhenHealthy(t *testing.T) {
	t.Parallel()
	n := &captured{}
	stale, err := NewChecker(listStore{}, n, time.Hour, logx.Nop()).Check(context.Background(), at(0))
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Empty(t, n.got)
}

func TestCheckReturnsNotifyError(t *testing.T) {
	t.Parallel()
	store := listStore{{ID: 9, Platform: schedule.PlatformTwitter, Subject: "x", Frequency: schedule.Daily(), AnchorTime: ptr(at(500)), Enabled: true, CreatedAt: at(100)}}
	stale, err := NewChecker(store, &captured{err: errors.New("down")}, 0, logx.Nop()).Check(context.Background(), at(0))
	assert.Error(t, err)
	assert.Len(t, stale, 1)
}

func TestQueueNotifierFormats(t *testing.T) {
	t.Parallel()
	q := &queue{}
	err := QueueNotifier{Queue: q}.Notify(context.Background(), []Stale{{
		Schedule: schedule.Schedule{ID: 2, Platform: schedule.PlatformReddit, Subject: "golang", Frequency: schedule.Weekly(time.Monday)},
		Age:      73*time.Hour + 5*time.Minute,
	}})
	require.NoError(t, err)
	require.Len(t, q.msgs, 1)
	assert.Equal(t, 7, q.msgs[0].Priority)
	assert.Contains(t, q.msgs[0].Text, "#2 reddit/golang (weekly:monday): last run 73h0m0s ago")
}
