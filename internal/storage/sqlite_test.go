package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"socialwatch/internal/schedule"
	logx "socialwatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func tp(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestScheduleLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	rev0, err := st.ScheduleRevision(ctx)
	require.NoError(t, err)

	created, err := st.CreateSchedule(ctx, schedule.Schedule{
		Platform:   schedule.PlatformReddit,
		Subject:    "golang",
		Keywords:   []string{"generics", "iterators"},
		Frequency:  schedule.Weekly(time.Monday),
		AnchorTime: tp("2024-01-01T09:00:00Z"),
		Enabled:    true,
		NextRun:    tp("2024-01-01T09:00:00Z"),
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, schedule.Weekly(time.Monday), created.Frequency)
	require.Equal(t, []string{"generics", "iterators"}, created.Keywords)
	require.Nil(t, created.LastRun)

	rev1, err := st.ScheduleRevision(ctx)
	require.NoError(t, err)
	require.Greater(t, rev1, rev0)

	_, err = st.SetScheduleEnabled(ctx, created.ID, true)
	require.ErrorIs(t, err, ErrConflict)

	paused, err := st.SetScheduleEnabled(ctx, created.ID, false)
	require.NoError(t, err)
	require.False(t, paused.Enabled)
	require.Equal(t, created.NextRun, paused.NextRun)

	// A run finishing after a pause must not re-enable.
	after, err := st.RecordRun(ctx, created.ID, RunUpdate{
		LastRun:    *tp("2024-01-01T09:00:30Z"),
		SetNextRun: true,
		NextRun:    tp("2024-01-08T09:00:00Z"),
	})
	require.NoError(t, err)
	require.False(t, after.Enabled)
	require.Equal(t, tp("2024-01-08T09:00:00Z"), after.NextRun)

	require.NoError(t, st.DeleteSchedule(ctx, created.ID))
	require.ErrorIs(t, st.DeleteSchedule(ctx, created.ID), ErrNotFound)
	_, err = st.GetSchedule(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.RecordRun(ctx, created.ID, RunUpdate{LastRun: time.Now()})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.SetScheduleEnabled(ctx, created.ID, true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListSchedulesFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	mk := func(subject string, enabled bool, next *time.Time, anchor *time.Time) {
		_, err := st.CreateSchedule(ctx, schedule.Schedule{
			Platform: schedule.PlatformTwitter, Subject: subject, Frequency: schedule.Daily(),
			AnchorTime: anchor, Enabled: enabled, NextRun: next,
		})
		require.NoError(t, err)
	}
	anchor := tp("2024-01-01T09:00:00Z")
	mk("late", true, tp("2024-01-01T12:00:00Z"), anchor)
	mk("early", true, tp("2024-01-01T09:00:00Z"), anchor)
	mk("paused", false, tp("2024-01-01T08:00:00Z"), anchor)
	mk("legacy", true, nil, nil)

	due, err := st.ListSchedules(ctx, ScheduleFilter{EnabledOnly: true, DueBefore: tp("2024-01-01T10:00:00Z")})
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "early", due[0].Subject)

	all, err := st.ListSchedules(ctx, ScheduleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "paused", all[0].Subject)
	require.Equal(t, "legacy", all[3].Subject)

	legacy, err := st.ListSchedules(ctx, ScheduleFilter{LegacyOnly: true})
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	require.True(t, legacy[0].IsLegacy())
}

func TestInsertItemsDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	items := []CollectedItem{
		{ItemID: "a", Subject: "jack", Platform: schedule.PlatformTwitter, Text: "first"},
		{ItemID: "b", Subject: "jack", Platform: schedule.PlatformTwitter, Text: "second"},
	}
	n, err := st.InsertItems(ctx, items)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	items[0].Text = "changed"
	n, err = st.InsertItems(ctx, append(items, CollectedItem{ItemID: "c", Subject: "jack", Platform: schedule.PlatformTwitter}))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	total, err := st.CountItems(ctx, "jack")
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestReportsAndArchive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	sid := int64(42)
	id, err := st.InsertReport(ctx, Report{
		ScheduleID: &sid, Platform: schedule.PlatformReddit, Subject: "golang", ItemCount: 3,
		Classification: Classification{AccountType: "community", LeadScore: 5, Positive: 2},
		RenderedText:   "report", RawPayload: []byte(`{"n":3}`),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, st.InsertArchive(ctx, ArchiveRecord{
		ID: "7b0f3f3e-6a3c-4c1e-9a43-0b3c9d1a2f10", ReportID: &id, Subject: "golang",
		Platform: schedule.PlatformReddit, ScrapedAt: time.Now(), Kind: ScrapeScheduled,
		Entities: Entities{Hashtags: []string{"#go"}},
	}))

	reports, err := st.ListReports(ctx, ReportFilter{Subject: "golang"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, &sid, reports[0].ScheduleID)
	require.Equal(t, "community", reports[0].Classification.AccountType)
	require.JSONEq(t, `{"n":3}`, string(reports[0].RawPayload))

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "pause", ScheduleID: 1, Status: "ok"}))
}

func TestNormalizeDSN(t *testing.T) {
	t.Parallel()
	require.Equal(t, "postgresql://u:p@h/db", NormalizeDSN(" postgres://u:p@h/db "))
	require.Equal(t, "postgresql://h/db", NormalizeDSN("postgresql://h/db"))
}
