package app

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwatch/internal/collect"
	"socialwatch/internal/fetch"
	"socialwatch/internal/health"
	"socialwatch/internal/report"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	"socialwatch/internal/task/reconcile"
	"socialwatch/internal/task/scheduler"
	logx "socialwatch/pkg/logx"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tp(s string) *time.Time { t := ts(s); return &t }

type countingFetcher struct{ calls atomic.Int32 }

func (f *countingFetcher) Fetch(_ context.Context, q fetch.Query) (fetch.Batch, error) {
	n := f.calls.Add(1)
	return fetch.Batch{Query: q, Items: []fetch.Item{{
		ID:       string(q.Platform) + ":" + q.Subject + "-" + string(rune('a'+n)),
		Platform: q.Platform,
		Text:     "great launch today",
	}}}, nil
}

type staleSink struct{ got [][]health.Stale }

func (s *staleSink) Notify(_ context.Context, stale []health.Stale) error {
	s.got = append(s.got, stale)
	return nil
}

type fixture struct {
	store   storage.Store
	fetcher *countingFetcher
	loop    *scheduler.Service
	sink    *staleSink
	svc     *Service
}

func newFixture(t *testing.T, now string) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "app.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &countingFetcher{}
	eng := engine.New(engine.Config{}, st, f, report.NewTextBuilder(report.Config{}), collect.NewIngester(st, logx.Nop()), logx.Nop())
	loop := scheduler.New(scheduler.Config{Enabled: true}, st, eng, logx.Nop())
	rec, err := reconcile.New(reconcile.Config{}, st, eng, logx.Nop())
	require.NoError(t, err)
	sink := &staleSink{}
	svc := NewService(st, eng, loop, rec, health.NewChecker(st, sink, 48*time.Hour, logx.Nop()), logx.Nop())
	clock := ts(now)
	svc.now = func() time.Time { return clock }
	return &fixture{store: st, fetcher: f, loop: loop, sink: sink, svc: svc}
}

func (fx *fixture) active(id int64) bool {
	for _, sc := range fx.loop.Active() {
		if sc.ID == id {
			return true
		}
	}
	return false
}

func view(t *testing.T, res Result) ScheduleView {
	t.Helper()
	require.Equal(t, StatusOK, res.Status, res.Message)
	v, ok := res.Data.(ScheduleView)
	require.True(t, ok, "data is %T", res.Data)
	return v
}

func TestCreateScheduleRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")

	cases := map[string]CreateScheduleRequest{
		"missing subject":    {Platform: "twitter", Frequency: "daily", Time: "09:00"},
		"unknown platform":   {Platform: "mastodon", Subject: "a", Frequency: "daily", Time: "09:00"},
		"bad time":           {Platform: "twitter", Subject: "a", Frequency: "daily", Time: "25:00"},
		"missing time":       {Platform: "twitter", Subject: "a", Frequency: "daily"},
		"weekly without day": {Platform: "reddit", Subject: "golang", Frequency: "weekly", Time: "09:00"},
		"unknown frequency":  {Platform: "reddit", Subject: "golang", Frequency: "monthly", Time: "09:00"},
		"past anchor":        {Platform: "twitter", Subject: "a", Frequency: "once", AnchorTime: tp("2023-12-31T09:00:00Z")},
		"anchor at now":      {Platform: "twitter", Subject: "a", Frequency: "daily", AnchorTime: tp("2024-01-01T10:00:00Z")},
		"anchor wrong day":   {Platform: "reddit", Subject: "golang", Frequency: "weekly", Day: "monday", AnchorTime: tp("2024-01-09T09:00:00Z")},
	}
	for name, req := range cases {
		res := fx.svc.CreateSchedule(context.Background(), req)
		assert.Equal(t, StatusInvalid, res.Status, name)
		assert.NotEmpty(t, res.Message, name)
	}

	list := fx.svc.List(context.Background(), ListFilter{})
	require.True(t, list.OK())
	assert.Empty(t, list.Data)
}

func TestCreateScheduleAnchorsNextRun(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")

	v := view(t, fx.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		Platform:  "twitter",
		Subject:   "@golang",
		Keywords:  []string{"release", " Release ", ""},
		Frequency: "daily",
		Time:      "09:00",
	}))
	assert.Equal(t, "golang", v.Subject)
	assert.Equal(t, []string{"release"}, v.Keywords)
	assert.Equal(t, tp("2024-01-02T09:00:00Z"), v.AnchorTime)
	assert.Equal(t, v.AnchorTime, v.NextRun)
	assert.True(t, v.Enabled)
	assert.True(t, fx.active(v.ID))

	w := view(t, fx.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		Platform: "reddit", Subject: "r/golang", Frequency: "weekly", Day: "monday", Time: "09:00",
	}))
	assert.Equal(t, "golang", w.Subject)
	assert.Equal(t, "weekly:monday", w.Frequency)
	// 2024-01-01 is a Monday and 09:00 has passed.
	assert.Equal(t, tp("2024-01-08T09:00:00Z"), w.NextRun)

	once := view(t, fx.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		Platform: "twitter", Subject: "golang", Frequency: "once", AnchorTime: tp("2024-03-15T14:30:00Z"),
	}))
	assert.Equal(t, tp("2024-03-15T14:30:00Z"), once.AnchorTime)
	assert.Equal(t, once.AnchorTime, once.NextRun)

	// The weekday follows the anchor when no day is given (2024-01-09 is a Tuesday).
	tue := view(t, fx.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		Platform: "reddit", Subject: "rust", Frequency: "weekly", AnchorTime: tp("2024-01-09T18:00:00Z"),
	}))
	assert.Equal(t, "weekly:tuesday", tue.Frequency)
	assert.Equal(t, tp("2024-01-09T18:00:00Z"), tue.NextRun)
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")
	ctx := context.Background()
	v := view(t, fx.svc.CreateSchedule(ctx, CreateScheduleRequest{Platform: "twitter", Subject: "a", Frequency: "hourly", Time: "10:30"}))

	paused := view(t, fx.svc.Pause(ctx, v.ID, "tester"))
	assert.False(t, paused.Enabled)
	assert.Equal(t, v.NextRun, paused.NextRun, "pause never moves next_run")
	assert.False(t, fx.active(v.ID))
	assert.Equal(t, StatusConflict, fx.svc.Pause(ctx, v.ID, "tester").Status)

	resumed := view(t, fx.svc.Resume(ctx, v.ID, "tester"))
	assert.True(t, resumed.Enabled)
	assert.Equal(t, v.NextRun, resumed.NextRun)
	assert.True(t, fx.active(v.ID))
	assert.Equal(t, StatusConflict, fx.svc.Resume(ctx, v.ID, "tester").Status)

	assert.Equal(t, StatusNotFound, fx.svc.Pause(ctx, 999, "tester").Status)
	assert.Equal(t, StatusNotFound, fx.svc.Resume(ctx, 999, "tester").Status)
}

func TestDeleteRemovesHandle(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")
	ctx := context.Background()
	v := view(t, fx.svc.CreateSchedule(ctx, CreateScheduleRequest{Platform: "twitter", Subject: "a", Frequency: "daily", Time: "09:00"}))
	require.True(t, fx.active(v.ID))

	assert.Equal(t, StatusOK, fx.svc.Delete(ctx, v.ID, "tester").Status)
	assert.False(t, fx.active(v.ID))
	assert.Equal(t, StatusNotFound, fx.svc.Get(ctx, v.ID).Status)
	assert.Equal(t, StatusNotFound, fx.svc.Delete(ctx, v.ID, "tester").Status)
}

func TestRunNowKeepsNextRun(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")
	ctx := context.Background()
	v := view(t, fx.svc.CreateSchedule(ctx, CreateScheduleRequest{Platform: "twitter", Subject: "a", Frequency: "daily", Time: "09:00"}))

	res := fx.svc.RunNow(ctx, v.ID, "tester")
	require.Equal(t, StatusOK, res.Status, res.Message)
	r := res.Data.(engine.Result)
	assert.Equal(t, engine.OutcomeExecuted, r.Outcome)
	assert.NotZero(t, r.ReportID)
	assert.EqualValues(t, 1, fx.fetcher.calls.Load())

	after := view(t, fx.svc.Get(ctx, v.ID))
	assert.Equal(t, v.NextRun, after.NextRun)
	assert.Equal(t, tp("2024-01-01T10:00:00Z"), after.LastRun)

	assert.Equal(t, StatusNotFound, fx.svc.RunNow(ctx, 999, "tester").Status)
	require.True(t, fx.svc.Pause(ctx, v.ID, "tester").OK())
	assert.Equal(t, StatusConflict, fx.svc.RunNow(ctx, v.ID, "tester").Status)
}

func TestOnceScheduleLeavesListDueAfterReconcile(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")
	ctx := context.Background()
	sc, err := fx.store.CreateSchedule(ctx, schedule.Schedule{
		Platform: schedule.PlatformReddit, Subject: "golang", Frequency: schedule.Once(),
		AnchorTime: tp("2024-01-01T09:00:00Z"), NextRun: tp("2024-01-01T09:00:00Z"), Enabled: true,
	})
	require.NoError(t, err)

	due := fx.svc.ListDue(ctx, ts("2024-01-01T09:30:00Z"))
	require.True(t, due.OK())
	require.Len(t, due.Data, 1)

	rec := fx.svc.Reconcile(ctx, ts("2024-01-01T09:30:00Z"))
	require.Equal(t, StatusOK, rec.Status, rec.Message)
	rep := rec.Data.(reconcile.Report)
	require.Len(t, rep.Executed, 1)
	assert.Equal(t, sc.ID, rep.Executed[0].ScheduleID)

	got := view(t, fx.svc.Get(ctx, sc.ID))
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRun)

	due = fx.svc.ListDue(ctx, ts("2024-01-05T00:00:00Z"))
	require.True(t, due.OK())
	assert.Empty(t, due.Data)
}

func TestCleanupLegacy(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")
	ctx := context.Background()
	legacy, err := fx.store.CreateSchedule(ctx, schedule.Schedule{
		Platform: schedule.PlatformTwitter, Subject: "old", Frequency: schedule.Daily(), Enabled: true,
	})
	require.NoError(t, err)
	v := view(t, fx.svc.CreateSchedule(ctx, CreateScheduleRequest{Platform: "twitter", Subject: "new", Frequency: "daily", Time: "09:00"}))

	res := fx.svc.CleanupLegacy(ctx, "tester")
	require.True(t, res.OK())
	views := res.Data.([]ScheduleView)
	require.Len(t, views, 1)
	assert.Equal(t, legacy.ID, views[0].ID)
	assert.False(t, views[0].Enabled)
	assert.True(t, views[0].Legacy)

	assert.True(t, view(t, fx.svc.Get(ctx, v.ID)).Enabled)
	assert.Equal(t, StatusInvalid, fx.svc.Resume(ctx, legacy.ID, "tester").Status)

	again := fx.svc.CleanupLegacy(ctx, "tester")
	require.True(t, again.OK())
	assert.Empty(t, again.Data)
}

func TestCheckHealthReportsStale(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-10T08:00:00Z")
	ctx := context.Background()
	old, err := fx.store.CreateSchedule(ctx, schedule.Schedule{
		Platform: schedule.PlatformTwitter, Subject: "quiet", Frequency: schedule.Daily(),
		AnchorTime: tp("2024-01-01T09:00:00Z"), NextRun: tp("2024-01-11T09:00:00Z"), Enabled: true,
		CreatedAt: ts("2024-01-01T00:00:00Z"),
	})
	require.NoError(t, err)
	_, err = fx.store.CreateSchedule(ctx, schedule.Schedule{
		Platform: schedule.PlatformTwitter, Subject: "fresh", Frequency: schedule.Daily(),
		AnchorTime: tp("2024-01-09T09:00:00Z"), NextRun: tp("2024-01-10T09:00:00Z"), Enabled: true,
		CreatedAt: ts("2024-01-09T00:00:00Z"),
	})
	require.NoError(t, err)

	res := fx.svc.CheckHealth(ctx, time.Time{})
	require.True(t, res.OK(), res.Message)
	stale := res.Data.([]health.Stale)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].Schedule.ID)
	assert.True(t, stale[0].NeverRan)
	require.Len(t, fx.sink.got, 1)
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, int64, engine.Trigger) engine.Result {
	panic("boom")
}
func (panickingExecutor) Forget(int64)                     {}
func (panickingExecutor) History(int) []engine.HistoryItem { return nil }

func TestCommandPanicBecomesError(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "2024-01-01T10:00:00Z")
	svc := NewService(fx.store, panickingExecutor{}, nil, nil, nil, logx.Nop())

	res := svc.RunNow(context.Background(), 1, "tester")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "run")
}
