package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwatch/internal/collect"
	"socialwatch/internal/fetch"
	"socialwatch/internal/report"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
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

type subjectFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (f *subjectFetcher) Fetch(_ context.Context, q fetch.Query) (fetch.Batch, error) {
	f.mu.Lock()
	f.calls[q.Subject]++
	f.mu.Unlock()
	if q.Subject == f.fail {
		return fetch.Batch{}, &fetch.Error{Platform: q.Platform, Op: "search", StatusCode: 502, Reached: true, Err: errors.New("bad gateway")}
	}
	return fetch.Batch{Query: q, Items: []fetch.Item{{ID: "twitter:" + q.Subject, Platform: q.Platform, Text: "hi"}}}, nil
}

func setup(t *testing.T, cfg Config) (storage.Store, *subjectFetcher, *Service) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := &subjectFetcher{calls: map[string]int{}, fail: "broken"}
	eng := engine.New(engine.Config{}, st, f, report.NewTextBuilder(report.Config{}), collect.NewIngester(st, logx.Nop()), logx.Nop())
	svc, err := New(cfg, st, eng, logx.Nop())
	require.NoError(t, err)
	return st, f, svc
}

func add(t *testing.T, st storage.Store, subject string, f schedule.Frequency, next string) schedule.Schedule {
	t.Helper()
	sc, err := st.CreateSchedule(context.Background(), schedule.Schedule{
		Platform: schedule.PlatformTwitter, Subject: subject, Frequency: f,
		AnchorTime: tp(next), NextRun: tp(next), Enabled: true,
	})
	require.NoError(t, err)
	return sc
}

func ids(items []Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ScheduleID)
	}
	return out
}

func TestReconcileDueIn40MinutesIsNotYetDue(t *testing.T) {
	t.Parallel()
	st, f, svc := setup(t, Config{Lookahead: time.Hour, Tolerance: 5 * time.Minute})
	sc := add(t, st, "soon", schedule.Daily(), "2024-01-01T09:40:00Z")

	rep, err := svc.Reconcile(context.Background(), ts("2024-01-01T09:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, rep.Executed)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, sc.ID, rep.Skipped[0].ScheduleID)
	assert.Equal(t, engine.ReasonNotYetDue, rep.Skipped[0].Reason)
	assert.Zero(t, f.calls["soon"])
}

func TestReconcileMixedBatch(t *testing.T) {
	t.Parallel()
	st, f, svc := setup(t, Config{Lookahead: time.Hour, Tolerance: 5 * time.Minute})
	due := add(t, st, "due", schedule.Daily(), "2024-01-01T08:30:00Z")
	early := add(t, st, "early", schedule.Hourly(), "2024-01-01T09:03:00Z")
	broken := add(t, st, "broken", schedule.Daily(), "2024-01-01T09:00:00Z")
	far := add(t, st, "far", schedule.Daily(), "2024-01-01T15:00:00Z")

	rep, err := svc.Reconcile(context.Background(), ts("2024-01-01T09:00:00Z"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{due.ID, early.ID}, ids(rep.Executed))
	assert.Equal(t, []int64{broken.ID}, ids(rep.Errors))
	assert.Equal(t, engine.ReasonFetch, rep.Errors[0].Reason)
	assert.NotContains(t, ids(rep.Skipped), far.ID)

	for _, it := range rep.Executed {
		require.NotNil(t, it.NextRun)
		assert.True(t, it.NextRun.After(ts("2024-01-01T09:05:00Z")))
	}

	// Same instant again: nothing left to run.
	rep, err = svc.Reconcile(context.Background(), ts("2024-01-01T09:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, rep.Executed)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, 1, f.calls["due"])
	assert.Equal(t, 1, f.calls["early"])
}

func TestReconcileConcurrentCallsRunOnce(t *testing.T) {
	t.Parallel()
	st, f, svc := setup(t, Config{Lookahead: time.Hour, Tolerance: time.Minute})
	for _, s := range []string{"a", "b", "c"} {
		add(t, st, s, schedule.Daily(), "2024-01-01T08:00:00Z")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reconcile(context.Background(), ts("2024-01-01T09:00:00Z"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, s := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, f.calls[s], s)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Lookahead: time.Hour, Tolerance: 5 * time.Minute}.Validate())
	assert.ErrorIs(t, Config{Lookahead: time.Hour, Tolerance: time.Hour}.Validate(), ErrInvalidWindow)
	assert.ErrorIs(t, Config{Lookahead: time.Minute, Tolerance: -time.Second}.Validate(), ErrInvalidWindow)

	_, _, svc := setup(t, Config{})
	assert.Error(t, svc.Apply(Config{Lookahead: time.Minute, Tolerance: 2 * time.Minute}))
	assert.Equal(t, DefaultLookahead, svc.Config().Lookahead)
}
