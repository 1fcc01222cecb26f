package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWithFieldsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "engine"))
	l.Debug("hidden")
	l.Info("ran", Int64("schedule_id", 7), Err(errors.New("boom")), TimePtr("next_run", nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	require.Equal(t, "ran", m["message"])
	require.Equal(t, "engine", m["comp"])
	require.EqualValues(t, 7, m["schedule_id"])
	require.Equal(t, "boom", m["err"])
	require.Contains(t, m, "next_run")
	require.Nil(t, m["next_run"])
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()

	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing happens")
	require.False(t, Nop().IsZero())
}

func TestCronLoggerFoldsKeyValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cl := CronLogger(NewWriter(&buf, "debug"))
	cl.Info("schedule", "entry", 3, "dangling")

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	require.Equal(t, "cron: schedule", m["message"])
	require.EqualValues(t, 3, m["entry"])
	require.Equal(t, "dangling", m["extra"])
}

func TestParseLevelDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	require.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
}
