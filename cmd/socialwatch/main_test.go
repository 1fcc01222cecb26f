package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNow(t *testing.T) {
	got, err := parseNow("2024-03-04T05:06:07+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 3, 6, 7, 0, time.UTC), got)

	got, err = parseNow("")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got, time.Minute)

	_, err = parseNow("tomorrow")
	assert.ErrorContains(t, err, "--now")
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"reconcile"},
		{"health"},
		{"cleanup-legacy"},
		{"schedules", "add"},
		{"schedules", "pause"},
		{"sched", "run"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.NotEqual(t, rootCmd, c, path)
	}
}
