// Package scheduler runs the in-process schedule loop.
//
// A robfig/cron instance drives named jobs. The main job is the poll tick,
// which keeps a cached active set of schedules in sync with the store
// (refreshed only when the store's schedule revision moves), executes the
// due ones one by one through the execution engine and then reschedules
// each handle from the stored row. Other jobs (the daily health check) are
// registered with AddJob.
package scheduler
