// Package storage persists schedules, reports, the research archive and the
// deduplicated item set.
//
// Drivers:
//   - "sqlite": single-file database (default)
//   - "postgres": pgx connection pool, selected when a DATABASE_URL is set
//
// Every schedule write bumps a revision counter in the same transaction, so
// in-memory caches can tell when to reload.
package storage
