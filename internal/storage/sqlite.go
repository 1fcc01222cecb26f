package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"socialwatch/internal/schedule"
	logx "socialwatch/pkg/logx"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage.sqlite"))}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteScheduleCols = `id, platform, subject, keywords, frequency, anchor_time, enabled, last_run, next_run, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSchedule(r rowScanner) (schedule.Schedule, error) {
	var (
		out                schedule.Schedule
		platform, kw, freq string
		anchor, last, next sql.NullInt64
		enabled, created   int64
	)
	if err := r.Scan(&out.ID, &platform, &out.Subject, &kw, &freq, &anchor, &enabled, &last, &next, &created); err != nil {
		return schedule.Schedule{}, err
	}
	f, err := schedule.ParseFrequency(freq)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("schedule %d: %w", out.ID, err)
	}
	if kw != "" {
		if err := json.Unmarshal([]byte(kw), &out.Keywords); err != nil {
			return schedule.Schedule{}, fmt.Errorf("schedule %d keywords: %w", out.ID, err)
		}
	}
	if len(out.Keywords) == 0 {
		out.Keywords = nil
	}
	out.Platform = schedule.Platform(platform)
	out.Frequency = f
	out.AnchorTime = msToPtr(anchor)
	out.Enabled = enabled != 0
	out.LastRun = msToPtr(last)
	out.NextRun = msToPtr(next)
	out.CreatedAt = time.UnixMilli(created).UTC()
	return out, nil
}

// withScheduleTx runs fn and bumps the schedule revision in the same transaction.
func (s *sqliteStore) withScheduleTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'schedules_rev'`); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) CreateSchedule(ctx context.Context, in schedule.Schedule) (schedule.Schedule, error) {
	kw, err := json.Marshal(keywordsOrEmpty(in.Keywords))
	if err != nil {
		return schedule.Schedule{}, err
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	var id int64
	err = s.withScheduleTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO schedules(platform, subject, keywords, frequency, anchor_time, enabled, last_run, next_run, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?)`,
			string(in.Platform), in.Subject, string(kw), in.Frequency.String(), ptrToMs(in.AnchorTime),
			b2i(in.Enabled), ptrToMs(in.LastRun), ptrToMs(in.NextRun), in.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("create schedule: %w", err)
	}
	return s.GetSchedule(ctx, id)
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteScheduleCols+` FROM schedules WHERE id = ?`, id)
	out, err := scanSQLiteSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Schedule{}, ErrNotFound
	}
	return out, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context, f ScheduleFilter) ([]schedule.Schedule, error) {
	var (
		where []string
		args  []any
	)
	if f.EnabledOnly {
		where = append(where, "enabled = 1")
	}
	if f.DueBefore != nil {
		where = append(where, "next_run IS NOT NULL AND next_run <= ?")
		args = append(args, f.DueBefore.UnixMilli())
	}
	if f.LegacyOnly {
		where = append(where, "anchor_time IS NULL")
	}
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(f.Platform))
	}
	q := `SELECT ` + sqliteScheduleCols + ` FROM schedules`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY next_run IS NULL, next_run, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) (schedule.Schedule, error) {
	err := s.withScheduleTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE schedules SET enabled = ? WHERE id = ? AND enabled <> ?`, b2i(enabled), id, b2i(enabled))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrConflict
	})
	if err != nil {
		return schedule.Schedule{}, err
	}
	return s.GetSchedule(ctx, id)
}

func (s *sqliteStore) RecordRun(ctx context.Context, id int64, u RunUpdate) (schedule.Schedule, error) {
	err := s.withScheduleTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET
				last_run = ?,
				next_run = CASE WHEN ? = 1 THEN ? ELSE next_run END,
				enabled  = CASE WHEN ? = 1 THEN 0 ELSE enabled END
			 WHERE id = ?`,
			u.LastRun.UTC().UnixMilli(), b2i(u.SetNextRun), ptrToMs(u.NextRun), b2i(u.Disable), id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return schedule.Schedule{}, err
	}
	return s.GetSchedule(ctx, id)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id int64) error {
	return s.withScheduleTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *sqliteStore) ScheduleRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'schedules_rev'`).Scan(&rev)
	return rev, err
}

func (s *sqliteStore) InsertReport(ctx context.Context, r Report) (int64, error) {
	kw, err := json.Marshal(keywordsOrEmpty(r.Keywords))
	if err != nil {
		return 0, err
	}
	cls, err := json.Marshal(r.Classification)
	if err != nil {
		return 0, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports(schedule_id, platform, subject, keywords, item_count, classification, rendered_text, raw_payload, filters, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ScheduleID, string(r.Platform), r.Subject, string(kw), r.ItemCount, string(cls), r.RenderedText,
		nullBytes(r.RawPayload), nullBytes(r.Filters), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListReports(ctx context.Context, f ReportFilter) ([]Report, error) {
	var (
		where []string
		args  []any
	)
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.ScheduleID != 0 {
		where = append(where, "schedule_id = ?")
		args = append(args, f.ScheduleID)
	}
	q := `SELECT id, schedule_id, platform, subject, keywords, item_count, classification, rendered_text, raw_payload, filters, created_at FROM reports`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		var (
			r                 Report
			schedID           sql.NullInt64
			platform, kw, cls string
			raw, filters      sql.NullString
			created           int64
		)
		if err := rows.Scan(&r.ID, &schedID, &platform, &r.Subject, &kw, &r.ItemCount, &cls, &r.RenderedText, &raw, &filters, &created); err != nil {
			return nil, err
		}
		if schedID.Valid {
			v := schedID.Int64
			r.ScheduleID = &v
		}
		r.Platform = schedule.Platform(platform)
		_ = json.Unmarshal([]byte(kw), &r.Keywords)
		_ = json.Unmarshal([]byte(cls), &r.Classification)
		if raw.Valid {
			r.RawPayload = json.RawMessage(raw.String)
		}
		if filters.Valid {
			r.Filters = json.RawMessage(filters.String)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) InsertArchive(ctx context.Context, a ArchiveRecord) error {
	ent, err := json.Marshal(a.Entities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO archive(id, report_id, subject, platform, scraped_at, raw_json, raw_text, entities, metrics, scrape_kind)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ReportID, a.Subject, string(a.Platform), a.ScrapedAt.UTC().UnixMilli(),
		nullBytes(a.RawJSON), nullStr(a.RawText), string(ent), nullBytes(a.Metrics), string(a.Kind),
	)
	if err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (s *sqliteStore) InsertItems(ctx context.Context, items []CollectedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO collected_items(item_id, subject, platform, author, text, created_at, metrics, raw, collected_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(item_id) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, it := range items {
		collected := it.CollectedAt
		if collected.IsZero() {
			collected = time.Now().UTC()
		}
		var created any
		if !it.CreatedAt.IsZero() {
			created = it.CreatedAt.UTC().UnixMilli()
		}
		res, err := stmt.ExecContext(ctx, it.ItemID, it.Subject, string(it.Platform), nullStr(it.Author), nullStr(it.Text),
			created, nullBytes(it.Metrics), nullBytes(it.Raw), collected.UnixMilli())
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert item %s: %w", it.ItemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *sqliteStore) CountItems(ctx context.Context, subject string) (int, error) {
	var n int
	var err error
	if subject == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collected_items`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collected_items WHERE subject = ?`, subject).Scan(&n)
	}
	return n, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, schedule_id, status, err, meta) VALUES(?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), nullStr(e.Actor), e.Action, e.ScheduleID, e.Status, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func msToPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func ptrToMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
