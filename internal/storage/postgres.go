package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialwatch/internal/schedule"
	logx "socialwatch/pkg/logx"
)

//go:embed postgres_schema.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := NormalizeDSN(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	st := &postgresStore{pool: pool, log: log.With(logx.String("comp", "storage.postgres"))}
	st.log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host))
	return st, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const pgScheduleCols = `id, platform, subject, keywords, frequency, anchor_time, enabled, last_run, next_run, created_at`

func scanPGSchedule(r pgx.Row) (schedule.Schedule, error) {
	var (
		out            schedule.Schedule
		platform, freq string
	)
	if err := r.Scan(&out.ID, &platform, &out.Subject, &out.Keywords, &freq, &out.AnchorTime,
		&out.Enabled, &out.LastRun, &out.NextRun, &out.CreatedAt); err != nil {
		return schedule.Schedule{}, err
	}
	f, err := schedule.ParseFrequency(freq)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("schedule %d: %w", out.ID, err)
	}
	out.Platform = schedule.Platform(platform)
	out.Frequency = f
	if len(out.Keywords) == 0 {
		out.Keywords = nil
	}
	out.AnchorTime = utcPtr(out.AnchorTime)
	out.LastRun = utcPtr(out.LastRun)
	out.NextRun = utcPtr(out.NextRun)
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}

func (s *postgresStore) withScheduleTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'schedules_rev'`); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) CreateSchedule(ctx context.Context, in schedule.Schedule) (schedule.Schedule, error) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.withScheduleTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO schedules(platform, subject, keywords, frequency, anchor_time, enabled, last_run, next_run, created_at)
			 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 RETURNING id`,
			string(in.Platform), in.Subject, keywordsOrEmpty(in.Keywords), in.Frequency.String(), in.AnchorTime,
			in.Enabled, in.LastRun, in.NextRun, in.CreatedAt,
		).Scan(&id)
	})
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("create schedule: %w", err)
	}
	return s.GetSchedule(ctx, id)
}

func (s *postgresStore) GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error) {
	out, err := scanPGSchedule(s.pool.QueryRow(ctx, `SELECT `+pgScheduleCols+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Schedule{}, ErrNotFound
	}
	return out, err
}

func (s *postgresStore) ListSchedules(ctx context.Context, f ScheduleFilter) ([]schedule.Schedule, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.EnabledOnly {
		where = append(where, "enabled")
	}
	if f.DueBefore != nil {
		where = append(where, "next_run IS NOT NULL AND next_run <= "+arg(*f.DueBefore))
	}
	if f.LegacyOnly {
		where = append(where, "anchor_time IS NULL")
	}
	if f.Platform != "" {
		where = append(where, "platform = "+arg(string(f.Platform)))
	}
	q := `SELECT ` + pgScheduleCols + ` FROM schedules`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY next_run ASC NULLS LAST, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanPGSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *postgresStore) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) (schedule.Schedule, error) {
	err := s.withScheduleTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE schedules SET enabled = $1 WHERE id = $2 AND enabled <> $1`, enabled, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM schedules WHERE id = $1`, id).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
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

func (s *postgresStore) RecordRun(ctx context.Context, id int64, u RunUpdate) (schedule.Schedule, error) {
	err := s.withScheduleTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE schedules SET
				last_run = $1,
				next_run = CASE WHEN $2 THEN $3 ELSE next_run END,
				enabled  = CASE WHEN $4 THEN FALSE ELSE enabled END
			 WHERE id = $5`,
			u.LastRun.UTC(), u.SetNextRun, u.NextRun, u.Disable, id,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return schedule.Schedule{}, err
	}
	return s.GetSchedule(ctx, id)
}

func (s *postgresStore) DeleteSchedule(ctx context.Context, id int64) error {
	return s.withScheduleTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *postgresStore) ScheduleRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.pool.QueryRow(ctx, `SELECT value FROM store_meta WHERE key = 'schedules_rev'`).Scan(&rev)
	return rev, err
}

func (s *postgresStore) InsertReport(ctx context.Context, r Report) (int64, error) {
	cls, err := json.Marshal(r.Classification)
	if err != nil {
		return 0, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO reports(schedule_id, platform, subject, keywords, item_count, classification, rendered_text, raw_payload, filters, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING id`,
		r.ScheduleID, string(r.Platform), r.Subject, keywordsOrEmpty(r.Keywords), r.ItemCount, cls, r.RenderedText,
		jsonOrNil(r.RawPayload), jsonOrNil(r.Filters), r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

func (s *postgresStore) ListReports(ctx context.Context, f ReportFilter) ([]Report, error) {
	var (
		where []string
		args  []any
	)
	if f.Subject != "" {
		args = append(args, f.Subject)
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if f.ScheduleID != 0 {
		args = append(args, f.ScheduleID)
		where = append(where, fmt.Sprintf("schedule_id = $%d", len(args)))
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

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		var (
			r        Report
			platform string
			cls      []byte
		)
		if err := rows.Scan(&r.ID, &r.ScheduleID, &platform, &r.Subject, &r.Keywords, &r.ItemCount, &cls,
			&r.RenderedText, &r.RawPayload, &r.Filters, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Platform = schedule.Platform(platform)
		_ = json.Unmarshal(cls, &r.Classification)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) InsertArchive(ctx context.Context, a ArchiveRecord) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("archive id: %w", err)
	}
	ent, err := json.Marshal(a.Entities)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO archive(id, report_id, subject, platform, scraped_at, raw_json, raw_text, entities, metrics, scrape_kind)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, a.ReportID, a.Subject, string(a.Platform), a.ScrapedAt.UTC(),
		jsonOrNil(a.RawJSON), a.RawText, ent, jsonOrNil(a.Metrics), string(a.Kind),
	)
	if err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (s *postgresStore) InsertItems(ctx context.Context, items []CollectedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		collected := it.CollectedAt
		if collected.IsZero() {
			collected = time.Now().UTC()
		}
		var created *time.Time
		if !it.CreatedAt.IsZero() {
			c := it.CreatedAt.UTC()
			created = &c
		}
		batch.Queue(
			`INSERT INTO collected_items(item_id, subject, platform, author, text, created_at, metrics, raw, collected_at)
			 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (item_id) DO NOTHING`,
			it.ItemID, it.Subject, string(it.Platform), it.Author, it.Text, created,
			jsonOrNil(it.Metrics), jsonOrNil(it.Raw), collected,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	added := 0
	for i := range items {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert item %s: %w", items[i].ItemID, err)
		}
		added += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *postgresStore) CountItems(ctx context.Context, subject string) (int, error) {
	var n int
	var err error
	if subject == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM collected_items`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM collected_items WHERE subject = $1`, subject).Scan(&n)
	}
	return n, err
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var meta any
	if strings.TrimSpace(e.MetaJSON) != "" {
		meta = []byte(e.MetaJSON)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor, action, schedule_id, status, err, meta) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.At, e.Actor, e.Action, e.ScheduleID, e.Status, e.Error, meta,
	)
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func jsonOrNil(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
