package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "vigil/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// keepRows bounds each table; the oldest rows beyond it are pruned
// opportunistically every pruneEvery appends.
const keepRows = 5000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, job, channel, task, outcome, exit_code, err, at, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Job, r.Channel, nullStr(r.Task), r.Outcome, r.ExitCode, nullStr(r.Error),
		r.At.UTC().Format(time.RFC3339Nano), r.TookMS,
	)
	s.maybePrune(err)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, channel, COALESCE(task,''), outcome, exit_code, COALESCE(err,''), at, took_ms
		 FROM runs ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var at string
		if err := rows.Scan(&r.ID, &r.Job, &r.Channel, &r.Task, &r.Outcome, &r.ExitCode, &r.Error, &at, &r.TookMS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendBeat(ctx context.Context, b BeatRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if b.At.IsZero() {
		b.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO beats(seq, tier, ok, urgent, failed, briefing, at, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		int64(b.Seq), b.Tier, boolInt(b.OK), boolInt(b.Urgent),
		nullStr(strings.Join(b.Failed, ",")), nullStr(b.Briefing),
		b.At.UTC().Format(time.RFC3339Nano), b.TookMS,
	)
	s.maybePrune(err)
	return err
}

func (s *sqliteStore) RecentBeats(ctx context.Context, limit int) ([]BeatRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, tier, ok, urgent, COALESCE(failed,''), COALESCE(briefing,''), at, took_ms
		 FROM beats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BeatRecord
	for rows.Next() {
		var b BeatRecord
		var seq int64
		var ok, urgent int
		var failed, at string
		if err := rows.Scan(&seq, &b.Tier, &ok, &urgent, &failed, &b.Briefing, &at, &b.TookMS); err != nil {
			return nil, err
		}
		b.Seq = uint64(seq)
		b.OK = ok != 0
		b.Urgent = urgent != 0
		if failed != "" {
			b.Failed = strings.Split(failed, ",")
		}
		b.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, b)
	}
	return out, rows.Err()
}

// maybePrune trims both tables every pruneEvery successful appends.
func (s *sqliteStore) maybePrune(appendErr error) {
	if appendErr != nil || s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY at DESC LIMIT ?)`, keepRows); err != nil {
		s.log.Debug("storage prune runs failed", logx.Err(err))
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM beats WHERE id NOT IN (SELECT id FROM beats ORDER BY id DESC LIMIT ?)`, keepRows); err != nil {
		s.log.Debug("storage prune beats failed", logx.Err(err))
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
