package record

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
create table if not exists outcomes (
	run_id      text not null,
	test        text not null,
	status      text not null,
	kind        text not null default '',
	error       text not null default '',
	topic       text not null default '',
	payload_len integer not null default 0,
	steps       integer not null default 0,
	started     integer not null,
	duration_us integer not null,
	primary key (run_id, test)
)`

// Store keeps outcomes of every run in one sqlite database.
type Store struct {
	db         *sql.DB
	insertStmt *sql.Stmt
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "failed to connect to database")
	}
	db.SetMaxOpenConns(1)

	for _, q := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, errors.WithMessagef(err, "failed to execute %q", q)
		}
	}

	s := &Store{db: db}
	s.insertStmt, err = db.Prepare(`insert or replace into outcomes
		(run_id, test, status, kind, error, topic, payload_len, steps, started, duration_us)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "failed to prepare insert")
	}
	return s, nil
}

func (s *Store) Record(r Row) error {
	_, err := s.insertStmt.Exec(
		r.RunID, r.Test, r.Status, r.Kind, r.Error, r.Topic,
		r.PayloadLen, r.Steps, r.Started.UnixMicro(), r.DurationUs,
	)
	return errors.WithMessagef(err, "recording %s", r.Test)
}

// Rows returns the rows of one run ordered by test name.
func (s *Store) Rows(runID string) ([]Row, error) {
	rows, err := s.db.Query(`select run_id, test, status, kind, error, topic,
		payload_len, steps, started, duration_us
		from outcomes where run_id = ? order by test`, runID)
	if err != nil {
		return nil, errors.WithMessage(err, "query outcomes")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var started int64
		err := rows.Scan(&r.RunID, &r.Test, &r.Status, &r.Kind, &r.Error, &r.Topic,
			&r.PayloadLen, &r.Steps, &started, &r.DurationUs)
		if err != nil {
			return nil, errors.WithMessage(err, "scan outcome")
		}
		r.Started = time.UnixMicro(started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flaky lists tests that both passed and failed across recorded runs.
func (s *Store) Flaky() ([]string, error) {
	rows, err := s.db.Query(`select test from outcomes
		where status != 'skipped'
		group by test having count(distinct status) > 1
		order by test`)
	if err != nil {
		return nil, errors.WithMessage(err, "query flaky tests")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WithMessage(err, "scan flaky test")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.insertStmt.Close()
	return s.db.Close()
}
