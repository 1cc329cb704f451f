// Package record persists suite outcomes, one row per test, for later
// analysis. Sinks are a parquet file and a sqlite database.
package record

import (
	"errors"
	"time"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/suite"
)

const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type Row struct {
	RunID      string    `parquet:"run_id"`
	Test       string    `parquet:"test"`
	Status     string    `parquet:"status"`
	Kind       string    `parquet:"kind,optional"`
	Error      string    `parquet:"error,optional"`
	Topic      string    `parquet:"topic,optional"`
	PayloadLen int32     `parquet:"payload_len"`
	Steps      int32     `parquet:"steps"`
	Started    time.Time `parquet:"started,timestamp"`
	DurationUs int64     `parquet:"duration_us"`
}

// Recorder is a sink for rows. Close flushes anything buffered.
type Recorder interface {
	Record(Row) error
	Close() error
}

// FromOutcome builds the row for one finished or skipped test.
func FromOutcome(runID string, o suite.Outcome) Row {
	r := Row{
		RunID:      runID,
		Test:       o.Test.Name(),
		Status:     StatusPassed,
		Started:    o.Started,
		DurationUs: o.Duration.Microseconds(),
		Topic:      o.Result.Message.Topic,
		PayloadLen: int32(len(o.Result.Message.Payload)),
		Steps:      int32(len(o.Result.Steps)),
	}
	switch {
	case o.Skipped:
		r.Status = StatusSkipped
	case o.Err != nil:
		r.Status = StatusFailed
		r.Kind = mqttest.ErrorKind(o.Err)
		r.Error = o.Err.Error()
	}
	return r
}

type multi []Recorder

// Multi records every row to all of rs.
func Multi(rs ...Recorder) Recorder {
	return multi(rs)
}

func (m multi) Record(r Row) error {
	var errs []error
	for _, rec := range m {
		errs = append(errs, rec.Record(r))
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, rec := range m {
		errs = append(errs, rec.Close())
	}
	return errors.Join(errs...)
}
