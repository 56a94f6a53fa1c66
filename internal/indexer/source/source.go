// Package source streams raw (identifier, notation) records into a build.
package source

import (
	"context"
	"fmt"
	"io"
)

// Record is one raw structure as read from the input.
type Record struct {
	ID       string
	Notation string
}

// Source yields records in input order. Next returns io.EOF after the last
// record. A *MalformedError from Next reports an input item that could not
// be read as a record; the source stays usable and the caller may continue.
type Source interface {
	Next(ctx context.Context) (Record, error)
	Close() error
}

// MalformedError describes an input item that is not a record.
type MalformedError struct {
	Position string
	ID       string
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Position, e.Reason)
}

// Slice is an in-memory Source, mostly useful in tests and for small
// programmatic builds.
type Slice struct {
	records []Record
	pos     int
}

func NewSlice(records ...Record) *Slice {
	return &Slice{records: records}
}

func (s *Slice) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *Slice) Close() error { return nil }
