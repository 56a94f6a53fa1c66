package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"golang.org/x/text/unicode/norm"
)

// SQL streams (identifier, notation) rows from a query. The query must
// select exactly two text columns and should impose an order, since the
// database ordinals follow row order.
type SQL struct {
	rows *sql.Rows
	row  int
}

// OpenSQL runs query on db. Rows are read lazily as Next is called.
func OpenSQL(ctx context.Context, db *sql.DB, query string) (*SQL, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading record columns: %w", err)
	}
	if len(cols) != 2 {
		rows.Close()
		return nil, fmt.Errorf("record query must return 2 columns (id, notation), got %d", len(cols))
	}
	return &SQL{rows: rows}, nil
}

func (s *SQL) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return Record{}, fmt.Errorf("reading row %d: %w", s.row+1, err)
		}
		return Record{}, io.EOF
	}
	s.row++
	var id, notation sql.NullString
	if err := s.rows.Scan(&id, &notation); err != nil {
		return Record{}, &MalformedError{Position: fmt.Sprintf("row %d", s.row), Reason: err.Error()}
	}
	if !id.Valid || id.String == "" {
		return Record{}, &MalformedError{Position: fmt.Sprintf("row %d", s.row), Reason: "null or empty identifier"}
	}
	rec := Record{ID: norm.NFC.String(id.String), Notation: notation.String}
	if !notation.Valid || notation.String == "" {
		return Record{}, &MalformedError{Position: fmt.Sprintf("row %d", s.row), ID: rec.ID, Reason: "null or empty notation"}
	}
	return rec, nil
}

func (s *SQL) Close() error {
	return s.rows.Close()
}
