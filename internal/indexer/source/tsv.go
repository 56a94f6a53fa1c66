package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
)

const maxLineSize = 1 << 20

// TSV reads the line-oriented molecule list: "identifier<TAB>notation" per
// line. When a line has no tab, the identifier and notation may be separated
// by any whitespace. Blank lines and lines starting with '#' are skipped.
// Identifiers are normalised to NFC.
type TSV struct {
	name    string
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewTSV reads from r; name labels positions in errors.
func NewTSV(name string, r io.Reader) *TSV {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	t := &TSV{name: name, scanner: sc}
	if c, ok := r.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// OpenTSV opens the file at path.
func OpenTSV(path string) (*TSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening input %s: %w", apperrors.ErrBuildIO, path, err)
	}
	return NewTSV(path, f), nil
}

func (t *TSV) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return Record{}, fmt.Errorf("reading %s after line %d: %w", t.name, t.line, err)
			}
			return Record{}, io.EOF
		}
		t.line++
		raw := t.scanner.Text()
		if line := strings.TrimSpace(raw); line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return t.parse(strings.TrimRightFunc(raw, unicode.IsSpace))
	}
}

func (t *TSV) parse(line string) (Record, error) {
	var id, notation string
	if i := strings.IndexByte(line, '\t'); i >= 0 {
		id = strings.TrimSpace(line[:i])
		notation = strings.TrimSpace(line[i+1:])
	} else if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		id = line[:i]
		notation = strings.TrimSpace(line[i:])
	} else {
		id = line
	}
	id = norm.NFC.String(id)
	pos := fmt.Sprintf("%s:%d", t.name, t.line)
	switch {
	case id == "":
		return Record{}, &MalformedError{Position: pos, Reason: "empty identifier"}
	case notation == "":
		return Record{}, &MalformedError{Position: pos, ID: id, Reason: "missing notation"}
	case strings.IndexFunc(notation, unicode.IsSpace) >= 0:
		return Record{}, &MalformedError{Position: pos, ID: id, Reason: "notation contains whitespace"}
	}
	return Record{ID: id, Notation: notation}, nil
}

// Line returns the number of lines consumed so far.
func (t *TSV) Line() int { return t.line }

func (t *TSV) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
