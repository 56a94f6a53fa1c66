// Package align scores encoded sequences against each other with
// Smith-Waterman local alignment under a linear gap penalty.
//
// Each cell takes the best of the diagonal step plus the substitution
// score, the cell above plus the gap penalty, the cell to the left plus the
// gap penalty, and zero. Ties prefer diagonal, then up, then left, then zero,
// and negative values floor at exactly zero. The reported score is the
// largest cell; when it occurs more than once, the first in row-major order
// anchors the trace-back.
package align

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
)

const DefaultGap = -4.0

// Scorer is immutable and safe for concurrent use.
type Scorer struct {
	matrix *Matrix
	gap    float64
	rows   sync.Pool
}

// NewScorer pairs a substitution matrix with a gap penalty, which must not
// be positive.
func NewScorer(m *Matrix, gap float64) (*Scorer, error) {
	if m == nil {
		return nil, fmt.Errorf("scorer: nil matrix")
	}
	if gap > 0 {
		return nil, fmt.Errorf("scorer: gap penalty %g must be <= 0", gap)
	}
	return &Scorer{matrix: m, gap: gap}, nil
}

// Default scores with BLOSUM62 and a gap penalty of -4.
func Default() *Scorer {
	s, _ := NewScorer(BLOSUM62, DefaultGap)
	return s
}

func (s *Scorer) Matrix() *Matrix { return s.matrix }

func (s *Scorer) Gap() float64 { return s.gap }

type move uint8

const (
	moveStop move = iota
	moveDiag
	moveUp
	moveLeft
)

func (s *Scorer) cell(diag, up, left, sub float64) (float64, move) {
	v, mv := diag+sub, moveDiag
	if u := up + s.gap; u > v {
		v, mv = u, moveUp
	}
	if l := left + s.gap; l > v {
		v, mv = l, moveLeft
	}
	if v <= 0 {
		return 0, moveStop
	}
	return v, mv
}

func (s *Scorer) sub(row []float64, c encoder.Symbol) float64 {
	if row == nil {
		return s.matrix.lowest
	}
	k := s.matrix.alphabet.Index(c)
	if k < 0 {
		return s.matrix.lowest
	}
	return row[k]
}

// Score returns the local alignment score of q against c using two rows of
// the dynamic-programming matrix.
func (s *Scorer) Score(q, c []encoder.Symbol) float64 {
	if len(q) == 0 || len(c) == 0 {
		return 0
	}
	width := len(c) + 1
	buf := s.borrow(2 * width)
	defer s.rows.Put(buf)
	prev, cur := (*buf)[:width], (*buf)[width:2*width]
	clear(prev)
	cur[0] = 0

	best := 0.0
	for i := 1; i <= len(q); i++ {
		row := s.matrix.row(q[i-1])
		for j := 1; j <= len(c); j++ {
			v, _ := s.cell(prev[j-1], prev[j], cur[j-1], s.sub(row, c[j-1]))
			cur[j] = v
			if v > best {
				best = v
			}
		}
		prev, cur = cur, prev
	}
	return best
}

func (s *Scorer) borrow(n int) *[]float64 {
	if p, ok := s.rows.Get().(*[]float64); ok && cap(*p) >= n {
		*p = (*p)[:n]
		return p
	}
	b := make([]float64, n)
	return &b
}

// Alignment is a local alignment of a query against a candidate. Ranges are
// half-open; the aligned strings use '-' for gaps.
type Alignment struct {
	Score            float64 `json:"score"`
	QueryStart       int     `json:"query_start"`
	QueryEnd         int     `json:"query_end"`
	CandidateStart   int     `json:"candidate_start"`
	CandidateEnd     int     `json:"candidate_end"`
	QueryAligned     string  `json:"query_aligned"`
	CandidateAligned string  `json:"candidate_aligned"`
}

// Len is the number of alignment columns.
func (a Alignment) Len() int { return len(a.QueryAligned) }

// Identities counts columns where both sides hold the same symbol.
func (a Alignment) Identities() int {
	n := 0
	for i := 0; i < len(a.QueryAligned); i++ {
		if a.QueryAligned[i] != '-' && a.QueryAligned[i] == a.CandidateAligned[i] {
			n++
		}
	}
	return n
}

// Align fills the full matrix and traces the best local alignment back from
// its anchor cell until a zero cell.
func (s *Scorer) Align(q, c []encoder.Symbol) Alignment {
	if len(q) == 0 || len(c) == 0 {
		return Alignment{}
	}
	width := len(c) + 1
	h := make([]float64, (len(q)+1)*width)
	moves := make([]move, len(h))

	best, bi, bj := 0.0, 0, 0
	for i := 1; i <= len(q); i++ {
		row := s.matrix.row(q[i-1])
		for j := 1; j <= len(c); j++ {
			at := i*width + j
			v, mv := s.cell(h[at-width-1], h[at-width], h[at-1], s.sub(row, c[j-1]))
			h[at], moves[at] = v, mv
			if v > best {
				best, bi, bj = v, i, j
			}
		}
	}
	if best == 0 {
		return Alignment{}
	}

	var qa, ca []byte
	i, j := bi, bj
	for i > 0 && j > 0 && h[i*width+j] > 0 {
		switch moves[i*width+j] {
		case moveDiag:
			qa, ca = append(qa, q[i-1]), append(ca, c[j-1])
			i, j = i-1, j-1
		case moveUp:
			qa, ca = append(qa, q[i-1]), append(ca, '-')
			i--
		case moveLeft:
			qa, ca = append(qa, '-'), append(ca, c[j-1])
			j--
		}
	}
	slices.Reverse(qa)
	slices.Reverse(ca)
	return Alignment{
		Score:            best,
		QueryStart:       i,
		QueryEnd:         bi,
		CandidateStart:   j,
		CandidateEnd:     bj,
		QueryAligned:     string(qa),
		CandidateAligned: string(ca),
	}
}
