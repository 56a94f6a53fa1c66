package align

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
)

// Matrix is a substitution score table over an alphabet.
type Matrix struct {
	name     string
	alphabet *encoder.Alphabet
	n        int
	scores   []float64
	lowest   float64
}

// NewMatrix builds a matrix from rows ordered like the alphabet's letters.
// The result is validated.
func NewMatrix(name string, alphabet *encoder.Alphabet, rows [][]float64) (*Matrix, error) {
	n := alphabet.Len()
	if len(rows) != n {
		return nil, fmt.Errorf("matrix %s: %d rows for %d letters", name, len(rows), n)
	}
	m := &Matrix{name: name, alphabet: alphabet, n: n, scores: make([]float64, n*n)}
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("matrix %s: row %c has %d columns, want %d", name, alphabet.Letters()[i], len(row), n)
		}
		copy(m.scores[i*n:], row)
	}
	m.lowest = m.scores[0]
	for _, s := range m.scores {
		m.lowest = min(m.lowest, s)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the matrix is symmetric and that every diagonal entry
// is positive and strictly greater than the rest of its row. Together these
// make a sequence score highest against itself.
func (m *Matrix) Validate() error {
	letters := m.alphabet.Letters()
	for i := 0; i < m.n; i++ {
		d := m.scores[i*m.n+i]
		if d <= 0 {
			return fmt.Errorf("matrix %s: diagonal %c%c = %g, must be positive", m.name, letters[i], letters[i], d)
		}
		for j := 0; j < m.n; j++ {
			s := m.scores[i*m.n+j]
			if s != m.scores[j*m.n+i] {
				return fmt.Errorf("matrix %s: %c%c = %g but %c%c = %g", m.name, letters[i], letters[j], s, letters[j], letters[i], m.scores[j*m.n+i])
			}
			if j != i && s >= d {
				return fmt.Errorf("matrix %s: %c%c = %g is not below diagonal %c%c = %g", m.name, letters[i], letters[j], s, letters[i], letters[i], d)
			}
		}
	}
	return nil
}

func (m *Matrix) Name() string { return m.name }

func (m *Matrix) Alphabet() *encoder.Alphabet { return m.alphabet }

// Score returns s(a, b). Symbols outside the alphabet score the matrix's
// lowest entry.
func (m *Matrix) Score(a, b encoder.Symbol) float64 {
	i, j := m.alphabet.Index(a), m.alphabet.Index(b)
	if i < 0 || j < 0 {
		return m.lowest
	}
	return m.scores[i*m.n+j]
}

// row returns the scores of a against every alphabet letter, or nil when a
// is outside the alphabet.
func (m *Matrix) row(a encoder.Symbol) []float64 {
	i := m.alphabet.Index(a)
	if i < 0 {
		return nil
	}
	return m.scores[i*m.n : (i+1)*m.n]
}

type matrixFile struct {
	Name     string      `yaml:"name"`
	Alphabet string      `yaml:"alphabet"`
	Scores   [][]float64 `yaml:"scores"`
}

// ParseMatrix reads a YAML matrix:
//
//	name: blosum62
//	alphabet: ARNDCQEGHILKMFPSTWYV
//	scores:
//	  - [4, -1, -2, ...]
//
// An omitted alphabet means the default protein alphabet.
func ParseMatrix(data []byte) (*Matrix, error) {
	var f matrixFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing matrix: %w", err)
	}
	alphabet := encoder.Protein
	if letters := strings.TrimSpace(f.Alphabet); letters != "" && letters != encoder.ProteinLetters {
		a, err := encoder.NewAlphabet(letters)
		if err != nil {
			return nil, fmt.Errorf("parsing matrix alphabet: %w", err)
		}
		alphabet = a
	}
	name := f.Name
	if name == "" {
		name = "custom"
	}
	return NewMatrix(name, alphabet, f.Scores)
}

// LoadMatrix reads a YAML matrix file.
func LoadMatrix(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading matrix file %s: %w", path, err)
	}
	m, err := ParseMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
