// Package smiles is a parser adapter that reads SMILES strings into the
// ordered feature list the encoder consumes.
//
// It reads the syntax only: organic-subset and bracket atoms, bonds,
// branches, ring closures and dot-separated components. It does not perceive
// aromaticity, canonicalise, or check valence; whether a feature is
// supported is decided by the encoder's table. Explicit hydrogen atoms
// ([H], [2H]) are dropped so that hydrogen-suppressed and hydrogen-explicit
// spellings of a graph encode alike.
package smiles

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
)

// Parser is stateless after construction and safe for concurrent use.
type Parser struct {
	elements map[string]struct{}
}

// NewParser builds a parser with the full element table.
func NewParser() *Parser {
	p := &Parser{elements: make(map[string]struct{}, 128)}
	for _, e := range strings.Fields(elementSymbols) {
		p.elements[e] = struct{}{}
	}
	return p
}

var defaultParser = sync.OnceValue(NewParser)

// Default returns the process-wide parser, built on first use.
func Default() *Parser {
	return defaultParser()
}

// Molecule is the feature view of one parsed SMILES string.
type Molecule struct {
	Notation string
	Atoms    int
	features []encoder.Feature
}

func (m *Molecule) Features() ([]encoder.Feature, error) {
	return m.features, nil
}

// SyntaxError reports where a SMILES string stopped making sense.
type SyntaxError struct {
	Notation string
	Offset   int
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("smiles %q: offset %d: %s", e.Notation, e.Offset, e.Reason)
}

// Parse implements encoder.Parser.
func (p *Parser) Parse(notation string) (encoder.FeatureSource, error) {
	return p.ParseMolecule(notation)
}

// ParseMolecule reads notation into a Molecule.
func (p *Parser) ParseMolecule(notation string) (*Molecule, error) {
	s := &scanner{p: p, in: strings.TrimSpace(notation), rings: make(map[int]struct{})}
	if s.in == "" {
		return nil, &SyntaxError{Notation: notation, Reason: "empty notation"}
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return &Molecule{Notation: s.in, Atoms: s.atoms, features: s.out}, nil
}

type scanner struct {
	p     *Parser
	in    string
	pos   int
	out   []encoder.Feature
	atoms int
	depth int
	rings map[int]struct{}
	// pendingBond is set after a bond symbol until an atom or ring digit
	// consumes it.
	pendingBond bool
	// prevAtom is false at the start and right after '.', where bonds,
	// branches and ring digits are not allowed.
	prevAtom bool
}

func (s *scanner) fail(reason string, args ...any) error {
	return &SyntaxError{Notation: s.in, Offset: s.pos, Reason: fmt.Sprintf(reason, args...)}
}

func (s *scanner) emit(f encoder.Feature) { s.out = append(s.out, f) }

func (s *scanner) run() error {
	for s.pos < len(s.in) {
		c := s.in[s.pos]
		switch {
		case c == '[':
			if err := s.bracketAtom(); err != nil {
				return err
			}
		case isOrganicStart(c):
			if err := s.organicAtom(); err != nil {
				return err
			}
		case c == '-' || c == ':' || c == '/' || c == '\\' || c == '=' || c == '#' || c == '$':
			if !s.prevAtom || s.pendingBond {
				return s.fail("bond %q without a preceding atom", c)
			}
			switch c {
			case '=':
				s.emit(encoder.FeatureDoubleBond)
			case '#':
				s.emit(encoder.FeatureTripleBond)
			case '$':
				s.emit(encoder.FeatureQuadrupleBond)
			}
			s.pendingBond = true
			s.pos++
		case c == '(':
			if !s.prevAtom || s.pendingBond {
				return s.fail("branch opened without a preceding atom")
			}
			s.depth++
			s.emit(encoder.FeatureBranch)
			s.pos++
		case c == ')':
			if s.depth == 0 {
				return s.fail("unbalanced ')'")
			}
			if s.pendingBond {
				return s.fail("bond not followed by an atom")
			}
			s.depth--
			s.pos++
		case c >= '0' && c <= '9' || c == '%':
			if err := s.ringBond(); err != nil {
				return err
			}
		case c == '.':
			if !s.prevAtom || s.pendingBond || s.depth > 0 {
				return s.fail("misplaced component separator")
			}
			s.emit(encoder.FeatureComponentBreak)
			s.prevAtom = false
			s.pos++
		default:
			return s.fail("unexpected character %q", c)
		}
	}
	switch {
	case s.pendingBond:
		return s.fail("bond not followed by an atom")
	case s.depth > 0:
		return s.fail("%d unclosed branch(es)", s.depth)
	case len(s.rings) > 0:
		return s.fail("%d unclosed ring bond(s)", len(s.rings))
	case !s.prevAtom:
		return s.fail("notation ends without an atom")
	}
	return nil
}

func isOrganicStart(c byte) bool {
	switch c {
	case 'B', 'C', 'N', 'O', 'P', 'S', 'F', 'I', 'b', 'c', 'n', 'o', 'p', 's', '*':
		return true
	}
	return false
}

func (s *scanner) organicAtom() error {
	c := s.in[s.pos]
	sym := string(c)
	if s.pos+1 < len(s.in) {
		two := s.in[s.pos : s.pos+2]
		if two == "Cl" || two == "Br" {
			sym = two
		}
	}
	s.pos += len(sym)
	s.atom(encoder.Feature(sym), false)
	return nil
}

func (s *scanner) atom(f encoder.Feature, charged bool) {
	s.emit(f)
	if charged {
		s.emit(encoder.FeatureCharge)
	}
	s.atoms++
	s.prevAtom = true
	s.pendingBond = false
}

// bracketAtom reads [isotope? symbol chiral? hcount? charge? class?].
func (s *scanner) bracketAtom() error {
	start := s.pos
	end := strings.IndexByte(s.in[start:], ']')
	if end < 0 {
		return s.fail("unterminated bracket atom")
	}
	body := s.in[start+1 : start+end]
	s.pos = start + end + 1

	i := 0
	for i < len(body) && isDigit(body[i]) {
		i++
	}
	sym, n := s.bracketSymbol(body[i:])
	if n == 0 {
		return &SyntaxError{Notation: s.in, Offset: start, Reason: fmt.Sprintf("bad element in [%s]", body)}
	}
	i += n

	if i < len(body) && body[i] == '@' {
		i++
		if i < len(body) && body[i] == '@' {
			i++
		} else if i+2 < len(body) && isChiralClass(body[i:i+2]) && isDigit(body[i+2]) {
			i += 2
			for i < len(body) && isDigit(body[i]) {
				i++
			}
		}
	}
	if i < len(body) && body[i] == 'H' {
		i++
		for i < len(body) && body[i] >= '0' && body[i] <= '9' {
			i++
		}
	}
	charged := false
	if i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := body[i]
		i++
		j := i
		for i < len(body) && isDigit(body[i]) {
			i++
		}
		if i == j {
			for i < len(body) && body[i] == sign {
				i++
			}
			charged = true
		} else {
			charged = strings.Trim(body[j:i], "0") != ""
		}
	}
	if i < len(body) && body[i] == ':' {
		i++
		for i < len(body) && body[i] >= '0' && body[i] <= '9' {
			i++
		}
	}
	if i != len(body) {
		return &SyntaxError{Notation: s.in, Offset: start + 1 + i, Reason: fmt.Sprintf("unexpected %q in [%s]", body[i], body)}
	}

	if sym == "H" {
		// Explicit hydrogens carry no feature but still bond like atoms.
		s.prevAtom = true
		s.pendingBond = false
		s.atoms++
		return nil
	}
	s.atom(encoder.Feature(sym), charged)
	return nil
}

// bracketSymbol reads an element or aromatic symbol at the start of body and
// returns it with the number of bytes consumed.
func (s *scanner) bracketSymbol(body string) (string, int) {
	if body == "" {
		return "", 0
	}
	c := body[0]
	switch {
	case c == '*':
		return "*", 1
	case c >= 'A' && c <= 'Z':
		if len(body) > 1 && body[1] >= 'a' && body[1] <= 'z' {
			if _, ok := s.p.elements[body[:2]]; ok {
				return body[:2], 2
			}
		}
		if _, ok := s.p.elements[body[:1]]; ok {
			return body[:1], 1
		}
	case c >= 'a' && c <= 'z':
		if strings.HasPrefix(body, "se") || strings.HasPrefix(body, "as") || strings.HasPrefix(body, "te") {
			return body[:2], 2
		}
		switch c {
		case 'b', 'c', 'n', 'o', 'p', 's':
			return body[:1], 1
		}
	}
	return "", 0
}

func (s *scanner) ringBond() error {
	if !s.prevAtom {
		return s.fail("ring bond without a preceding atom")
	}
	var num int
	if s.in[s.pos] == '%' {
		if s.pos+2 >= len(s.in) || !isDigit(s.in[s.pos+1]) || !isDigit(s.in[s.pos+2]) {
			return s.fail("'%%' must be followed by two digits")
		}
		num = int(s.in[s.pos+1]-'0')*10 + int(s.in[s.pos+2]-'0')
		s.pos += 3
	} else {
		num = int(s.in[s.pos] - '0')
		s.pos++
	}
	if _, open := s.rings[num]; open {
		delete(s.rings, num)
		s.emit(encoder.FeatureRingClosure)
	} else {
		s.rings[num] = struct{}{}
	}
	s.pendingBond = false
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isChiralClass(s string) bool {
	switch s {
	case "TH", "AL", "SP", "TB", "OH":
		return true
	}
	return false
}

const elementSymbols = `
H He Li Be B C N O F Ne Na Mg Al Si P S Cl Ar K Ca Sc Ti V Cr Mn Fe Co Ni Cu Zn
Ga Ge As Se Br Kr Rb Sr Y Zr Nb Mo Tc Ru Rh Pd Ag Cd In Sn Sb Te I Xe Cs Ba La Ce
Pr Nd Pm Sm Eu Gd Tb Dy Ho Er Tm Yb Lu Hf Ta W Re Os Ir Pt Au Hg Tl Pb Bi Po At
Rn Fr Ra Ac Th Pa U Np Pu Am Cm Bk Cf Es Fm Md No Lr Rf Db Sg Bh Hs Mt Ds Rg Cn
Nh Fl Mc Lv Ts Og`
