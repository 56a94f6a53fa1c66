package encoder

import (
	"fmt"
)

// Symbol is one letter of an Alphabet.
type Symbol = byte

// ProteinLetters is the default alphabet, in BLOSUM row order.
const ProteinLetters = "ARNDCQEGHILKMFPSTWYV"

// Protein is the default alphabet shared by the encoders and the scorer.
var Protein = MustAlphabet(ProteinLetters)

// Alphabet is a fixed, ordered set of printable ASCII symbols.
type Alphabet struct {
	letters string
	index   [256]int16
}

func NewAlphabet(letters string) (*Alphabet, error) {
	if letters == "" {
		return nil, fmt.Errorf("alphabet is empty")
	}
	a := &Alphabet{letters: letters}
	for i := range a.index {
		a.index[i] = -1
	}
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		if c <= ' ' || c > '~' {
			return nil, fmt.Errorf("alphabet symbol %q at %d is not printable ASCII", c, i)
		}
		if a.index[c] >= 0 {
			return nil, fmt.Errorf("alphabet symbol %q repeated at %d", c, i)
		}
		a.index[c] = int16(i)
	}
	return a, nil
}

func MustAlphabet(letters string) *Alphabet {
	a, err := NewAlphabet(letters)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Alphabet) Contains(s Symbol) bool { return a.index[s] >= 0 }

// Index returns the position of s, or -1 when s is not in the alphabet.
func (a *Alphabet) Index(s Symbol) int { return int(a.index[s]) }

func (a *Alphabet) Len() int { return len(a.letters) }

func (a *Alphabet) Letters() string { return a.letters }

func (a *Alphabet) String() string { return a.letters }
