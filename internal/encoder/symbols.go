package encoder

import (
	"fmt"
	"strings"
	"unicode"
)

// SymbolParser reads notations that are already symbol strings, such as
// "MKV". Whitespace is ignored and letters are upper-cased; membership in
// the alphabet is checked by the Encoder, not here.
type SymbolParser struct{}

type letters []Feature

func (l letters) Features() ([]Feature, error) { return l, nil }

func (SymbolParser) Parse(notation string) (FeatureSource, error) {
	out := make(letters, 0, len(notation))
	for i, r := range notation {
		if unicode.IsSpace(r) {
			continue
		}
		if r > unicode.MaxASCII {
			return nil, fmt.Errorf("non-ASCII symbol %q at offset %d", r, i)
		}
		out = append(out, Feature(strings.ToUpper(string(r))))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty symbol notation")
	}
	return out, nil
}
