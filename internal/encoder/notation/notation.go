// Package notation pairs a raw-structure notation with the parser and
// encoder that read it.
package notation

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/smiles"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
)

const (
	SMILES  = "smiles"
	Symbols = "symbols"
)

// Codec is a parser and the encoder that understands its features.
type Codec struct {
	Name    string
	Parser  encoder.Parser
	Encoder *encoder.Encoder
}

// Encode parses notation and encodes it under id.
func (c Codec) Encode(id, notation string) (encoder.EncodedSequence, error) {
	src, err := c.Parser.Parse(notation)
	if err != nil {
		return encoder.EncodedSequence{}, fmt.Errorf("%w: %s: %w", apperrors.ErrEncoding, id, err)
	}
	return c.Encoder.Encode(id, src)
}

// For returns the Codec for a notation name.
func For(name string) (Codec, error) {
	switch name {
	case SMILES:
		return Codec{Name: name, Parser: smiles.Default(), Encoder: encoder.NewChemical()}, nil
	case Symbols:
		return Codec{Name: name, Parser: encoder.SymbolParser{}, Encoder: encoder.NewIdentity(encoder.Protein)}, nil
	default:
		return Codec{}, fmt.Errorf("unknown notation %q", name)
	}
}
