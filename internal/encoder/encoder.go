package encoder

import (
	"fmt"
	"hash/fnv"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
)

// Feature is a structural feature token emitted by a parser adapter, such as
// an atom class, a bond order or a ring closure.
type Feature string

// FeatureSource produces the ordered feature list of one parsed structure.
type FeatureSource interface {
	Features() ([]Feature, error)
}

// Parser turns raw notation text into a FeatureSource. Implementations must
// be safe for concurrent use.
type Parser interface {
	Parse(notation string) (FeatureSource, error)
}

// Chemical features emitted by the SMILES adapter.
const (
	FeatureCarbon          Feature = "C"
	FeatureAromaticCarbon  Feature = "c"
	FeatureNitrogen        Feature = "N"
	FeatureAromaticNitro   Feature = "n"
	FeatureOxygen          Feature = "O"
	FeatureAromaticOxygen  Feature = "o"
	FeatureSulfur          Feature = "S"
	FeatureAromaticSulfur  Feature = "s"
	FeaturePhosphorus      Feature = "P"
	FeatureBoron           Feature = "B"
	FeatureFluorine        Feature = "F"
	FeatureChlorine        Feature = "Cl"
	FeatureBromine         Feature = "Br"
	FeatureIodine          Feature = "I"
	FeatureDoubleBond      Feature = "="
	FeatureTripleBond      Feature = "#"
	FeatureQuadrupleBond   Feature = "$"
	FeatureRingClosure     Feature = "ring"
	FeatureBranch          Feature = "branch"
	FeatureCharge          Feature = "charge"
	FeatureComponentBreak  Feature = "."
)

// chemicalTable keeps related features on letters that score well against
// each other under BLOSUM62 (L/I/M/V, F/Y, K/R, S/T, E/D).
var chemicalTable = map[Feature]Symbol{
	FeatureCarbon:         'L',
	FeatureAromaticCarbon: 'F',
	FeatureNitrogen:       'K',
	FeatureAromaticNitro:  'R',
	FeatureOxygen:         'S',
	FeatureAromaticOxygen: 'T',
	FeatureSulfur:         'C',
	FeatureAromaticSulfur: 'Y',
	FeaturePhosphorus:     'P',
	FeatureBoron:          'N',
	FeatureFluorine:       'A',
	FeatureChlorine:       'V',
	FeatureBromine:        'I',
	FeatureIodine:         'M',
	FeatureDoubleBond:     'E',
	FeatureTripleBond:     'D',
	FeatureRingClosure:    'G',
	FeatureBranch:         'Q',
	FeatureCharge:         'H',
	FeatureComponentBreak: 'W',
}

// Encoder maps features to symbols through a fixed table.
type Encoder struct {
	name     string
	alphabet *Alphabet
	table    map[Feature]Symbol
	version  uint32
}

// New builds an Encoder. Every symbol in table must belong to alphabet.
func New(name string, alphabet *Alphabet, table map[Feature]Symbol) (*Encoder, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("encoder %s: empty feature table", name)
	}
	own := make(map[Feature]Symbol, len(table))
	for f, s := range table {
		if !alphabet.Contains(s) {
			return nil, fmt.Errorf("encoder %s: feature %q maps to %q outside alphabet %s", name, f, s, alphabet)
		}
		own[f] = s
	}
	e := &Encoder{name: name, alphabet: alphabet, table: own}
	e.version = e.computeVersion()
	return e, nil
}

// NewChemical returns the encoder for SMILES-derived features.
func NewChemical() *Encoder {
	e, err := New("chemical", Protein, chemicalTable)
	if err != nil {
		panic(err)
	}
	return e
}

// NewIdentity returns an encoder whose features are the alphabet letters
// themselves, for notations that are already symbol strings.
func NewIdentity(alphabet *Alphabet) *Encoder {
	table := make(map[Feature]Symbol, alphabet.Len())
	for i := 0; i < alphabet.Len(); i++ {
		c := alphabet.Letters()[i]
		table[Feature(string(c))] = c
	}
	e, err := New("identity", alphabet, table)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Encoder) Name() string { return e.name }

func (e *Encoder) Alphabet() *Alphabet { return e.alphabet }

// Version fingerprints the encoder's alphabet and table.
func (e *Encoder) Version() uint32 { return e.version }

// Encode converts the features of src into a sequence identified by id.
// Any feature without a symbol fails the whole structure with an error
// wrapping ErrEncoding.
func (e *Encoder) Encode(id string, src FeatureSource) (EncodedSequence, error) {
	features, err := src.Features()
	if err != nil {
		return EncodedSequence{}, fmt.Errorf("%w: %s: %v", apperrors.ErrEncoding, id, err)
	}
	if len(features) == 0 {
		return EncodedSequence{}, fmt.Errorf("%w: %s: structure has no features", apperrors.ErrEncoding, id)
	}
	symbols := make([]Symbol, len(features))
	for i, f := range features {
		s, ok := e.table[f]
		if !ok {
			return EncodedSequence{}, fmt.Errorf("%w: %s: unsupported feature %q at position %d for %s encoder",
				apperrors.ErrEncoding, id, string(f), i, e.name)
		}
		symbols[i] = s
	}
	return EncodedSequence{ID: id, Description: id, Symbols: symbols}, nil
}

func (e *Encoder) computeVersion() uint32 {
	features := make([]string, 0, len(e.table))
	for f := range e.table {
		features = append(features, string(f))
	}
	sort.Strings(features)

	h := fnv.New32a()
	h.Write([]byte(e.name))
	h.Write([]byte{0})
	h.Write([]byte(e.alphabet.Letters()))
	for _, f := range features {
		h.Write([]byte{0})
		h.Write([]byte(f))
		h.Write([]byte{0, e.table[Feature(f)]})
	}
	return h.Sum32()
}
