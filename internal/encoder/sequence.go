package encoder

// EncodedSequence is an ordered list of symbols plus a human-readable
// description. Callers must not modify Symbols.
type EncodedSequence struct {
	ID          string
	Description string
	Symbols     []Symbol
}

func (s EncodedSequence) Len() int { return len(s.Symbols) }

func (s EncodedSequence) String() string { return string(s.Symbols) }

// WithDescription returns a copy of s carrying a different description.
func (s EncodedSequence) WithDescription(desc string) EncodedSequence {
	s.Description = desc
	return s
}
