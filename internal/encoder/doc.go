// Package encoder turns structural feature lists into fixed-alphabet symbol
// sequences.
//
// An Encoder owns a table from Feature tokens to Symbols. Parser adapters
// (see the smiles subpackage) implement FeatureSource; the Encoder never looks
// at notation text itself. The same structure always yields the same
// sequence, and the table's Version is written into every formatted database
// so that queries and databases encoded with different tables are never
// compared.
package encoder
