package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/sqldb"
)

type item struct {
	rec Record
	bad *MalformedError
}

func drain(t *testing.T, src Source) []item {
	t.Helper()
	var out []item
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		var bad *MalformedError
		if errors.As(err, &bad) {
			out = append(out, item{bad: bad})
			continue
		}
		require.NoError(t, err)
		out = append(out, item{rec: rec})
	}
}

func TestTSV(t *testing.T) {
	input := strings.Join([]string{
		"# drugs",
		"aspirin\tCC(=O)Oc1ccccc1C(=O)O",
		"",
		"caffeine Cn1cnc2c1c(=O)n(C)c(=O)n2C",
		"vitamin C\tOCC(O)C1OC(=O)C(O)=C1O",
		"lonely",
		"\tCCO",
		"split\tC C",
		"cafe\u0301\tCCO",
	}, "\n")
	src := NewTSV("drugs.txt", strings.NewReader(input))
	got := drain(t, src)
	require.Len(t, got, 7)

	assert.Equal(t, Record{ID: "aspirin", Notation: "CC(=O)Oc1ccccc1C(=O)O"}, got[0].rec)
	assert.Equal(t, Record{ID: "caffeine", Notation: "Cn1cnc2c1c(=O)n(C)c(=O)n2C"}, got[1].rec)
	assert.Equal(t, "vitamin C", got[2].rec.ID)

	require.NotNil(t, got[3].bad)
	assert.Equal(t, "drugs.txt:6", got[3].bad.Position)
	assert.Equal(t, "lonely", got[3].bad.ID)
	assert.Contains(t, got[3].bad.Error(), "missing notation")

	require.NotNil(t, got[4].bad)
	assert.Contains(t, got[4].bad.Reason, "empty identifier")
	require.NotNil(t, got[5].bad)
	assert.Contains(t, got[5].bad.Reason, "whitespace")

	assert.Equal(t, "caf\u00e9", got[6].rec.ID)
	assert.Equal(t, 9, src.Line())
	assert.NoError(t, src.Close())
}

func TestTSVCancelled(t *testing.T) {
	src := NewTSV("x", strings.NewReader("a\tC\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smiles.txt")
	require.NoError(t, os.WriteFile(path, []byte("ethanol\tCCO\nwater\tO\n"), 0o644))

	src, err := OpenTSV(path)
	require.NoError(t, err)
	got := drain(t, src)
	require.Len(t, got, 2)
	assert.Equal(t, "water", got[1].rec.ID)
	assert.NoError(t, src.Close())

	_, err = OpenTSV(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, apperrors.ErrBuildIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSlice(t *testing.T) {
	src := NewSlice(Record{ID: "a", Notation: "C"}, Record{ID: "b", Notation: "N"})
	got := drain(t, src)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].rec.ID)
}

func TestSQL(t *testing.T) {
	c, err := sqldb.New(config.SourceConfig{Driver: sqldb.DriverSQLite, DSN: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE molecules (id TEXT, smiles TEXT)`,
		`INSERT INTO molecules VALUES ('a-ethanol', 'CCO')`,
		`INSERT INTO molecules VALUES ('b-broken', NULL)`,
		`INSERT INTO molecules VALUES ('c-acid', 'CC(=O)O')`,
	} {
		_, err := c.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	src, err := OpenSQL(ctx, c.DB, `SELECT id, smiles FROM molecules ORDER BY id`)
	require.NoError(t, err)
	got := drain(t, src)
	require.NoError(t, src.Close())

	require.Len(t, got, 3)
	assert.Equal(t, Record{ID: "a-ethanol", Notation: "CCO"}, got[0].rec)
	require.NotNil(t, got[1].bad)
	assert.Equal(t, "b-broken", got[1].bad.ID)
	assert.Equal(t, "row 2", got[1].bad.Position)
	assert.Equal(t, "c-acid", got[2].rec.ID)

	_, err = OpenSQL(ctx, c.DB, `SELECT id FROM molecules`)
	assert.Error(t, err)
}
