package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/config"
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(config.SourceConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteInTx(t *testing.T) {
	c, err := New(config.SourceConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.DB.ExecContext(ctx, `CREATE TABLE molecules (id TEXT PRIMARY KEY, smiles TEXT NOT NULL)`)
	require.NoError(t, err)

	err = c.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO molecules VALUES ('ethanol', 'CCO')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO molecules VALUES ('water', 'O')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, c.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM molecules`).Scan(&n))
	assert.Equal(t, 1, n)
}
