package ledger

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURLUsesPgx5Scheme(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/pay?sslmode=disable", migrateURL("postgres://u:p@db:5432/pay?sslmode=disable"))
	require.Equal(t, "pgx5://db/pay", migrateURL("postgresql://db/pay"))
	require.Equal(t, "pgx5://db/pay", migrateURL("pgx5://db/pay"))
}

func TestMigrationsAreEmbeddedInPairs(t *testing.T) {
	ups, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
