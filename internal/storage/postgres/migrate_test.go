package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"postgres://u:p@db:5432/catalog?sslmode=disable":   "pgx5://u:p@db:5432/catalog?sslmode=disable",
		"postgresql://u:p@db:5432/catalog?sslmode=disable": "pgx5://u:p@db:5432/catalog?sslmode=disable",
		"pgx5://db/catalog": "pgx5://db/catalog",
	}
	for in, want := range cases {
		got, err := migrationURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := migrationURL("host=db user=u password=secret dbname=catalog")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "0001_init.up.sql")
	assert.Contains(t, names, "0001_init.down.sql")
}
