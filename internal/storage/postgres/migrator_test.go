package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, int64(1), migrations[0].Version)
	require.Equal(t, "init", migrations[0].Name)
	require.Contains(t, migrations[0].UpSQL, "CREATE TABLE IF NOT EXISTS order_items")
	require.Equal(t, int64(2), migrations[1].Version)
	require.Equal(t, "sessions", migrations[1].Name)
	require.Contains(t, migrations[1].UpSQL, "app_sessions")
}

func TestLoadMigrationsFromFS_SortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"sql/migrations/0002_more.down.sql": {Data: []byte("DROP TABLE b;")},
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, "init", migrations[0].Name)
	require.Equal(t, "more", migrations[1].Name)
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]fstest.MapFS{
		"missing down": {
			"sql/migrations/0001_init.up.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		},
		"invalid name": {
			"sql/migrations/not_a_migration.sql": {Data: []byte("SELECT 1;")},
		},
		"empty body": {
			"sql/migrations/0001_init.up.sql":   {Data: []byte("   \n")},
			"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		},
		"name mismatch": {
			"sql/migrations/0001_init.up.sql":    {Data: []byte("CREATE TABLE a (id INT);")},
			"sql/migrations/0001_other.down.sql": {Data: []byte("DROP TABLE a;")},
		},
		"no files": {},
	}

	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(fsys)
			require.Error(t, err)
		})
	}
}

func TestPlanUpAndDown(t *testing.T) {
	t.Parallel()

	migrations := []migration{
		{Version: 1, Name: "init"},
		{Version: 2, Name: "sessions"},
		{Version: 3, Name: "extra"},
	}

	plan := planUp(migrations, map[int64]bool{1: true}, 0)
	require.Len(t, plan, 2)
	require.Equal(t, "000002_sessions", plan[0].String())
	require.Equal(t, "000003_extra", plan[1].String())

	require.Len(t, planUp(migrations, map[int64]bool{}, 1), 1)
	require.Empty(t, planUp(migrations, map[int64]bool{1: true, 2: true, 3: true}, 0))

	down, err := planDown(migrations, map[int64]bool{1: true, 2: true, 3: true}, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, []int64{down[0].Version, down[1].Version})

	_, err = planDown(migrations, map[int64]bool{9: true}, 1)
	require.Error(t, err)
}

func TestMigrationBodyBookkeeping(t *testing.T) {
	t.Parallel()

	m := migration{Version: 7, Name: "x", UpSQL: "CREATE", DownSQL: "DROP"}

	stepSQL, bookkeeping, args := m.body(migrationUp)
	require.Equal(t, "CREATE", stepSQL)
	require.Contains(t, bookkeeping, "INSERT INTO "+migrationsTable)
	require.Equal(t, []any{int64(7), "x"}, args)

	stepSQL, bookkeeping, args = m.body(migrationDown)
	require.Equal(t, "DROP", stepSQL)
	require.Contains(t, bookkeeping, "DELETE FROM "+migrationsTable)
	require.Equal(t, []any{int64(7)}, args)
}
