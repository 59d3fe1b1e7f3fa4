package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsportal/internal/db"
)

func TestListIsOrdered(t *testing.T) {
	ms, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
	assert.Equal(t, 1, ms[0].Version)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	ms, err := List()
	require.NoError(t, err)
	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, ms[len(ms)-1].Version, v)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
}
