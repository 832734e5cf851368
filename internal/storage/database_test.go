package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenSQLite(t *testing.T) {
	db, err := Open(DriverSQLite, "file::memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.AutoMigrate())
	assert.Equal(t, DriverSQLite, db.Driver())
	assert.NoError(t, db.Ping(context.Background()))

	errBoom := errors.New("boom")
	err = db.Transaction(context.Background(), func(tx *gorm.DB) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "", nil)
	assert.Error(t, err)
}

func TestNilRedisIsDisabled(t *testing.T) {
	var r *RedisClient
	ctx := context.Background()

	assert.False(t, r.Enabled())
	assert.ErrorIs(t, r.Ping(ctx), ErrCacheDisabled)
	assert.ErrorIs(t, r.Set(ctx, "k", "v", 0), ErrCacheDisabled)

	_, err := r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, r.ZRem(ctx, "k", "m"), ErrCacheDisabled)
	_, err = r.RunScript(ctx, nil, []string{"k"})
	assert.ErrorIs(t, err, ErrCacheDisabled)

	assert.NoError(t, r.Close())
}
