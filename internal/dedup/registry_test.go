package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"datafactory/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRegistry(t *testing.T) *GormRegistry {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	registry := NewGormRegistry(db)
	registry.backoffBase = time.Millisecond
	return registry
}

func TestCheckAndRegister_FirstWriterWins(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()

	owned, err := registry.CheckAndRegister(ctx, "chess", "hash-1", "10")
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = registry.CheckAndRegister(ctx, "chess", "hash-1", "11")
	require.NoError(t, err)
	assert.False(t, owned)

	var records []database.DedupRecord
	require.NoError(t, registry.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "10", records[0].SampleId)
}

func TestCheckAndRegister_Idempotent(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		owned, err := registry.CheckAndRegister(ctx, "chess", "hash-1", "10")
		require.NoError(t, err)
		assert.True(t, owned, "re-delivered registration %d should still own the hash", i)
	}

	var count int64
	require.NoError(t, registry.db.Model(&database.DedupRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCheckAndRegister_KeysAreScoped(t *testing.T) {
	registry := setupRegistry(t)
	ctx := context.Background()

	owned, err := registry.CheckAndRegister(ctx, "chess", "hash-1", "10")
	require.NoError(t, err)
	assert.True(t, owned)

	// Same hash under another generator is a distinct key.
	owned, err = registry.CheckAndRegister(ctx, "math", "hash-1", "10")
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = registry.CheckAndRegister(ctx, "chess", "hash-2", "11")
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestWithThrottleRetry_RetriesThrottleErrors(t *testing.T) {
	calls := 0
	err := withThrottleRetry(time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithThrottleRetry_ExhaustionIsFatal(t *testing.T) {
	calls := 0
	err := withThrottleRetry(time.Millisecond, func() error {
		calls++
		return fmt.Errorf("request timeout")
	})
	require.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.Equal(t, MaxThrottleRetries, calls)
}

func TestWithThrottleRetry_OtherErrorsReturnImmediately(t *testing.T) {
	boom := errors.New("constraint violation")
	calls := 0
	err := withThrottleRetry(time.Millisecond, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIsThrottled(t *testing.T) {
	assert.True(t, isThrottled(errors.New("Database Is Locked")))
	assert.True(t, isThrottled(errors.New("ProvisionedThroughputExceeded: throttling")))
	assert.False(t, isThrottled(errors.New("record not found")))
}
