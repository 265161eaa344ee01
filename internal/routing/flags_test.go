package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/pkg/cache"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.Option{}); err != nil {
		t.Fatalf("failed to migrate options table: %v", err)
	}
	return db
}

func TestFlagStoreEmptyByDefault(t *testing.T) {
	store := NewFlagStore(newTestDB(t), cache.NewMemoryService())

	types, err := store.EnabledTypes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, types)

	enabled, err := store.IsEnabled(context.Background(), "product")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestFlagStoreEnableDisable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewFlagStore(db, cache.NewMemoryService())

	require.NoError(t, store.Enable(ctx, "product"))
	require.NoError(t, store.Enable(ctx, "event"))
	// Enabling twice keeps set semantics.
	require.NoError(t, store.Enable(ctx, "product"))

	types, err := store.EnabledTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"event", "product"}, types)

	require.NoError(t, store.Disable(ctx, "event"))
	enabled, err := store.IsEnabled(ctx, "event")
	require.NoError(t, err)
	assert.False(t, enabled)

	// The persisted option row matches what the cache serves.
	var opt domain.Option
	require.NoError(t, db.Where("option_name = ?", domain.OptionEnabledTypes).First(&opt).Error)
	assert.JSONEq(t, `["product"]`, opt.Value)
}

func TestFlagStoreConcurrentMutationsKeepEveryFlag(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewFlagStore(db, cache.NewMemoryService())

	// Migration leases are per type, so enables of different types can run
	// at the same time and each one's flag must survive.
	types := []string{"product", "event", "portfolio", "recipe"}
	var wg sync.WaitGroup
	for _, pt := range types {
		wg.Add(1)
		go func(pt string) {
			defer wg.Done()
			assert.NoError(t, store.Enable(ctx, pt))
		}(pt)
	}
	wg.Wait()

	got, err := store.EnabledTypes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, types, got)
}

func TestFlagStoreCacheInvalidatedOnMutation(t *testing.T) {
	ctx := context.Background()
	cacheSvc := cache.NewMemoryService()
	store := NewFlagStore(newTestDB(t), cacheSvc)

	// Warm the cache with the empty set.
	_, err := store.EnabledTypes(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Enable(ctx, "product"))

	enabled, err := store.IsEnabled(ctx, "product")
	require.NoError(t, err)
	assert.True(t, enabled, "mutation must be visible through the cache")
}

func TestFlagStoreWorksWithoutCache(t *testing.T) {
	ctx := context.Background()
	store := NewFlagStore(newTestDB(t), nil)

	require.NoError(t, store.Enable(ctx, "product"))
	enabled, err := store.IsEnabled(ctx, "product")
	require.NoError(t, err)
	assert.True(t, enabled)
}
