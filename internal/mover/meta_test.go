package mover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/schema"
)

func seedMeta(t *testing.T, db *gorm.DB, table string, rows ...domain.PostMeta) {
	t.Helper()
	for i := range rows {
		if err := db.Table(table).Create(&rows[i]).Error; err != nil {
			t.Fatalf("failed to seed meta into %s: %v", table, err)
		}
	}
}

func countMeta(t *testing.T, db *gorm.DB, table string, postID int64) int64 {
	t.Helper()
	q := db.Table(table)
	if postID > 0 {
		q = q.Where("post_id = ?", postID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

func TestMetaMoverForwardScopedToType(t *testing.T) {
	db := newTestDB(t)
	ensurePair(t, db, "product")
	seedPosts(t, db, schema.SharedContentTable, "product", 1, 2)
	seedPosts(t, db, schema.SharedContentTable, "page", 3)
	seedMeta(t, db, schema.SharedMetaTable,
		domain.PostMeta{PostID: 1, Key: "price", Value: "9.99"},
		domain.PostMeta{PostID: 1, Key: "sku", Value: "A-1"},
		domain.PostMeta{PostID: 2, Key: "price", Value: "4.50"},
		domain.PostMeta{PostID: 3, Key: "template", Value: "wide"},
	)

	mv := NewMetaMover(db, "product", domain.DirectionToCustom, nil)

	total, err := mv.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	moved, _ := drain(t, mv, 2)
	assert.Equal(t, int64(3), moved)

	assert.Equal(t, int64(3), countMeta(t, db, schema.MetaTable("product"), 0))
	// The page post's attribute never leaves the shared table, and the
	// moved rows stay there too until cleanup.
	assert.Equal(t, int64(4), countMeta(t, db, schema.SharedMetaTable, 0))
}

func TestMetaMoverReverseAppliesRemap(t *testing.T) {
	db := newTestDB(t)
	ensurePair(t, db, "product")
	seedMeta(t, db, schema.MetaTable("product"),
		domain.PostMeta{PostID: 3, Key: "price", Value: "9.99"},
		domain.PostMeta{PostID: 5, Key: "price", Value: "1.00"},
	)

	mv := NewMetaMover(db, "product", domain.DirectionToShared, map[int64]int64{3: 7})
	moved, _ := drain(t, mv, 100)
	assert.Equal(t, int64(2), moved)

	// The remapped owner's attribute follows it to its new identity.
	assert.Equal(t, int64(1), countMeta(t, db, schema.SharedMetaTable, 7))
	assert.Equal(t, int64(0), countMeta(t, db, schema.SharedMetaTable, 3))
	assert.Equal(t, int64(1), countMeta(t, db, schema.SharedMetaTable, 5))
	assert.Equal(t, int64(0), countMeta(t, db, schema.MetaTable("product"), 0))
}

func TestMetaMoverReverseCollisionMintsFreshID(t *testing.T) {
	db := newTestDB(t)
	ensurePair(t, db, "product")
	seedMeta(t, db, schema.SharedMetaTable,
		domain.PostMeta{MetaID: 1, PostID: 99, Key: "color", Value: "red"},
	)
	seedMeta(t, db, schema.MetaTable("product"),
		domain.PostMeta{MetaID: 1, PostID: 5, Key: "price", Value: "9.99"},
	)

	mv := NewMetaMover(db, "product", domain.DirectionToShared, nil)
	moved, _ := drain(t, mv, 100)
	assert.Equal(t, int64(1), moved)

	// Both rows survive: the occupant under its original meta_id, the
	// incoming row under a fresh one.
	assert.Equal(t, int64(2), countMeta(t, db, schema.SharedMetaTable, 0))

	var incoming domain.PostMeta
	require.NoError(t, db.Table(schema.SharedMetaTable).
		Where("post_id = ?", 5).First(&incoming).Error)
	assert.NotEqual(t, int64(1), incoming.MetaID)
	assert.Equal(t, "price", incoming.Key)

	var occupant domain.PostMeta
	require.NoError(t, db.Table(schema.SharedMetaTable).
		Where("meta_id = ?", 1).First(&occupant).Error)
	assert.Equal(t, int64(99), occupant.PostID)
}

func TestMetaMoverReverseSameOwnerRerunOverwrites(t *testing.T) {
	db := newTestDB(t)
	ensurePair(t, db, "product")
	seedMeta(t, db, schema.SharedMetaTable,
		domain.PostMeta{MetaID: 1, PostID: 5, Key: "price", Value: "stale"},
	)
	seedMeta(t, db, schema.MetaTable("product"),
		domain.PostMeta{MetaID: 1, PostID: 5, Key: "price", Value: "9.99"},
	)

	mv := NewMetaMover(db, "product", domain.DirectionToShared, nil)
	drain(t, mv, 100)

	assert.Equal(t, int64(1), countMeta(t, db, schema.SharedMetaTable, 0))
	var row domain.PostMeta
	require.NoError(t, db.Table(schema.SharedMetaTable).
		Where("meta_id = ?", 1).First(&row).Error)
	assert.Equal(t, "9.99", row.Value)
}
