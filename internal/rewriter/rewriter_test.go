package rewriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/domain"
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

	if err := db.AutoMigrate(&domain.Post{}, &domain.PostMeta{}); err != nil {
		t.Fatalf("failed to migrate shared tables: %v", err)
	}
	return db
}

func TestApplyRewritesParents(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Post{ID: 7, Type: "product"}).Error)
	require.NoError(t, db.Create(&domain.Post{ID: 10, Type: "product", ParentID: 3}).Error)
	require.NoError(t, db.Create(&domain.Post{ID: 11, Type: "page", ParentID: 3}).Error)

	r := New(db)
	require.NoError(t, r.Apply(context.Background(), "product", map[int64]int64{3: 7}))

	var child domain.Post
	require.NoError(t, db.Where("`ID` = ?", 10).First(&child).Error)
	assert.Equal(t, int64(7), child.ParentID)

	// Other types' parent pointers are out of scope.
	var other domain.Post
	require.NoError(t, db.Where("`ID` = ?", 11).First(&other).Error)
	assert.Equal(t, int64(3), other.ParentID)
}

func TestApplyRewritesMetaValues(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Post{ID: 10, Type: "product"}).Error)
	require.NoError(t, db.Create(&domain.Post{ID: 20, Type: "page"}).Error)
	require.NoError(t, db.Create(&domain.PostMeta{PostID: 10, Key: "related_post", Value: "3"}).Error)
	require.NoError(t, db.Create(&domain.PostMeta{PostID: 10, Key: "note", Value: "3 items"}).Error)
	require.NoError(t, db.Create(&domain.PostMeta{PostID: 20, Key: "related_post", Value: "3"}).Error)

	r := New(db)
	require.NoError(t, r.Apply(context.Background(), "product", map[int64]int64{3: 7}))

	var metas []domain.PostMeta
	require.NoError(t, db.Where("post_id = ?", 10).Order("meta_key").Find(&metas).Error)
	require.Len(t, metas, 2)
	assert.Equal(t, "3 items", metas[0].Value) // not an exact match, untouched
	assert.Equal(t, "7", metas[1].Value)

	// Attributes owned by other types are out of scope.
	var pageMeta domain.PostMeta
	require.NoError(t, db.Where("post_id = ?", 20).First(&pageMeta).Error)
	assert.Equal(t, "3", pageMeta.Value)
}

func TestApplyRewritesEmbeds(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Post{
		ID: 10, Type: "product", Content: `see <a href="/?p=3">this</a> and p=30 too`,
	}).Error)

	r := New(db)
	require.NoError(t, r.Apply(context.Background(), "product", map[int64]int64{3: 7}))

	var post domain.Post
	require.NoError(t, db.Where("`ID` = ?", 10).First(&post).Error)
	// Plain substitution also catches the p=30 prefix. That imprecision is
	// inherited behavior, asserted here so a change to it is deliberate.
	assert.Equal(t, `see <a href="/?p=7">this</a> and p=70 too`, post.Content)
}

func TestApplyEmptyRemapIsNoOp(t *testing.T) {
	db := newTestDB(t)
	r := New(db)
	assert.NoError(t, r.Apply(context.Background(), "product", nil))
	assert.NoError(t, r.Apply(context.Background(), "product", map[int64]int64{}))
}

func TestSweepOrphans(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&domain.Post{ID: 1, Type: "post"}).Error)
	require.NoError(t, db.Create(&domain.PostMeta{PostID: 1, Key: "keep", Value: "x"}).Error)
	require.NoError(t, db.Create(&domain.PostMeta{PostID: 999, Key: "orphan", Value: "y"}).Error)
	require.NoError(t, db.Create(&domain.PostMeta{PostID: 998, Key: "orphan", Value: "z"}).Error)

	r := New(db)
	deleted, err := r.SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var n int64
	require.NoError(t, db.Model(&domain.PostMeta{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
