package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/common"
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
	return db
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "wp_cpt_product", ContentTable("product"))
	assert.Equal(t, "wp_cpt_product_meta", MetaTable("product"))
}

func TestPostTypeFromTable(t *testing.T) {
	cases := []struct {
		table    string
		postType string
		meta     bool
		ok       bool
	}{
		{"wp_cpt_product", "product", false, true},
		{"wp_cpt_product_meta", "product", true, true},
		{"wp_cpt_my-type", "my-type", false, true},
		{"wp_posts", "", false, false},
		{"wp_options", "", false, false},
	}
	for _, tc := range cases {
		postType, meta, ok := PostTypeFromTable(tc.table)
		assert.Equal(t, tc.ok, ok, tc.table)
		assert.Equal(t, tc.postType, postType, tc.table)
		assert.Equal(t, tc.meta, meta, tc.table)
	}
}

func TestEnsureSchemaCreatesPair(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	require.NoError(t, store.EnsureSchema("product"))

	assert.True(t, store.HasTable("wp_cpt_product"))
	assert.True(t, store.HasTable("wp_cpt_product_meta"))
	for _, idx := range contentIndexes {
		assert.True(t, db.Migrator().HasIndex("wp_cpt_product", idx.name("wp_cpt_product")),
			"missing index %s", idx.name("wp_cpt_product"))
	}
	for _, idx := range metaIndexes {
		assert.True(t, db.Migrator().HasIndex("wp_cpt_product_meta", idx.name("wp_cpt_product_meta")),
			"missing index %s", idx.name("wp_cpt_product_meta"))
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	require.NoError(t, store.EnsureSchema("product"))

	// Data in place proves the second call did not recreate the table.
	require.NoError(t, db.Table("wp_cpt_product").Create(&domain.Post{ID: 1, Type: "product"}).Error)
	require.NoError(t, store.EnsureSchema("product"))

	var n int64
	require.NoError(t, db.Table("wp_cpt_product").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestEnsureSchemaRejectsInvalidName(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	for _, name := range []string{"", "Has Spaces", "UPPER", "semi;colon", "a-very-long-type-name-over-limit"} {
		err := store.EnsureSchema(name)
		assert.ErrorIs(t, err, common.ErrInvalidTypeName, "name %q", name)
	}
}

func TestEnsureSchemaValidateModeRejectsMismatch(t *testing.T) {
	db := newTestDB(t)
	// A pre-existing content table with the wrong shape.
	require.NoError(t, db.Exec("CREATE TABLE `wp_cpt_product` (`ID` integer primary key, `title` text)").Error)

	store := NewStore(db, HandlingValidate)
	err := store.EnsureSchema("product")
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
}

func TestEnsureSchemaAutoModeRepairsAdditively(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE `wp_cpt_product` (`ID` integer primary key, `post_type` text)").Error)

	store := NewStore(db, HandlingAuto)
	require.NoError(t, store.EnsureSchema("product"))

	diff, err := store.ValidateContentTable("wp_cpt_product")
	require.NoError(t, err)
	assert.Empty(t, diff.MissingColumns)
	assert.Empty(t, diff.MissingIndexes)
}

func TestValidateSchemaReportsDiff(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE `wp_cpt_product` (`ID` integer primary key, `post_type` text, `legacy_col` text)").Error)

	store := NewStore(db, HandlingAuto)
	diff, err := store.ValidateContentTable("wp_cpt_product")
	require.NoError(t, err)

	assert.False(t, diff.Clean())
	assert.Contains(t, diff.MissingColumns, "post_title")
	assert.Contains(t, diff.ExtraColumns, "legacy_col")
	assert.NotEmpty(t, diff.MissingIndexes)
}

func TestValidateSchemaMissingTable(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	_, err := store.ValidateContentTable("wp_cpt_ghost")
	assert.ErrorIs(t, err, common.ErrTableMissing)
}

func TestDropSchema(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	require.NoError(t, store.EnsureSchema("product"))
	require.NoError(t, store.DropSchema("product"))
	assert.False(t, store.HasTable("wp_cpt_product"))
	assert.False(t, store.HasTable("wp_cpt_product_meta"))

	// Dropping an absent pair is not an error.
	require.NoError(t, store.DropSchema("product"))
}

func TestDetectExisting(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	require.NoError(t, store.EnsureSchema("product"))
	require.NoError(t, store.EnsureSchema("event"))
	require.NoError(t, db.Table("wp_cpt_product").Create(&domain.Post{ID: 1, Type: "product"}).Error)
	// Backup copies are excluded from detection.
	require.NoError(t, db.Exec("CREATE TABLE `wp_cpt_product_backup_20240101000000` (`ID` integer)").Error)

	infos, err := store.DetectExisting()
	require.NoError(t, err)
	require.Len(t, infos, 4)

	byTable := make(map[string]TableInfo, len(infos))
	for _, info := range infos {
		byTable[info.Table] = info
	}
	product := byTable["wp_cpt_product"]
	assert.Equal(t, "product", product.PostType)
	assert.False(t, product.Meta)
	assert.Equal(t, int64(1), product.Rows)
	assert.True(t, product.HasData)

	meta := byTable["wp_cpt_event_meta"]
	assert.Equal(t, "event", meta.PostType)
	assert.True(t, meta.Meta)
	assert.False(t, meta.HasData)
}

func TestBackupCopiesData(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, HandlingAuto)

	require.NoError(t, store.EnsureSchema("product"))
	require.NoError(t, db.Table("wp_cpt_product").Create(&domain.Post{ID: 1, Type: "product", Title: "x"}).Error)

	backup, err := store.Backup("wp_cpt_product")
	require.NoError(t, err)
	assert.True(t, store.HasTable(backup))

	var n int64
	require.NoError(t, db.Table(backup).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err = store.Backup("wp_cpt_ghost")
	assert.True(t, errors.Is(err, common.ErrTableMissing))
}
