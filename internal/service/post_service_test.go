package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/repository"
	"github.com/openpress/cptables/internal/routing"
	"github.com/openpress/cptables/internal/schema"
	"github.com/openpress/cptables/pkg/cache"
)

type serviceEnv struct {
	db      *gorm.DB
	cache   cache.Service
	flags   *routing.FlagStore
	schema  *schema.Store
	service PostService
}

func newServiceEnv(t *testing.T) *serviceEnv {
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

	if err := db.AutoMigrate(&domain.Post{}, &domain.PostMeta{}, &domain.Option{}); err != nil {
		t.Fatalf("failed to migrate shared tables: %v", err)
	}

	cacheSvc := cache.NewMemoryService()
	schemaStore := schema.NewStore(db, schema.HandlingAuto)
	flags := routing.NewFlagStore(db, cacheSvc)
	resolver := routing.NewResolver(flags, schemaStore)
	posts := repository.NewPostRepository(db, resolver)
	meta := repository.NewMetaRepository(db, resolver)

	return &serviceEnv{
		db:      db,
		cache:   cacheSvc,
		flags:   flags,
		schema:  schemaStore,
		service: NewPostService(posts, meta, cacheSvc),
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	post := domain.Post{Title: "Widget", Content: "A widget.", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &post))
	require.NotZero(t, post.ID)
	assert.Equal(t, domain.PostStatusDraft, post.Status, "status defaults to draft")
	assert.False(t, post.Date.IsZero(), "dates are stamped on create")
	assert.Equal(t, "open", post.CommentStatus)

	got, err := env.service.Get(ctx, "product", post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Title)

	// The same ID under a different type is not visible.
	_, err = env.service.Get(ctx, "event", post.ID)
	assert.ErrorIs(t, err, common.ErrPostNotFound)
}

func TestCreateRequiresTitleOrContent(t *testing.T) {
	env := newServiceEnv(t)

	err := env.service.Create(context.Background(), &domain.Post{Type: "product"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestCreateRejectsInvalidTypeName(t *testing.T) {
	env := newServiceEnv(t)

	err := env.service.Create(context.Background(), &domain.Post{Title: "x", Type: "Bad Type"})
	assert.ErrorIs(t, err, common.ErrInvalidTypeName)
}

func TestListCachesAndInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	first := domain.Post{Title: "One", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &first))

	posts, total, err := env.service.List(ctx, "product", 1, 20)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(1), total)

	// A write through the service invalidates the cached page, so the next
	// list sees the new row immediately despite the list TTL.
	second := domain.Post{Title: "Two", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &second))

	posts, total, err = env.service.List(ctx, "product", 1, 20)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, int64(2), total)
}

func TestUpdateMissingPost(t *testing.T) {
	env := newServiceEnv(t)

	err := env.service.Update(context.Background(), &domain.Post{ID: 999, Title: "x", Type: "product"})
	assert.ErrorIs(t, err, common.ErrPostNotFound)
}

func TestDeleteRemovesPostAndMeta(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	post := domain.Post{Title: "Widget", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &post))
	require.NoError(t, env.service.SetMeta(ctx, "product", post.ID, "price", "19.99"))

	require.NoError(t, env.service.Delete(ctx, "product", post.ID))

	_, err := env.service.Get(ctx, "product", post.ID)
	assert.ErrorIs(t, err, common.ErrPostNotFound)

	var metaCount int64
	require.NoError(t, env.db.Table(schema.SharedMetaTable).Where("post_id = ?", post.ID).Count(&metaCount).Error)
	assert.Zero(t, metaCount, "meta rows follow the post out")
}

func TestSetMetaUpsertsAndGuardsParent(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	post := domain.Post{Title: "Widget", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &post))

	require.NoError(t, env.service.SetMeta(ctx, "product", post.ID, "price", "10.00"))
	require.NoError(t, env.service.SetMeta(ctx, "product", post.ID, "price", "12.50"))

	rows, err := env.service.ListMeta(ctx, "product", post.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1, "repeated set updates in place")
	assert.Equal(t, "12.50", rows[0].Value)

	// Meta writes against a parent that is not in this type's tables fail.
	err = env.service.SetMeta(ctx, "event", post.ID, "price", "0")
	assert.ErrorIs(t, err, common.ErrPostNotFound)

	err = env.service.SetMeta(ctx, "product", post.ID, "", "x")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestDeleteMetaMissingKey(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	post := domain.Post{Title: "Widget", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &post))

	err := env.service.DeleteMeta(ctx, "product", post.ID, "absent")
	assert.ErrorIs(t, err, common.ErrMetaNotFound)
}

func TestReadsFollowRoutingFlag(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	shared := domain.Post{Title: "Shared row", Type: "product"}
	require.NoError(t, env.service.Create(ctx, &shared))

	// Divert the type to its custom pair and write a row there directly.
	// The list cache is flushed the way the orchestrator does after a flip.
	require.NoError(t, env.schema.EnsureSchema("product"))
	require.NoError(t, env.flags.Enable(ctx, "product"))
	require.NoError(t, env.cache.InvalidatePosts(ctx, "product"))
	custom := domain.Post{Title: "Custom row", Type: "product", Status: domain.PostStatusPublish}
	require.NoError(t, env.db.Table(schema.ContentTable("product")).Create(&custom).Error)

	posts, total, err := env.service.List(ctx, "product", 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, "Custom row", posts[0].Title, "diverted type reads its custom table")

	require.NoError(t, env.flags.Disable(ctx, "product"))
	require.NoError(t, env.cache.InvalidatePosts(ctx, "product"))
	posts, _, err = env.service.List(ctx, "product", 1, 20)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Shared row", posts[0].Title)
}
