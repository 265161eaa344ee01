package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/routing"
)

// MetaRepository reads and writes attribute rows. Keys are not unique per
// post; Upsert targets the first row for a key and creates one when none
// exists, Add always appends a new row.
type MetaRepository interface {
	ListByPost(ctx context.Context, postType string, postID int64) ([]domain.PostMeta, error)
	Get(ctx context.Context, postType string, postID int64, key string) (*domain.PostMeta, error)
	Add(ctx context.Context, postType string, meta *domain.PostMeta) error
	Upsert(ctx context.Context, postType string, postID int64, key, value string) error
	Delete(ctx context.Context, postType string, postID int64, key string) error
}

type metaRepository struct {
	db       *gorm.DB
	resolver *routing.Resolver
}

// NewMetaRepository creates a meta repository backed by the routing resolver.
func NewMetaRepository(db *gorm.DB, resolver *routing.Resolver) MetaRepository {
	return &metaRepository{db: db, resolver: resolver}
}

func (r *metaRepository) ListByPost(ctx context.Context, postType string, postID int64) ([]domain.PostMeta, error) {
	route := r.resolver.Resolve(ctx, postType)
	var rows []domain.PostMeta
	err := r.db.WithContext(ctx).Table(route.MetaTable).
		Where("post_id = ?", postID).
		Order("meta_key ASC, meta_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list meta for post %d: %w", postID, err)
	}
	return rows, nil
}

func (r *metaRepository) Get(ctx context.Context, postType string, postID int64, key string) (*domain.PostMeta, error) {
	route := r.resolver.Resolve(ctx, postType)
	var row domain.PostMeta
	err := r.db.WithContext(ctx).Table(route.MetaTable).
		Where("post_id = ? AND meta_key = ?", postID, key).
		Order("meta_id ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrMetaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meta %q for post %d: %w", key, postID, err)
	}
	return &row, nil
}

func (r *metaRepository) Add(ctx context.Context, postType string, meta *domain.PostMeta) error {
	route := r.resolver.Resolve(ctx, postType)
	if err := r.db.WithContext(ctx).Table(route.MetaTable).Create(meta).Error; err != nil {
		return fmt.Errorf("add meta %q for post %d: %w", meta.Key, meta.PostID, err)
	}
	return nil
}

func (r *metaRepository) Upsert(ctx context.Context, postType string, postID int64, key, value string) error {
	route := r.resolver.Resolve(ctx, postType)
	result := r.db.WithContext(ctx).Table(route.MetaTable).
		Where("post_id = ? AND meta_key = ?", postID, key).
		Update("meta_value", value)
	if result.Error != nil {
		return fmt.Errorf("update meta %q for post %d: %w", key, postID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	meta := domain.PostMeta{PostID: postID, Key: key, Value: value}
	if err := r.db.WithContext(ctx).Table(route.MetaTable).Create(&meta).Error; err != nil {
		return fmt.Errorf("create meta %q for post %d: %w", key, postID, err)
	}
	return nil
}

func (r *metaRepository) Delete(ctx context.Context, postType string, postID int64, key string) error {
	route := r.resolver.Resolve(ctx, postType)
	result := r.db.WithContext(ctx).Table(route.MetaTable).
		Where("post_id = ? AND meta_key = ?", postID, key).
		Delete(nil)
	if result.Error != nil {
		return fmt.Errorf("delete meta %q for post %d: %w", key, postID, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrMetaNotFound
	}
	return nil
}
