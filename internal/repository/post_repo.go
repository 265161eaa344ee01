// Package repository implements database access for content and meta rows.
// Every method resolves its table pair through the routing layer per call,
// so a migration that flips a post type's flag mid-process is picked up by
// the very next query.
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

// PostRepository reads and writes content rows for any post type,
// shared-table or custom-table backed.
type PostRepository interface {
	List(ctx context.Context, postType string, page, limit int) ([]domain.Post, int64, error)
	GetByID(ctx context.Context, postType string, id int64) (*domain.Post, error)
	Create(ctx context.Context, post *domain.Post) error
	Update(ctx context.Context, post *domain.Post) error
	Delete(ctx context.Context, postType string, id int64) error
}

type postRepository struct {
	db       *gorm.DB
	resolver *routing.Resolver
}

// NewPostRepository creates a post repository backed by the routing resolver.
func NewPostRepository(db *gorm.DB, resolver *routing.Resolver) PostRepository {
	return &postRepository{db: db, resolver: resolver}
}

func (r *postRepository) List(ctx context.Context, postType string, page, limit int) ([]domain.Post, int64, error) {
	route := r.resolver.Resolve(ctx, postType)
	base := r.db.WithContext(ctx).Table(route.ContentTable).
		Where("post_type = ?", postType)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	offset := (page - 1) * limit
	var posts []domain.Post
	err := base.Session(&gorm.Session{}).
		Order("post_date DESC, `ID` DESC").
		Offset(offset).
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	return posts, total, nil
}

func (r *postRepository) GetByID(ctx context.Context, postType string, id int64) (*domain.Post, error) {
	route := r.resolver.Resolve(ctx, postType)
	var post domain.Post
	err := r.db.WithContext(ctx).Table(route.ContentTable).
		Where("`ID` = ? AND post_type = ?", id, postType).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, post *domain.Post) error {
	route := r.resolver.Resolve(ctx, post.Type)
	if err := r.db.WithContext(ctx).Table(route.ContentTable).Create(post).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (r *postRepository) Update(ctx context.Context, post *domain.Post) error {
	route := r.resolver.Resolve(ctx, post.Type)
	result := r.db.WithContext(ctx).Table(route.ContentTable).
		Where("`ID` = ? AND post_type = ?", post.ID, post.Type).
		Updates(map[string]interface{}{
			"post_title":        post.Title,
			"post_content":      post.Content,
			"post_excerpt":      post.Excerpt,
			"post_status":       post.Status,
			"post_name":         post.Slug,
			"post_parent":       post.ParentID,
			"menu_order":        post.MenuOrder,
			"comment_status":    post.CommentStatus,
			"ping_status":       post.PingStatus,
			"post_modified":     post.Modified,
			"post_modified_gmt": post.ModifiedGMT,
		})
	if result.Error != nil {
		return fmt.Errorf("update post %d: %w", post.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrPostNotFound
	}
	return nil
}

func (r *postRepository) Delete(ctx context.Context, postType string, id int64) error {
	route := r.resolver.Resolve(ctx, postType)
	result := r.db.WithContext(ctx).Table(route.ContentTable).
		Where("`ID` = ? AND post_type = ?", id, postType).
		Delete(nil)
	if result.Error != nil {
		return fmt.Errorf("delete post %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrPostNotFound
	}
	// Meta rows follow their parent row out of the same route's pair.
	if err := r.db.WithContext(ctx).Table(route.MetaTable).
		Where("post_id = ?", id).
		Delete(nil).Error; err != nil {
		return fmt.Errorf("delete meta for post %d: %w", id, err)
	}
	return nil
}
