// Package service holds the business logic between the HTTP handlers and the
// repositories.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/repository"
	"github.com/openpress/cptables/pkg/cache"
	"github.com/openpress/cptables/pkg/logger"
)

// PostService exposes content and attribute operations. The list path is
// cached with a short TTL; every write invalidates the post type's cached
// pages.
type PostService interface {
	List(ctx context.Context, postType string, page, limit int) ([]domain.Post, int64, error)
	Get(ctx context.Context, postType string, id int64) (*domain.Post, error)
	Create(ctx context.Context, post *domain.Post) error
	Update(ctx context.Context, post *domain.Post) error
	Delete(ctx context.Context, postType string, id int64) error

	ListMeta(ctx context.Context, postType string, postID int64) ([]domain.PostMeta, error)
	SetMeta(ctx context.Context, postType string, postID int64, key, value string) error
	DeleteMeta(ctx context.Context, postType string, postID int64, key string) error
}

type postService struct {
	posts repository.PostRepository
	meta  repository.MetaRepository
	cache cache.Service
}

// NewPostService creates a post service.
func NewPostService(posts repository.PostRepository, meta repository.MetaRepository, cacheSvc cache.Service) PostService {
	return &postService{posts: posts, meta: meta, cache: cacheSvc}
}

// listPayload is the cached shape of one list page.
type listPayload struct {
	Posts []domain.Post `json:"posts"`
	Total int64         `json:"total"`
}

func (s *postService) List(ctx context.Context, postType string, page, limit int) ([]domain.Post, int64, error) {
	if !domain.IsValidTypeName(postType) {
		return nil, 0, common.ErrInvalidTypeName
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	if data, err := s.cache.GetPosts(ctx, postType, page, limit); err == nil {
		var payload listPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			return payload.Posts, payload.Total, nil
		}
	}

	posts, total, err := s.posts.List(ctx, postType, page, limit)
	if err != nil {
		return nil, 0, err
	}

	if err := s.cache.SetPosts(ctx, postType, page, limit, listPayload{Posts: posts, Total: total}); err != nil {
		logger.WithPostType(postType).Warn().Err(err).Msg("failed to cache post list")
	}
	return posts, total, nil
}

func (s *postService) Get(ctx context.Context, postType string, id int64) (*domain.Post, error) {
	if !domain.IsValidTypeName(postType) {
		return nil, common.ErrInvalidTypeName
	}
	return s.posts.GetByID(ctx, postType, id)
}

func (s *postService) Create(ctx context.Context, post *domain.Post) error {
	if !domain.IsValidTypeName(post.Type) {
		return common.ErrInvalidTypeName
	}
	if post.Title == "" && post.Content == "" {
		return fmt.Errorf("%w: title or content required", common.ErrInvalidInput)
	}

	now := time.Now()
	if post.Date.IsZero() {
		post.Date = now
	}
	if post.DateGMT.IsZero() {
		post.DateGMT = now.UTC()
	}
	post.Modified = now
	post.ModifiedGMT = now.UTC()
	if post.Status == "" {
		post.Status = domain.PostStatusDraft
	}
	if post.CommentStatus == "" {
		post.CommentStatus = "open"
	}
	if post.PingStatus == "" {
		post.PingStatus = "open"
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return err
	}
	s.invalidate(ctx, post.Type)
	return nil
}

func (s *postService) Update(ctx context.Context, post *domain.Post) error {
	if !domain.IsValidTypeName(post.Type) {
		return common.ErrInvalidTypeName
	}
	now := time.Now()
	post.Modified = now
	post.ModifiedGMT = now.UTC()

	if err := s.posts.Update(ctx, post); err != nil {
		return err
	}
	s.invalidate(ctx, post.Type)
	return nil
}

func (s *postService) Delete(ctx context.Context, postType string, id int64) error {
	if !domain.IsValidTypeName(postType) {
		return common.ErrInvalidTypeName
	}
	if err := s.posts.Delete(ctx, postType, id); err != nil {
		return err
	}
	s.invalidate(ctx, postType)
	return nil
}

func (s *postService) ListMeta(ctx context.Context, postType string, postID int64) ([]domain.PostMeta, error) {
	if !domain.IsValidTypeName(postType) {
		return nil, common.ErrInvalidTypeName
	}
	// The parent must exist in this type's pair; a bare post_id lookup
	// could leak rows across types after a partial migration.
	if _, err := s.posts.GetByID(ctx, postType, postID); err != nil {
		return nil, err
	}
	return s.meta.ListByPost(ctx, postType, postID)
}

func (s *postService) SetMeta(ctx context.Context, postType string, postID int64, key, value string) error {
	if !domain.IsValidTypeName(postType) {
		return common.ErrInvalidTypeName
	}
	if key == "" {
		return fmt.Errorf("%w: meta key required", common.ErrInvalidInput)
	}
	if _, err := s.posts.GetByID(ctx, postType, postID); err != nil {
		return err
	}
	if err := s.meta.Upsert(ctx, postType, postID, key, value); err != nil {
		return err
	}
	s.invalidate(ctx, postType)
	return nil
}

func (s *postService) DeleteMeta(ctx context.Context, postType string, postID int64, key string) error {
	if !domain.IsValidTypeName(postType) {
		return common.ErrInvalidTypeName
	}
	if err := s.meta.Delete(ctx, postType, postID, key); err != nil {
		return err
	}
	s.invalidate(ctx, postType)
	return nil
}

func (s *postService) invalidate(ctx context.Context, postType string) {
	if err := s.cache.InvalidatePosts(ctx, postType); err != nil {
		logger.WithPostType(postType).Warn().Err(err).Msg("failed to invalidate post cache")
	}
}
