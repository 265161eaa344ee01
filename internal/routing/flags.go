// Package routing decides, per post type, which table pair is authoritative.
// The flag set is persisted in the options table; a short-lived cache keeps
// the per-call lookup cheap.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/pkg/cache"
)

// FlagStore persists the set of post types routed to custom tables.
type FlagStore struct {
	db    *gorm.DB
	cache cache.Service
}

// NewFlagStore creates a flag store backed by the options table.
func NewFlagStore(db *gorm.DB, cacheSvc cache.Service) *FlagStore {
	return &FlagStore{db: db, cache: cacheSvc}
}

// EnabledTypes returns the current flag set, cache first.
func (s *FlagStore) EnabledTypes(ctx context.Context) ([]string, error) {
	if s.cache != nil {
		if types, err := s.cache.GetEnabledTypes(ctx); err == nil {
			return types, nil
		}
	}

	types, err := s.readOption(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetEnabledTypes(ctx, types)
	}
	return types, nil
}

// IsEnabled reports whether the post type is flagged for custom storage.
func (s *FlagStore) IsEnabled(ctx context.Context, postType string) (bool, error) {
	types, err := s.EnabledTypes(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range types {
		if t == postType {
			return true, nil
		}
	}
	return false, nil
}

// Enable adds the post type to the flag set and invalidates the cache.
func (s *FlagStore) Enable(ctx context.Context, postType string) error {
	return s.mutate(ctx, postType, true)
}

// Disable removes the post type from the flag set and invalidates the cache.
func (s *FlagStore) Disable(ctx context.Context, postType string) error {
	return s.mutate(ctx, postType, false)
}

func (s *FlagStore) mutate(ctx context.Context, postType string, enabled bool) error {
	// The flag set is one row shared by every post type, and the migration
	// leases are per type, so different types can mutate it concurrently.
	// The read-modify-write runs in one transaction, with a row lock on
	// MySQL, so no flip can overwrite another's result.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		read := tx
		if tx.Dialector.Name() == "mysql" {
			read = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		types, err := s.readOption(read)
		if err != nil {
			return err
		}

		set := make(map[string]bool, len(types)+1)
		for _, t := range types {
			set[t] = true
		}
		if enabled {
			set[postType] = true
		} else {
			delete(set, postType)
		}

		next := make([]string, 0, len(set))
		for t := range set {
			next = append(next, t)
		}
		sort.Strings(next)

		return s.writeOption(tx, next)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateEnabledTypes(ctx)
	}
	return nil
}

func (s *FlagStore) readOption(db *gorm.DB) ([]string, error) {
	var opt domain.Option
	err := db.
		Where("option_name = ?", domain.OptionEnabledTypes).
		First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read routing flags: %w", err)
	}

	var types []string
	if opt.Value != "" {
		if err := json.Unmarshal([]byte(opt.Value), &types); err != nil {
			return nil, fmt.Errorf("decode routing flags: %w", err)
		}
	}
	return types, nil
}

func (s *FlagStore) writeOption(db *gorm.DB, types []string) error {
	data, err := json.Marshal(types)
	if err != nil {
		return err
	}

	var opt domain.Option
	err = db.
		Where("option_name = ?", domain.OptionEnabledTypes).
		First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		opt = domain.Option{Name: domain.OptionEnabledTypes, Value: string(data)}
		if err := db.Create(&opt).Error; err != nil {
			return fmt.Errorf("write routing flags: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("write routing flags: %w", err)
	}

	err = db.Model(&domain.Option{}).
		Where("option_id = ?", opt.ID).
		Update("option_value", string(data)).Error
	if err != nil {
		return fmt.Errorf("write routing flags: %w", err)
	}
	return nil
}
