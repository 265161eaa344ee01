// Package rewriter repairs references to content rows that changed identity
// during a reverse migration. It must run only after the row move completed,
// so every new identity already exists before anything points at it.
package rewriter

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/schema"
	"github.com/openpress/cptables/pkg/logger"
)

// Rewriter applies an old→new identity map to the shared tables.
type Rewriter struct {
	db *gorm.DB
}

// New creates a rewriter against the given database.
func New(db *gorm.DB) *Rewriter {
	return &Rewriter{db: db}
}

// Apply rewrites, for every remapped id: parent pointers on content rows,
// attribute values that hold the bare id, and "p=<id>" embed references in
// content bodies. postType scopes the updates to the migrated type's rows.
// A nil or empty map is a no-op.
//
// The attribute and embed rewrites are literal text substitution, the same
// best-effort matching the CMS ecosystem has always used: a value that
// happens to equal an unrelated number, or an embed like "p=70" when id 7
// was remapped, can be touched incorrectly. This is a documented limitation,
// not a matching bug to fix silently.
func (r *Rewriter) Apply(ctx context.Context, postType string, remap map[int64]int64) error {
	if len(remap) == 0 {
		return nil
	}
	log := logger.WithPostType(postType)

	for oldID, newID := range remap {
		if err := r.rewriteParents(ctx, postType, oldID, newID); err != nil {
			return err
		}
		if err := r.rewriteMetaValues(ctx, postType, oldID, newID); err != nil {
			return err
		}
		if err := r.rewriteEmbeds(ctx, postType, oldID, newID); err != nil {
			return err
		}
	}
	log.Info().Int("remapped", len(remap)).Msg("reference rewrite complete")
	return nil
}

// rewriteParents repoints child rows whose parent reference held the old id.
func (r *Rewriter) rewriteParents(ctx context.Context, postType string, oldID, newID int64) error {
	err := r.db.WithContext(ctx).Table(schema.SharedContentTable).
		Where("post_type = ? AND post_parent = ?", postType, oldID).
		Update("post_parent", newID).Error
	if err != nil {
		return fmt.Errorf("rewrite parents %d->%d: %w", oldID, newID, err)
	}
	return nil
}

// rewriteMetaValues replaces attribute values that are exactly the old id,
// scoped to attributes owned by the migrated type.
func (r *Rewriter) rewriteMetaValues(ctx context.Context, postType string, oldID, newID int64) error {
	sub := r.db.Table(schema.SharedContentTable).
		Select("`ID`").
		Where("post_type = ?", postType)
	err := r.db.WithContext(ctx).Table(schema.SharedMetaTable).
		Where("post_id IN (?)", sub).
		Where("meta_value = ?", strconv.FormatInt(oldID, 10)).
		Update("meta_value", strconv.FormatInt(newID, 10)).Error
	if err != nil {
		return fmt.Errorf("rewrite meta values %d->%d: %w", oldID, newID, err)
	}
	return nil
}

// rewriteEmbeds substitutes the "p=<old>" pattern inside content bodies.
// One scan-and-replace per remapped id, scoped to the migrated type.
func (r *Rewriter) rewriteEmbeds(ctx context.Context, postType string, oldID, newID int64) error {
	oldRef := "p=" + strconv.FormatInt(oldID, 10)
	newRef := "p=" + strconv.FormatInt(newID, 10)
	err := r.db.WithContext(ctx).Exec(
		fmt.Sprintf("UPDATE `%s` SET post_content = REPLACE(post_content, ?, ?) WHERE post_type = ? AND post_content LIKE ?", schema.SharedContentTable),
		oldRef, newRef, postType, "%"+oldRef+"%",
	).Error
	if err != nil {
		return fmt.Errorf("rewrite embeds %d->%d: %w", oldID, newID, err)
	}
	return nil
}

// SweepOrphans deletes shared attribute rows whose owning content row no
// longer exists. Best effort maintenance: the count is logged, failures are
// returned but callers typically downgrade them to warnings.
func (r *Rewriter) SweepOrphans(ctx context.Context) (int64, error) {
	sub := r.db.Table(schema.SharedContentTable).Select("`ID`")
	res := r.db.WithContext(ctx).Table(schema.SharedMetaTable).
		Where("post_id NOT IN (?)", sub).
		Delete(nil)
	if res.Error != nil {
		return 0, fmt.Errorf("orphan sweep: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Info("orphan sweep removed %d attribute rows", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
