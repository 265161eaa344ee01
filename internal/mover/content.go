// Package mover implements the batch copy engines that page rows between
// the shared and custom table pairs. Pagination is strictly by primary key
// ascending, so the cursor stays stable under concurrent writes: timestamps
// may change mid-migration, primary keys do not.
package mover

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/schema"
	"github.com/openpress/cptables/pkg/logger"
)

// BatchResult reports one MoveBatch call. Cursor advances by the rows
// actually read, not by the requested batch size, so a short final batch
// terminates the loop.
type BatchResult struct {
	Moved  int
	Cursor int64
	Done   bool
}

// ContentMover copies content rows between the shared table and one post
// type's custom table.
type ContentMover struct {
	db        *gorm.DB
	postType  string
	direction string
	src, dst  string
	remap     map[int64]int64
	nextMint  int64
}

// NewContentMover builds a mover for one post type and direction.
func NewContentMover(db *gorm.DB, postType, direction string) *ContentMover {
	m := &ContentMover{
		db:        db,
		postType:  postType,
		direction: direction,
		remap:     make(map[int64]int64),
	}
	if direction == domain.DirectionToShared {
		m.src = schema.ContentTable(postType)
		m.dst = schema.SharedContentTable
	} else {
		m.src = schema.SharedContentTable
		m.dst = schema.ContentTable(postType)
	}
	return m
}

// Remap returns the accumulated old→new identity map. Non-empty only after
// to_shared batches hit identity collisions.
func (m *ContentMover) Remap() map[int64]int64 { return m.remap }

// Total counts the rows still in the source table for this post type.
func (m *ContentMover) Total(ctx context.Context) (int64, error) {
	var total int64
	err := m.db.WithContext(ctx).Table(m.src).
		Where("post_type = ?", m.postType).
		Count(&total).Error
	return total, err
}

// MoveBatch copies up to batchSize rows with IDs greater than cursor.
//
// In the to_shared direction the shared primary key space is global across
// post types, so each batch first checks the destination for occupied IDs:
// an occupant of the same post type is a legitimate re-run and the upsert
// updates it in place; an occupant of a different type forces the incoming
// row onto a freshly minted auto-increment ID, recorded in the identity map
// for the reference rewriter. Source rows are deleted per batch only in the
// to_shared direction; the forward direction defers shared-table cleanup to
// a dedicated post-move step.
func (m *ContentMover) MoveBatch(ctx context.Context, batchSize int, cursor int64) (BatchResult, error) {
	var rows []domain.Post
	err := m.db.WithContext(ctx).Table(m.src).
		Where("post_type = ?", m.postType).
		Where("`ID` > ?", cursor).
		Order("`ID` ASC").
		Limit(batchSize).
		Find(&rows).Error
	if err != nil {
		return BatchResult{Cursor: cursor}, fmt.Errorf("read batch from %s: %w", m.src, err)
	}
	if len(rows) == 0 {
		return BatchResult{Cursor: cursor, Done: true}, nil
	}

	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}

	direct := rows
	if m.direction == domain.DirectionToShared {
		direct, err = m.resolveCollisions(ctx, rows, ids)
		if err != nil {
			return BatchResult{Cursor: cursor}, err
		}
	}

	if len(direct) > 0 {
		sql := upsertSQL(m.db.Dialector.Name(), m.dst, domain.PostColumns, "ID", len(direct))
		args := make([]interface{}, 0, len(direct)*len(domain.PostColumns))
		for i := range direct {
			args = append(args, direct[i].Values()...)
		}
		if err := m.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return BatchResult{Cursor: cursor}, fmt.Errorf("upsert batch into %s: %w", m.dst, err)
		}
	}

	if m.direction == domain.DirectionToShared {
		if err := m.db.WithContext(ctx).Table(m.src).
			Where("`ID` IN ?", ids).
			Delete(nil).Error; err != nil {
			return BatchResult{Cursor: cursor}, fmt.Errorf("delete moved rows from %s: %w", m.src, err)
		}
	}

	return BatchResult{
		Moved:  len(rows),
		Cursor: ids[len(ids)-1],
		Done:   len(rows) < batchSize,
	}, nil
}

// resolveCollisions splits the batch into rows that can keep their IDs
// (returned for the bulk upsert) and rows whose IDs are occupied by a
// different post type, which are inserted individually with fresh IDs.
func (m *ContentMover) resolveCollisions(ctx context.Context, rows []domain.Post, ids []int64) ([]domain.Post, error) {
	type occupant struct {
		ID   int64  `gorm:"column:ID"`
		Type string `gorm:"column:post_type"`
	}
	var occupants []occupant
	err := m.db.WithContext(ctx).Table(m.dst).
		Select("`ID`, `post_type`").
		Where("`ID` IN ?", ids).
		Find(&occupants).Error
	if err != nil {
		return nil, fmt.Errorf("check destination IDs in %s: %w", m.dst, err)
	}

	foreign := make(map[int64]bool)
	for _, o := range occupants {
		if o.Type != m.postType {
			foreign[o.ID] = true
		}
	}
	if len(foreign) == 0 {
		return rows, nil
	}

	if m.nextMint == 0 {
		floor, err := m.mintFloor(ctx)
		if err != nil {
			return nil, err
		}
		m.nextMint = floor
	}

	direct := make([]domain.Post, 0, len(rows))
	for i := range rows {
		if !foreign[rows[i].ID] {
			direct = append(direct, rows[i])
			continue
		}
		oldID := rows[i].ID
		minted := rows[i]
		minted.ID = m.nextMint
		m.nextMint++
		if err := m.db.WithContext(ctx).Table(m.dst).Create(&minted).Error; err != nil {
			return nil, fmt.Errorf("insert remapped row (old id %d): %w", oldID, err)
		}
		m.remap[oldID] = minted.ID
		logger.WithPostType(m.postType).Info().
			Int64("old_id", oldID).
			Int64("new_id", minted.ID).
			Msg("identity collision: row remapped")
	}
	return direct, nil
}

// mintFloor returns the first identity safe for remapped rows. It must clear
// the source table's maximum too: the database would hand out max(dst)+1,
// which a still-unmoved source row may already hold.
func (m *ContentMover) mintFloor(ctx context.Context) (int64, error) {
	var dstMax, srcMax int64
	if err := m.db.WithContext(ctx).Table(m.dst).
		Select("COALESCE(MAX(`ID`), 0)").Scan(&dstMax).Error; err != nil {
		return 0, fmt.Errorf("max id of %s: %w", m.dst, err)
	}
	if err := m.db.WithContext(ctx).Table(m.src).
		Select("COALESCE(MAX(`ID`), 0)").Scan(&srcMax).Error; err != nil {
		return 0, fmt.Errorf("max id of %s: %w", m.src, err)
	}
	if srcMax > dstMax {
		return srcMax + 1, nil
	}
	return dstMax + 1, nil
}
