package mover

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/schema"
)

// MetaMover copies attribute rows between wp_postmeta and one post type's
// custom attribute table. It follows the same batch contract as
// ContentMover, keyed by meta_id.
//
// When content rows were remapped during a reverse migration, the owning
// post_id of each attribute row is rewritten through the identity map while
// the row is in flight, so attributes land attached to their owner's new
// identity rather than becoming orphans.
type MetaMover struct {
	db        *gorm.DB
	postType  string
	direction string
	src, dst  string
	remap     map[int64]int64
	nextMint  int64
}

// NewMetaMover builds an attribute mover. remap may be nil or empty when no
// content rows changed identity.
func NewMetaMover(db *gorm.DB, postType, direction string, remap map[int64]int64) *MetaMover {
	m := &MetaMover{
		db:        db,
		postType:  postType,
		direction: direction,
		remap:     remap,
	}
	if direction == domain.DirectionToShared {
		m.src = schema.MetaTable(postType)
		m.dst = schema.SharedMetaTable
	} else {
		m.src = schema.SharedMetaTable
		m.dst = schema.MetaTable(postType)
	}
	return m
}

// scope restricts shared-table reads to attribute rows owned by this post
// type. The custom table holds only one type, so no filter is needed there.
func (m *MetaMover) scope(tx *gorm.DB) *gorm.DB {
	if m.src != schema.SharedMetaTable {
		return tx
	}
	sub := m.db.Table(schema.SharedContentTable).
		Select("`ID`").
		Where("post_type = ?", m.postType)
	return tx.Where("post_id IN (?)", sub)
}

// Total counts the attribute rows still in the source table for this type.
func (m *MetaMover) Total(ctx context.Context) (int64, error) {
	var total int64
	err := m.scope(m.db.WithContext(ctx).Table(m.src)).Count(&total).Error
	return total, err
}

// MoveBatch copies up to batchSize attribute rows with meta_ids greater than
// cursor. Identity preservation mirrors the content mover: an occupied
// meta_id belonging to the same owner is a re-run and updates in place; one
// belonging to a different owner forces a fresh meta_id. Nothing references
// meta_id, so no map is kept.
func (m *MetaMover) MoveBatch(ctx context.Context, batchSize int, cursor int64) (BatchResult, error) {
	var rows []domain.PostMeta
	err := m.scope(m.db.WithContext(ctx).Table(m.src)).
		Where("meta_id > ?", cursor).
		Order("meta_id ASC").
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
		ids[i] = rows[i].MetaID
		if mapped, ok := m.remap[rows[i].PostID]; ok {
			rows[i].PostID = mapped
		}
	}

	direct := rows
	if m.direction == domain.DirectionToShared {
		direct, err = m.resolveCollisions(ctx, rows, ids)
		if err != nil {
			return BatchResult{Cursor: cursor}, err
		}
	}

	if len(direct) > 0 {
		sql := upsertSQL(m.db.Dialector.Name(), m.dst, domain.PostMetaColumns, "meta_id", len(direct))
		args := make([]interface{}, 0, len(direct)*len(domain.PostMetaColumns))
		for i := range direct {
			args = append(args, direct[i].Values()...)
		}
		if err := m.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return BatchResult{Cursor: cursor}, fmt.Errorf("upsert batch into %s: %w", m.dst, err)
		}
	}

	if m.direction == domain.DirectionToShared {
		if err := m.db.WithContext(ctx).Table(m.src).
			Where("meta_id IN ?", ids).
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

func (m *MetaMover) resolveCollisions(ctx context.Context, rows []domain.PostMeta, ids []int64) ([]domain.PostMeta, error) {
	type occupant struct {
		MetaID int64 `gorm:"column:meta_id"`
		PostID int64 `gorm:"column:post_id"`
	}
	var occupants []occupant
	err := m.db.WithContext(ctx).Table(m.dst).
		Select("meta_id, post_id").
		Where("meta_id IN ?", ids).
		Find(&occupants).Error
	if err != nil {
		return nil, fmt.Errorf("check destination meta_ids in %s: %w", m.dst, err)
	}

	owner := make(map[int64]int64, len(occupants))
	for _, o := range occupants {
		owner[o.MetaID] = o.PostID
	}

	direct := make([]domain.PostMeta, 0, len(rows))
	for i := range rows {
		occupantOwner, occupied := owner[rows[i].MetaID]
		if !occupied || occupantOwner == rows[i].PostID {
			direct = append(direct, rows[i])
			continue
		}
		if m.nextMint == 0 {
			floor, err := m.mintFloor(ctx)
			if err != nil {
				return nil, err
			}
			m.nextMint = floor
		}
		minted := rows[i]
		minted.MetaID = m.nextMint
		m.nextMint++
		if err := m.db.WithContext(ctx).Table(m.dst).Create(&minted).Error; err != nil {
			return nil, fmt.Errorf("insert remapped meta row (old meta_id %d): %w", rows[i].MetaID, err)
		}
	}
	return direct, nil
}

// mintFloor mirrors the content mover: fresh meta_ids must clear both
// tables' maxima so a still-unmoved source row cannot collide later.
func (m *MetaMover) mintFloor(ctx context.Context) (int64, error) {
	var dstMax, srcMax int64
	if err := m.db.WithContext(ctx).Table(m.dst).
		Select("COALESCE(MAX(meta_id), 0)").Scan(&dstMax).Error; err != nil {
		return 0, fmt.Errorf("max meta_id of %s: %w", m.dst, err)
	}
	if err := m.db.WithContext(ctx).Table(m.src).
		Select("COALESCE(MAX(meta_id), 0)").Scan(&srcMax).Error; err != nil {
		return 0, fmt.Errorf("max meta_id of %s: %w", m.src, err)
	}
	if srcMax > dstMax {
		return srcMax + 1, nil
	}
	return dstMax + 1, nil
}
